package mdm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadPolicyTemplates(t *testing.T) {
	t.Parallel()

	for _, name := range []string{
		AnchorPolicyTemplate,
		SelfServicePolicyTemplate,
		ToolboxSelfServicePolicyTemplate,
	} {
		policy, err := LoadPolicyTemplate(name)
		require.NoError(t, err, name)
		require.True(t, policy.General.Enabled, name)
	}
}

func TestAnchorTemplateShape(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicyTemplate(AnchorPolicyTemplate)
	require.NoError(t, err)

	require.True(t, policy.Scope.AllComputers)
	require.False(t, policy.SelfService.UseForSelfService)
	require.Empty(t, policy.Scripts)
	require.Len(t, policy.PackageConfiguration.Packages, 1)
}

func TestSelfServiceTemplateShape(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicyTemplate(SelfServicePolicyTemplate)
	require.NoError(t, err)

	require.False(t, policy.Scope.AllComputers)
	require.True(t, policy.SelfService.UseForSelfService)
	require.Len(t, policy.SelfService.Categories, 1)

	require.Len(t, policy.Scripts, 1)
	require.Equal(t, PrestageScriptName, policy.Scripts[0].Name)
}

func TestSetScriptParameters(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicyTemplate(SelfServicePolicyTemplate)
	require.NoError(t, err)

	err = policy.SetScriptParameters("R2021a", "12345-67890", "ABCDEF", "MATLAB,Simulink")
	require.NoError(t, err)

	require.Equal(t, "R2021a", policy.Scripts[0].Parameter4)
	require.Equal(t, "12345-67890", policy.Scripts[0].Parameter5)
	require.Equal(t, "ABCDEF", policy.Scripts[0].Parameter6)
	require.Equal(t, "MATLAB,Simulink", policy.Scripts[0].Parameter7)
}

func TestSetScriptParametersNoScript(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicyTemplate(AnchorPolicyTemplate)
	require.NoError(t, err)

	err = policy.SetScriptParameters("R2021a", "key", "hash", "MATLAB")
	require.ErrorIs(t, err, ErrNoPrestageScript)
}

func TestPolicyMarshal(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicyTemplate(AnchorPolicyTemplate)
	require.NoError(t, err)

	policy.General.Name = "MathWorks.R2021a.MATLAB"
	policy.General.TriggerOther = "install_matlab_r2021a"
	policy.SetCategory("17", "MathWorks.R2021a")
	policy.SetPackage("55", "MathWorks.R2021a.MATLAB.pkg")

	raw, err := policy.Marshal()
	require.NoError(t, err)

	document := string(raw)
	require.Contains(t, document, "<name>MathWorks.R2021a.MATLAB</name>")
	require.Contains(t, document, "<trigger_other>install_matlab_r2021a</trigger_other>")
	require.Contains(t, document, "<action>Install</action>")
	require.True(t, strings.HasPrefix(document, "<policy>"))
}
