package build

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLabelsForFamily(t *testing.T) {
	t.Parallel()

	l := labelsForFamily("R2021a")

	require.Equal(t, "MathWorks.R2021a.", l.prefix)
	require.Equal(t, "MathWorks R2021a", l.category)
	require.Equal(t, "MathWorks R2021a Toolboxes", l.categoryToolbox)
	require.Equal(t, "MathWorks.R2021a.Anchor", l.categoryAnchor)
	require.Equal(t, "MathWorks.R2021a.Anchor.Toolboxes", l.categoryAnchorToolbox)
	require.Equal(t, "MathWorks.R2021a.Advertised.STG", l.staticGroup)
	require.Equal(t, "MathWorks.R2021a.Installer", l.installerStem())
}

func TestProductFullName(t *testing.T) {
	t.Parallel()

	l := labelsForFamily("R2021a")

	require.Equal(t,
		"MathWorks.R2021a.MATLAB.Curve.Fitting.Toolbox",
		l.productFullName("Curve Fitting Toolbox", "MATLAB"))
	require.Equal(t,
		"MathWorks.R2021a.Simulink",
		l.productFullName("Simulink", ""))
}

func TestSelfServiceName(t *testing.T) {
	t.Parallel()

	l := labelsForFamily("R2021a")

	require.Equal(t,
		"Add Curve Fitting Toolbox to MATLAB R2021a",
		l.selfServiceName("Curve Fitting Toolbox", "MATLAB"))
	require.Equal(t, "MATLAB R2021a", l.selfServiceName("MATLAB", ""))
}

func TestAnchorTrigger(t *testing.T) {
	t.Parallel()

	require.Equal(t, "@MathWorks.R2021a.Simulink", anchorTrigger("MathWorks.R2021a.Simulink"))
}
