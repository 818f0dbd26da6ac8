package license

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestReadInstallationKey skips the label line and trims the key.
func TestReadInstallationKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "R2021a_key.txt"),
		[]byte("File Installation Key:\n  12345-67890-12345-67890  \n"),
		0o600))

	key, err := ReadInstallationKey(dir, "R2021a")
	require.NoError(t, err)
	require.Equal(t, "12345-67890-12345-67890", key)
}

// TestReadInstallationKey_Empty returns ErrNoInstallationKey.
func TestReadInstallationKey_Empty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "R2021a_key.txt"),
		[]byte("File Installation Key:\n\n"),
		0o600))

	_, err := ReadInstallationKey(dir, "R2021a")
	require.ErrorIs(t, err, ErrNoInstallationKey)
}

// TestReadHash extracts the last field of the SERVER line.
func TestReadHash(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "R2021a_license.dat"),
		[]byte("SERVER licenses.example.com 0123456789AB\nUSE_SERVER\n"),
		0o600))

	hash, err := ReadHash(dir, "R2021a")
	require.NoError(t, err)
	require.Equal(t, "0123456789AB", hash)
}

// TestReadHash_Malformed returns ErrNoLicenseHash.
func TestReadHash_Malformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "R2021a_license.dat"),
		[]byte("SERVER\n"),
		0o600))

	_, err := ReadHash(dir, "R2021a")
	require.ErrorIs(t, err, ErrNoLicenseHash)
}

// TestData renders the two-line license file.
func TestData(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"SERVER licenses.example.com 0123456789AB\nUSE_SERVER",
		Data("licenses.example.com", "0123456789AB"))
}

// TestInstallerInput renders licensing fields and product lines.
func TestInstallerInput(t *testing.T) {
	t.Parallel()

	got := InstallerInput(
		"12345-67890",
		"/private/tmp/matlab/license.dat",
		"/private/tmp/matlab/install.log",
		[]string{"MATLAB", "Curve Fitting Toolbox"})

	require.Equal(t,
		"fileInstallationKey=12345-67890\n"+
			"agreeToLicense=yes\n"+
			"outputFile=/private/tmp/matlab/install.log\n"+
			"licensePath=/private/tmp/matlab/license.dat\n"+
			"product.MATLAB\n"+
			"product.Curve_Fitting_Toolbox\n",
		got)
}
