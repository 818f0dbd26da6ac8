package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks URL validation and default filling.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Nil config.
	require.Error(t, Validate(nil))

	// Bad server URL.
	cfg := &Config{
		ServerURL: "not a url",
	}

	require.Error(t, Validate(cfg))

	// Empty config gains defaults.
	cfg = new(Config)

	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultVolumeGlob, cfg.VolumeGlob)
	require.Equal(t, DefaultInstallerApp, cfg.InstallerApp)
	require.Equal(t, DefaultStagingFolder, cfg.StagingFolder)
	require.Equal(t, DefaultAveragePackageBytes, cfg.AveragePackageBytes)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultUploadTimeout, cfg.UploadTimeout)
	require.Equal(t, DefaultRetryCount, cfg.RetryCount)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		ServerURL:     "https://mdm.example.com",
		LicenseServer: "licenses.example.com",
		VolumeGlob:    "matlab_R2021a*",
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.ServerURL, loaded.ServerURL)
	require.Equal(t, cfg.LicenseServer, loaded.LicenseServer)
	require.Equal(t, cfg.VolumeGlob, loaded.VolumeGlob)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}
