package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the deployment parameters shared by the mwpkg binaries.
// Every value here was a baked-in constant in earlier tooling; keeping them
// in one settings file lets the same binaries serve other release families
// and other management servers.
type Config struct {
	// ServerURL is the base URL of the device-management server
	// (e.g. https://example.jamfcloud.com). Required for build runs,
	// optional on devices.
	ServerURL string `yaml:"server_url"`
	// UpdateURL is where tool-distribution artifacts are hosted for
	// device-side self-update.
	UpdateURL string `yaml:"update_url"`
	// VolumeGlob matches the mounted installer volume under /Volumes.
	VolumeGlob string `yaml:"volume_glob"`
	// InstallerApp is the installer application bundle name inside the
	// mounted volume.
	InstallerApp string `yaml:"installer_app"`
	// StagingFolder is the on-device directory where packages place their
	// payload and where license artifacts are staged.
	StagingFolder string `yaml:"staging_folder"`
	// LicenseFolder is the build-host directory holding per-family
	// <family>_key.txt and <family>_license.dat files.
	LicenseFolder string `yaml:"license_folder"`
	// LicenseServer is the license-manager host written into license.dat.
	LicenseServer string `yaml:"license_server"`
	// AveragePackageBytes is the rough per-package payload size used by the
	// prestage disk-space estimate.
	AveragePackageBytes int64 `yaml:"average_package_bytes"`
	// Timeout bounds ordinary API calls.
	Timeout time.Duration `yaml:"timeout"`
	// UploadTimeout bounds package uploads, which routinely move gigabytes.
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	// RetryCount is the attempt budget for uploads and policy writes.
	RetryCount int `yaml:"retry_count"`
}

const (
	// DefaultConfigFilename is the default filename for deployment settings.
	DefaultConfigFilename = "mwpkg-settings.yaml"

	// DefaultVolumeGlob matches MathWorks installer volumes.
	DefaultVolumeGlob = "matlab_*"

	// DefaultInstallerApp is the macOS installer bundle shipped in the DMG.
	DefaultInstallerApp = "InstallForMacOSX.app"

	// DefaultStagingFolder is where deployed packages unpack on devices.
	DefaultStagingFolder = "/private/tmp/matlab"

	// DefaultLicenseFolder holds licensing artifacts on the build host.
	DefaultLicenseFolder = "license"

	// DefaultAveragePackageBytes is derived from observed payload sizes of a
	// full toolbox set.
	DefaultAveragePackageBytes int64 = 500_000_000

	// DefaultTimeout is the default duration for ordinary API calls.
	DefaultTimeout = 30 * time.Second

	// DefaultUploadTimeout matches the management server's distribution
	// point limits.
	DefaultUploadTimeout = 2 * time.Hour

	// DefaultRetryCount is the default attempt budget for API writes.
	DefaultRetryCount = 3

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks URL formats and fills in defaults for missing fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ServerURL != "" {
		if _, err := url.ParseRequestURI(cfg.ServerURL); err != nil {
			return fmt.Errorf("invalid server URL: %w", err)
		}
	}

	if cfg.UpdateURL != "" {
		if _, err := url.ParseRequestURI(cfg.UpdateURL); err != nil {
			return fmt.Errorf("invalid update URL: %w", err)
		}
	}

	if cfg.VolumeGlob == "" {
		cfg.VolumeGlob = DefaultVolumeGlob
	}

	if cfg.InstallerApp == "" {
		cfg.InstallerApp = DefaultInstallerApp
	}

	if cfg.StagingFolder == "" {
		cfg.StagingFolder = DefaultStagingFolder
	}

	if cfg.LicenseFolder == "" {
		cfg.LicenseFolder = DefaultLicenseFolder
	}

	if cfg.AveragePackageBytes <= 0 {
		cfg.AveragePackageBytes = DefaultAveragePackageBytes
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}

	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}

	return nil
}
