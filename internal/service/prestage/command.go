package prestage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/license"
	"github.com/oshokin/mathworks-packager/internal/logger"
)

const (
	// LicenseFilename is the staged license file consumed by the installer.
	LicenseFilename = "license.dat"
	// InputFilename is the staged silent-install input file.
	InputFilename = "custom_install.txt"
	// StatusFilename carries the prestage verdict to the install step.
	StatusFilename = "status.txt"
	// LogFilename is where the vendor installer writes its log.
	LogFilename = "install.log"

	// StatusSkip tells the install step that everything is already present.
	StatusSkip = "skip"

	applicationsFolder = "/Applications"

	stagedFileMode os.FileMode = 0o644
)

var (
	errNoAddons        = errors.New("no requested software in addons parameter")
	errNotEnoughDisk   = errors.New("not enough free disk space for installation")
	errNoLicenseServer = errors.New("license server host is not configured")
)

// Options are inputs accepted by the prestage entry point. Family,
// InstallationKey, LicenseHash and AddonsCSV arrive as positional management
// script parameters, so their values may carry stray quotes.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Family is the release family, e.g. "R2021a".
	Family string
	// InstallationKey is the vendor file installation key.
	InstallationKey string
	// LicenseHash is the hash from the generated license file.
	LicenseHash string
	// AddonsCSV is "<Controlling Product>,<Toolbox>,..."; "None" entries
	// are skipped.
	AddonsCSV string
	// LicenseServer overrides the configured license server host.
	LicenseServer string
	// CommandRunner substitutes external command execution in tests.
	CommandRunner Runner
	// AvailableBytes substitutes the root filesystem probe in tests.
	AvailableBytes func() (uint64, error)
}

// runner holds the state of one prestage execution.
type runner struct {
	cfg  *config.Config
	opts *Options
	run  Runner

	availableBytes func() (uint64, error)

	family          string
	installationKey string
	licenseHash     string
	licenseServer   string

	controlling          string
	controllingInstalled bool
	addons               []string
}

// Run prepares a device for a silent install: it resolves what still needs
// installing, verifies disk space, stages the license and input files and
// fires the package-staging events. It is the public entry point for the
// mwpkg-prestage CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mwpkg-prestage")

	r, err := newRunner(opts)
	if err != nil {
		return err
	}

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Prestage run failed", "error", err)
		return err
	}

	return nil
}

func newRunner(opts *Options) (*runner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	r := &runner{
		cfg:            cfg,
		opts:           opts,
		run:            opts.CommandRunner,
		availableBytes: opts.AvailableBytes,
	}

	if r.run == nil {
		r.run = DefaultRunner
	}

	if r.availableBytes == nil {
		r.availableBytes = rootAvailableBytes
	}

	// Management script parameters come through layers of quoting; scrub
	// them before use.
	r.family = normalizeFamily(opts.Family)
	r.installationKey = stripQuotes(opts.InstallationKey)
	r.licenseHash = stripQuotes(opts.LicenseHash)

	r.licenseServer = stripQuotes(opts.LicenseServer)
	if r.licenseServer == "" {
		r.licenseServer = cfg.LicenseServer
	}

	if r.licenseServer == "" {
		return nil, errNoLicenseServer
	}

	return r, nil
}

// Run walks the prestage steps in IO-ascending order so cheap checks fail
// before any download starts.
func (r *runner) Run(ctx context.Context) error {
	logger.Info(ctx, "Step 1: Parsing requested software")

	skip, err := r.resolveRequest(ctx)
	if err != nil {
		return err
	}

	if skip {
		return r.writeSkipStatus(ctx)
	}

	logger.Info(ctx, "Step 2: Checking available disk space")

	if err = r.checkDiskSpace(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Step 3: Creating license files")

	if err = r.stageLicenseFiles(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Step 4: Setting up the installer")

	if err = r.triggerEvent(ctx, fmt.Sprintf("@MathWorks.%s.Installer", r.family)); err != nil {
		return err
	}

	logger.Info(ctx, "Step 5: Prestaging software")

	if err = r.stagePackages(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Prestage complete!")

	return nil
}

// resolveRequest parses the addons parameter and subtracts what the device
// already has. It reports skip=true when nothing remains to install.
func (r *runner) resolveRequest(ctx context.Context) (bool, error) {
	controlling, requested, err := parseAddons(r.opts.AddonsCSV)
	if err != nil {
		return false, err
	}

	r.controlling = controlling
	r.controllingInstalled = r.isControllingInstalled()

	if !r.controllingInstalled {
		logger.InfoKV(ctx, "Controlling product not yet installed.",
			"product", controlling, "family", r.family)

		r.addons = sortedList(requested)

		return false, nil
	}

	logger.InfoKV(ctx, "Controlling product is already installed!",
		"product", controlling, "family", r.family)

	installed, err := r.installedToolboxes(ctx)
	if err != nil {
		// A broken local install must not stop a reinstall request.
		logger.WarnKV(ctx, "Cannot query installed toolboxes", "error", err)
		installed = nil
	}

	r.addons = difference(requested, installed)

	if len(r.addons) == 0 {
		logger.InfoKV(ctx, "Requested software is already installed with the requested toolboxes.",
			"product", controlling, "family", r.family)

		return true, nil
	}

	logger.InfoKV(ctx, "Requesting additional toolboxes.",
		"product", controlling, "toolboxes", r.addons)

	return false, nil
}

// writeSkipStatus records that the install step has nothing to do. The run
// still succeeds so devices don't surface it as a failure.
func (r *runner) writeSkipStatus(ctx context.Context) error {
	path := filepath.Join(r.cfg.StagingFolder, StatusFilename)

	if err := os.MkdirAll(r.cfg.StagingFolder, os.ModePerm); err != nil {
		return fmt.Errorf("create staging folder: %w", err)
	}

	if err := os.WriteFile(path, []byte(StatusSkip), stagedFileMode); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}

	logger.InfoKV(ctx, "Wrote skip status.", "path", path)

	return nil
}

// checkDiskSpace estimates twice the payload size for the pending installs
// (the staged archives and the installed products coexist) and compares it
// with the root filesystem's free bytes.
func (r *runner) checkDiskSpace(ctx context.Context) error {
	pending := int64(len(r.toInstall()))
	needed := 2 * pending * r.cfg.AveragePackageBytes

	available, err := r.availableBytes()
	if err != nil {
		return fmt.Errorf("probe free disk space: %w", err)
	}

	logger.InfoKV(ctx, "Disk space estimate",
		"needed_gb", gigaBytes(uint64(needed)), "available_gb", gigaBytes(available))

	if uint64(needed) >= available {
		return fmt.Errorf("%s %s: %w", r.controlling, r.family, errNotEnoughDisk)
	}

	return nil
}

// stageLicenseFiles writes license.dat and the silent-install input file
// into the staging folder.
func (r *runner) stageLicenseFiles(ctx context.Context) error {
	if err := os.MkdirAll(r.cfg.StagingFolder, os.ModePerm); err != nil {
		return fmt.Errorf("create staging folder: %w", err)
	}

	licensePath := filepath.Join(r.cfg.StagingFolder, LicenseFilename)
	licenseData := license.Data(r.licenseServer, r.licenseHash)

	if err := os.WriteFile(licensePath, []byte(licenseData), stagedFileMode); err != nil {
		return fmt.Errorf("write license file: %w", err)
	}

	logger.InfoKV(ctx, "Created license file.", "path", licensePath)

	inputPath := filepath.Join(r.cfg.StagingFolder, InputFilename)
	logPath := filepath.Join(r.cfg.StagingFolder, LogFilename)
	input := license.InstallerInput(r.installationKey, licensePath, logPath, r.toInstall())

	if err := os.WriteFile(inputPath, []byte(input), stagedFileMode); err != nil {
		return fmt.Errorf("write input file: %w", err)
	}

	logger.InfoKV(ctx, "Created input file.", "path", inputPath)

	return nil
}

// stagePackages fires the custom events that make the management agent
// download the product packages into the staging folder.
func (r *runner) stagePackages(ctx context.Context) error {
	if !r.controllingInstalled {
		logger.InfoKV(ctx, "Requesting prestage of controlling product.",
			"product", r.controlling, "family", r.family)

		event := fmt.Sprintf("@MathWorks.%s.%s", r.family, dotted(r.controlling))
		if err := r.triggerEvent(ctx, event); err != nil {
			return err
		}
	}

	for _, addon := range r.addons {
		logger.InfoKV(ctx, "Requesting prestage.", "addon", addon)

		event := fmt.Sprintf("@MathWorks.%s.%s.%s", r.family, dotted(r.controlling), dotted(addon))
		if err := r.triggerEvent(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// toInstall is everything the vendor installer will be asked to install.
func (r *runner) toInstall() []string {
	if r.controllingInstalled {
		return r.addons
	}

	return append([]string{r.controlling}, r.addons...)
}

// controllingProductDir is where the controlling product's application
// bundle lands, e.g. /Applications/MATLAB_R2021a.app.
func (r *runner) controllingProductDir() string {
	return filepath.Join(applicationsFolder,
		fmt.Sprintf("%s_%s.app", r.controlling, r.family))
}

func (r *runner) isControllingInstalled() bool {
	info, err := os.Stat(r.controllingProductDir())

	return err == nil && info.IsDir()
}

// rootAvailableBytes reports the unprivileged free space of the root
// filesystem.
func rootAvailableBytes() (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs("/", &stat); err != nil {
		return 0, err
	}

	return uint64(stat.Bavail) * uint64(stat.Bsize), nil //nolint:unconvert // Field widths differ across platforms.
}

func gigaBytes(size uint64) float64 {
	const gb = 1000 * 1000 * 1000

	return float64(size) / gb
}
