package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/service/prestage"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DefaultRunner runs the command for real.
func DefaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

var (
	errNoStagingFolder    = errors.New("staging folder does not exist")
	errNoInputFile        = errors.New("installer input file is not staged")
	errNoLicenseFile      = errors.New("license file is not staged")
	errNoInstallerBinary  = errors.New("vendor installer binary is not staged")
	errInstallerIsRunning = errors.New("another installer process is running")
)

// Options are inputs accepted by the install entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// KeepStaging leaves the staging folder in place after a successful
	// install, for inspection.
	KeepStaging bool
	// CommandRunner substitutes external command execution in tests.
	CommandRunner Runner
	// Processes substitutes the process listing in tests.
	Processes func() ([]ps.Process, error)
}

// runner holds the state of one install execution.
type runner struct {
	cfg       *config.Config
	opts      *Options
	run       Runner
	processes func() ([]ps.Process, error)
}

// Run performs the silent install from the staged files and cleans up the
// staging folder afterwards. It is the public entry point for the
// mwpkg-install CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mwpkg-install")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	r := &runner{
		cfg:       cfg,
		opts:      opts,
		run:       opts.CommandRunner,
		processes: opts.Processes,
	}

	if r.run == nil {
		r.run = DefaultRunner
	}

	if r.processes == nil {
		r.processes = ps.Processes
	}

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Install run failed", "error", err)
		return err
	}

	return nil
}

// Run checks the staged preconditions, invokes the vendor installer in
// silent mode and removes the staging folder on success. The staging folder
// is kept for inspection when the installer fails.
func (r *runner) Run(ctx context.Context) error {
	skip, err := r.shouldSkip(ctx)
	if err != nil {
		return err
	}

	if skip {
		return r.removeStaging(ctx)
	}

	if err = r.checkPreconditions(); err != nil {
		return err
	}

	if err = r.checkNotRunning(); err != nil {
		return err
	}

	if err = r.runInstaller(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Install completed")

	if r.opts.KeepStaging {
		return nil
	}

	return r.removeStaging(ctx)
}

// shouldSkip reads the prestage status file. A "skip" verdict means the
// requested software is already installed.
func (r *runner) shouldSkip(ctx context.Context) (bool, error) {
	path := filepath.Join(r.cfg.StagingFolder, prestage.StatusFilename)

	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("read status file: %w", err)
	}

	if strings.TrimSpace(string(contents)) == prestage.StatusSkip {
		logger.Info(ctx, "Requested software is already installed, nothing to do.")
		return true, nil
	}

	return false, nil
}

// checkPreconditions verifies every staged artifact exists before touching
// the vendor installer.
func (r *runner) checkPreconditions() error {
	staging := r.cfg.StagingFolder

	info, err := os.Stat(staging)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%s: %w", staging, errNoStagingFolder)
	}

	if _, err = os.Stat(filepath.Join(staging, prestage.InputFilename)); err != nil {
		return fmt.Errorf("%s: %w", prestage.InputFilename, errNoInputFile)
	}

	if _, err = os.Stat(filepath.Join(staging, prestage.LicenseFilename)); err != nil {
		return fmt.Errorf("%s: %w", prestage.LicenseFilename, errNoLicenseFile)
	}

	if _, err = os.Stat(r.installerBinary()); err != nil {
		return fmt.Errorf("%s: %w", r.installerBinary(), errNoInstallerBinary)
	}

	return nil
}

// checkNotRunning refuses to start while another copy of the vendor
// installer is live; two concurrent silent installs corrupt each other.
func (r *runner) checkNotRunning() error {
	processList, err := r.processes()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	binaryName := filepath.Base(r.installerBinary())
	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() == binaryName {
			return fmt.Errorf("pid %d: %w", process.Pid(), errInstallerIsRunning)
		}
	}

	return nil
}

// runInstaller invokes the staged vendor installer in silent mode. On
// failure the installer's own log carries the reason, so it is dumped to
// the error log.
func (r *runner) runInstaller(ctx context.Context) error {
	inputFile := filepath.Join(r.cfg.StagingFolder, prestage.InputFilename)

	logger.InfoKV(ctx, "Starting silent install.", "input", inputFile)

	output, err := r.run(ctx, r.installerBinary(),
		"-inputFile", inputFile,
		"-mode", "silent")
	if err != nil {
		r.dumpInstallerLog(ctx)

		return fmt.Errorf("vendor installer: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return nil
}

// dumpInstallerLog copies the vendor installer's log into the error log so
// failures survive the device's cleanup cycles.
func (r *runner) dumpInstallerLog(ctx context.Context) {
	path := filepath.Join(r.cfg.StagingFolder, prestage.LogFilename)

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		logger.WarnKV(ctx, "Cannot read installer log", "path", path, "error", err)
		return
	}

	logger.ErrorKV(ctx, "Installer log follows", "path", path, "log", string(contents))
}

// removeStaging deletes the staging folder and everything in it.
func (r *runner) removeStaging(ctx context.Context) error {
	if err := os.RemoveAll(r.cfg.StagingFolder); err != nil {
		return fmt.Errorf("remove staging folder: %w", err)
	}

	logger.InfoKV(ctx, "Removed staging folder.", "path", r.cfg.StagingFolder)

	return nil
}

// installerBinary is the vendor installer inside the staged app bundle.
func (r *runner) installerBinary() string {
	return filepath.Join(r.cfg.StagingFolder, r.cfg.InstallerApp, "Contents", "MacOS", "install")
}
