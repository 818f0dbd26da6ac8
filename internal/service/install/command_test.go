package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/service/prestage"
)

type fakeProcess struct {
	pid        int
	executable string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 0 }
func (p fakeProcess) Executable() string { return p.executable }

func newTestRunner(t *testing.T, staging string) *runner {
	t.Helper()

	return &runner{
		cfg: &config.Config{
			StagingFolder: staging,
			InstallerApp:  "InstallForMacOSX.app",
		},
		opts:      &Options{},
		processes: func() ([]ps.Process, error) { return nil, nil },
	}
}

func stageFiles(t *testing.T, staging string) {
	t.Helper()

	binDir := filepath.Join(staging, "InstallForMacOSX.app", "Contents", "MacOS")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "install"), []byte("#!"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staging, prestage.InputFilename), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staging, prestage.LicenseFilename), []byte("x"), 0o644))
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	staging := filepath.Join(t.TempDir(), "matlab")
	stageFiles(t, staging)

	r := newTestRunner(t, staging)

	var commands [][]string

	r.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{name}, args...))
		return []byte("ok"), nil
	}

	require.NoError(t, r.Run(context.Background()))

	require.Len(t, commands, 1)
	require.Equal(t, []string{
		filepath.Join(staging, "InstallForMacOSX.app", "Contents", "MacOS", "install"),
		"-inputFile", filepath.Join(staging, prestage.InputFilename),
		"-mode", "silent",
	}, commands[0])

	// The staging folder is removed after a successful install.
	require.NoDirExists(t, staging)
}

func TestRunSkipStatus(t *testing.T) {
	t.Parallel()

	staging := filepath.Join(t.TempDir(), "matlab")
	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(staging, prestage.StatusFilename),
		[]byte(prestage.StatusSkip), 0o644))

	r := newTestRunner(t, staging)
	r.run = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		t.Fatal("installer must not run when prestage says skip")
		return nil, nil
	}

	require.NoError(t, r.Run(context.Background()))
	require.NoDirExists(t, staging)
}

func TestRunPreconditions(t *testing.T) {
	t.Parallel()

	staging := filepath.Join(t.TempDir(), "matlab")
	r := newTestRunner(t, staging)

	require.ErrorIs(t, r.Run(context.Background()), errNoStagingFolder)

	require.NoError(t, os.MkdirAll(staging, 0o755))
	require.ErrorIs(t, r.Run(context.Background()), errNoInputFile)

	require.NoError(t, os.WriteFile(filepath.Join(staging, prestage.InputFilename), []byte("x"), 0o644))
	require.ErrorIs(t, r.Run(context.Background()), errNoLicenseFile)

	require.NoError(t, os.WriteFile(filepath.Join(staging, prestage.LicenseFilename), []byte("x"), 0o644))
	require.ErrorIs(t, r.Run(context.Background()), errNoInstallerBinary)
}

func TestRunRefusesWhileInstallerLive(t *testing.T) {
	t.Parallel()

	staging := filepath.Join(t.TempDir(), "matlab")
	stageFiles(t, staging)

	r := newTestRunner(t, staging)
	r.processes = func() ([]ps.Process, error) {
		return []ps.Process{fakeProcess{pid: 4242, executable: "install"}}, nil
	}

	require.ErrorIs(t, r.Run(context.Background()), errInstallerIsRunning)
}

func TestRunInstallerFailureKeepsStaging(t *testing.T) {
	t.Parallel()

	staging := filepath.Join(t.TempDir(), "matlab")
	stageFiles(t, staging)
	require.NoError(t, os.WriteFile(
		filepath.Join(staging, prestage.LogFilename),
		[]byte("(error) license checkout failed"), 0o644))

	r := newTestRunner(t, staging)
	r.run = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("exited 1"), errors.New("exit status 1")
	}

	require.Error(t, r.Run(context.Background()))

	// Kept for inspection.
	require.DirExists(t, staging)
}
