package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/logger"
)

const (
	// MarkerFilename marks that a sync is running right now to avoid
	// parallel execution in the same tools folder.
	MarkerFilename = "mwpkg-update-marker.bin"

	// DeviceRole names the file set deployed to managed devices.
	DeviceRole = "device"

	// BuilderRole names the file set deployed to the package build host.
	BuilderRole = "builder"

	// appliedFileMode is set on every replaced file.
	appliedFileMode os.FileMode = 0o755

	// markerLifetime is the period after which a stale sync marker is
	// assumed to be left over from a crashed run.
	markerLifetime = 30 * time.Second

	buildExecutable    = "mwpkg-build"
	prestageExecutable = "mwpkg-prestage"
	installExecutable  = "mwpkg-install"
	syncExecutable     = "mwpkg-sync"
)

// RoleArtifacts returns the distributed file set per machine role. The
// builder host needs the packaging tool, devices need the prestage and
// install tools fired by management policies. Both carry the sync tool
// itself and the shared settings file.
func RoleArtifacts() map[string][]string {
	return map[string][]string{
		DeviceRole: {
			prestageExecutable,
			installExecutable,
			syncExecutable,
			config.DefaultConfigFilename,
		},
		BuilderRole: {
			buildExecutable,
			syncExecutable,
			config.DefaultConfigFilename,
		},
	}
}

// IsRunningNow checks for a sync marker in the tools folder and attempts
// recovery when the marker looks stale.
func IsRunningNow(ctx context.Context, folder string) bool {
	marker := filepath.Join(folder, MarkerFilename)

	fileInfo, err := os.Stat(marker)
	if err == nil {
		if time.Since(fileInfo.ModTime()) <= markerLifetime {
			return true
		}

		logger.Info(ctx, "The sync marker is too old, attempting cleanup")

		if err = terminateProcessByName(syncExecutable); err != nil {
			return true
		}

		if err = os.Remove(marker); err != nil {
			return true
		}

		return false
	}

	if errors.Is(err, os.ErrNotExist) {
		return false
	}

	logger.Infof(ctx, "Unable to read sync marker: %v", err)

	return false
}

// terminateProcessByName kills processes with the provided executable name,
// skipping the current process.
func terminateProcessByName(processName string) error {
	processList, err := ps.Processes()
	if err != nil {
		return err
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		if process.Executable() != processName {
			continue
		}

		var runningProcess *os.Process

		runningProcess, err = os.FindProcess(process.Pid())
		if err != nil {
			return err
		}

		if err = runningProcess.Kill(); err != nil {
			return err
		}
	}

	return nil
}

// sliceToSet converts a slice to a set for quick lookups.
func sliceToSet[T comparable](elements []T) map[T]struct{} {
	result := make(map[T]struct{}, len(elements))
	for _, value := range elements {
		result[value] = struct{}{}
	}

	return result
}
