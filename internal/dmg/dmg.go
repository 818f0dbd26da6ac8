package dmg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/oshokin/mathworks-packager/internal/logger"
)

// Runner executes an external command and returns its combined output.
// Mount and Detach use hdiutil through it; tests supply a fake.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Image describes a mounted disk image.
type Image struct {
	// Device is the /dev/diskN entry backing the mount.
	Device string
	// MountPoint is the volume path under /Volumes.
	MountPoint string
}

var (
	// ErrNoDevice is returned when hdiutil output contains no disk device.
	ErrNoDevice = errors.New("no disk device in hdiutil output")
	// ErrNoMountPoint is returned when no mounted volume matches the expected glob.
	ErrNoMountPoint = errors.New("no mount point matching volume glob")

	// deviceExpr matches whole-disk device entries, not slices like /dev/disk4s2.
	deviceExpr = regexp.MustCompile(`^/dev/disk\d+$`)
)

// DefaultRunner runs the command for real.
func DefaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Mounter attaches and detaches vendor installer disk images.
type Mounter struct {
	// volumeGlob selects the expected volume name under /Volumes.
	volumeGlob string
	// run executes hdiutil.
	run Runner
}

// NewMounter creates a Mounter that accepts volumes matching the glob.
// A nil runner falls back to real command execution.
func NewMounter(volumeGlob string, run Runner) *Mounter {
	if run == nil {
		run = DefaultRunner
	}

	return &Mounter{
		volumeGlob: volumeGlob,
		run:        run,
	}
}

// Mount attaches the disk image without browsing side effects and returns the
// device entry and mount point parsed from the hdiutil attach output.
func (m *Mounter) Mount(ctx context.Context, dmgPath string) (*Image, error) {
	output, err := m.run(ctx, "hdiutil", "attach", filepath.Clean(dmgPath), "-nobrowse")
	if err != nil {
		return nil, fmt.Errorf("hdiutil attach %s: %w", dmgPath, err)
	}

	image, err := parseAttachOutput(string(output), m.volumeGlob)
	if err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Mounted disk image",
		"image", dmgPath, "device", image.Device, "mount_point", image.MountPoint)

	return image, nil
}

// Detach unmounts the previously attached device.
func (m *Mounter) Detach(ctx context.Context, image *Image) error {
	if image == nil || image.Device == "" {
		return nil
	}

	if _, err := m.run(ctx, "hdiutil", "detach", image.Device); err != nil {
		return fmt.Errorf("hdiutil detach %s: %w", image.Device, err)
	}

	logger.InfoKV(ctx, "Detached disk image", "device", image.Device)

	return nil
}

// parseAttachOutput extracts the whole-disk device and the mounted volume from
// the tabular hdiutil attach output. The volume must match the expected glob;
// installer images from other vendors are rejected rather than traversed.
func parseAttachOutput(output, volumeGlob string) (*Image, error) {
	image := new(Image)

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if image.Device == "" && deviceExpr.MatchString(fields[0]) {
			image.Device = fields[0]
		}

		// The mount point is the final column and contains no tabs, but a
		// volume name may contain spaces. Recover it from the raw line.
		idx := strings.Index(line, "/Volumes/")
		if idx < 0 {
			continue
		}

		candidate := strings.TrimSpace(line[idx:])

		matched, err := filepath.Match(volumeGlob, filepath.Base(candidate))
		if err != nil {
			return nil, fmt.Errorf("match volume glob %q: %w", volumeGlob, err)
		}

		if matched {
			image.MountPoint = candidate
		}
	}

	if image.Device == "" {
		return nil, ErrNoDevice
	}

	if image.MountPoint == "" {
		return nil, fmt.Errorf("%q: %w", volumeGlob, ErrNoMountPoint)
	}

	return image, nil
}
