package dmg

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// attachOutput mimics the tabular output of `hdiutil attach`.
const attachOutput = "/dev/disk4          \tGUID_partition_scheme\t\n" +
	"/dev/disk4s1        \tApple_APFS           \t\n" +
	"/dev/disk4s2        \tApple_HFS            \t/Volumes/matlab_R2021a\n"

// TestParseAttachOutput verifies device and mount point extraction.
func TestParseAttachOutput(t *testing.T) {
	t.Parallel()

	image, err := parseAttachOutput(attachOutput, "matlab_*")
	require.NoError(t, err)
	require.Equal(t, "/dev/disk4", image.Device)
	require.Equal(t, "/Volumes/matlab_R2021a", image.MountPoint)
}

// TestParseAttachOutput_WrongVolume ensures volumes outside the glob are rejected.
func TestParseAttachOutput_WrongVolume(t *testing.T) {
	t.Parallel()

	_, err := parseAttachOutput(attachOutput, "octave_*")
	require.ErrorIs(t, err, ErrNoMountPoint)
}

// TestParseAttachOutput_NoDevice ensures a missing disk entry is an error.
func TestParseAttachOutput_NoDevice(t *testing.T) {
	t.Parallel()

	_, err := parseAttachOutput("nothing useful here\n", "matlab_*")
	require.ErrorIs(t, err, ErrNoDevice)
}

// TestMountDetach exercises the Mounter with a fake runner.
func TestMountDetach(t *testing.T) {
	t.Parallel()

	var commands [][]string

	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		commands = append(commands, append([]string{name}, args...))
		if args[0] == "attach" {
			return []byte(attachOutput), nil
		}

		return nil, nil
	}

	m := NewMounter("matlab_*", run)

	image, err := m.Mount(context.Background(), "/images/matlab_R2021a.dmg")
	require.NoError(t, err)
	require.Equal(t, "/dev/disk4", image.Device)

	require.NoError(t, m.Detach(context.Background(), image))

	require.Len(t, commands, 2)
	require.Equal(t, []string{"hdiutil", "attach", "/images/matlab_R2021a.dmg", "-nobrowse"}, commands[0])
	require.Equal(t, []string{"hdiutil", "detach", "/dev/disk4"}, commands[1])
}

// TestMount_AttachError propagates hdiutil failures.
func TestMount_AttachError(t *testing.T) {
	t.Parallel()

	run := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, errors.New("resource busy")
	}

	_, err := NewMounter("matlab_*", run).Mount(context.Background(), "x.dmg")
	require.Error(t, err)
}

// TestDetach_NilImage is a no-op.
func TestDetach_NilImage(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewMounter("matlab_*", nil).Detach(context.Background(), nil))
}
