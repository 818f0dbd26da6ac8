package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyPayloadDirect(t *testing.T) {
	t.Parallel()

	volume := t.TempDir()
	root := t.TempDir()

	source := filepath.Join(volume, "common", "payload", "file.enc")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
	require.NoError(t, os.WriteFile(source, []byte("payload"), 0o644))

	destination := filepath.Join(root, "common", "payload", "file.enc")
	require.NoError(t, copyPayload(volume, source, destination, "payload/file.enc"))

	copied, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, "payload", string(copied))
}

func TestCopyPayloadFallbackSearch(t *testing.T) {
	t.Parallel()

	volume := t.TempDir()
	root := t.TempDir()

	// The payload lives in a sibling directory, not at the expected path.
	actual := filepath.Join(volume, "extras", "deep", "file.enc")
	require.NoError(t, os.MkdirAll(filepath.Dir(actual), 0o755))
	require.NoError(t, os.WriteFile(actual, []byte("elsewhere"), 0o644))

	expected := filepath.Join(volume, "common", "payload", "file.enc")
	destination := filepath.Join(root, "common", "payload", "file.enc")

	require.NoError(t, copyPayload(volume, expected, destination, "payload/file.enc"))

	copied, err := os.ReadFile(destination)
	require.NoError(t, err)
	require.Equal(t, "elsewhere", string(copied))
}

func TestCopyPayloadMissingEverywhere(t *testing.T) {
	t.Parallel()

	volume := t.TempDir()
	root := t.TempDir()

	err := copyPayload(volume,
		filepath.Join(volume, "common", "gone.enc"),
		filepath.Join(root, "common", "gone.enc"),
		"gone.enc")
	require.ErrorIs(t, err, errNoFallbackPayload)
}

func TestCleanDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "ROOT")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "nested"), 0o755))

	require.NoError(t, cleanDirectory(target))
	require.NoDirExists(t, target)

	// A second pass over the now-missing directory is not an error.
	require.NoError(t, cleanDirectory(target))
}
