package toolpack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mathworks-packager/internal/manifest"
	"github.com/oshokin/mathworks-packager/internal/service/sync"
	"github.com/oshokin/mathworks-packager/internal/version"
)

func TestRunWritesManifest(t *testing.T) {
	t.Parallel()

	folder := t.TempDir()
	for _, name := range artifactNames(sync.RoleArtifacts()) {
		require.NoError(t, os.WriteFile(
			filepath.Join(folder, name), []byte(name+" payload"), 0o755))
	}

	require.NoError(t, Run(context.Background(), &Options{Folder: folder}))

	description, err := manifest.Load(filepath.Join(folder, manifest.Filename))
	require.NoError(t, err)
	require.Equal(t, version.Short(), description.Version)
	require.Equal(t, sync.RoleArtifacts(), description.Roles)

	for _, name := range artifactNames(description.Roles) {
		want, checksumErr := manifest.FileChecksum(filepath.Join(folder, name))
		require.NoError(t, checksumErr)

		got, checksumErr := description.Checksum(name)
		require.NoError(t, checksumErr)
		require.Equal(t, want, got)
	}
}

func TestRunMissingArtifact(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), &Options{Folder: t.TempDir()})
	require.ErrorIs(t, err, errArtifactMissing)
}

func TestArtifactNames(t *testing.T) {
	t.Parallel()

	names := artifactNames(map[string][]string{
		"a": {"two", "one"},
		"b": {"one", "three"},
	})
	require.Equal(t, []string{"one", "three", "two"}, names)
}
