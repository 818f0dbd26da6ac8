package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/manifest"
)

func TestRoleArtifacts(t *testing.T) {
	t.Parallel()

	roles := RoleArtifacts()

	require.Contains(t, roles[DeviceRole], "mwpkg-prestage")
	require.Contains(t, roles[DeviceRole], "mwpkg-install")
	require.Contains(t, roles[BuilderRole], "mwpkg-build")

	for _, files := range roles {
		require.Contains(t, files, syncExecutable)
		require.Contains(t, files, config.DefaultConfigFilename)
	}
}

func TestIsRunningNow(t *testing.T) {
	t.Parallel()

	folder := t.TempDir()
	ctx := context.Background()

	require.False(t, IsRunningNow(ctx, folder))

	marker := filepath.Join(folder, MarkerFilename)
	require.NoError(t, os.WriteFile(marker, nil, 0o644))

	// A fresh marker means another sync is in flight.
	require.True(t, IsRunningNow(ctx, folder))
}

func TestIsVersionOutdated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	r := &runner{description: manifest.New("9.9.9")}
	outdated, err := r.isVersionOutdated(ctx)
	require.NoError(t, err)
	require.True(t, outdated)

	r = &runner{description: manifest.New("0.0.1")}
	outdated, err = r.isVersionOutdated(ctx)
	require.NoError(t, err)
	require.False(t, outdated)

	r = &runner{description: manifest.New("not a version")}
	_, err = r.isVersionOutdated(ctx)
	require.Error(t, err)
}

func TestIsFileOutdated(t *testing.T) {
	t.Parallel()

	folder := t.TempDir()
	name := "mwpkg-prestage"
	path := filepath.Join(folder, name)
	require.NoError(t, os.WriteFile(path, []byte("binary payload"), 0o755))

	description := manifest.New("1.0.0")
	require.NoError(t, description.AddFile(path))

	r := &runner{folder: folder, description: description}

	outdated, err := r.isFileOutdated(name)
	require.NoError(t, err)
	require.False(t, outdated)

	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o755))

	outdated, err = r.isFileOutdated(name)
	require.NoError(t, err)
	require.True(t, outdated)

	require.NoError(t, os.Remove(path))

	outdated, err = r.isFileOutdated(name)
	require.NoError(t, err)
	require.True(t, outdated)
}

func TestRunReplacesOutdatedFiles(t *testing.T) {
	t.Parallel()

	source := t.TempDir()
	folder := t.TempDir()

	published := map[string]string{
		"mwpkg-prestage": "prestage v2",
		"mwpkg-install":  "install v2",
	}

	description := manifest.New("9.9.9")
	for name, contents := range published {
		path := filepath.Join(source, name)
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o755))
		require.NoError(t, description.AddFile(path))
	}

	description.Roles[DeviceRole] = []string{"mwpkg-prestage", "mwpkg-install"}

	manifestData, err := os.ReadFile(writeManifest(t, source, description))
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/tools/"+manifest.Filename, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(manifestData)
	})
	mux.HandleFunc("/tools/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(source, filepath.Base(r.URL.Path)))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	configPath := filepath.Join(folder, config.DefaultConfigFilename)
	require.NoError(t, config.Save(configPath, &config.Config{
		UpdateURL: server.URL + "/tools",
	}))

	// Stale copy of one tool, the other one missing entirely.
	require.NoError(t, os.WriteFile(
		filepath.Join(folder, "mwpkg-prestage"), []byte("prestage v1"), 0o755))

	err = Run(context.Background(), &Options{
		ConfigPath: configPath,
		Folder:     folder,
	})
	require.NoError(t, err)

	for name, contents := range published {
		data, readErr := os.ReadFile(filepath.Join(folder, name))
		require.NoError(t, readErr)
		require.Equal(t, contents, string(data))
	}

	require.NoFileExists(t, filepath.Join(folder, MarkerFilename))
	require.NoFileExists(t, filepath.Join(folder, "mwpkg-prestage.old"))
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	t.Parallel()

	folder := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(folder, MarkerFilename), nil, 0o644))

	err := Run(context.Background(), &Options{Folder: folder})
	require.ErrorIs(t, err, errSyncAlreadyRunning)

	// The stranger's marker is left alone.
	require.FileExists(t, filepath.Join(folder, MarkerFilename))
}

func writeManifest(t *testing.T, folder string, description *manifest.Description) string {
	t.Helper()

	path := filepath.Join(folder, manifest.Filename)
	require.NoError(t, description.Save(path))

	return path
}
