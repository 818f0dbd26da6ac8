package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	goversion "github.com/hashicorp/go-version"

	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/manifest"
	"github.com/oshokin/mathworks-packager/internal/version"
)

var (
	errSyncAlreadyRunning = errors.New("the sync tool is already running")
	errNoUpdateURL        = errors.New("update URL is not configured")
	errEmptyManifest      = errors.New("tools manifest is empty")
	errBadHTTPStatus      = errors.New("unexpected http status")
)

// Options are inputs accepted by the sync entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Role selects the file set to sync, device or builder.
	// Defaults to device.
	Role string
	// Folder is where the tools live. Defaults to the directory of the
	// running executable.
	Folder string
	// UpdateURL overrides the configured distribution URL.
	UpdateURL string
}

// runner holds the mutable state of a single sync execution.
type runner struct {
	cfg             *config.Config
	opts            *Options
	folder          string
	role            string
	updateURL       string
	description     *manifest.Description
	filesOutdated   bool
	temporaryFolder string
	downloadedFiles map[string]string
}

// Run brings the local tool files up to date with the published manifest
// and is the public entry point for the mwpkg-sync CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mwpkg-sync")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Sync run failed", "error", err)
		return err
	}

	logger.Info(ctx, "Sync completed")

	return nil
}

// newRunner resolves the tools folder, writes a marker to avoid concurrent
// runs and loads the settings.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	r := &runner{
		opts:            opts,
		downloadedFiles: make(map[string]string),
	}

	folder := opts.Folder
	if folder == "" {
		executable, err := os.Executable()
		if err != nil {
			return r, fmt.Errorf("locate tools folder: %w", err)
		}

		folder = filepath.Dir(executable)
	}

	r.folder = folder

	if IsRunningNow(ctx, folder) {
		return r, errSyncAlreadyRunning
	}

	marker, err := os.Create(r.markerPath())
	if err != nil {
		return r, err
	}

	if err = marker.Close(); err != nil {
		return r, err
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(folder, config.DefaultConfigFilename)
	}

	r.cfg, err = config.Load(configPath)
	if err != nil {
		return r, err
	}

	r.role = opts.Role
	if r.role == "" {
		r.role = DeviceRole
	}

	r.updateURL = opts.UpdateURL
	if r.updateURL == "" {
		r.updateURL = r.cfg.UpdateURL
	}

	if r.updateURL == "" {
		return r, errNoUpdateURL
	}

	return r, nil
}

// Run executes the sync workflow:
// 1) Fetch the remote manifest.
// 2) Compare the published version against this build.
// 3) Verify checksums of the role's files.
// 4) Download and apply files when anything differs.
func (r *runner) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Downloading the tools manifest", "url", r.updateURL)

	if err := r.fetchManifest(ctx); err != nil {
		return fmt.Errorf("download tools manifest: %w", err)
	}

	versionOutdated, err := r.isVersionOutdated(ctx)
	if err != nil {
		return err
	}

	logger.Info(ctx, "Verifying checksums of the local tool files")

	if err = r.validateChecksums(); err != nil {
		return fmt.Errorf("validate checksums: %w", err)
	}

	if !versionOutdated && !r.filesOutdated {
		logger.Info(ctx, "No update required, version and files are current")
		return nil
	}

	logger.Info(ctx, "Downloading updated files to a temporary folder")

	if err = r.downloadFiles(ctx); err != nil {
		return fmt.Errorf("download files: %w", err)
	}

	logger.Info(ctx, "Replacing local tool files")

	if err = r.applyFiles(ctx); err != nil {
		return fmt.Errorf("apply files: %w", err)
	}

	return nil
}

// fetchManifest downloads and parses the published tools manifest.
func (r *runner) fetchManifest(ctx context.Context) error {
	response, err := r.getFileFromServer(ctx, manifest.Filename)
	if response != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}

	if err != nil {
		return err
	}

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	description, err := manifest.Parse(data)
	if err != nil {
		return err
	}

	if description.Version == "" || len(description.Files) == 0 {
		return errEmptyManifest
	}

	r.description = description

	return nil
}

// getFileFromServer fetches a file from the distribution folder.
func (r *runner) getFileFromServer(ctx context.Context, fileName string) (*http.Response, error) {
	serverURL, err := url.Parse(r.updateURL)
	if err != nil {
		return nil, err
	}

	// path.Join normalizes duplicate slashes when composing the URL path.
	serverURL.Path = path.Join(serverURL.Path, fileName)
	finalURL := serverURL.String()

	requestCtx, cancel := context.WithTimeout(ctx, r.cfg.UploadTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(requestCtx, http.MethodGet, finalURL, http.NoBody)
	if err != nil {
		return nil, err
	}

	response, err := http.DefaultClient.Do(request) //nolint:bodyclose // closed by callers
	if err != nil {
		return response, err
	}

	if response.StatusCode != http.StatusOK {
		return response, fmt.Errorf("%s, %s: %w", finalURL, response.Status, errBadHTTPStatus)
	}

	return response, nil
}

// isVersionOutdated compares the published version against this build.
// A higher published version forces a full download even when checksums of
// the role's files happen to match.
func (r *runner) isVersionOutdated(ctx context.Context) (bool, error) {
	remote, err := goversion.NewVersion(r.description.Version)
	if err != nil {
		return false, fmt.Errorf("parse published version %q: %w", r.description.Version, err)
	}

	local, err := goversion.NewVersion(version.Short())
	if err != nil {
		logger.Warnf(ctx, "Could not parse local version %q: %v", version.Short(), err)
		return true, nil
	}

	if local.LessThan(remote) {
		logger.InfoKV(ctx, "Published version is newer",
			"local", local.String(), "remote", remote.String())

		return true, nil
	}

	logger.InfoKV(ctx, "Versions match, checking file integrity",
		"version", local.String())

	return false, nil
}

// validateChecksums compares local and published checksums of the role's
// files. It returns early on the first mismatch.
func (r *runner) validateChecksums() error {
	files, err := r.description.RoleFiles(r.role)
	if err != nil {
		return err
	}

	for _, fileName := range files {
		var outdated bool

		outdated, err = r.isFileOutdated(fileName)
		if err != nil {
			return err
		}

		if outdated {
			r.filesOutdated = true
			return nil
		}
	}

	return nil
}

// isFileOutdated reports whether a local file differs from the manifest.
// A missing local file counts as outdated.
func (r *runner) isFileOutdated(fileName string) (bool, error) {
	published, err := r.description.Checksum(fileName)
	if err != nil {
		return false, err
	}

	localPath := filepath.Join(r.folder, fileName)
	if _, err = os.Stat(localPath); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}

		return false, err
	}

	local, err := manifest.FileChecksum(localPath)
	if err != nil {
		return false, err
	}

	return !bytes.Equal(published, local), nil
}

// downloadFiles fetches the role's files into a temporary folder.
func (r *runner) downloadFiles(ctx context.Context) error {
	temporaryFolder, err := os.MkdirTemp("", "mwpkg-sync-")
	if err != nil {
		return err
	}

	r.temporaryFolder = temporaryFolder

	files, err := r.description.RoleFiles(r.role)
	if err != nil {
		return err
	}

	for _, fileName := range files {
		var response *http.Response

		response, err = r.getFileFromServer(ctx, fileName)
		if err != nil {
			if response != nil {
				_ = response.Body.Close()
			}

			return err
		}

		outputName := filepath.Clean(filepath.Join(temporaryFolder, fileName))

		var outputFile *os.File

		outputFile, err = os.Create(outputName)
		if err != nil {
			_ = response.Body.Close()

			return err
		}

		_, err = io.Copy(outputFile, response.Body)

		_ = response.Body.Close()
		_ = outputFile.Close()

		if err != nil {
			return err
		}

		r.downloadedFiles[fileName] = outputName
		logger.InfoKV(ctx, "Downloaded file", "path", outputName)
	}

	return nil
}

// applyFiles replaces the local tool files with the downloaded ones,
// verifying each file against its manifest checksum during the swap.
func (r *runner) applyFiles(ctx context.Context) error {
	// The sync tool replaces itself too. Stop the other tools first so the
	// swap never races a policy-triggered run.
	if err := r.terminateToolProcesses(); err != nil {
		return fmt.Errorf("terminate tool processes: %w", err)
	}

	for fileName, downloadedName := range r.downloadedFiles {
		logger.InfoKV(ctx, "Updating file", "file", fileName)

		data, err := os.ReadFile(downloadedName)
		if err != nil {
			return err
		}

		var checksum []byte

		checksum, err = r.description.Checksum(fileName)
		if err != nil {
			return err
		}

		targetPath := filepath.Join(r.folder, fileName)
		if _, err = os.Stat(targetPath); err != nil && os.IsNotExist(err) {
			if err = os.WriteFile(targetPath, nil, appliedFileMode); err != nil {
				return err
			}
		}

		options := goupdate.Options{
			TargetPath: targetPath,
			TargetMode: appliedFileMode,
			Checksum:   checksum,
			Hash:       manifest.ChecksumFunction,
		}

		if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
			return fmt.Errorf("apply %s: %w", fileName, err)
		}

		oldName := targetPath + ".old"
		if _, err = os.Stat(oldName); err == nil {
			_ = os.Remove(oldName)
		}
	}

	return nil
}

// terminateToolProcesses kills the other mwpkg binaries before replacing
// them, skipping the current process.
func (r *runner) terminateToolProcesses() error {
	files, err := r.description.RoleFiles(r.role)
	if err != nil {
		return err
	}

	targets := sliceToSet(files)
	delete(targets, config.DefaultConfigFilename)

	for name := range targets {
		if err = terminateProcessByName(name); err != nil {
			return err
		}
	}

	return nil
}

// cleanup removes the running marker and the temporary download folder.
func (r *runner) cleanup(ctx context.Context) {
	marker := r.markerPath()
	if _, err := os.Stat(marker); err == nil {
		_ = os.Remove(marker)
	}

	if r.temporaryFolder != "" {
		if _, err := os.Stat(r.temporaryFolder); err == nil {
			_ = os.RemoveAll(r.temporaryFolder)
		}
	}

	logger.Info(ctx, "The sync tool has been stopped")
}

func (r *runner) markerPath() string {
	return filepath.Join(r.folder, MarkerFilename)
}
