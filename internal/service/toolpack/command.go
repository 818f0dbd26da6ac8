package toolpack

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/manifest"
	"github.com/oshokin/mathworks-packager/internal/service/sync"
	"github.com/oshokin/mathworks-packager/internal/version"
)

var errArtifactMissing = errors.New("distribution artifact is missing")

// Options are inputs accepted by the toolpack entry point.
type Options struct {
	// Folder holds the built tool binaries and the settings file.
	// Defaults to the current directory.
	Folder string
	// Output is where the manifest is written. Defaults to the manifest
	// filename inside Folder.
	Output string
}

// Run hashes the distribution artifacts in the given folder and writes the
// tools manifest that mwpkg-sync consumes on devices and build hosts.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "toolpack")

	folder := opts.Folder
	if folder == "" {
		folder = "."
	}

	output := opts.Output
	if output == "" {
		output = filepath.Join(folder, manifest.Filename)
	}

	description := manifest.New(version.Short())
	description.Roles = sync.RoleArtifacts()

	for _, name := range artifactNames(description.Roles) {
		path := filepath.Join(folder, name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%s: %w", name, errArtifactMissing)
			}

			return err
		}

		if err := description.AddFile(path); err != nil {
			return err
		}

		logger.InfoKV(ctx, "Recorded artifact", "file", name)
	}

	if err := description.Save(output); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Tools manifest written",
		"path", output, "version", description.Version)

	return nil
}

// artifactNames returns the union of all role file lists, sorted for a
// stable processing order.
func artifactNames(roles map[string][]string) []string {
	seen := make(map[string]struct{})

	for _, files := range roles {
		for _, name := range files {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
