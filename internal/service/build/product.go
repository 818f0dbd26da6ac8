package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/product"
)

var errNoFallbackPayload = errors.New("payload file not found in installer volume")

// stageProduct discovers the product in both platform archives and lays its
// definition documents and payload files out under pkgArchives.
func (r *runner) stageProduct(ctx context.Context, prod *product.Product, pkgArchives string) error {
	logger.InfoKV(ctx, "Beginning product creation.", "product", prod.Name)

	if err := os.MkdirAll(pkgArchives, os.ModePerm); err != nil {
		return fmt.Errorf("create package archives: %w", err)
	}

	for _, platform := range product.Platforms() {
		if err := prod.Discover(r.archives[platform], platform); err != nil {
			return err
		}

		logger.InfoKV(ctx, "Extracting and copying components.",
			"product", prod.Name, "platform", string(platform))

		if err := r.stagePlatformFiles(prod, platform, pkgArchives); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Completed copying files to target folder.", "product", prod.Name)

	return nil
}

// stagePlatformFiles extracts the product and component definition documents
// from the platform archive and copies each payload file from the mounted
// volume next to them. The documents must sit alongside the payload for
// licensed installs to work.
func (r *runner) stagePlatformFiles(prod *product.Product, platform product.Platform, pkgArchives string) error {
	data := prod.ByPlatform[platform]
	arch := r.archives[platform]

	if err := arch.Extract(data.XMLPath, pkgArchives); err != nil {
		return err
	}

	for _, component := range data.Components {
		relative := filepath.FromSlash(component.Path)
		source := filepath.Join(r.appArchives, string(platform), relative)
		destination := filepath.Join(pkgArchives, string(platform), relative)

		if err := copyPayload(r.appArchives, source, destination, component.Path); err != nil {
			return fmt.Errorf("%s (%s): %w", component.Name, platform, err)
		}

		if err := arch.Extract(component.XMLPath, pkgArchives); err != nil {
			return err
		}
	}

	return nil
}

// copyPayload copies a component payload file into the package root. Some
// payload files live outside their platform directory on the volume; those
// are located by a recursive name search.
func copyPayload(searchRoot, source, destination, componentPath string) error {
	if err := os.MkdirAll(filepath.Dir(destination), os.ModePerm); err != nil {
		return fmt.Errorf("create payload directory: %w", err)
	}

	err := copyFile(source, destination)
	if err == nil {
		return nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	fallback, err := findPayload(searchRoot, componentPath)
	if err != nil {
		return err
	}

	return copyFile(fallback, destination)
}

// findPayload searches the installer volume for a file matching the payload
// name.
func findPayload(searchRoot, componentPath string) (string, error) {
	base := filepath.Base(filepath.FromSlash(componentPath))

	var found string

	err := filepath.WalkDir(searchRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && d.Name() == base {
			found = path
			return fs.SkipAll
		}

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search for %s: %w", base, err)
	}

	if found == "" {
		return "", fmt.Errorf("%s: %w", componentPath, errNoFallbackPayload)
	}

	return found, nil
}

// copyFile copies a regular file preserving its mode.
func copyFile(source, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}

	in, err := os.Open(filepath.Clean(source))
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(filepath.Clean(destination), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", source, err)
	}

	return out.Close()
}

// cleanDirectory removes the directory tree if it exists.
func cleanDirectory(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return err
	}

	return os.RemoveAll(path)
}
