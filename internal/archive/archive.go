package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Archive provides regexp lookup and selective extraction over one of the
// vendor platform archives (platform_common.zip, platform_maci64.zip).
type Archive struct {
	// path is the filesystem location of the zip file.
	path string
	// reader is the open zip handle; nil after Close.
	reader *zip.ReadCloser
}

// extractedFileMode is applied to files pulled out of the archive.
const extractedFileMode os.FileMode = 0o644

var (
	// ErrEntryNotFound is returned when a named entry is missing from the archive.
	ErrEntryNotFound = errors.New("entry not found in archive")
	// errUnsafeEntryPath guards against zip entries escaping the destination.
	errUnsafeEntryPath = errors.New("unsafe entry path")
)

// Open opens the zip file at path for reading.
func Open(path string) (*Archive, error) {
	reader, err := zip.OpenReader(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}

	return &Archive{
		path:   path,
		reader: reader,
	}, nil
}

// Close releases the underlying zip handle.
func (a *Archive) Close() error {
	return a.reader.Close()
}

// Path returns the filesystem location of the archive.
func (a *Archive) Path() string {
	return a.path
}

// Names returns every entry name in the archive.
func (a *Archive) Names() []string {
	names := make([]string, 0, len(a.reader.File))
	for _, entry := range a.reader.File {
		names = append(names, entry.Name)
	}

	return names
}

// Find returns the names of entries whose full path matches the expression.
// The expression is anchored so partial matches don't leak through.
func (a *Archive) Find(expr string) ([]string, error) {
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("compile entry expression: %w", err)
	}

	var matches []string

	for _, entry := range a.reader.File {
		if re.MatchString(entry.Name) {
			matches = append(matches, entry.Name)
		}
	}

	return matches, nil
}

// ReadFile returns the contents of the named entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	entry, err := a.lookup(name)
	if err != nil {
		return nil, err
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", name, err)
	}

	defer func() {
		_ = rc.Close()
	}()

	contents, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", name, err)
	}

	return contents, nil
}

// Extract writes the named entry under destination, preserving the entry's
// relative path. Parent directories are created as needed.
func (a *Archive) Extract(name, destination string) error {
	if !filepath.IsLocal(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%s: %w", name, errUnsafeEntryPath)
	}

	contents, err := a.ReadFile(name)
	if err != nil {
		return err
	}

	target := filepath.Join(destination, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}

	if err := os.WriteFile(target, contents, extractedFileMode); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}

	return nil
}

// lookup finds the zip entry with the given full name.
func (a *Archive) lookup(name string) (*zip.File, error) {
	for _, entry := range a.reader.File {
		if entry.Name == name {
			return entry, nil
		}
	}

	return nil, fmt.Errorf("%s in %s: %w", name, a.path, ErrEntryNotFound)
}
