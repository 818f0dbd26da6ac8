package manifest

import (
	"crypto"
	_ "crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// Filename is the manifest file published next to the tool binaries
	// on the distribution server.
	Filename = "mwpkg-tools.yaml"

	// ChecksumFunction hashes distributed files. The hash package must be
	// imported for Available to report true.
	ChecksumFunction crypto.Hash = crypto.SHA512

	filePermissions = 0o644
)

var (
	// ErrChecksumUnavailable is returned when the hash function is not
	// linked into the binary.
	ErrChecksumUnavailable = errors.New("checksum function is not available")
	// ErrFileNotListed is returned when a file has no manifest entry.
	ErrFileNotListed = errors.New("file is not listed in the manifest")
	// ErrRoleUnknown is returned when a role has no manifest entry.
	ErrRoleUnknown = errors.New("role is not listed in the manifest")
)

// Description lists the distributed tool files with their checksums and
// the file sets each machine role receives.
type Description struct {
	Version string              `yaml:"version"`
	Files   map[string]string   `yaml:"files"`
	Roles   map[string][]string `yaml:"roles"`
}

// New returns an empty description for the given release version.
func New(version string) *Description {
	return &Description{
		Version: version,
		Files:   make(map[string]string),
		Roles:   make(map[string][]string),
	}
}

// Parse decodes a manifest document.
func Parse(data []byte) (*Description, error) {
	var description Description
	if err := yaml.Unmarshal(data, &description); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &description, nil
}

// Load reads and decodes a manifest file.
func Load(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}

	return Parse(data)
}

// Save writes the manifest to the given path.
func (d *Description) Save(path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(path, data, filePermissions); err != nil {
		return fmt.Errorf("write manifest %q: %w", path, err)
	}

	return nil
}

// AddFile hashes the file at path and records it under its base name.
func (d *Description) AddFile(path string) error {
	checksum, err := FileChecksum(path)
	if err != nil {
		return err
	}

	d.Files[filepath.Base(path)] = base64.StdEncoding.EncodeToString(checksum)

	return nil
}

// Checksum returns the recorded checksum of a listed file.
func (d *Description) Checksum(name string) ([]byte, error) {
	encoded, ok := d.Files[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrFileNotListed)
	}

	checksum, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode checksum of %q: %w", name, err)
	}

	return checksum, nil
}

// RoleFiles returns the file names a machine role receives.
func (d *Description) RoleFiles(role string) ([]string, error) {
	files, ok := d.Roles[role]
	if !ok {
		return nil, fmt.Errorf("%q: %w", role, ErrRoleUnknown)
	}

	return files, nil
}

// FileChecksum hashes the contents of the file at path.
func FileChecksum(path string) ([]byte, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}

	if !ChecksumFunction.Available() {
		return nil, ErrChecksumUnavailable
	}

	hasher := ChecksumFunction.New()
	hasher.Write(contents)

	return hasher.Sum(nil), nil
}
