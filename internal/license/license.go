package license

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// keyFileSuffix names the per-family file installation key artifact.
	keyFileSuffix = "_key.txt"
	// datFileSuffix names the per-family license data artifact.
	datFileSuffix = "_license.dat"
	// keyLabel is the human label line some key files carry above the key.
	keyLabel = "File Installation Key:"
)

var (
	// ErrNoInstallationKey is returned when the key file holds no key line.
	ErrNoInstallationKey = errors.New("no file installation key")
	// ErrNoLicenseHash is returned when the license file's SERVER line is malformed.
	ErrNoLicenseHash = errors.New("no license hash")
)

// ReadInstallationKey reads the file installation key for a release family
// from <dir>/<family>_key.txt. The vendor portal sometimes exports the key
// with a label line above it; the label is skipped.
func ReadInstallationKey(dir, family string) (string, error) {
	path := filepath.Join(dir, family+keyFileSuffix)

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read installation key: %w", err)
	}

	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, keyLabel) {
			continue
		}

		return line, nil
	}

	return "", fmt.Errorf("%s: %w", path, ErrNoInstallationKey)
}

// ReadHash reads the license hash for a release family from
// <dir>/<family>_license.dat. The hash is the last field of the first line
// (the SERVER line of a generated license file).
func ReadHash(dir, family string) (string, error) {
	path := filepath.Join(dir, family+datFileSuffix)

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read license data: %w", err)
	}

	lines := strings.Split(string(contents), "\n")
	if len(lines) == 0 {
		return "", fmt.Errorf("%s: %w", path, ErrNoLicenseHash)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return "", fmt.Errorf("%s: %w", path, ErrNoLicenseHash)
	}

	return fields[len(fields)-1], nil
}

// Data renders the license.dat contents pointing clients at the license server.
func Data(server, hash string) string {
	return fmt.Sprintf("SERVER %s %s\nUSE_SERVER", server, hash)
}

// InstallerInput renders the silent-install input file consumed by the vendor
// installer: licensing fields followed by one product.<Name> line per
// product, spaces replaced with underscores.
func InstallerInput(installationKey, licensePath, logPath string, products []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "fileInstallationKey=%s\n", installationKey)
	b.WriteString("agreeToLicense=yes\n")
	fmt.Fprintf(&b, "outputFile=%s\n", logPath)
	fmt.Fprintf(&b, "licensePath=%s\n", licensePath)

	for _, name := range products {
		fmt.Fprintf(&b, "product.%s\n", strings.ReplaceAll(name, " ", "_"))
	}

	return b.String()
}
