package pkgbuild

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// installerLauncher is the launcher binary inside the installer app bundle.
// A shell header precedes an embedded zip holding the actual installer.
const installerLauncher = "InstallForMacOSX"

var (
	// ErrNoTailMarker is returned when the launcher header has no tail offset.
	ErrNoTailMarker = errors.New("no tail marker in launcher header")

	// tailExpr finds the self-extraction offset in the launcher's shell header.
	tailExpr = regexp.MustCompile(`tail -n \+(\d+)`)
)

// ExtractInstaller pulls the zip payload embedded in the installer launcher
// out of installerDir and unpacks it under destination. The launcher is a
// shell script whose header reads itself with `tail -n +N`; everything from
// line N onward is the zip.
func ExtractInstaller(installerDir, destination string) error {
	launcherPath := filepath.Join(installerDir, installerLauncher)

	contents, err := os.ReadFile(filepath.Clean(launcherPath))
	if err != nil {
		return fmt.Errorf("read launcher: %w", err)
	}

	offset, err := findTailOffset(contents)
	if err != nil {
		return fmt.Errorf("%s: %w", launcherPath, err)
	}

	payload := payloadFromLine(contents, offset)

	if err := os.MkdirAll(destination, os.ModePerm); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if err := unzipPayload(payload, destination); err != nil {
		return fmt.Errorf("unpack launcher payload: %w", err)
	}

	return nil
}

// findTailOffset scans the shell header for the tail line number.
// Only the first kilobytes are text; stop at the first match.
func findTailOffset(contents []byte) (int, error) {
	for _, line := range bytes.Split(contents, []byte("\n")) {
		match := tailExpr.FindSubmatch(line)
		if match == nil {
			continue
		}

		var offset int
		if _, err := fmt.Sscanf(string(match[1]), "%d", &offset); err != nil {
			return 0, fmt.Errorf("parse tail offset: %w", err)
		}

		return offset, nil
	}

	return 0, ErrNoTailMarker
}

// payloadFromLine returns the file contents starting at the 1-based line.
func payloadFromLine(contents []byte, line int) []byte {
	offset := 0

	for i := 1; i < line; i++ {
		next := bytes.IndexByte(contents[offset:], '\n')
		if next < 0 {
			return nil
		}

		offset += next + 1
	}

	return contents[offset:]
}

// unzipPayload expands a zip held in memory into the destination directory.
func unzipPayload(payload []byte, destination string) error {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return err
	}

	for _, entry := range reader.File {
		if err := writeZipEntry(entry, destination); err != nil {
			return err
		}
	}

	return nil
}

// writeZipEntry writes one zip entry under destination, preserving its path
// and mode and refusing entries that escape the destination.
func writeZipEntry(entry *zip.File, destination string) error {
	name := entry.Name
	if !filepath.IsLocal(name) || strings.Contains(name, "..") {
		return fmt.Errorf("unsafe entry path: %s", name)
	}

	target := filepath.Join(destination, filepath.FromSlash(name))

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, os.ModePerm)
	}

	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return err
	}

	rc, err := entry.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = rc.Close()
	}()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
