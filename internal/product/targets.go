package product

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoTargets is returned when the targets source yields no product names.
var ErrNoTargets = errors.New("no target products")

// LoadTargets reads a newline-separated product list from a file.
func LoadTargets(path string) ([]*Product, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	return ParseTargets(f)
}

// ParseTargets parses a newline-separated product list.
// Blank lines and lines starting with # are ignored.
func ParseTargets(r io.Reader) ([]*Product, error) {
	var targets []*Product

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		targets = append(targets, New(line))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	return targets, nil
}
