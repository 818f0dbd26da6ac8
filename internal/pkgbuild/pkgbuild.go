package pkgbuild

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/oshokin/mathworks-packager/internal/logger"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DefaultRunner runs the command for real.
func DefaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Builder creates flat installer packages from a payload root via pkgbuild.
type Builder struct {
	// run executes pkgbuild.
	run Runner
}

// NewBuilder creates a Builder. A nil runner falls back to real execution.
func NewBuilder(run Runner) *Builder {
	if run == nil {
		run = DefaultRunner
	}

	return &Builder{run: run}
}

// Build produces packagePath from the payload rooted at root. The package
// identifier is the package file name without its extension.
func (b *Builder) Build(ctx context.Context, root, packagePath string) error {
	identifier := strings.TrimSuffix(filepath.Base(packagePath), filepath.Ext(packagePath))

	output, err := b.run(ctx, "pkgbuild",
		"--root", root,
		"--identifier", identifier,
		packagePath)
	if err != nil {
		return fmt.Errorf("pkgbuild %s: %w: %s", packagePath, err, strings.TrimSpace(string(output)))
	}

	logger.InfoKV(ctx, "Built package", "package", packagePath)

	return nil
}
