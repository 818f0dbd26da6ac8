package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFileRepository_NotFound verifies Load returns ErrNotFound for missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	record, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, record)
}

// TestFileRepository_SaveLoad_Roundtrip ensures Save followed by Load returns equal state.
func TestFileRepository_SaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "policy_definitions.json")
	repo := NewFileRepository(file)

	want := New()
	want.Family = "R2021a"

	definition := want.Ensure("Curve Fitting Toolbox")
	definition.AnchorName = "MathWorks.R2021a.MATLAB.Curve.Fitting.Toolbox"
	definition.AnchorTrigger = "@MathWorks.R2021a.MATLAB.Curve.Fitting.Toolbox"
	definition.Dependencies = []string{"MATLAB", "Curve Fitting Toolbox"}
	definition.IsToolbox = true
	definition.PackageID = "42"

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, got.SchemaVersion)
	require.Equal(t, "R2021a", got.Family)
	require.False(t, got.UpdatedAt.IsZero())
	require.Equal(t, want.Products["Curve Fitting Toolbox"], got.Products["Curve Fitting Toolbox"])

	_, err = os.Stat(file)
	require.NoError(t, err)
}

// TestFileRepository_SchemaMismatch rejects records from incompatible tools.
func TestFileRepository_SchemaMismatch(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "policy_definitions.json")

	stale, err := json.Marshal(map[string]any{"schema_version": SchemaVersion + 1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, stale, 0o600))

	_, err = NewFileRepository(file).Load(context.Background())
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

// TestEnsure creates missing definitions and returns existing ones intact.
func TestEnsure(t *testing.T) {
	t.Parallel()

	record := New()

	first := record.Ensure("MATLAB")
	first.PackageID = "7"

	again := record.Ensure("MATLAB")
	require.Same(t, first, again)
	require.Equal(t, "7", again.PackageID)
}
