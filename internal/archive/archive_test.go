package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTestArchive creates a zip file with the provided entries and returns its path.
func writeTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "platform_common.zip")

	f, err := os.Create(path)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, contents := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)

		_, err = entry.Write([]byte(contents))
		require.NoError(t, err)
	}

	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	return path
}

// TestFind verifies anchored regexp matching over entry names.
func TestFind(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, map[string]string{
		"archives/productdata_MATLAB100_common.xml":                "<productData/>",
		"archives/productdata_Curve_Fitting_Toolbox77_common.xml":  "<productData/>",
		"archives/common/matlab_payload.enc":                       "payload",
	})

	a, err := Open(path)
	require.NoError(t, err)

	defer func() {
		_ = a.Close()
	}()

	matches, err := a.Find(`.*/productdata_MATLAB\d+_common\.xml`)
	require.NoError(t, err)
	require.Equal(t, []string{"archives/productdata_MATLAB100_common.xml"}, matches)

	matches, err = a.Find(`.*/productdata_.*\.xml`)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Partial matches must not leak through the anchoring.
	matches, err = a.Find(`archives/common`)
	require.NoError(t, err)
	require.Empty(t, matches)
}

// TestReadFileAndExtract covers entry reads and path-preserving extraction.
func TestReadFileAndExtract(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, map[string]string{
		"archives/common/defs/MATLAB_100.xml": "<component/>",
	})

	a, err := Open(path)
	require.NoError(t, err)

	defer func() {
		_ = a.Close()
	}()

	contents, err := a.ReadFile("archives/common/defs/MATLAB_100.xml")
	require.NoError(t, err)
	require.Equal(t, "<component/>", string(contents))

	_, err = a.ReadFile("missing.xml")
	require.ErrorIs(t, err, ErrEntryNotFound)

	dest := t.TempDir()
	require.NoError(t, a.Extract("archives/common/defs/MATLAB_100.xml", dest))

	extracted, err := os.ReadFile(filepath.Join(dest, "archives", "common", "defs", "MATLAB_100.xml"))
	require.NoError(t, err)
	require.Equal(t, "<component/>", string(extracted))
}
