package pkgbuild

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// mwContents is the manifest the vendor installer expects inside each
// Network License Manager archive: payload files and definition documents
// listed by their stored names.
type mwContents struct {
	XMLName        xml.Name `xml:"contents"`
	ComponentFiles []string `xml:"componentFiles"`
	Definitions    []string `xml:"definitions"`
}

// CompressNLM zips the Network License Manager files for one platform and
// embeds the generated contents manifest. The archive lands next to the
// platform directory as Network_License_Manager<ver>_<platform>.zip and its
// path is returned. Those archives ride along inside every product package.
func CompressNLM(nlmRoot, platform, version string) (string, error) {
	shortVersion := strings.ReplaceAll(version, ".", "")
	zipPath := filepath.Join(nlmRoot,
		fmt.Sprintf("Network_License_Manager%s_%s.zip", shortVersion, platform))

	out, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create NLM archive: %w", err)
	}

	writer := zip.NewWriter(out)
	contents := new(mwContents)
	platformRoot := filepath.Join(nlmRoot, platform)

	walkErr := filepath.WalkDir(platformRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || d.Name() == ".DS_Store" {
			return nil
		}

		storedName, err := filepath.Rel(platformRoot, path)
		if err != nil {
			return err
		}

		storedName = filepath.ToSlash(storedName)

		switch filepath.Ext(path) {
		case ".enc":
			contents.ComponentFiles = append(contents.ComponentFiles, storedName)
		case ".xml":
			contents.Definitions = append(contents.Definitions, storedName)
		}

		return addZipFile(writer, path, storedName)
	})
	if walkErr != nil {
		_ = writer.Close()
		_ = out.Close()

		return "", fmt.Errorf("archive NLM files: %w", walkErr)
	}

	if err := addContentsManifest(writer, zipPath, contents); err != nil {
		_ = writer.Close()
		_ = out.Close()

		return "", err
	}

	if err := writer.Close(); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("finalize NLM archive: %w", err)
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close NLM archive: %w", err)
	}

	return zipPath, nil
}

// addZipFile stores one file in the archive under its stored name.
func addZipFile(writer *zip.Writer, path, storedName string) error {
	in, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	entry, err := writer.Create(storedName)
	if err != nil {
		return err
	}

	_, err = io.Copy(entry, in)

	return err
}

// addContentsManifest writes mwcontents_<stem>.xml into the archive.
func addContentsManifest(writer *zip.Writer, zipPath string, contents *mwContents) error {
	stem := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))

	document, err := xml.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("render contents manifest: %w", err)
	}

	entry, err := writer.Create(fmt.Sprintf("mwcontents_%s.xml", stem))
	if err != nil {
		return fmt.Errorf("create contents manifest entry: %w", err)
	}

	if _, err := entry.Write([]byte(xml.Header)); err != nil {
		return fmt.Errorf("write contents manifest: %w", err)
	}

	if _, err := entry.Write(document); err != nil {
		return fmt.Errorf("write contents manifest: %w", err)
	}

	return nil
}
