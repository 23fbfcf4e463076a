package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts all files from a ZIP archive to the destination directory.
// Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path != "" {
			extracted = append(extracted, path)
		}
	}

	return extracted, nil
}

// ExtractTable extracts the archive and returns the single table file it
// contains (see TableExts). Archives with no table or several tables are
// rejected. Hidden files and macOS resource forks are ignored.
func ExtractTable(zipPath, destDir string) (string, error) {
	files, err := ExtractZIP(zipPath, destDir)
	if err != nil {
		return "", err
	}

	var tables []string
	for _, f := range files {
		if strings.HasPrefix(filepath.Base(f), ".") || strings.Contains(f, "__MACOSX") {
			continue
		}
		if slices.Contains(TableExts, strings.ToLower(filepath.Ext(f))) {
			tables = append(tables, f)
		}
	}

	switch len(tables) {
	case 1:
		return tables[0], nil
	case 0:
		return "", eris.Errorf("zip: no table (%s) in %s", strings.Join(TableExts, ", "), filepath.Base(zipPath))
	default:
		return "", eris.Errorf("zip: %d tables in %s, expected 1", len(tables), filepath.Base(zipPath))
	}
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
