// Package fetcher retrieves land-use tables from local paths, HTTP(S) and
// FTP, and reads them as CSV, XLSX or ZIP-wrapped tables.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// TableExts lists the table formats a source may resolve to.
var TableExts = []string{".csv", ".xlsx"}

// Resolver turns a source reference into a local table path.
type Resolver struct {
	HTTP    Fetcher
	FTP     Fetcher
	TempDir string
}

// Resolve returns a local path for src. Remote URLs are downloaded into
// TempDir and ZIP archives are extracted; the result is always a .csv or
// .xlsx file.
func (r *Resolver) Resolve(ctx context.Context, src string) (string, error) {
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("source", src))

	path, err := r.localize(ctx, src)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".zip" {
		dir, err := os.MkdirTemp(r.tempDir(), "landuse-*")
		if err != nil {
			return "", eris.Wrap(err, "fetcher: create extract dir")
		}
		path, err = ExtractTable(path, dir)
		if err != nil {
			return "", err
		}
		ext = strings.ToLower(filepath.Ext(path))
		log.Debug("extracted table from archive", zap.String("path", path))
	}

	for _, e := range TableExts {
		if ext == e {
			return path, nil
		}
	}
	return "", eris.Errorf("fetcher: unsupported table format %q", ext)
}

func (r *Resolver) localize(ctx context.Context, src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain paths, including Windows drive letters.
		if _, statErr := os.Stat(src); statErr != nil {
			return "", eris.Wrapf(statErr, "fetcher: stat %s", src)
		}
		return src, nil
	}

	var f Fetcher
	switch u.Scheme {
	case "http", "https":
		f = r.HTTP
	case "ftp":
		f = r.FTP
	case "file":
		return r.localize(ctx, u.Path)
	default:
		return "", eris.Errorf("fetcher: unsupported scheme %q", u.Scheme)
	}
	if f == nil {
		return "", eris.Errorf("fetcher: no %s fetcher configured", u.Scheme)
	}

	name := filepath.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "download"
	}
	dir, err := os.MkdirTemp(r.tempDir(), "fetch-*")
	if err != nil {
		return "", eris.Wrap(err, "fetcher: create download dir")
	}
	dest := filepath.Join(dir, name)
	n, err := f.DownloadToFile(ctx, src, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", src)
	}
	zap.L().Info("fetcher: downloaded source", zap.String("url", src), zap.Int64("bytes", n))
	return dest, nil
}

func (r *Resolver) tempDir() string {
	if r.TempDir != "" {
		return r.TempDir
	}
	return os.TempDir()
}

// writeToFile copies rc into a new file at path.
func writeToFile(rc io.Reader, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrap(err, "write file")
	}
	return n, nil
}
