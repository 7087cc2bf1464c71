package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher downloads a remote input.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// IsRemote reports whether location is an http(s) or ftp URL.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp":
		return true
	}
	return false
}

// Resolver turns an input location into a local path, downloading remote
// inputs into TempDir first.
type Resolver struct {
	HTTP    Fetcher
	FTP     Fetcher
	TempDir string
}

// NewResolver creates a Resolver with default HTTP and FTP fetchers.
func NewResolver(tempDir string, httpOpts HTTPOptions, ftpOpts FTPOptions) *Resolver {
	return &Resolver{
		HTTP:    NewHTTPFetcher(httpOpts),
		FTP:     NewFTPFetcher(ftpOpts),
		TempDir: tempDir,
	}
}

// Resolve returns a local path for location. Local paths are returned as is
// after checking they exist; the error then wraps os.ErrNotExist.
func (r *Resolver) Resolve(ctx context.Context, location string) (string, error) {
	if !IsRemote(location) {
		if _, err := os.Stat(location); err != nil {
			return "", eris.Wrapf(err, "resolve: %s", location)
		}
		return location, nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return "", eris.Wrapf(err, "resolve: parse %s", location)
	}

	f := r.HTTP
	if strings.EqualFold(u.Scheme, "ftp") {
		f = r.FTP
	}
	if f == nil {
		return "", eris.Errorf("resolve: no fetcher for scheme %q", u.Scheme)
	}

	dir := r.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "resolve: create temp dir %s", dir)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download"
	}
	dest := filepath.Join(dir, name)

	n, err := f.DownloadToFile(ctx, location, dest)
	if err != nil {
		return "", eris.Wrapf(err, "resolve: download %s", location)
	}
	zap.L().Info("fetcher: downloaded input",
		zap.String("url", location),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}
