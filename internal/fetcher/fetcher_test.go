package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	body string
	urls []string
}

func (s *stubFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	s.urls = append(s.urls, url)
	return io.NopCloser(strings.NewReader(s.body)), nil
}

func (s *stubFetcher) DownloadToFile(ctx context.Context, url, path string) (int64, error) {
	rc, _ := s.Download(ctx, url)
	return copyToFile(path, rc)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.csv"))
	assert.True(t, IsRemote("ftp://example.com/a.csv"))
	assert.False(t, IsRemote("/data/a.csv"))
	assert.False(t, IsRemote("data/a.csv"))
	assert.False(t, IsRemote("s3://bucket/a.csv"))
}

func TestResolver_LocalPath(t *testing.T) {
	path := writeFile(t, "a.csv", "linea\n")
	r := &Resolver{}

	got, err := r.Resolve(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = r.Resolve(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolver_FTPUsesFTPFetcher(t *testing.T) {
	ftpStub := &stubFetcher{body: "linea\n1144445555\n"}
	httpStub := &stubFetcher{}
	r := &Resolver{HTTP: httpStub, FTP: ftpStub, TempDir: t.TempDir()}

	got, err := r.Resolve(context.Background(), "ftp://files.example.com/exports/no_llame.csv")
	require.NoError(t, err)
	assert.Equal(t, "no_llame.csv", filepath.Base(got))
	assert.Len(t, ftpStub.urls, 1)
	assert.Empty(t, httpStub.urls)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, "linea\n1144445555\n", string(data))
}

func TestResolver_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dni,CUIT\n20111222,20201112223\n"))
	}))
	defer srv.Close()

	r := NewResolver(t.TempDir(), HTTPOptions{RequestsPerSecond: 100}, FTPOptions{})
	got, err := r.Resolve(context.Background(), srv.URL+"/base_cuit.csv")
	require.NoError(t, err)

	tbl, _, err := ReadTable(context.Background(), got, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())
}
