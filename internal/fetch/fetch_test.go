package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"rollingest/internal/discover"
	"rollingest/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testResource(url string) (discover.Unit, discover.Resource) {
	unit := discover.Unit{State: "Bihar", Assembly: "AC-001"}
	res := discover.Resource{ID: "roll-1", URL: url, Filename: "roll-1.txt"}
	return unit, res
}

func TestHTTPFetcherDownloads(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("voter roll body"))
	}))
	defer server.Close()

	baseDir := t.TempDir()
	f := NewHTTPFetcher(baseDir, zap.NewNop())
	unit, res := testResource(server.URL + "/roll-1.txt")

	path, err := f.Fetch(context.Background(), unit, res)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "voter roll body", string(data))
	assert.Equal(t, filepath.Join(baseDir, "Bihar", "AC-001", "roll-1.txt"), path)

	// No .part leftovers after a clean download.
	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestHTTPFetcherSkipsExistingFile(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte("body"))
	}))
	defer server.Close()

	f := NewHTTPFetcher(t.TempDir(), zap.NewNop())
	unit, res := testResource(server.URL + "/roll-1.txt")

	_, err := f.Fetch(context.Background(), unit, res)
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), unit, res)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestHTTPFetcherClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewHTTPFetcher(t.TempDir(), zap.NewNop())
	unit, res := testResource(server.URL + "/gone.txt")

	_, err := f.Fetch(context.Background(), unit, res)
	require.Error(t, err)
	assert.True(t, runner.IsPermanent(err))
}

func TestHTTPFetcherServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	f := NewHTTPFetcher(t.TempDir(), zap.NewNop())
	unit, res := testResource(server.URL + "/flaky.txt")

	_, err := f.Fetch(context.Background(), unit, res)
	require.Error(t, err)
	assert.False(t, runner.IsPermanent(err))
}

func TestHTTPFetcherTruncatedDownloadFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write([]byte("short"))
	}))
	defer server.Close()

	baseDir := t.TempDir()
	f := NewHTTPFetcher(baseDir, zap.NewNop())
	unit, res := testResource(server.URL + "/cut.txt")

	_, err := f.Fetch(context.Background(), unit, res)
	require.Error(t, err)

	// The truncated body never lands at the final path.
	_, statErr := os.Stat(filepath.Join(baseDir, "Bihar", "AC-001", "roll-1.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", SanitizeFilename(`a/b\c`))
	assert.Equal(t, "West Bengal", SanitizeFilename("West Bengal"))
	assert.Equal(t, "roll_part_1_.pdf", SanitizeFilename(`roll:part<1>.pdf`))
	assert.Equal(t, "trimmed", SanitizeFilename("  trimmed  "))
}

func TestLocalPathDefaultsFilename(t *testing.T) {
	baseDir := t.TempDir()
	unit := discover.Unit{State: "Bihar", Assembly: "AC-001"}

	path, err := LocalPath(baseDir, unit, discover.Resource{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(baseDir, "Bihar", "AC-001", "download.zip"), path)
}
