package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"rollingest/internal/discover"
	"rollingest/internal/runner"

	"go.uber.org/zap"
)

// Fetcher acquires one source resource into the unit's local directory and
// returns the file path. Implementations must be safely re-callable for a
// resource already fully acquired (idempotent skip).
type Fetcher interface {
	Fetch(ctx context.Context, unit discover.Unit, res discover.Resource) (string, error)
}

// HTTPFetcher downloads resources over plain HTTP(S).
type HTTPFetcher struct {
	client  *http.Client
	baseDir string
	logger  *zap.Logger
}

// NewHTTPFetcher creates a fetcher writing under baseDir/state/assembly/.
func NewHTTPFetcher(baseDir string, logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client:  &http.Client{},
		baseDir: baseDir,
		logger:  logger,
	}
}

// Fetch downloads the resource unless a non-empty copy already exists.
// Partial downloads land in a .part file renamed only on success, so an
// interrupted fetch never leaves a truncated file behind as complete.
func (f *HTTPFetcher) Fetch(ctx context.Context, unit discover.Unit, res discover.Resource) (string, error) {
	path, err := LocalPath(f.baseDir, unit, res)
	if err != nil {
		return "", runner.Permanent(err)
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f.logger.Debug("Skipping existing file", zap.String("path", path))
		return path, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		return "", runner.Permanent(fmt.Errorf("invalid resource URL %q: %w", res.URL, err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed for %s: %w", res.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("server error for %s: HTTP %d", res.URL, resp.StatusCode)
	default:
		return "", runner.Permanent(fmt.Errorf("unexpected status for %s: HTTP %d", res.URL, resp.StatusCode))
	}

	tmpPath := path + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("download failed for %s: %w", res.URL, err)
	}
	if resp.ContentLength > 0 && written < resp.ContentLength {
		os.Remove(tmpPath)
		return "", fmt.Errorf("short download for %s: got %d of %d bytes", res.URL, written, resp.ContentLength)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to finalize %s: %w", path, err)
	}

	f.logger.Info("Downloaded resource",
		zap.String("unit", unit.Key()),
		zap.String("file", filepath.Base(path)),
		zap.Int64("bytes", written),
	)
	return path, nil
}

// LocalPath returns the on-disk destination for a resource, creating the
// unit directory as needed.
func LocalPath(baseDir string, unit discover.Unit, res discover.Resource) (string, error) {
	dir := filepath.Join(baseDir, SanitizeFilename(unit.State), SanitizeFilename(unit.Assembly))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create unit dir: %w", err)
	}
	name := SanitizeFilename(res.Filename)
	if name == "" {
		name = "download.zip"
	}
	return filepath.Join(dir, name), nil
}

// SanitizeFilename replaces characters that are invalid in file names.
func SanitizeFilename(name string) string {
	const invalid = `<>:"/\|?*`
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) {
			return '_'
		}
		return r
	}, name))
}
