package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"rollingest/internal/discover"
	"rollingest/internal/runner"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ObjectConfig contains object-store source configuration
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
}

// ObjectFetcher acquires resources addressed as s3://bucket/key from an
// S3-compatible mirror of the portal documents.
type ObjectFetcher struct {
	client  *minio.Client
	baseDir string
	logger  *zap.Logger
}

// NewObjectFetcher creates an object-store fetcher.
func NewObjectFetcher(cfg ObjectConfig, baseDir string, logger *zap.Logger) (*ObjectFetcher, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, err
	}

	return &ObjectFetcher{client: client, baseDir: baseDir, logger: logger}, nil
}

// Fetch copies the object to the unit directory unless a non-empty copy
// already exists. FGetObject downloads to a temp part file and renames, so
// interrupted fetches never surface as complete.
func (f *ObjectFetcher) Fetch(ctx context.Context, unit discover.Unit, res discover.Resource) (string, error) {
	bucket, key, err := splitObjectURL(res.URL)
	if err != nil {
		return "", runner.Permanent(err)
	}

	path, err := LocalPath(f.baseDir, unit, res)
	if err != nil {
		return "", runner.Permanent(err)
	}

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f.logger.Debug("Skipping existing file", zap.String("path", path))
		return path, nil
	}

	if err := f.client.FGetObject(ctx, bucket, key, path, minio.GetObjectOptions{}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", runner.Permanent(fmt.Errorf("object %s/%s: %w", bucket, key, err))
		}
		return "", fmt.Errorf("object %s/%s: %w", bucket, key, err)
	}

	f.logger.Info("Downloaded object",
		zap.String("unit", unit.Key()),
		zap.String("bucket", bucket),
		zap.String("key", key),
	)
	return path, nil
}

func splitObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid object URL %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("object URL %q must use the s3 scheme", rawURL)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("object URL %q must be s3://bucket/key", rawURL)
	}
	return u.Host, key, nil
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}
