package extract

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Expand turns a list of acquired files into a list of parseable
// documents: archives are unzipped next to themselves and replaced by the
// documents they contain, non-archives pass through unchanged. Extraction
// is idempotent: already-extracted documents are reused.
func Expand(paths []string, logger *zap.Logger) ([]string, error) {
	var docs []string
	for _, path := range paths {
		if !strings.EqualFold(filepath.Ext(path), ".zip") {
			docs = append(docs, path)
			continue
		}

		extracted, err := Unzip(path, filepath.Dir(path), logger)
		if err != nil {
			logger.Warn("Skipping unreadable archive",
				zap.String("archive", path),
				zap.Error(err),
			)
			continue
		}
		docs = append(docs, extracted...)
	}
	return docs, nil
}

// Unzip extracts an archive into dir and returns the paths of the
// documents it contained. Entries escaping dir are rejected.
func Unzip(zipPath, dir string, logger *zap.Logger) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", zipPath, err)
	}
	defer reader.Close()

	var docs []string
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		dest := filepath.Join(dir, filepath.Base(entry.Name))
		rel, err := filepath.Rel(dir, dest)
		if err != nil || strings.HasPrefix(rel, "..") {
			logger.Warn("Skipping archive entry escaping target dir",
				zap.String("entry", entry.Name),
			)
			continue
		}

		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			docs = append(docs, dest)
			continue
		}

		if err := extractEntry(entry, dest); err != nil {
			logger.Warn("Failed to extract archive entry",
				zap.String("entry", entry.Name),
				zap.Error(err),
			)
			continue
		}
		docs = append(docs, dest)
	}

	logger.Debug("Extracted archive",
		zap.String("archive", filepath.Base(zipPath)),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}

func extractEntry(entry *zip.File, dest string) error {
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
	}
	return err
}
