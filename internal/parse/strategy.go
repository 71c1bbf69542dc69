package parse

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Strategy extracts raw text from one document. Strategies are tried in
// order until one yields non-empty output.
type Strategy interface {
	Name() string
	ExtractText(ctx context.Context, path string) (string, error)
}

// DefaultStrategies returns the extraction chain: native text files,
// then pdftotext, then OCR for scanned documents.
func DefaultStrategies(useOCR bool, logger *zap.Logger) []Strategy {
	strategies := []Strategy{
		plainTextStrategy{},
		commandStrategy{
			name: "pdftotext",
			run: func(ctx context.Context, path string) *exec.Cmd {
				return exec.CommandContext(ctx, "pdftotext", "-layout", path, "-")
			},
		},
	}
	if useOCR {
		strategies = append(strategies, ocrStrategy{logger: logger})
	}
	return strategies
}

// plainTextStrategy handles documents that are already text.
type plainTextStrategy struct{}

func (plainTextStrategy) Name() string { return "plaintext" }

func (plainTextStrategy) ExtractText(_ context.Context, path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".text", ".csv":
	default:
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// commandStrategy shells out to an external extraction tool and captures
// its stdout.
type commandStrategy struct {
	name string
	run  func(ctx context.Context, path string) *exec.Cmd
}

func (s commandStrategy) Name() string { return s.name }

func (s commandStrategy) ExtractText(ctx context.Context, path string) (string, error) {
	cmd := s.run(ctx, path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w (%s)", s.name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// ocrStrategy recognizes scanned documents via ocrmypdf, reading the
// recognized text from the sidecar output.
type ocrStrategy struct {
	logger *zap.Logger
}

func (ocrStrategy) Name() string { return "ocr" }

func (s ocrStrategy) ExtractText(ctx context.Context, path string) (string, error) {
	scratch, err := os.CreateTemp("", "rollingest-ocr-*.pdf")
	if err != nil {
		return "", err
	}
	scratch.Close()
	defer os.Remove(scratch.Name())

	cmd := exec.CommandContext(ctx, "ocrmypdf", "--force-ocr", "--sidecar", "-", path, scratch.Name())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ocrmypdf failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
