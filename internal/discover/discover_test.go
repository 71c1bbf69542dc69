package discover

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, d Discovery) ([]Unit, error) {
	t.Helper()
	unitCh, errCh := d.Units(context.Background())
	var units []Unit
	for unit := range unitCh {
		units = append(units, unit)
	}
	return units, <-errCh
}

func TestManifestDiscoveryStreamsUnits(t *testing.T) {
	path := writeManifest(t, `
units:
  - state: Bihar
    assembly: AC-001
    resources:
      - id: roll-1
        url: http://example.test/rolls/ac001-part1.zip
        filename: part1.zip
      - url: http://example.test/rolls/ac001-part2.zip
  - state: Kerala
    assembly: AC-009
`)

	units, err := collect(t, NewManifestDiscovery(path, zap.NewNop()))
	require.NoError(t, err)
	require.Len(t, units, 2)

	assert.Equal(t, "Bihar/AC-001", units[0].Key())
	require.Len(t, units[0].Resources, 2)
	assert.Equal(t, "roll-1", units[0].Resources[0].ID)
	assert.Equal(t, "part1.zip", units[0].Resources[0].Filename)

	// Missing ID defaults to the URL, missing filename to its last segment.
	assert.Equal(t, "http://example.test/rolls/ac001-part2.zip", units[0].Resources[1].ID)
	assert.Equal(t, "ac001-part2.zip", units[0].Resources[1].Filename)

	assert.Empty(t, units[1].Resources)
}

func TestManifestDiscoveryMissingStateIsError(t *testing.T) {
	path := writeManifest(t, `
units:
  - assembly: AC-001
`)

	_, err := collect(t, NewManifestDiscovery(path, zap.NewNop()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing state or assembly")
}

func TestManifestDiscoveryMissingFile(t *testing.T) {
	_, err := collect(t, NewManifestDiscovery(filepath.Join(t.TempDir(), "absent.yaml"), zap.NewNop()))
	require.Error(t, err)
}

func TestManifestDiscoveryMalformedYAML(t *testing.T) {
	path := writeManifest(t, "units: [not: closed")

	_, err := collect(t, NewManifestDiscovery(path, zap.NewNop()))
	require.Error(t, err)
}

func TestManifestDiscoveryHonorsCancellation(t *testing.T) {
	path := writeManifest(t, `
units:
  - state: Bihar
    assembly: AC-001
  - state: Bihar
    assembly: AC-002
`)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewManifestDiscovery(path, zap.NewNop())
	unitCh, errCh := d.Units(ctx)

	<-unitCh
	cancel()

	// The producer stops and closes its channels instead of blocking.
	for range unitCh {
	}
	assert.NoError(t, <-errCh)
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "roll.zip", filenameFromURL("http://x.test/a/b/roll.zip"))
	assert.Equal(t, "roll.zip", filenameFromURL("http://x.test/roll.zip/"))
	assert.Equal(t, "download.zip", filenameFromURL(""))
}
