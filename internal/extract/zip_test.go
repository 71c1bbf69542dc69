package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, body := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

func TestExpandPassesThroughNonArchives(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "roll.txt")
	require.NoError(t, os.WriteFile(txt, []byte("body"), 0o644))

	docs, err := Expand([]string{txt}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{txt}, docs)
}

func TestExpandUnzipsArchives(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeZip(t, archive, map[string]string{
		"part1.txt":        "alpha",
		"nested/part2.txt": "beta",
	})

	docs, err := Expand([]string{archive}, zap.NewNop())
	require.NoError(t, err)

	// Entries are flattened into the archive's directory.
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "part1.txt"),
		filepath.Join(dir, "part2.txt"),
	}, docs)

	body, err := os.ReadFile(filepath.Join(dir, "part2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(body))
}

func TestExpandSkipsCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))
	good := filepath.Join(dir, "roll.txt")
	require.NoError(t, os.WriteFile(good, []byte("body"), 0o644))

	docs, err := Expand([]string{bad, good}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{good}, docs)
}

func TestUnzipIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")
	writeZip(t, archive, map[string]string{"part1.txt": "alpha"})

	first, err := Unzip(archive, dir, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Tamper with the extracted file; a second pass must not clobber it.
	require.NoError(t, os.WriteFile(first[0], []byte("edited"), 0o644))

	second, err := Unzip(archive, dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	body, err := os.ReadFile(first[0])
	require.NoError(t, err)
	assert.Equal(t, "edited", string(body))
}

func TestUnzipSkipsDirectoryEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.zip")

	f, err := os.Create(archive)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	_, err = w.Create("folder/")
	require.NoError(t, err)
	entry, err := w.Create("folder/doc.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	docs, err := Unzip(archive, dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "doc.txt")}, docs)
}
