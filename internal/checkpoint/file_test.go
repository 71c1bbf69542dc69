package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileStoreLoadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Units)
	assert.Equal(t, Counters{}, snap.Totals)
}

func TestFileStoreSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	snap := NewSnapshot()
	st := snap.Unit(UnitKey("Bihar", "AC-001")).StageState(StageAcquire)
	st.Status = StatusInProgress
	st.Attempted = 3
	st.Succeeded = 2
	st.Done = []string{"doc-1", "doc-2"}
	snap.Totals = Counters{Attempted: 3, Succeeded: 2, Skipped: 1}

	require.NoError(t, store.Save(snap))

	loaded, err := store.Load()
	require.NoError(t, err)

	got := loaded.Unit("Bihar/AC-001").StageState(StageAcquire)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, 3, got.Attempted)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, []string{"doc-1", "doc-2"}, got.Done)
	assert.Equal(t, snap.Totals, loaded.Totals)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestFileStoreSaveReplacesPrevious(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	snap := NewSnapshot()
	snap.Unit("A/1").StageState(StageAcquire).Status = StatusInProgress
	require.NoError(t, store.Save(snap))

	snap.Unit("A/1").StageState(StageAcquire).Status = StatusCompleted
	require.NoError(t, store.Save(snap))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Unit("A/1").StageState(StageAcquire).Status)

	// No temp files left behind after a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"current.json", "history.log"}, names)
}

func TestFileStoreLoadCorruptSnapshotStartsFresh(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	// A write torn mid-snapshot means no prior state, not a startup abort.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.json"), []byte("{torn-write"), 0o644))

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Units)
	assert.Equal(t, Counters{}, snap.Totals)
}

func TestFileStoreLoadIgnoresAbandonedTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	snap := NewSnapshot()
	snap.Unit("A/1").StageState(StageAcquire).Status = StatusCompleted
	require.NoError(t, store.Save(snap))

	// A crash between temp-file creation and rename leaves a stray temp
	// file behind; the committed snapshot must still load intact.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.json.tmp-123"), []byte("{trunc"), 0o644))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Unit("A/1").StageState(StageAcquire).Status)
}

func TestFileStoreHistory(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.AppendHistory(HistoryEntry{
		Unit: "A/1", Stage: StageAcquire, Status: StatusCompleted, Attempted: 2, Succeeded: 2,
	}))
	require.NoError(t, store.AppendHistory(HistoryEntry{
		Unit: "A/1", Stage: StageTransform, Status: StatusFailed, Attempted: 2, Skipped: 2,
	}))

	entries, err := store.History()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StageAcquire, entries[0].Stage)
	assert.Equal(t, StageTransform, entries[1].Stage)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestFileStoreHistoryToleratesCorruptLines(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.AppendHistory(HistoryEntry{Unit: "A/1", Stage: StageAcquire, Status: StatusCompleted}))

	// Simulate a torn write in the middle of the log.
	f, err := os.OpenFile(filepath.Join(dir, "history.log"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"unit\":\"A/1\",\"sta\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.AppendHistory(HistoryEntry{Unit: "A/1", Stage: StageTransform, Status: StatusCompleted}))

	entries, err := store.History()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StageAcquire, entries[0].Stage)
	assert.Equal(t, StageTransform, entries[1].Stage)
}

func TestNextStagesOrder(t *testing.T) {
	assert.Equal(t, []Stage{StageAcquire, StageTransform, StagePersist}, Stages())
}

func TestUnitKey(t *testing.T) {
	assert.Equal(t, "Bihar/AC-001", UnitKey("Bihar", "AC-001"))
}
