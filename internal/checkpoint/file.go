package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	snapshotFile = "current.json"
	historyFile  = "history.log"
)

// FileStore implements Store on the local filesystem. The snapshot lives in
// a single JSON document replaced via temp-file-plus-rename; history is an
// append-only JSON-lines log.
type FileStore struct {
	dir     string
	logger  *zap.Logger
	mu      sync.Mutex
	history *os.File
}

// NewFileStore creates a file-backed checkpoint store rooted at dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}

	hist, err := os.OpenFile(filepath.Join(dir, historyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}

	return &FileStore{dir: dir, logger: logger, history: hist}, nil
}

// Load reads the current snapshot. A missing or undecodable snapshot is not
// an error: both mean "no prior state" and return a fresh empty snapshot.
// Only a read failure on an existing file is surfaced, since starting fresh
// there would discard progress that is still on disk.
func (s *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if errors.Is(err, fs.ErrNotExist) {
		return NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Snapshot is corrupt, starting fresh", zap.Error(err))
		return NewSnapshot(), nil
	}
	if snap.Units == nil {
		snap.Units = make(map[string]*UnitProgress)
	}
	return &snap, nil
}

// Save writes the snapshot to a temp file in the same directory, syncs it,
// then renames it over the previous snapshot. A crash at any point leaves
// either the old or the new snapshot fully intact.
func (s *FileStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, snapshotFile+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, snapshotFile)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	return nil
}

// AppendHistory appends one self-delimited entry to the history log.
func (s *FileStore) AppendHistory(entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.history.Write(line); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

// History reads all decodable history entries. Undecodable lines are
// skipped so one corrupt record never hides the rest.
func (s *FileStore) History() ([]HistoryEntry, error) {
	f, err := os.Open(filepath.Join(s.dir, historyFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to scan history log: %w", err)
	}
	return entries, nil
}

// Close closes the history log
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Close()
}
