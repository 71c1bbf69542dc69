package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements RecordStore using SQLite
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex
}

const insertBatchSize = 500

// NewSQLiteStore creates a new SQLite record store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS voters (
		id TEXT PRIMARY KEY NOT NULL,
		epic_no TEXT,
		name_og TEXT,
		name_en TEXT,
		relation_type TEXT,
		relation_og TEXT,
		relation_en TEXT,
		age INTEGER,
		gender TEXT,
		address_og TEXT,
		address_en TEXT,
		state TEXT NOT NULL,
		assembly TEXT NOT NULL,
		source_file TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_voters_epic_no ON voters(epic_no);
	CREATE INDEX IF NOT EXISTS idx_voters_state_assembly ON voters(state, assembly);
	`

	_, err := s.db.Exec(query)
	return err
}

// BatchInsert appends records in transactional batches. Each record gets a
// freshly generated unique id; epic_no may be null or repeated.
func (s *SQLiteStore) BatchInsert(records []Record) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	inserted := 0
	for start := 0; start < len(records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(records) {
			end = len(records)
		}

		err := s.retryOnBusy(func() error {
			return s.insertBatch(records[start:end])
		})
		if err != nil {
			return inserted, fmt.Errorf("failed to insert batch: %w", err)
		}
		inserted += end - start
	}

	return inserted, nil
}

func (s *SQLiteStore) insertBatch(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	stmt, err := tx.Prepare(`
	INSERT INTO voters
	(id, epic_no, name_og, name_en, relation_type, relation_og, relation_en,
	 age, gender, address_og, address_en, state, assembly, source_file, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range records {
		_, err := stmt.Exec(
			uuid.New().String(),
			nullString(rec.EpicNo),
			nullString(rec.NameOG),
			nullString(rec.NameEN),
			nullString(rec.RelationType),
			nullString(rec.RelationOG),
			nullString(rec.RelationEN),
			nullInt(rec.Age),
			nullString(rec.Gender),
			nullString(rec.AddressOG),
			nullString(rec.AddressEN),
			rec.State,
			rec.Assembly,
			nullString(rec.SourceFile),
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to execute insert: %w", err)
		}
	}

	return tx.Commit()
}

// Stats returns database statistics
func (s *SQLiteStore) Stats() (Stats, error) {
	var stats Stats
	row := s.db.QueryRow(`
	SELECT COUNT(*), COUNT(DISTINCT state), COUNT(DISTINCT assembly) FROM voters
	`)
	if err := row.Scan(&stats.TotalRecords, &stats.States, &stats.Assemblies); err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return stats, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}

		if !isSQLiteBusyError(err) || attempt == maxRetries-1 {
			return err
		}

		delay := baseDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(attempt*10) * time.Millisecond
		time.Sleep(delay + jitter)
	}

	return err
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
