// Package store provides durable local persistence for the state blob.
//
// The blob is stored as a single serialized JSON document inside an
// embedded SQLite database (WAL mode). The store owns no business logic:
// Load reads the whole blob, Save fully replaces it. There is no partial
// or append write, so a crash mid-save leaves the previous blob intact.
//
// Load never fails on bad data. Missing database, missing row, or
// unparsable bytes all yield the documented seed blob; corruption is
// logged and local progress restarts from empty rather than crashing.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/recite/internal/state"
)

// blobKey is the single row under which the state blob lives.
const blobKey = "state"

// Store wraps the embedded SQLite database holding the blob.
type Store struct {
	conn   *sql.DB
	path   string
	logger *log.Logger
}

// Open creates or opens the database at the given path.
//
// The database runs in embedded mode with WAL enabled for concurrent
// reads. The caller must Close when done.
//
// If logger is nil, a default logger writing to stderr is used.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{conn: conn, path: path, logger: logger}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates the kv table. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key      TEXT PRIMARY KEY,
		value    BLOB NOT NULL,
		saved_at TEXT NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Load reads the persisted blob. A missing row or unparsable bytes are not
// errors: the seed blob is returned and the condition is logged, so a
// corrupt local store can never block startup.
func (s *Store) Load() *state.Blob {
	var value []byte
	err := s.conn.QueryRow("SELECT value FROM kv WHERE key = ?", blobKey).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Printf("Warning: failed to read state, starting from seed: %v", err)
		}
		return state.Seed()
	}

	var blob state.Blob
	if err := json.Unmarshal(value, &blob); err != nil {
		s.logger.Printf("Warning: persisted state is unparsable, starting from seed: %v", err)
		return state.Seed()
	}
	blob.Normalize()
	return &blob
}

// Save fully replaces the persisted blob. The write is a single upsert, so
// readers never observe a partially written blob.
func (s *Store) Save(blob *state.Blob) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	query := `
	INSERT INTO kv (key, value, saved_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		saved_at = excluded.saved_at
	`
	if _, err := s.conn.Exec(query, blobKey, data, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
