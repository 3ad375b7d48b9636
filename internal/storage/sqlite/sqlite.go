// Package sqlite provides a SQLite-backed implementation of the
// storage.Cache interface.
//
// The layout is a single key-value table whose values are JSON arrays:
// one array of session descriptors, one flat array of members tagged by
// (groupId, userId), and one flat array of expenses tagged by groupId.
// "Indexing" by group is a linear filter, which is fine at the expected
// scale of a handful of concurrent groups per user.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/okitz/groupledger/internal/storage"
)

const (
	keySessions    = "group_sessions"
	keyMembers     = "group_members"
	keyExpenses    = "group_transactions"
	keySettlements = "group_settlements"
	keyAuth        = "auth_state"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Ensure Store implements storage.Cache
var _ storage.Cache = (*Store)(nil)

// Store implements storage.Cache using SQLite.
type Store struct {
	db *sql.DB

	// mu serializes read-modify-write cycles on the JSON arrays; the
	// database alone cannot keep two concurrent upserts from losing one
	// another's write.
	mu sync.Mutex
}

// New creates a Store at the given database path, creating parent
// directories and running migrations as needed.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// read unmarshals the value under key into out. A missing key or a value
// that no longer parses leaves out at its zero value: corrupted cache
// entries degrade to "nothing cached".
func (s *Store) read(key string, out any) error {
	var raw string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return nil
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, so multi-key rewrites
// can go through a transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// write stores value under key as JSON.
func (s *Store) write(key string, value any) error {
	return upsert(s.db, key, value)
}

func upsert(e execer, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = e.Exec(
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, string(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
