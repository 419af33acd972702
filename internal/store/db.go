// Package store persists the chat caches in SQLite so a restarted daemon
// can show the last known conversations and messages before the first poll.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the profile's chatsync.db snapshot database.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates the snapshot database at path, creating its
// directory with owner-only permissions. The connection runs in WAL mode
// with foreign keys enforced.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &DB{DB: conn, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }
