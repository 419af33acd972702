package store

import (
	"database/sql"
	"errors"
	"time"
)

// SyncState is the last refresh checkpoint of a resource.
type SyncState struct {
	Resource  string
	SyncedAt  time.Time
	LastError string
}

// MarkSynced records a refresh attempt. A nil syncErr clears the error.
func (db *DB) MarkSynced(resource string, syncErr error) error {
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}
	_, err := db.Exec(`
		INSERT INTO sync_state (resource, synced_at, last_error)
		VALUES (?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET
			synced_at = CASE WHEN excluded.last_error = '' THEN excluded.synced_at ELSE sync_state.synced_at END,
			last_error = excluded.last_error`,
		resource, time.Now().UnixMilli(), msg)
	return err
}

// GetSyncState returns the checkpoint of a resource, or nil.
func (db *DB) GetSyncState(resource string) (*SyncState, error) {
	var s SyncState
	var synced int64
	err := db.QueryRow(`SELECT resource, synced_at, last_error FROM sync_state WHERE resource = ?`, resource).
		Scan(&s.Resource, &synced, &s.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.SyncedAt = time.UnixMilli(synced)
	return &s, nil
}
