package store

import (
	"database/sql"
	"errors"
	"time"
)

// Draft is unsent composer text, kept across restarts and failed sends.
type Draft struct {
	ConversationID int64
	Content        string
	LastError      string
	UpdatedAt      time.Time
}

// SaveDraft stores the draft for a conversation. Empty content deletes it.
func (db *DB) SaveDraft(convID int64, content, lastError string) error {
	if content == "" {
		return db.DeleteDraft(convID)
	}
	_, err := db.Exec(`
		INSERT INTO drafts (conversation_id, content, last_error, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			content = excluded.content,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		convID, content, lastError, time.Now().UnixMilli())
	return err
}

// LoadDraft returns the draft for a conversation, or nil.
func (db *DB) LoadDraft(convID int64) (*Draft, error) {
	var d Draft
	var updated int64
	err := db.QueryRow(`SELECT conversation_id, content, last_error, updated_at FROM drafts WHERE conversation_id = ?`, convID).
		Scan(&d.ConversationID, &d.Content, &d.LastError, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.UpdatedAt = time.UnixMilli(updated)
	return &d, nil
}

// DeleteDraft removes a conversation's draft.
func (db *DB) DeleteDraft(convID int64) error {
	_, err := db.Exec(`DELETE FROM drafts WHERE conversation_id = ?`, convID)
	return err
}
