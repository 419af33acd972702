package store

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveMessages upserts a page of messages.
func (db *DB) SaveMessages(convID int64, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", m.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, id, created_at, payload)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conversation_id, id) DO UPDATE SET
				payload = excluded.payload`,
			convID, m.ID, m.CreatedAt.UnixMilli(), string(payload)); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// LoadMessages returns the newest limit messages of a conversation, oldest
// first.
func (db *DB) LoadMessages(convID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT payload FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, convID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m model.Message
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
