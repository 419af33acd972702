package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveConversations replaces the persisted conversation list.
func (db *DB) SaveConversations(list []model.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, c := range list {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode conversation %d: %w", c.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, activity_at, payload, updated_at)
			VALUES (?, ?, ?, ?)`,
			c.ID, c.ActivityAt().UnixMilli(), string(payload), now); err != nil {
			return fmt.Errorf("insert conversation %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// LoadConversations returns persisted conversations, most recent first.
func (db *DB) LoadConversations() ([]model.Conversation, error) {
	rows, err := db.Query(`SELECT payload FROM conversations ORDER BY activity_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Conversation
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c model.Conversation
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation, its messages and its draft.
func (db *DB) DeleteConversation(id int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM conversations WHERE id = ?`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM drafts WHERE conversation_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return fmt.Errorf("delete conversation %d: %w", id, err)
		}
	}
	return tx.Commit()
}
