package store

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveContacts replaces the persisted contact list.
func (db *DB) SaveContacts(list []model.Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}
	for _, c := range list {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode contact %d: %w", c.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO contacts (id, username, payload) VALUES (?, ?, ?)`,
			c.ID, c.Username, string(payload)); err != nil {
			return fmt.Errorf("insert contact %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// LoadContacts returns persisted contacts ordered by username.
func (db *DB) LoadContacts() ([]model.Contact, error) {
	rows, err := db.Query(`SELECT payload FROM contacts ORDER BY username COLLATE NOCASE`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Contact
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c model.Contact
		if err := json.Unmarshal([]byte(payload), &c); err != nil {
			return nil, fmt.Errorf("decode contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
