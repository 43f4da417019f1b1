package storage

import (
	"database/sql"
	"time"
)

// GetState returns the persisted client value for key. ok is false when the
// key was never written.
func (s *Store) GetState(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM client_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteState(key string) error {
	_, err := s.db.Exec("DELETE FROM client_state WHERE key = ?", key)
	return err
}
