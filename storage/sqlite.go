package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLite is a KV namespace stored in a shared `kv` table. Several namespaces
// may live in one database.
type SQLite struct {
	db        *sql.DB
	namespace string
}

// NewSQLite creates the kv table if missing and returns the namespace.
func NewSQLite(db *sql.DB, namespace string) (*SQLite, error) {
	if db == nil {
		return nil, errors.New("storage: nil database")
	}
	query := `
		CREATE TABLE IF NOT EXISTS kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		)
	`
	if _, err := db.Exec(query); err != nil {
		return nil, fmt.Errorf("storage: create kv table: %w", err)
	}
	return &SQLite{db: db, namespace: namespace}, nil
}

func (s *SQLite) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("storage: get %s/%s: %w", s.namespace, key, err)
	}
	return value, nil
}

func (s *SQLite) Set(key, value string) error {
	query := `
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, s.namespace, key, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("storage: set %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

func (s *SQLite) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ? AND key = ?`, s.namespace, key); err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", s.namespace, key, err)
	}
	return nil
}

// Clear removes every key in the namespace. Hosts call it on the ephemeral
// namespace when a browser session ends.
func (s *SQLite) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE namespace = ?`, s.namespace); err != nil {
		return fmt.Errorf("storage: clear %s: %w", s.namespace, err)
	}
	return nil
}
