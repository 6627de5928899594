package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const (
	entryToken = "token"
	entryUser  = "user"
)

// SQLiteStore keeps the session entries in a local SQLite file, one row per
// entry.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the session database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("repository: create data dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS session_entries (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadSession(ctx context.Context) (string, string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_entries WHERE key IN (?, ?)`, entryToken, entryUser)
	if err != nil {
		return "", "", fmt.Errorf("repository: LoadSession query: %w", err)
	}
	defer rows.Close()

	var token, user string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return "", "", fmt.Errorf("repository: LoadSession scan: %w", err)
		}
		switch key {
		case entryToken:
			token = value
		case entryUser:
			user = value
		}
	}
	if err := rows.Err(); err != nil {
		return "", "", fmt.Errorf("repository: LoadSession rows: %w", err)
	}
	return token, user, nil
}

// SaveSession replaces both entries in one transaction.
func (s *SQLiteStore) SaveSession(ctx context.Context, token, user string) error {
	if token == "" || user == "" {
		return errors.New("repository: SaveSession: token and user are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: SaveSession begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `INSERT INTO session_entries (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	for _, e := range [][2]string{{entryToken, token}, {entryUser, user}} {
		if _, err := tx.ExecContext(ctx, upsert, e[0], e[1]); err != nil {
			return fmt.Errorf("repository: SaveSession %s: %w", e[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: SaveSession commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE key IN (?, ?)`, entryToken, entryUser); err != nil {
		return fmt.Errorf("repository: ClearSession: %w", err)
	}
	return nil
}
