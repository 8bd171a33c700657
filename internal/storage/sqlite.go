package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps user records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id      TEXT PRIMARY KEY,
			balance      INTEGER NOT NULL DEFAULT 0,
			last_sign_in INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Balance(userID string) (int, error) {
	var bal int
	err := s.db.QueryRow(`SELECT balance FROM users WHERE user_id = ?`, userID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return bal, nil
}

func (s *SQLiteStore) SetBalance(userID string, balance int) error {
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance
	`, userID, balance)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastSignIn(userID string) (time.Time, error) {
	var unix int64
	err := s.db.QueryRow(`SELECT last_sign_in FROM users WHERE user_id = ?`, userID).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query sign-in: %w", err)
	}
	if unix == 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0), nil
}

func (s *SQLiteStore) SetLastSignIn(userID string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, last_sign_in) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_sign_in = excluded.last_sign_in
	`, userID, at.Unix())
	if err != nil {
		return fmt.Errorf("set sign-in: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
