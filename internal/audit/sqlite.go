package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite for persistence
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed audit store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at DATETIME NOT NULL,
			user_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			details TEXT
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit_log table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record appends an event to the log
func (s *SQLiteStore) Record(event Event) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_log (at, user_id, kind, details)
		VALUES (?, ?, ?, ?)
	`, event.At, event.UserID, string(event.Kind), event.Details)

	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first
func (s *SQLiteStore) Recent(limit int) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT at, user_id, kind, details
		FROM audit_log ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.At, &ev.UserID, &kind, &ev.Details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Kind = Kind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
