// Package history persists a record of every capture written to disk.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one recorded capture.
type Entry struct {
	ID        int64     `json:"id"`
	CaptureID string    `json:"capture_id"`
	SessionID string    `json:"session_id"`
	TakenAt   time.Time `json:"taken_at"`
	Dir       string    `json:"dir"`
	Roles     []string  `json:"roles"`
	Bytes     int64     `json:"bytes"`
}

// Store wraps the SQLite capture log with thread-safe access.
type Store struct {
	conn *sql.DB
	mu   sync.Mutex
}

// Open creates or opens the capture database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("history: failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent captures.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS captures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		capture_id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		taken_at DATETIME NOT NULL,
		dir TEXT NOT NULL,
		roles TEXT NOT NULL,
		bytes INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_captures_taken_at ON captures(taken_at);
	CREATE INDEX IF NOT EXISTS idx_captures_session_id ON captures(session_id);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Record inserts one capture and returns its row ID.
func (s *Store) Record(e *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.conn.Exec(`
		INSERT INTO captures (capture_id, session_id, taken_at, dir, roles, bytes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.CaptureID, e.SessionID, e.TakenAt, e.Dir, strings.Join(e.Roles, ","), e.Bytes)
	if err != nil {
		return 0, fmt.Errorf("history: failed to insert capture: %w", err)
	}
	return result.LastInsertId()
}

// Recent returns up to n captures, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 {
		n = 10
	}

	rows, err := s.conn.Query(`
		SELECT id, capture_id, session_id, taken_at, dir, roles, bytes
		FROM captures
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var roles string
		if err := rows.Scan(&e.ID, &e.CaptureID, &e.SessionID, &e.TakenAt, &e.Dir, &roles, &e.Bytes); err != nil {
			return nil, fmt.Errorf("history: failed to scan capture: %w", err)
		}
		if roles != "" {
			e.Roles = strings.Split(roles, ",")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: failed to read captures: %w", err)
	}
	return entries, nil
}

// Count returns the total number of recorded captures.
func (s *Store) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: failed to count captures: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
