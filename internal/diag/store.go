// Package diag keeps an in-memory history of delta-cache
// statistics and audio recording sessions, backed by an in-memory
// SQLite database rather than hand-rolled slices — letting /api/diag
// answer both "now" and "recent history" with the same query surface.
package diag

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is a small in-memory diagnostics database. Not persisted to
// disk; it exists for the life of the process.
type Store struct {
	db *sql.DB
}

// Open creates the in-memory schema.
func Open() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("diag: open: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE cache_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			sent INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			ratio REAL NOT NULL
		);
		CREATE TABLE recording_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			stopped_at DATETIME
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("diag: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the in-memory database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCacheStats appends one delta-cache statistics sample.
func (s *Store) RecordCacheStats(sent, skipped uint64, ratio float64) error {
	_, err := s.db.Exec(
		`INSERT INTO cache_stats (sent, skipped, ratio) VALUES (?, ?, ?)`,
		sent, skipped, ratio,
	)
	return err
}

// CacheStatsSample is one historical row.
type CacheStatsSample struct {
	RecordedAt string  `json:"recordedAt"`
	Sent       uint64  `json:"sent"`
	Skipped    uint64  `json:"skipped"`
	Ratio      float64 `json:"ratio"`
}

// RecentCacheStats returns up to limit most recent samples, newest
// first.
func (s *Store) RecentCacheStats(limit int) ([]CacheStatsSample, error) {
	rows, err := s.db.Query(
		`SELECT recorded_at, sent, skipped, ratio FROM cache_stats ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheStatsSample
	for rows.Next() {
		var sample CacheStatsSample
		if err := rows.Scan(&sample.RecordedAt, &sample.Sent, &sample.Skipped, &sample.Ratio); err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// StartRecordingSession logs a new audio recording session and returns
// its id.
func (s *Store) StartRecordingSession(path string) (int64, error) {
	result, err := s.db.Exec(`INSERT INTO recording_sessions (path) VALUES (?)`, path)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// StopRecordingSession marks a session as stopped.
func (s *Store) StopRecordingSession(id int64) error {
	_, err := s.db.Exec(`UPDATE recording_sessions SET stopped_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// RecordingSession is one row of the recording-session index.
type RecordingSession struct {
	ID        int64   `json:"id"`
	Path      string  `json:"path"`
	StartedAt string  `json:"startedAt"`
	StoppedAt *string `json:"stoppedAt,omitempty"`
}

// ListRecordingSessions returns every recording session, newest first.
func (s *Store) ListRecordingSessions() ([]RecordingSession, error) {
	rows, err := s.db.Query(
		`SELECT id, path, started_at, stopped_at FROM recording_sessions ORDER BY id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecordingSession
	for rows.Next() {
		var sess RecordingSession
		if err := rows.Scan(&sess.ID, &sess.Path, &sess.StartedAt, &sess.StoppedAt); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
