// Package store persists the queue domain in SQLite. It implements
// queue.Store on a single database file: queues own entries, entries
// reference pull requests, and one row holds the runtime configuration.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite connection with merge-queue operations.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path. It enables
// WAL mode, foreign keys and a busy timeout, sizes the connection pool,
// and runs migrations.
func Open(path string, poolSize int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if poolSize > 0 {
		db.SetMaxOpenConns(poolSize)
		db.SetMaxIdleConns(poolSize)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates or updates the database schema.
func (s *Store) migrate() error {
	schema := `
-- Pull requests known to the queue, one row per (repo, number)
CREATE TABLE IF NOT EXISTS pull_requests (
    id              TEXT PRIMARY KEY,
    owner           TEXT NOT NULL,
    repo            TEXT NOT NULL,
    number          INTEGER NOT NULL,
    title           TEXT NOT NULL DEFAULT '',
    author          TEXT NOT NULL DEFAULT '',
    base_branch     TEXT NOT NULL DEFAULT '',
    head_branch     TEXT NOT NULL DEFAULT '',
    head_sha        TEXT NOT NULL DEFAULT '',
    is_conflicted   INTEGER NOT NULL DEFAULT 0,
    is_up_to_date   INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL,
    UNIQUE(owner, repo, number)
);

-- One merge queue per (repo, base branch)
CREATE TABLE IF NOT EXISTS queues (
    id              TEXT PRIMARY KEY,
    owner           TEXT NOT NULL,
    repo            TEXT NOT NULL,
    base_branch     TEXT NOT NULL,
    created_at      DATETIME NOT NULL,
    UNIQUE(owner, repo, base_branch)
);

-- Queue entries: positions stay contiguous from 0 within a queue
CREATE TABLE IF NOT EXISTS queue_entries (
    id              TEXT PRIMARY KEY,
    queue_id        TEXT NOT NULL REFERENCES queues(id) ON DELETE CASCADE,
    pull_request_id TEXT NOT NULL REFERENCES pull_requests(id) ON DELETE CASCADE,
    position        INTEGER NOT NULL,
    status          TEXT NOT NULL,
    enqueued_at     DATETIME NOT NULL,
    started_at      DATETIME,
    completed_at    DATETIME,
    UNIQUE(queue_id, position),
    UNIQUE(queue_id, pull_request_id)
);

-- Single-row runtime configuration
CREATE TABLE IF NOT EXISTS system_config (
    id                     INTEGER PRIMARY KEY CHECK (id = 1),
    trigger_label          TEXT NOT NULL,
    checks_json            TEXT NOT NULL DEFAULT '{}',
    merge_success_template TEXT NOT NULL,
    merge_failure_template TEXT NOT NULL,
    updated_at             DATETIME NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_entries_queue ON queue_entries(queue_id, position);
CREATE INDEX IF NOT EXISTS idx_entries_status ON queue_entries(status);
CREATE INDEX IF NOT EXISTS idx_prs_repo ON pull_requests(owner, repo);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}
