// Package store is the relational persistence layer. One sqlite database
// holds projects, file records, chunks, reports, findings and API keys;
// each entity gets a small repository surface on the shared Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens or creates the database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// sqlite tolerates one writer; serialize through a single connection
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		blob_path TEXT,
		source_url TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

	CREATE TABLE IF NOT EXISTS file_records (
		project_id TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		language TEXT,
		last_modified INTEGER NOT NULL,
		PRIMARY KEY (project_id, relative_path)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		relative_path TEXT NOT NULL,
		start_byte INTEGER NOT NULL,
		end_byte INTEGER NOT NULL,
		has_embedding INTEGER NOT NULL DEFAULT 0,
		spill_path TEXT,
		PRIMARY KEY (id, project_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks(project_id);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		health_score REAL NOT NULL,
		counts TEXT NOT NULL,
		summary TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_project ON reports(project_id);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		report_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		file_path TEXT,
		start_line INTEGER NOT NULL DEFAULT 0,
		end_line INTEGER NOT NULL DEFAULT 0,
		symbol TEXT,
		description TEXT NOT NULL,
		explanation TEXT,
		suggested_fix TEXT,
		original_snippet TEXT,
		fixed_snippet TEXT,
		confidence REAL NOT NULL DEFAULT -1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_findings_report ON findings(report_id);
	CREATE INDEX IF NOT EXISTS idx_findings_project ON findings(project_id);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		prefix TEXT NOT NULL UNIQUE,
		salt TEXT NOT NULL,
		hash TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		last_used INTEGER
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a transaction. The transaction is rolled back on
// error or panic and committed otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
