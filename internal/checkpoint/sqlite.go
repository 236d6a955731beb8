package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

// ErrPhaseRegression is returned when a save would move a checkpoint to an
// earlier pipeline phase.
var ErrPhaseRegression = errors.New("checkpoint phase regression")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the checkpoint database. Use ":memory:"
// for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		project_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		pending_retry INTEGER NOT NULL DEFAULT 0,
		progress_percent REAL NOT NULL DEFAULT 0,
		last_error TEXT,
		agents_done TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, projectID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT project_id, phase, attempt, pending_retry, progress_percent, last_error, agents_done, updated_at FROM checkpoints WHERE project_id = ?",
		projectID,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

func (s *SQLiteStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing model.Phase
	row := tx.QueryRowContext(ctx, "SELECT phase FROM checkpoints WHERE project_id = ?", cp.ProjectID)
	switch err := row.Scan(&existing); {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read existing phase: %w", err)
	default:
		if !model.PhaseAdvances(existing, cp.Phase) {
			return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, existing, cp.Phase)
		}
	}

	var agentsJSON []byte
	if len(cp.AgentsDone) > 0 {
		agentsJSON, err = json.Marshal(cp.AgentsDone)
		if err != nil {
			return fmt.Errorf("marshal agents done: %w", err)
		}
	}

	pendingRetry := 0
	if cp.PendingRetry {
		pendingRetry = 1
	}
	cp.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (project_id, phase, attempt, pending_retry, progress_percent, last_error, agents_done, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			phase = excluded.phase,
			attempt = excluded.attempt,
			pending_retry = excluded.pending_retry,
			progress_percent = excluded.progress_percent,
			last_error = excluded.last_error,
			agents_done = excluded.agents_done,
			updated_at = excluded.updated_at`,
		cp.ProjectID, string(cp.Phase), cp.Attempt, pendingRetry, cp.ProgressPercent, cp.LastError, agentsJSON, cp.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingRetry(ctx context.Context, maxAttempts int) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, phase, attempt, pending_retry, progress_percent, last_error, agents_done, updated_at
		FROM checkpoints
		WHERE pending_retry = 1 AND attempt < ?
		ORDER BY updated_at ASC`,
		maxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending retries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pending []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending retries: %w", err)
	}
	return pending, nil
}

func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE updated_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned checkpoints: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func scanCheckpoint(row interface{ Scan(dest ...any) error }) (*Checkpoint, error) {
	var (
		cp           Checkpoint
		phase        string
		pendingRetry int
		lastError    sql.NullString
		agentsJSON   []byte
		updatedUnix  int64
	)
	if err := row.Scan(&cp.ProjectID, &phase, &cp.Attempt, &pendingRetry, &cp.ProgressPercent, &lastError, &agentsJSON, &updatedUnix); err != nil {
		return nil, err
	}
	cp.Phase = model.Phase(phase)
	cp.PendingRetry = pendingRetry != 0
	cp.LastError = lastError.String
	cp.UpdatedAt = time.Unix(updatedUnix, 0)
	if len(agentsJSON) > 0 {
		if err := json.Unmarshal(agentsJSON, &cp.AgentsDone); err != nil {
			return nil, fmt.Errorf("unmarshal agents done: %w", err)
		}
	}
	return &cp, nil
}
