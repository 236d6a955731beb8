// Package checkpoint persists per-project pipeline progress so a worker
// picking up a redelivered job can resume from the last committed phase
// instead of starting over. The checkpoint is always committed before the
// queue message is deleted.
package checkpoint

import (
	"context"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

// Checkpoint is the durable progress record for one project's analysis.
type Checkpoint struct {
	ProjectID    string
	Phase        model.Phase
	Attempt      int
	PendingRetry bool
	// ProgressPercent is the overall pipeline progress, 0..100, updated on
	// every phase advance and per completed agent.
	ProgressPercent float64
	LastError       string
	// AgentsDone lists agents whose findings were already committed, so a
	// resumed Analyzing phase skips them.
	AgentsDone []string
	UpdatedAt  time.Time
}

// Store is the checkpoint persistence contract.
type Store interface {
	// Get returns the checkpoint for a project, or nil when none exists.
	Get(ctx context.Context, projectID string) (*Checkpoint, error)

	// Save upserts a checkpoint. Phase regressions are rejected; equal
	// phases are allowed so progress-only updates succeed.
	Save(ctx context.Context, cp *Checkpoint) error

	// Delete removes a project's checkpoint.
	Delete(ctx context.Context, projectID string) error

	// PendingRetry lists checkpoints waiting on a redelivery whose attempt
	// count is still within the budget, oldest first.
	PendingRetry(ctx context.Context, maxAttempts int) ([]Checkpoint, error)

	// DeleteOlderThan prunes checkpoints not updated since the cutoff and
	// returns how many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
