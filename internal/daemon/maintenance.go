package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/reviewd/internal/blob"
)

const (
	retryWatchInterval      = 5 * time.Minute
	checkpointPruneInterval = time.Hour
	workspaceSweepInterval  = time.Hour
	workspaceMaxAge         = 24 * time.Hour
	blobGCInterval          = 6 * time.Hour
	uploadPrefix            = "uploads/"
)

// maintenance runs the periodic housekeeping jobs: checkpoint pruning,
// workspace sweeping and blob garbage collection.
type maintenance struct {
	scheduler gocron.Scheduler
}

func startMaintenance(d *Daemon) (*maintenance, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create maintenance scheduler: %w", err)
	}

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"retry-watch", retryWatchInterval, d.reportPendingRetries},
		{"checkpoint-prune", checkpointPruneInterval, d.pruneCheckpoints},
		{"workspace-sweep", workspaceSweepInterval, d.sweepWorkspaces},
		{"blob-gc", blobGCInterval, d.collectOrphanedBlobs},
	}
	for _, j := range jobs {
		if _, err := scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
		); err != nil {
			_ = scheduler.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}

	scheduler.Start()
	slog.Info("Maintenance scheduler started", "jobs", len(jobs))
	return &maintenance{scheduler: scheduler}, nil
}

func (m *maintenance) stop() error {
	return m.scheduler.Shutdown()
}

// reportPendingRetries surfaces projects waiting on queue redelivery so an
// operator can spot a stuck retry loop before the budget runs out.
func (d *Daemon) reportPendingRetries() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	maxRetries := d.cfg.Worker.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	pending, err := d.cps.PendingRetry(ctx, maxRetries)
	if err != nil {
		slog.Error("Pending retry listing failed", "error", err)
		return
	}
	for _, cp := range pending {
		slog.Info("Project awaiting retry",
			"project_id", cp.ProjectID,
			"phase", string(cp.Phase),
			"attempt", cp.Attempt,
			"last_error", cp.LastError)
	}
}

// pruneCheckpoints discards checkpoints whose project finished long ago.
func (d *Daemon) pruneCheckpoints() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ttl := d.cfg.Worker.CheckpointTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-ttl)
	removed, err := d.cps.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Checkpoint pruning failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Pruned stale checkpoints", "removed", removed)
	}
}

// sweepWorkspaces removes abandoned job workspaces. A workspace surviving a
// retryable failure is younger than the age bound and stays.
func (d *Daemon) sweepWorkspaces() {
	removed, err := d.spaces.Sweep(workspaceMaxAge)
	if err != nil {
		slog.Error("Workspace sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Swept abandoned workspaces", "removed", removed)
	}
}

// collectOrphanedBlobs deletes uploaded archives that no project references
// anymore, e.g. leftovers of a crash between blob upload and project insert.
func (d *Daemon) collectOrphanedBlobs() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	keys, err := d.blobs.List(ctx, uploadPrefix)
	if err != nil {
		slog.Error("Blob listing failed", "error", err)
		return
	}
	referenced, err := d.store.ListBlobPaths(ctx)
	if err != nil {
		slog.Error("Blob reference listing failed", "error", err)
		return
	}
	refs := make(map[string]struct{}, len(referenced))
	for _, r := range referenced {
		refs[r] = struct{}{}
	}

	removed := 0
	for _, key := range keys {
		if _, ok := refs[key]; ok {
			continue
		}
		if err := d.blobs.Delete(ctx, key); err != nil && !blob.IsNotFound(err) {
			slog.Warn("Failed to delete orphaned blob", "key", key, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Collected orphaned blobs", "removed", removed)
	}
}
