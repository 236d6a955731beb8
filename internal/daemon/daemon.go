// Package daemon assembles the long-running reviewd process: the stores,
// the durable queue, the analysis worker and the maintenance scheduler,
// with config hot-reload and a graceful shutdown boundary.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/reviewd/internal/agents"
	"git.home.luguber.info/inful/reviewd/internal/blob"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	"git.home.luguber.info/inful/reviewd/internal/chunker"
	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/ingest"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/metrics"
	"git.home.luguber.info/inful/reviewd/internal/orchestrator"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/project"
	"git.home.luguber.info/inful/reviewd/internal/queue"
	"git.home.luguber.info/inful/reviewd/internal/quota"
	"git.home.luguber.info/inful/reviewd/internal/retry"
	"git.home.luguber.info/inful/reviewd/internal/store"
	"git.home.luguber.info/inful/reviewd/internal/worker"
	"git.home.luguber.info/inful/reviewd/internal/workspace"
)

const progressBuffer = 256

// Daemon owns every long-lived component of a reviewd deployment.
type Daemon struct {
	cfg        *config.Config
	configPath string

	store    *store.Store
	blobs    blob.Store
	queue    queue.Queue
	cps      checkpoint.Store
	hub      *progress.Hub
	quota    *quota.Manager
	spaces   *workspace.Manager
	worker   *worker.Worker
	projects *project.Service

	group       worker.Group
	maintenance *maintenance
	watcher     *config.Watcher
}

// New wires the daemon from the configuration. Nothing starts running until
// Start is called.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	if err := os.MkdirAll(cfg.BaseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	blobs, err := openBlobStore(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	q, err := openQueue(cfg)
	if err != nil {
		_ = blobs.Close()
		_ = st.Close()
		return nil, err
	}
	cps, err := checkpoint.NewSQLiteStore(filepath.Join(cfg.BaseDir, "checkpoints.db"))
	if err != nil {
		_ = q.Close()
		_ = blobs.Close()
		_ = st.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder(prom.NewRegistry())
	}

	hub := progress.NewHub(progressBuffer)
	qm := quota.NewManager(quota.Limits{MaxStorageBytes: cfg.Ingest.OwnerQuota})
	spaces := workspace.NewManager(filepath.Join(cfg.BaseDir, "workspaces"))
	chunks := chunker.New(chunker.Options{SpillDir: filepath.Join(cfg.BaseDir, "spill")}, nil)

	client := llm.WithRetry(llm.New(cfg.Model), retry.NewPolicy(cfg.Retry))
	roster := agents.NewRoster(cfg.Agents, client)
	orch := orchestrator.New(roster, st, cps, hub, recorder, cfg.Agents)

	w := worker.New(worker.Options{
		Queue:     q,
		Store:     st,
		Blobs:     blobs,
		Spaces:    spaces,
		CPS:       cps,
		Orch:      orch,
		Chunker:   chunks,
		Hub:       hub,
		Quota:     qm,
		Recorder:  recorder,
		Worker:    cfg.Worker,
		Extractor: cfg.Extractor,
	})

	ing := ingest.New(blobs, st, qm, nil, cfg.Ingest, cfg.Extractor)
	projects := project.NewService(st, blobs, q, cps, hub, qm, ing, w)

	return &Daemon{
		cfg:        cfg,
		configPath: configPath,
		store:      st,
		blobs:      blobs,
		queue:      q,
		cps:        cps,
		hub:        hub,
		quota:      qm,
		spaces:     spaces,
		worker:     w,
		projects:   projects,
	}, nil
}

// Projects exposes the lifecycle service, for callers embedding the daemon.
func (d *Daemon) Projects() *project.Service {
	return d.projects
}

// Start launches the worker loop, the maintenance scheduler and the config
// watcher.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.group.Go(func() {
		if err := d.worker.Run(ctx); err != nil {
			slog.Error("Worker loop exited with error", "error", err)
		}
	}) {
		return fmt.Errorf("daemon already stopped")
	}

	m, err := startMaintenance(d)
	if err != nil {
		return err
	}
	d.maintenance = m

	watcher, err := config.NewWatcher(d.configPath, d.applyConfig)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return fmt.Errorf("start config watcher: %w", err)
	}
	d.watcher = watcher

	slog.Info("Daemon started",
		"queue_backend", d.cfg.Queue.Backend,
		"blob_backend", d.cfg.Blob.Backend,
		"base_dir", d.cfg.BaseDir)
	return nil
}

// Stop shuts the daemon down: no new work is accepted, the in-flight job is
// waited for within the context's deadline, and all stores are closed.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			slog.Warn("Config watcher stop failed", "error", err)
		}
	}
	if d.maintenance != nil {
		if err := d.maintenance.stop(); err != nil {
			slog.Warn("Maintenance scheduler stop failed", "error", err)
		}
	}

	waitErr := d.group.StopAndWait(ctx)
	if waitErr != nil {
		slog.Warn("Worker did not stop in time", "error", waitErr)
	}

	for _, closer := range []func() error{d.queue.Close, d.cps.Close, d.blobs.Close, d.store.Close} {
		if err := closer(); err != nil {
			slog.Warn("Close failed during shutdown", "error", err)
		}
	}
	return waitErr
}

// applyConfig picks up the hot-reloadable settings from a freshly loaded
// config. Backend selection and worker wiring stay fixed until restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.quota.SetDefaults(quota.Limits{MaxStorageBytes: cfg.Ingest.OwnerQuota})
	d.worker.ApplyConfig(cfg.Worker)
	slog.Info("Applied reloaded configuration",
		"owner_quota", cfg.Ingest.OwnerQuota,
		"poll_interval", cfg.Worker.PollInterval)
}

func openBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "", "local":
		return blob.NewFSStore(filepath.Join(cfg.BaseDir, "blobs"))
	case "nats":
		return blob.NewNATSStore(cfg.Blob.NATSURL, cfg.Blob.Bucket)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

func openQueue(cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "", "memory":
		return queue.NewMemoryQueue(cfg.Queue.Lease), nil
	case "nats":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return queue.NewNATSQueue(ctx, queue.NATSOptions{
			URL:     cfg.Queue.NATSURL,
			Stream:  cfg.Queue.Stream,
			Subject: cfg.Queue.AnalysisTopic,
			Lease:   cfg.Queue.Lease,
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}
