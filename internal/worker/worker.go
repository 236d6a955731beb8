// Package worker consumes the analysis queue. Each delivery is processed
// under a lease-derived deadline: fetch the archive, extract it into a
// per-job workspace, index chunks, then hand over to the orchestrator.
// Checkpoints are committed before the queue message is deleted, so a crash
// at any point leads to redelivery and resumption, never loss.
package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/blob"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	"git.home.luguber.info/inful/reviewd/internal/chunker"
	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/extract"
	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/metrics"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/observability"
	"git.home.luguber.info/inful/reviewd/internal/orchestrator"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/queue"
	"git.home.luguber.info/inful/reviewd/internal/quota"
	"git.home.luguber.info/inful/reviewd/internal/store"
	"git.home.luguber.info/inful/reviewd/internal/workspace"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultMaxRetries   = 5
	defaultSafetyMargin = 30 * time.Second
	fetchTimeout        = 2 * time.Minute
)

// Worker is one queue consumer.
type Worker struct {
	queue    queue.Queue
	store    *store.Store
	blobs    blob.Store
	spaces   *workspace.Manager
	cps      checkpoint.Store
	orch     *orchestrator.Orchestrator
	chunks   *chunker.Chunker
	hub      *progress.Hub
	quota    *quota.Manager
	recorder metrics.Recorder
	cfg      config.WorkerConfig
	extCfg   config.ExtractorConfig

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// Options bundles the worker's collaborators.
type Options struct {
	Queue     queue.Queue
	Store     *store.Store
	Blobs     blob.Store
	Spaces    *workspace.Manager
	CPS       checkpoint.Store
	Orch      *orchestrator.Orchestrator
	Chunker   *chunker.Chunker
	Hub       *progress.Hub
	Quota     *quota.Manager
	Recorder  metrics.Recorder
	Worker    config.WorkerConfig
	Extractor config.ExtractorConfig
}

func New(opts Options) *Worker {
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	return &Worker{
		queue:    opts.Queue,
		store:    opts.Store,
		blobs:    opts.Blobs,
		spaces:   opts.Spaces,
		cps:      opts.CPS,
		orch:     opts.Orch,
		chunks:   opts.Chunker,
		hub:      opts.Hub,
		quota:    opts.Quota,
		recorder: opts.Recorder,
		cfg:      opts.Worker,
		extCfg:   opts.Extractor,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// ApplyConfig swaps the tunable loop settings. The next poll iteration
// picks them up; collaborators wired at construction stay fixed.
func (w *Worker) ApplyConfig(cfg config.WorkerConfig) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

func (w *Worker) settings() config.WorkerConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Cancel aborts the in-flight run for a project, if this worker holds it.
func (w *Worker) Cancel(projectID string) {
	w.mu.Lock()
	cancel := w.cancels[projectID]
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Worker) track(projectID string, cancel context.CancelFunc) {
	w.mu.Lock()
	w.cancels[projectID] = cancel
	w.mu.Unlock()
}

func (w *Worker) untrack(projectID string) {
	w.mu.Lock()
	delete(w.cancels, projectID)
	w.mu.Unlock()
}

// Run consumes the queue until the context is canceled. Dequeue errors back
// off exponentially up to the configured ceiling.
func (w *Worker) Run(ctx context.Context) error {
	backoff := time.Duration(0)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		cfg := w.settings()
		poll := cfg.PollInterval
		if poll <= 0 {
			poll = defaultPollInterval
		}
		maxBackoff := cfg.MaxBackoff
		if maxBackoff <= 0 {
			maxBackoff = defaultMaxBackoff
		}
		if backoff <= 0 {
			backoff = poll
		}
		delivery, err := w.queue.Dequeue(ctx, poll)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			observability.WarnContext(ctx, "Dequeue failed, backing off",
				logfields.Error(err), logfields.DurationMS(float64(backoff.Milliseconds())))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = poll
		if delivery == nil {
			continue
		}

		w.recorder.IncDequeues()
		if depth, derr := w.queue.Depth(ctx); derr == nil {
			w.recorder.SetQueueDepth(depth)
		}
		w.process(ctx, delivery)
	}
}

// process runs one delivery end to end and settles the queue message
// according to the outcome.
func (w *Worker) process(ctx context.Context, d *queue.Delivery) {
	projectID := d.Message.ProjectID
	ctx = observability.WithProjectID(ctx, projectID)
	started := time.Now()

	project, err := w.store.GetProject(ctx, projectID)
	if err != nil {
		if rverrors.IsKind(err, rverrors.KindNotFound) {
			observability.WarnContext(ctx, "Dropping job for unknown project")
			_ = w.queue.Delete(ctx, d.Receipt)
			return
		}
		observability.ErrorContext(ctx, "Failed to load project for job", logfields.Error(err))
		return
	}

	// a reset or an already finished run makes the message stale
	if project.Status == model.StatusFilesReady || project.Status.IsTerminal() {
		observability.InfoContext(ctx, "Dropping stale job",
			logfields.Phase(string(project.Status)))
		_ = w.queue.Delete(ctx, d.Receipt)
		return
	}

	cfg := w.settings()
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if d.DequeueCount > maxRetries {
		w.fail(ctx, project, d, time.Since(started), rverrors.Fatal("analysis retry budget exhausted").
			WithContext("attempts", d.DequeueCount))
		return
	}

	margin := cfg.SafetyMargin
	if margin <= 0 {
		margin = defaultSafetyMargin
	}
	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if deadline := d.LeasedUntil.Add(-margin); !d.LeasedUntil.IsZero() && deadline.After(time.Now()) {
		jobCtx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	w.track(projectID, cancel)
	defer func() {
		w.untrack(projectID)
		cancel()
	}()

	if project.Status == model.StatusQueued {
		if err := w.store.UpdateProjectStatus(ctx, projectID, model.StatusQueued, model.StatusAnalyzing); err != nil {
			// lost a race with a reset; the fresh status decides
			fresh, gerr := w.store.GetProject(ctx, projectID)
			if gerr == nil && fresh.Status == model.StatusFilesReady {
				_ = w.queue.Delete(ctx, d.Receipt)
				return
			}
			observability.ErrorContext(ctx, "Failed to mark project analyzing", logfields.Error(err))
			return
		}
		project.Status = model.StatusAnalyzing
	}

	report, err := w.runJob(jobCtx, project)
	if err != nil {
		if rverrors.IsRetryable(err) {
			w.requeue(ctx, project, err)
			return
		}
		w.fail(ctx, project, d, time.Since(started), err)
		return
	}

	// checkpoint Completed is already durable; delete the message last
	if err := w.store.UpdateProjectStatus(ctx, projectID, model.StatusAnalyzing, model.StatusCompleted); err != nil {
		observability.WarnContext(ctx, "Failed to mark project completed", logfields.Error(err))
	}
	w.quota.EndAnalysis(project.OwnerID)
	if err := w.queue.Delete(ctx, d.Receipt); err != nil {
		// the lease expired under us; the redelivery will observe the
		// completed status and drop the message
		observability.WarnContext(ctx, "Failed to delete settled job", logfields.Error(err))
	}
	w.recorder.IncJobOutcome(metrics.ResultSuccess)
	w.recorder.ObserveJobDuration(time.Since(started))
	observability.InfoContext(ctx, "Analysis completed",
		logfields.DurationMS(float64(time.Since(started).Milliseconds())),
		logfields.Size(int64(len(report.Findings))))
}

// runJob executes the pipeline phases inside the job deadline.
func (w *Worker) runJob(ctx context.Context, project *model.Project) (*model.Report, error) {
	ws, err := w.spaces.Acquire(project.ID)
	if err != nil {
		return nil, rverrors.WrapInternal(err, "failed to acquire workspace")
	}
	keepWorkspace := false
	defer func() {
		if !keepWorkspace {
			if rerr := w.spaces.Release(ws); rerr != nil {
				observability.WarnContext(ctx, "Failed to release workspace", logfields.Error(rerr))
			}
		}
	}()

	if err := w.materialize(ctx, project, ws); err != nil {
		keepWorkspace = rverrors.IsRetryable(err)
		return nil, err
	}
	if err := w.index(ctx, project, ws); err != nil {
		keepWorkspace = rverrors.IsRetryable(err)
		return nil, err
	}

	report, err := w.orch.Analyze(ctx, *project, ws.SourceDir)
	if err != nil {
		keepWorkspace = rverrors.IsRetryable(err)
		return nil, err
	}
	return report, nil
}

// materialize fetches and extracts the archive unless a previous delivery
// already left an extraction in the workspace.
func (w *Worker) materialize(ctx context.Context, project *model.Project, ws *workspace.Workspace) error {
	populated, err := dirPopulated(ws.SourceDir)
	if err != nil {
		return rverrors.WrapInternal(err, "failed to inspect workspace")
	}
	if populated {
		observability.InfoContext(ctx, "Reusing surviving extraction", logfields.Path(ws.SourceDir))
		return nil
	}

	if err := w.advance(ctx, project.ID, model.PhaseExtracting); err != nil {
		return err
	}
	w.hub.PublishPhase(project.ID, model.PhaseExtracting, "Extracting archive")

	archivePath := filepath.Join(ws.ArchiveDir, "source.zip")
	if _, err := blob.FetchToFile(ctx, w.blobs, project.BlobPath, archivePath, fetchTimeout); err != nil {
		if blob.IsNotFound(err) {
			return rverrors.WrapFatal(err, "project archive is gone")
		}
		return rverrors.WrapTransient(err, "failed to fetch project archive")
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return rverrors.WrapInternal(err, "failed to open fetched archive")
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return rverrors.WrapInternal(err, "failed to stat fetched archive")
	}

	extractStart := time.Now()
	_, err = extract.Extract(ctx, f, info.Size(), ws.SourceDir, extract.Options{
		MaxFileSize:         w.extCfg.MaxFileSize,
		MaxTotalFiles:       w.extCfg.MaxTotalFiles,
		MaxTotalSize:        w.extCfg.MaxTotalSize,
		MaxCompressionRatio: w.extCfg.CompressionRatio,
		OnProgress: func(p extract.Progress) {
			w.hub.PublishProgress(project.ID, model.PhaseExtracting, 0, p.FilesExtracted, 0, p.CurrentEntry)
		},
	})
	w.recorder.ObserveExtractionDuration(time.Since(extractStart))
	if err != nil {
		// the archive passed validation at ingest; failing now means it is
		// hostile or corrupt and the project cannot proceed
		return rverrors.WrapFatal(err, "archive extraction failed")
	}
	return nil
}

// index derives chunk records for every file record of the project.
func (w *Worker) index(ctx context.Context, project *model.Project, ws *workspace.Workspace) error {
	if err := w.advance(ctx, project.ID, model.PhaseIndexing); err != nil {
		return err
	}
	w.hub.PublishPhase(project.ID, model.PhaseIndexing, "Indexing files")

	records, err := w.store.ListFileRecords(ctx, project.ID)
	if err != nil {
		return err
	}

	var chunks []model.Chunk
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return rverrors.Canceled(err, "indexing canceled")
		}
		content, rerr := os.ReadFile(filepath.Join(ws.SourceDir, filepath.FromSlash(record.RelativePath)))
		if rerr != nil {
			observability.WarnContext(ctx, "Skipping unreadable file during indexing",
				logfields.File(record.RelativePath), logfields.Error(rerr))
			continue
		}
		fileChunks, cerr := w.chunks.ChunkFile(ctx, project.ID, record, content)
		if cerr != nil {
			return rverrors.WrapInternal(cerr, "failed to chunk file")
		}
		chunks = append(chunks, fileChunks...)
	}
	if len(chunks) == 0 {
		return nil
	}
	return w.store.UpsertChunks(ctx, chunks)
}

// advance moves the checkpoint forward to the phase, leaving it untouched
// when a previous delivery already got further.
func (w *Worker) advance(ctx context.Context, projectID string, phase model.Phase) error {
	cp, err := w.cps.Get(ctx, projectID)
	if err != nil {
		return rverrors.WrapInternal(err, "failed to load checkpoint")
	}
	if cp == nil {
		cp = &checkpoint.Checkpoint{ProjectID: projectID}
	}
	if cp.Phase.Rank() >= phase.Rank() {
		return nil
	}
	cp.Phase = phase
	cp.ProgressPercent = phaseStartPercent(phase)
	if err := w.cps.Save(ctx, cp); err != nil {
		return rverrors.WrapInternal(err, "failed to save checkpoint")
	}
	return nil
}

// phaseStartPercent maps a phase entry to the overall pipeline progress
// recorded in the checkpoint; the orchestrator fills in 40..100.
func phaseStartPercent(phase model.Phase) float64 {
	switch phase {
	case model.PhaseExtracting:
		return 10
	case model.PhaseIndexing:
		return 25
	default:
		return 0
	}
}

// requeue records a retryable failure and leaves the message in flight; the
// lease expiry brings it back.
func (w *Worker) requeue(ctx context.Context, project *model.Project, cause error) {
	observability.WarnContext(ctx, "Analysis will be retried", logfields.Error(cause))

	if cp, err := w.cps.Get(ctx, project.ID); err == nil && cp != nil {
		cp.PendingRetry = true
		cp.LastError = rverrors.Sanitize(cause.Error())
		if serr := w.cps.Save(ctx, cp); serr != nil {
			observability.WarnContext(ctx, "Failed to record retry checkpoint", logfields.Error(serr))
		}
	}
	// a reset may have moved the project to FilesReady already
	_ = w.store.UpdateProjectStatus(ctx, project.ID, model.StatusAnalyzing, model.StatusQueued)
	w.recorder.IncJobOutcome(metrics.ResultRetried)
}

// fail settles a job terminally: the project is marked failed, the
// checkpoint records the cause and the message is deleted.
func (w *Worker) fail(ctx context.Context, project *model.Project, d *queue.Delivery, elapsed time.Duration, cause error) {
	observability.ErrorContext(ctx, "Analysis failed", logfields.Error(cause))

	if err := w.store.UpdateProjectStatus(ctx, project.ID, project.Status, model.StatusFailed); err != nil {
		observability.WarnContext(ctx, "Failed to mark project failed", logfields.Error(err))
	}

	cp, err := w.cps.Get(ctx, project.ID)
	if err != nil || cp == nil {
		cp = &checkpoint.Checkpoint{ProjectID: project.ID}
	}
	cp.Phase = model.PhaseFailed
	cp.LastError = rverrors.Sanitize(cause.Error())
	cp.PendingRetry = false
	if err := w.cps.Save(ctx, cp); err != nil {
		observability.WarnContext(ctx, "Failed to save failure checkpoint", logfields.Error(err))
	}

	w.hub.PublishCompletion(project.ID, nil, elapsed, cause)
	w.quota.EndAnalysis(project.OwnerID)
	if err := w.queue.Delete(ctx, d.Receipt); err != nil {
		observability.WarnContext(ctx, "Failed to delete failed job", logfields.Error(err))
	}
	w.recorder.IncJobOutcome(metrics.ResultFailed)
}

func dirPopulated(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return len(entries) > 0, nil
}
