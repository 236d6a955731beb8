package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/reviewd/internal/agents"
	"git.home.luguber.info/inful/reviewd/internal/blob"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	"git.home.luguber.info/inful/reviewd/internal/chunker"
	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/orchestrator"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/queue"
	"git.home.luguber.info/inful/reviewd/internal/quota"
	"git.home.luguber.info/inful/reviewd/internal/store"
	"git.home.luguber.info/inful/reviewd/internal/workspace"
)

type harness struct {
	worker *Worker
	queue  queue.Queue
	store  *store.Store
	blobs  blob.Store
	cps    checkpoint.Store
	hub    *progress.Hub
	quota  *quota.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := blob.NewFSStore(t.TempDir())
	require.NoError(t, err)

	cps, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	q := queue.NewMemoryQueue(time.Minute)
	qm := quota.NewManager(quota.Limits{})
	hub := progress.NewHub(256)

	agentCfg := config.AgentsConfig{Parallelism: 2, MaxRuleFindings: 50, Degradation: true}
	roster := agents.NewRoster(agentCfg, llm.NewMockClient())
	orch := orchestrator.New(roster, st, cps, hub, nil, agentCfg)

	w := New(Options{
		Queue:   q,
		Store:   st,
		Blobs:   blobs,
		Spaces:  workspace.NewManager(t.TempDir()),
		CPS:     cps,
		Orch:    orch,
		Chunker: chunker.New(chunker.Options{SpillDir: t.TempDir()}, nil),
		Hub:     hub,
		Quota:   qm,
		Worker:  config.WorkerConfig{SafetyMargin: time.Second},
	})
	return &harness{worker: w, queue: q, store: st, blobs: blobs, cps: cps, hub: hub, quota: qm}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// queueProject stores a ready project with its archive and file records and
// enqueues its analysis job.
func (h *harness) queueProject(t *testing.T, files map[string]string) *model.Project {
	t.Helper()
	ctx := context.Background()
	payload := buildZip(t, files)

	blobKey := "uploads/owner-a/" + uuid.NewString() + ".zip"
	_, err := h.blobs.Upload(ctx, blobKey, bytes.NewReader(payload))
	require.NoError(t, err)

	p := &model.Project{
		ID:       uuid.NewString(),
		Name:     "demo",
		Status:   model.StatusQueued,
		OwnerID:  "owner-a",
		BlobPath: blobKey,
	}
	require.NoError(t, h.store.CreateProject(ctx, p))

	records := make([]model.FileRecord, 0, len(files))
	for name, content := range files {
		records = append(records, model.FileRecord{
			RelativePath: name,
			Size:         int64(len(content)),
			ContentHash:  "irrelevant",
		})
	}
	require.NoError(t, h.store.CreateFileRecords(ctx, p.ID, records))
	require.NoError(t, h.quota.BeginAnalysis(p.OwnerID))
	require.NoError(t, h.queue.Enqueue(ctx, queue.Message{ProjectID: p.ID, RequestedAt: time.Now()}, 0))
	return p
}

func (h *harness) dequeue(t *testing.T) *queue.Delivery {
	t.Helper()
	d, err := h.queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func TestProcessCompletesJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.queueProject(t, map[string]string{
		"main.go": "package main\n\nfunc main() {}\n",
	})

	h.worker.process(ctx, h.dequeue(t))

	got, err := h.store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)

	report, err := h.store.LatestReport(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Findings)

	cp, err := h.cps.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, model.PhaseCompleted, cp.Phase)
	assert.Equal(t, float64(100), cp.ProgressPercent)

	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Zero(t, h.quota.UsageFor("owner-a").RunningAnalyses)

	chunks, err := h.store.ListChunks(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestProcessDropsStaleMessageAfterReset(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.queueProject(t, map[string]string{"main.go": "package main\n"})

	// a reset moved the project back before the worker got the job
	require.NoError(t, h.store.UpdateProjectStatus(ctx, p.ID, model.StatusQueued, model.StatusAnalyzing))
	require.NoError(t, h.store.UpdateProjectStatus(ctx, p.ID, model.StatusAnalyzing, model.StatusFilesReady))

	h.worker.process(ctx, h.dequeue(t))

	got, err := h.store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilesReady, got.Status)

	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestProcessDropsJobForUnknownProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.queue.Enqueue(ctx, queue.Message{ProjectID: "gone", RequestedAt: time.Now()}, 0))

	h.worker.process(ctx, h.dequeue(t))

	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestProcessRetryBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.queueProject(t, map[string]string{"main.go": "package main\n"})

	events, cancel := h.hub.Subscribe(p.ID)
	defer cancel()

	d := h.dequeue(t)
	d.DequeueCount = 6

	h.worker.process(ctx, d)

	got, err := h.store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)

	cp, err := h.cps.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, model.PhaseFailed, cp.Phase)
	assert.NotEmpty(t, cp.LastError)

	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Zero(t, h.quota.UsageFor("owner-a").RunningAnalyses)

	var completion *progress.Event
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Kind == progress.KindCompletion {
				completion = &ev
				done = true
			}
		default:
			done = true
		}
	}
	require.NotNil(t, completion)
	assert.NotEmpty(t, completion.Err)
}

type brokenBlobs struct {
	blob.Store
}

func (brokenBlobs) Download(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("backend unavailable")
}

func TestProcessTransientFailureLeavesMessageLeased(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.queueProject(t, map[string]string{"main.go": "package main\n"})
	h.worker.blobs = brokenBlobs{Store: h.blobs}

	h.worker.process(ctx, h.dequeue(t))

	got, err := h.store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)

	cp, err := h.cps.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.PendingRetry)
	assert.NotEmpty(t, cp.LastError)

	// the message stays leased; redelivery happens when the lease expires
	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestProcessHostileArchiveFailsProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// bypass ingest validation by storing a traversal archive directly
	p := h.queueProject(t, map[string]string{"../evil.go": "package evil\n"})

	h.worker.process(ctx, h.dequeue(t))

	got, err := h.store.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)

	depth, err := h.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestCancelAbortsInFlightRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.queueProject(t, map[string]string{"main.go": "package main\n"})

	h.worker.track(p.ID, func() {})
	h.worker.Cancel(p.ID)
	h.worker.untrack(p.ID)

	// canceling an unknown project is a no-op
	h.worker.Cancel("unknown")
	_ = ctx
}

func TestGroupStopAndWait(t *testing.T) {
	var g Group
	ran := make(chan struct{})
	ok := g.Go(func() { close(ran) })
	require.True(t, ok)
	<-ran

	require.NoError(t, g.StopAndWait(context.Background()))
	assert.False(t, g.Go(func() {}), "no new goroutines after stop")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}
