package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/reviewd/internal/agents"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/store"
)

func testDeps(t *testing.T) (*store.Store, checkpoint.Store, *progress.Hub) {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cps, err := checkpoint.NewSQLiteStore(filepath.Join(t.TempDir(), "cp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cps.Close() })

	return st, cps, progress.NewHub(256)
}

func seedProject(t *testing.T, st *store.Store) model.Project {
	t.Helper()
	p := model.Project{
		ID:      uuid.NewString(),
		Name:    "demo",
		Status:  model.StatusAnalyzing,
		OwnerID: "owner-a",
	}
	require.NoError(t, st.CreateProject(context.Background(), &p))
	return p
}

func writeSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	writeFile(t, dir, "util.go", "package main\n\n// TODO: tighten validation\nfunc helper() {}\n")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

type fakeAgent struct {
	kind     model.AgentKind
	findings []model.Finding
	err      error
	calls    atomic.Int32
}

func (a *fakeAgent) Kind() model.AgentKind { return a.kind }

func (a *fakeAgent) Analyze(ctx context.Context, _ model.Project, _ string) ([]model.Finding, error) {
	a.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.findings, a.err
}

func anchoredFinding(agent model.AgentKind, path string, sev model.Severity) model.Finding {
	return model.Finding{
		ID:          uuid.NewString(),
		Agent:       agent,
		Category:    "test",
		Severity:    sev,
		FilePath:    path,
		Description: "synthetic test finding",
		Confidence:  1,
	}
}

func TestAnalyzeProducesPersistedReport(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)
	dir := writeSource(t)

	cfg := config.AgentsConfig{Parallelism: 4, MaxRuleFindings: 50, Degradation: true}
	roster := agents.NewRoster(cfg, llm.NewMockClient())
	orch := New(roster, st, cps, hub, nil, cfg)

	report, err := orch.Analyze(context.Background(), project, dir)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Findings)
	assert.GreaterOrEqual(t, report.HealthScore, 0.0)
	assert.LessOrEqual(t, report.HealthScore, 100.0)
	assert.Contains(t, report.Summary, "demo")

	for i := range report.Findings {
		assert.True(t, report.Findings[i].Anchored())
	}

	stored, err := st.LatestReport(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Equal(t, report.ID, stored.ID)
	assert.Len(t, stored.Findings, len(report.Findings))

	// staged rows were promoted into the report
	staged, err := st.ListStagedFindings(context.Background(), project.ID)
	require.NoError(t, err)
	assert.Empty(t, staged)

	cp, err := cps.Get(context.Background(), project.ID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, model.PhaseCompleted, cp.Phase)
	assert.Equal(t, 1, cp.Attempt)
	assert.Equal(t, float64(100), cp.ProgressPercent)
	assert.Len(t, cp.AgentsDone, len(roster))
}

func TestAnalyzePublishesLifecycleEvents(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)
	dir := writeSource(t)

	events, cancel := hub.Subscribe(project.ID)
	defer cancel()

	cfg := config.AgentsConfig{Parallelism: 1, MaxRuleFindings: 50}
	roster := agents.NewRoster(cfg, llm.NewMockClient())
	orch := New(roster, st, cps, hub, nil, cfg)

	_, err := orch.Analyze(context.Background(), project, dir)
	require.NoError(t, err)

	var kinds []progress.Kind
	var completion *progress.Event
	var maxPercent float64
	var lastProgress *progress.Event
	for {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
			if ev.Kind == progress.KindProgress {
				if ev.Percent > maxPercent {
					maxPercent = ev.Percent
				}
				lastProgress = &ev
			}
			if ev.Kind == progress.KindCompletion {
				completion = &ev
			}
		default:
			goto drained
		}
	}
drained:
	assert.Contains(t, kinds, progress.KindPhase)
	assert.Contains(t, kinds, progress.KindFinding)
	assert.InDelta(t, 100, maxPercent, 0.01)
	require.NotNil(t, lastProgress)
	assert.Equal(t, len(roster), lastProgress.FilesProcessed)
	assert.Equal(t, len(roster), lastProgress.TotalFiles)
	require.NotNil(t, completion)
	require.NotNil(t, completion.Report)
	assert.Equal(t, completion.Report.Counts, completion.Stats)
	assert.Greater(t, completion.DurationSeconds, 0.0)
	assert.Empty(t, completion.Err)
}

func TestAnalyzeFailedAgentYieldsSyntheticFinding(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)

	good := &fakeAgent{
		kind:     model.AgentStructure,
		findings: []model.Finding{anchoredFinding(model.AgentStructure, "main.go", model.SeverityLow)},
	}
	bad := &fakeAgent{kind: model.AgentSecurity, err: rverrors.Fatal("model output unusable")}

	cfg := config.AgentsConfig{Parallelism: 2}
	orch := New([]agents.Agent{good, bad}, st, cps, hub, nil, cfg)

	report, err := orch.Analyze(context.Background(), project, t.TempDir())
	require.NoError(t, err)

	var synthetic bool
	for _, f := range report.Findings {
		if f.Category == "agent-failure" && f.Agent == model.AgentSecurity {
			synthetic = true
			assert.Equal(t, "project:demo", f.Symbol)
		}
	}
	assert.True(t, synthetic, "failed agent must leave a synthetic finding")
	assert.Len(t, report.Findings, 2)
}

func TestAnalyzeResumesSkippingCompletedAgents(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)
	ctx := context.Background()

	// a previous delivery already committed the structure agent's work
	staged := anchoredFinding(model.AgentStructure, "main.go", model.SeverityHigh)
	require.NoError(t, st.StageFindings(ctx, project.ID, []model.Finding{staged}))
	require.NoError(t, cps.Save(ctx, &checkpoint.Checkpoint{
		ProjectID:  project.ID,
		Phase:      model.PhaseAnalyzing,
		Attempt:    1,
		AgentsDone: []string{string(model.AgentStructure)},
	}))

	done := &fakeAgent{kind: model.AgentStructure}
	fresh := &fakeAgent{
		kind:     model.AgentCodeQuality,
		findings: []model.Finding{anchoredFinding(model.AgentCodeQuality, "util.go", model.SeverityMedium)},
	}

	cfg := config.AgentsConfig{Parallelism: 2}
	orch := New([]agents.Agent{done, fresh}, st, cps, hub, nil, cfg)

	report, err := orch.Analyze(ctx, project, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, int32(0), done.calls.Load(), "completed agent must not run again")
	assert.Equal(t, int32(1), fresh.calls.Load())
	require.Len(t, report.Findings, 2)

	cp, err := cps.Get(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Attempt)
	assert.ElementsMatch(t,
		[]string{string(model.AgentStructure), string(model.AgentCodeQuality)}, cp.AgentsDone)
}

func TestAnalyzeCanceledContextFailsWithoutReport(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.AgentsConfig{Parallelism: 1}
	slow := &fakeAgent{kind: model.AgentStructure}
	orch := New([]agents.Agent{slow}, st, cps, hub, nil, cfg)

	_, err := orch.Analyze(ctx, project, t.TempDir())
	require.Error(t, err)
	assert.True(t, rverrors.IsKind(err, rverrors.KindCanceled))

	_, err = st.LatestReport(context.Background(), project.ID)
	assert.True(t, rverrors.IsKind(err, rverrors.KindNotFound))
}

func TestAnalyzeDeduplicatesAcrossAgents(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)

	shared := model.Finding{
		Category:    "dup",
		Severity:    model.SeverityLow,
		FilePath:    "main.go",
		Lines:       model.LineRange{Start: 3, End: 3},
		Description: "duplicated observation",
		Confidence:  1,
	}
	a1 := shared
	a1.ID = uuid.NewString()
	a1.Agent = model.AgentStructure
	a2 := shared
	a2.ID = uuid.NewString()
	a2.Agent = model.AgentStructure

	first := &fakeAgent{kind: model.AgentStructure, findings: []model.Finding{a1, a2}}

	cfg := config.AgentsConfig{Parallelism: 1}
	orch := New([]agents.Agent{first}, st, cps, hub, nil, cfg)

	report, err := orch.Analyze(context.Background(), project, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, report.Findings, 1)
}

func TestJobTimeoutBoundsRun(t *testing.T) {
	st, cps, hub := testDeps(t)
	project := seedProject(t, st)

	blocker := &blockingAgent{kind: model.AgentStructure}
	cfg := config.AgentsConfig{Parallelism: 1, JobTimeout: 50 * time.Millisecond}
	orch := New([]agents.Agent{blocker}, st, cps, hub, nil, cfg)

	start := time.Now()
	_, err := orch.Analyze(context.Background(), project, t.TempDir())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type blockingAgent struct {
	kind model.AgentKind
}

func (a *blockingAgent) Kind() model.AgentKind { return a.kind }

func (a *blockingAgent) Analyze(ctx context.Context, _ model.Project, _ string) ([]model.Finding, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
