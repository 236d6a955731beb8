// Package orchestrator fans the agent roster out over a prepared working
// directory and aggregates their findings into a persisted report. Each
// agent's findings are staged durably as soon as it completes, so a
// redelivered job resumes without repeating committed work. Agent failures
// degrade to synthetic findings; only cancellation or persistence failures
// abort the run.
package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/reviewd/internal/agents"
	"git.home.luguber.info/inful/reviewd/internal/checkpoint"
	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/metrics"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/observability"
	"git.home.luguber.info/inful/reviewd/internal/progress"
	"git.home.luguber.info/inful/reviewd/internal/store"
)

const (
	defaultJobTimeout = 30 * time.Minute
	maxParallelism    = 4

	// checkpoint progress covered by the analyzing and aggregating phases;
	// the worker's earlier phases record 0..25
	analyzingBasePercent = 40
	aggregatingPercent   = 85
)

// Orchestrator runs the analysis and aggregation phases for one project.
type Orchestrator struct {
	roster   []agents.Agent
	store    *store.Store
	cps      checkpoint.Store
	hub      *progress.Hub
	recorder metrics.Recorder
	cfg      config.AgentsConfig
}

func New(roster []agents.Agent, st *store.Store, cps checkpoint.Store, hub *progress.Hub, recorder metrics.Recorder, cfg config.AgentsConfig) *Orchestrator {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		roster:   roster,
		store:    st,
		cps:      cps,
		hub:      hub,
		recorder: recorder,
		cfg:      cfg,
	}
}

// Analyze runs every agent against the working directory, aggregates the
// staged findings and persists the report. Agents already listed in the
// project's checkpoint are skipped; their findings are recovered from the
// staged rows.
func (o *Orchestrator) Analyze(ctx context.Context, project model.Project, workingDir string) (*model.Report, error) {
	started := time.Now()
	timeout := o.cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, rverrors.Canceled(err, "analysis canceled")
	}

	cp, err := o.loadCheckpoint(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	cp.Phase = model.PhaseAnalyzing
	cp.Attempt++
	cp.PendingRetry = false
	if cp.ProgressPercent < analyzingBasePercent {
		cp.ProgressPercent = analyzingBasePercent
	}
	if err := o.cps.Save(ctx, cp); err != nil {
		return nil, rverrors.WrapInternal(err, "failed to checkpoint analyzing phase")
	}
	o.hub.PublishPhase(project.ID, model.PhaseAnalyzing, "Analysis started")

	if err := o.runAgents(ctx, project, workingDir, cp); err != nil {
		return nil, err
	}

	cp.Phase = model.PhaseAggregating
	cp.ProgressPercent = aggregatingPercent
	if err := o.cps.Save(ctx, cp); err != nil {
		return nil, rverrors.WrapInternal(err, "failed to checkpoint aggregating phase")
	}
	o.hub.PublishPhase(project.ID, model.PhaseAggregating, "Aggregating findings")

	report, err := o.aggregate(ctx, project)
	if err != nil {
		return nil, err
	}

	cp.Phase = model.PhaseCompleted
	cp.ProgressPercent = 100
	if err := o.cps.Save(ctx, cp); err != nil {
		return nil, rverrors.WrapInternal(err, "failed to checkpoint completion")
	}
	o.hub.PublishCompletion(project.ID, report, time.Since(started), nil)
	return report, nil
}

func (o *Orchestrator) loadCheckpoint(ctx context.Context, projectID string) (*checkpoint.Checkpoint, error) {
	cp, err := o.cps.Get(ctx, projectID)
	if err != nil {
		return nil, rverrors.WrapInternal(err, "failed to load checkpoint")
	}
	if cp == nil {
		cp = &checkpoint.Checkpoint{ProjectID: projectID, Phase: model.PhaseAnalyzing}
	}
	return cp, nil
}

// runAgents fans the roster out under the configured parallelism cap. A
// failed agent stages a synthetic finding instead of aborting its siblings;
// only context cancellation stops the run. Findings are staged before the
// agent is marked done, so a crash between the two re-runs the agent and
// deduplication absorbs the repeat.
func (o *Orchestrator) runAgents(ctx context.Context, project model.Project, workingDir string, cp *checkpoint.Checkpoint) error {
	pending := make([]agents.Agent, 0, len(o.roster))
	for _, a := range o.roster {
		if slices.Contains(cp.AgentsDone, string(a.Kind())) {
			observability.InfoContext(ctx, "Skipping already completed agent",
				logfields.ProjectID(project.ID), logfields.Agent(string(a.Kind())))
			continue
		}
		pending = append(pending, a)
	}
	if len(pending) == 0 {
		return nil
	}

	parallelism := o.cfg.Parallelism
	if parallelism <= 0 || parallelism > maxParallelism {
		parallelism = maxParallelism
	}
	if parallelism > len(pending) {
		parallelism = len(pending)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		sem       = make(chan struct{}, parallelism)
		commitErr error
		done      int
		total     = len(pending)
	)

	commit := func(kind model.AgentKind, findings []model.Finding) {
		mu.Lock()
		defer mu.Unlock()
		if commitErr != nil {
			return
		}
		if err := o.store.StageFindings(ctx, project.ID, findings); err != nil {
			commitErr = rverrors.WrapInternal(err, "failed to stage agent findings")
			return
		}
		if !slices.Contains(cp.AgentsDone, string(kind)) {
			cp.AgentsDone = append(cp.AgentsDone, string(kind))
		}
		done++
		cp.ProgressPercent = analyzingBasePercent +
			float64(done)/float64(total)*(aggregatingPercent-analyzingBasePercent)
		if err := o.cps.Save(ctx, cp); err != nil {
			commitErr = rverrors.WrapInternal(err, "failed to checkpoint completed agent")
			return
		}
		o.recorder.IncFindings(string(kind), len(findings))
		for _, f := range findings {
			o.hub.PublishFinding(project.ID, f)
		}
		o.hub.PublishProgress(project.ID, model.PhaseAnalyzing,
			float64(done)/float64(total)*100, done, total,
			fmt.Sprintf("%d of %d agents completed", done, total))
	}

	for _, agent := range pending {
		wg.Add(1)
		go func(a agents.Agent) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			started := time.Now()
			findings, err := a.Analyze(ctx, project, workingDir)
			o.recorder.ObserveAgentDuration(string(a.Kind()), time.Since(started))

			if err != nil {
				if ctx.Err() != nil {
					return
				}
				observability.WarnContext(ctx, "Agent failed, substituting synthetic finding",
					logfields.ProjectID(project.ID), logfields.Agent(string(a.Kind())), logfields.Error(err))
				findings = []model.Finding{syntheticFailure(project, a.Kind())}
			}
			commit(a.Kind(), findings)
		}(agent)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return rverrors.Canceled(err, "analysis canceled before all agents completed")
	}
	return commitErr
}

// syntheticFailure records an agent's failure as a project-level finding so
// the report reflects the gap without exposing internals.
func syntheticFailure(project model.Project, kind model.AgentKind) model.Finding {
	return model.ProjectLevel(model.Finding{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		Agent:       kind,
		Category:    "agent-failure",
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("The %s agent did not complete; its findings are missing from this report.", kind),
		Confidence:  1,
	}, project.Name)
}

// aggregate builds the report from all staged findings, including those
// recovered from an earlier delivery of the same job.
func (o *Orchestrator) aggregate(ctx context.Context, project model.Project) (*model.Report, error) {
	findings, err := o.store.ListStagedFindings(ctx, project.ID)
	if err != nil {
		return nil, rverrors.WrapInternal(err, "failed to load staged findings")
	}
	findings = model.Deduplicate(findings)
	model.SortFindings(findings)

	counts := model.CountBySeverity(findings)
	report := &model.Report{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		HealthScore: model.HealthScore(counts),
		Counts:      counts,
		Summary:     model.Summarize(project.Name, counts, len(findings)),
		Findings:    findings,
	}
	if err := o.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}
