package agents

import (
	"context"
	"fmt"
	"path"

	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// ArchitectureAdvisor gives higher-level advice: module boundaries,
// dependency direction and growth hotspots. Most of its value comes from
// the model; its rules only catch gross shape problems.
type ArchitectureAdvisor struct {
	base
}

func NewArchitectureAdvisor(cfg config.AgentsConfig, client llm.Client) *ArchitectureAdvisor {
	return &ArchitectureAdvisor{base: newBase(model.AgentArchitecture, cfg, client)}
}

const architectureSystemPrompt = `You are a software architect reviewing a
codebase. Advise on module boundaries, coupling, dependency direction and
structural risks. Respond with a JSON array of findings. Each finding has:
title, category, severity (critical|high|medium|low|info), filePath,
startLine, endLine, symbol, description, suggestedFix, confidence.`

// crowdedDirThreshold is the file count above which a single directory is
// flagged as a dumping ground.
const crowdedDirThreshold = 30

func (a *ArchitectureAdvisor) Analyze(ctx context.Context, project model.Project, workingDir string) ([]model.Finding, error) {
	files, err := a.enumerate(ctx, workingDir)
	if err != nil {
		return nil, err
	}

	rc := newRuleCollector(project, a.kind, a.cfg.MaxRuleFindings)
	a.checkCrowdedDirectories(rc, files)

	modelFindings, err := a.modelFindings(ctx, project, architectureSystemPrompt, files)
	if err != nil {
		return nil, err
	}
	return append(rc.findings, modelFindings...), nil
}

func (a *ArchitectureAdvisor) checkCrowdedDirectories(rc *ruleCollector, files []SourceFile) {
	perDir := map[string]int{}
	for _, f := range files {
		perDir[path.Dir(f.RelativePath)]++
	}
	for dir, count := range perDir {
		if count <= crowdedDirThreshold {
			continue
		}
		rc.add(model.Finding{
			Category:    "module-boundaries",
			Severity:    model.SeverityLow,
			Symbol:      "dir:" + dir,
			Description: fmt.Sprintf("Directory holds %d source files; split it along responsibilities.", count),
		})
	}
}
