package agents

import (
	"context"

	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// CodeQuality reviews maintainability: complexity, length, error handling
// discipline and leftover work markers.
type CodeQuality struct {
	base
}

func NewCodeQuality(cfg config.AgentsConfig, client llm.Client) *CodeQuality {
	return &CodeQuality{base: newBase(model.AgentCodeQuality, cfg, client)}
}

const qualitySystemPrompt = `You are a code reviewer focused on code quality and
maintainability. Look for overly complex functions, duplicated logic, poor
naming and weak error handling. Respond with a JSON array of findings. Each
finding has: title, category, severity (critical|high|medium|low|info),
filePath, startLine, endLine, symbol, description, suggestedFix, confidence.`

func (a *CodeQuality) Analyze(ctx context.Context, project model.Project, workingDir string) ([]model.Finding, error) {
	files, err := a.enumerate(ctx, workingDir)
	if err != nil {
		return nil, err
	}

	rc := newRuleCollector(project, a.kind, a.cfg.MaxRuleFindings)
	for _, f := range files {
		checkFileLength(rc, f)
		checkComplexity(rc, f)
		checkSwallowedErrors(rc, f)
		checkMagicNumbers(rc, f)
		checkMarkers(rc, f)
	}

	modelFindings, err := a.modelFindings(ctx, project, qualitySystemPrompt, files)
	if err != nil {
		return nil, err
	}
	return append(rc.findings, modelFindings...), nil
}
