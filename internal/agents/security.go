package agents

import (
	"context"

	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// Security reviews trust boundaries: credentials in source, injection
// vectors and insecure transport.
type Security struct {
	base
}

func NewSecurity(cfg config.AgentsConfig, client llm.Client) *Security {
	return &Security{base: newBase(model.AgentSecurity, cfg, client)}
}

const securitySystemPrompt = `You are a security reviewer. Look for hardcoded
credentials, injection vulnerabilities, unvalidated input, insecure transport
and unsafe deserialization. Respond with a JSON array of findings. Each
finding has: title, category, severity (critical|high|medium|low|info),
filePath, startLine, endLine, symbol, description, suggestedFix, confidence.`

func (a *Security) Analyze(ctx context.Context, project model.Project, workingDir string) ([]model.Finding, error) {
	files, err := a.enumerate(ctx, workingDir)
	if err != nil {
		return nil, err
	}

	rc := newRuleCollector(project, a.kind, a.cfg.MaxRuleFindings)
	for _, f := range files {
		checkSecrets(rc, f)
		checkSQLConcat(rc, f)
		checkInsecureTransport(rc, f)
	}

	modelFindings, err := a.modelFindings(ctx, project, securitySystemPrompt, files)
	if err != nil {
		return nil, err
	}
	return append(rc.findings, modelFindings...), nil
}
