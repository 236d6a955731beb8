package agents

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/reviewd/internal/config"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// Structure reviews project layout: directory shape, documentation
// presence and README quality.
type Structure struct {
	base
}

func NewStructure(cfg config.AgentsConfig, client llm.Client) *Structure {
	return &Structure{base: newBase(model.AgentStructure, cfg, client)}
}

const structureSystemPrompt = `You are a code reviewer focused on project structure.
Review the layout, naming and documentation of the project and respond with a
JSON array of findings. Each finding has: title, category, severity
(critical|high|medium|low|info), filePath, startLine, endLine, symbol,
description, suggestedFix, confidence.`

func (a *Structure) Analyze(ctx context.Context, project model.Project, workingDir string) ([]model.Finding, error) {
	files, err := a.enumerate(ctx, workingDir)
	if err != nil {
		return nil, err
	}

	rc := newRuleCollector(project, a.kind, a.cfg.MaxRuleFindings)
	checkMissingReadme(rc, files)
	checkMissingTests(rc, files)
	checkDeepNesting(rc, files)
	for _, f := range files {
		a.checkReadmeHeadings(rc, f)
	}

	modelFindings, err := a.modelFindings(ctx, project, structureSystemPrompt, files)
	if err != nil {
		return nil, err
	}
	return append(rc.findings, modelFindings...), nil
}

// checkReadmeHeadings parses README markdown and flags documents without a
// top-level heading or with no sections at all.
func (a *Structure) checkReadmeHeadings(rc *ruleCollector, f SourceFile) {
	lower := strings.ToLower(f.RelativePath)
	if !strings.HasPrefix(lower, "readme") || !strings.HasSuffix(lower, ".md") {
		return
	}

	source := []byte(f.Content)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	headings := 0
	hasTitle := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			headings++
			if h.Level == 1 {
				hasTitle = true
			}
		}
		return ast.WalkContinue, nil
	})

	switch {
	case headings == 0:
		rc.add(model.Finding{
			Category:    "documentation",
			Severity:    model.SeverityLow,
			FilePath:    f.RelativePath,
			Description: "README has no headings; add a title and sections.",
		})
	case !hasTitle:
		rc.add(model.Finding{
			Category:    "documentation",
			Severity:    model.SeverityInfo,
			FilePath:    f.RelativePath,
			Description: "README lacks a top-level title heading.",
		})
	}
}
