// Package agents hosts the fixed analyzer roster: Structure, CodeQuality,
// Security and ArchitectureAdvisor. All agents share the same file
// enumeration, truncation and model plumbing; they differ in their prompts
// and rule-based checks.
package agents

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/reviewd/internal/codemetrics"
	"git.home.luguber.info/inful/reviewd/internal/config"
	rverrors "git.home.luguber.info/inful/reviewd/internal/errors"
	"git.home.luguber.info/inful/reviewd/internal/extract"
	"git.home.luguber.info/inful/reviewd/internal/llm"
	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/model"
	"git.home.luguber.info/inful/reviewd/internal/observability"
)

// Agent analyzes a project working directory and yields findings.
type Agent interface {
	Kind() model.AgentKind
	Analyze(ctx context.Context, project model.Project, workingDir string) ([]model.Finding, error)
}

// TruncationMarker terminates file content that was cut at the line cap.
const TruncationMarker = "... [truncated]"

// defaultExtensions is the source-language allowlist used when the config
// does not override it.
var defaultExtensions = []string{
	".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".kt", ".cs",
	".rb", ".rs", ".c", ".h", ".cpp", ".hpp", ".php", ".swift", ".scala",
	".sql", ".sh", ".yaml", ".yml", ".toml", ".json", ".md",
}

// SourceFile is one enumerated file with its capped content.
type SourceFile struct {
	RelativePath string
	Content      string
	Truncated    bool
	Metrics      codemetrics.FileMetrics
}

// base carries the shared behavior every agent builds on.
type base struct {
	kind    model.AgentKind
	cfg     config.AgentsConfig
	client  llm.Client
	metrics *codemetrics.Service
}

func newBase(kind model.AgentKind, cfg config.AgentsConfig, client llm.Client) base {
	return base{kind: kind, cfg: cfg, client: client, metrics: codemetrics.NewService()}
}

func (b *base) Kind() model.AgentKind {
	return b.kind
}

func (b *base) extensionAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	allow := b.cfg.Extensions
	if len(allow) == 0 {
		allow = defaultExtensions
	}
	for _, a := range allow {
		if ext == a {
			return true
		}
	}
	return false
}

// enumerate walks the working directory collecting allowed source files,
// skipping excluded segments and files over the byte threshold. Content is
// capped at the configured line count with a marker appended.
func (b *base) enumerate(ctx context.Context, workingDir string) ([]SourceFile, error) {
	var files []SourceFile
	err := filepath.WalkDir(workingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(workingDir, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if extract.HasExcludedSegment(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if extract.HasExcludedSegment(rel) || !b.extensionAllowed(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if b.cfg.MaxFileBytes > 0 && info.Size() > b.cfg.MaxFileBytes {
			return nil
		}

		content, truncated, readErr := readCapped(path, b.cfg.MaxLines)
		if readErr != nil {
			// unreadable files become findings, not failures
			files = append(files, SourceFile{RelativePath: filepath.ToSlash(rel)})
			return nil
		}
		files = append(files, SourceFile{
			RelativePath: filepath.ToSlash(rel),
			Content:      content,
			Truncated:    truncated,
			Metrics:      b.metrics.Analyze(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	return files, nil
}

func readCapped(path string, maxLines int) (string, bool, error) {
	if maxLines <= 0 {
		maxLines = 500
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	var (
		sb        strings.Builder
		lines     int
		truncated bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if lines >= maxLines {
			truncated = true
			sb.WriteString(TruncationMarker)
			sb.WriteString("\n")
			break
		}
		sb.WriteString(scanner.Text())
		sb.WriteString("\n")
		lines++
	}
	if err := scanner.Err(); err != nil {
		return "", false, err
	}
	return sb.String(), truncated, nil
}

// buildPrompt renders the shared prompt layout: project name, the file
// roster, then each file's capped content under its header line.
func buildPrompt(project model.Project, files []SourceFile) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project: %s\n", project.Name)
	if project.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", project.Description)
	}
	sb.WriteString("\nFiles:\n")
	for _, f := range files {
		fmt.Fprintf(&sb, "- %s\n", f.RelativePath)
	}
	sb.WriteString("\n")
	for _, f := range files {
		fmt.Fprintf(&sb, "%s%s\n%s\n", llm.FileHeader, f.RelativePath, f.Content)
	}
	return sb.String()
}

// modelFindings submits the prompt and converts the model's raw findings,
// applying the anchor rule and lenient severity parsing. Transient model
// failures degrade to nil findings when degradation is enabled.
func (b *base) modelFindings(ctx context.Context, project model.Project, systemPrompt string, files []SourceFile) ([]model.Finding, error) {
	resp, err := b.client.Complete(ctx, llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(project, files),
		Attempt:      1,
	})
	if err != nil {
		if b.cfg.Degradation && rverrors.IsRetryable(err) {
			observability.WarnContext(ctx, "Model unavailable, degrading to rule-based findings",
				logfields.Agent(string(b.kind)), logfields.Error(err))
			return nil, nil
		}
		return nil, err
	}

	raw, err := llm.DecodeFindings(resp.Text)
	if err != nil {
		// undecodable output is captured, not fatal
		return []model.Finding{b.infoFinding(project, "model-output",
			"Model response could not be parsed as findings.")}, nil
	}

	findings := make([]model.Finding, 0, len(raw))
	for _, rf := range raw {
		f := model.Finding{
			ID:           uuid.NewString(),
			ProjectID:    project.ID,
			Agent:        b.kind,
			Category:     fallback(string(rf.Category), "general"),
			Severity:     model.ParseSeverity(string(rf.Severity)),
			FilePath:     string(rf.FilePath),
			Lines:        model.LineRange{Start: int(rf.StartLine), End: int(rf.EndLine)},
			Symbol:       string(rf.Symbol),
			Description:  fallback(string(rf.Title), string(rf.Description)),
			Explanation:  string(rf.Description),
			SuggestedFix: string(rf.SuggestedFix),
			Confidence:   float64(rf.Confidence),
		}
		if !f.Anchored() {
			f = model.ProjectLevel(f, project.Name)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// infoFinding creates a project-level informational finding attributed to
// this agent.
func (b *base) infoFinding(project model.Project, category, description string) model.Finding {
	return model.ProjectLevel(model.Finding{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		Agent:       b.kind,
		Category:    category,
		Severity:    model.SeverityInfo,
		Description: description,
		Confidence:  1,
	}, project.Name)
}

func fallback(primary, alt string) string {
	if primary != "" {
		return primary
	}
	return alt
}

// NewRoster builds the full agent roster in scheduling order.
func NewRoster(cfg config.AgentsConfig, client llm.Client) []Agent {
	return []Agent{
		NewStructure(cfg, client),
		NewCodeQuality(cfg, client),
		NewSecurity(cfg, client),
		NewArchitectureAdvisor(cfg, client),
	}
}
