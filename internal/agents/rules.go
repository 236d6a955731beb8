package agents

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/reviewd/internal/model"
)

// ruleCollector accumulates rule-based findings up to the configured cap.
type ruleCollector struct {
	project  model.Project
	agent    model.AgentKind
	max      int
	findings []model.Finding
}

func newRuleCollector(project model.Project, agent model.AgentKind, max int) *ruleCollector {
	if max <= 0 {
		max = 50
	}
	return &ruleCollector{project: project, agent: agent, max: max}
}

func (rc *ruleCollector) full() bool {
	return len(rc.findings) >= rc.max
}

func (rc *ruleCollector) add(f model.Finding) {
	if rc.full() {
		return
	}
	f.ID = uuid.NewString()
	f.ProjectID = rc.project.ID
	f.Agent = rc.agent
	f.Confidence = 1
	if !f.Anchored() {
		f = model.ProjectLevel(f, rc.project.Name)
	}
	rc.findings = append(rc.findings, f)
}

var (
	todoPattern       = regexp.MustCompile(`(?i)\b(TODO|FIXME|HACK|XXX)\b`)
	emptyCatchPattern = regexp.MustCompile(`catch\s*(\([^)]*\))?\s*\{\s*\}|except[^:]*:\s*pass\b`)
	errSwallowPattern = regexp.MustCompile(`_\s*=\s*err\b|err\s*==?\s*nil\s*\}\s*$`)
	magicNumberLine   = regexp.MustCompile(`[=(,+\-*/<>]\s*(\d{3,})\b`)
	secretPattern     = regexp.MustCompile(`(?i)(password|secret|api[_-]?key|token)\s*[:=]\s*["'][^"']{4,}["']`)
	sqlConcatPattern  = regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)\b[^"\n]*["']\s*\+`)
	insecureURL       = regexp.MustCompile(`["']http://[^"'\s]+["']`)
)

const longFileThreshold = 400

// checkFileLength flags files over the line threshold.
func checkFileLength(rc *ruleCollector, f SourceFile) {
	total := f.Metrics.LinesOfCode + f.Metrics.BlankLines + f.Metrics.CommentLines
	if f.Truncated || total > longFileThreshold {
		rc.add(model.Finding{
			Category:    "file-length",
			Severity:    model.SeverityLow,
			FilePath:    f.RelativePath,
			Description: "File is very long; consider splitting it into focused units.",
		})
	}
}

// checkMarkers flags TODO/FIXME style markers line by line.
func checkMarkers(rc *ruleCollector, f SourceFile) {
	for i, line := range strings.Split(f.Content, "\n") {
		if rc.full() {
			return
		}
		if todoPattern.MatchString(line) {
			rc.add(model.Finding{
				Category:    "marker",
				Severity:    model.SeverityInfo,
				FilePath:    f.RelativePath,
				Lines:       model.LineRange{Start: i + 1, End: i + 1},
				Description: "Work marker left in source: " + strings.TrimSpace(line),
			})
		}
	}
}

// checkSwallowedErrors flags empty catch blocks and discarded error values.
func checkSwallowedErrors(rc *ruleCollector, f SourceFile) {
	for i, line := range strings.Split(f.Content, "\n") {
		if rc.full() {
			return
		}
		if emptyCatchPattern.MatchString(line) || errSwallowPattern.MatchString(line) {
			rc.add(model.Finding{
				Category:    "error-handling",
				Severity:    model.SeverityMedium,
				FilePath:    f.RelativePath,
				Lines:       model.LineRange{Start: i + 1, End: i + 1},
				Description: "Error is silently swallowed.",
			})
		}
	}
}

// checkMagicNumbers flags large numeric literals in expressions.
func checkMagicNumbers(rc *ruleCollector, f SourceFile) {
	count := 0
	for i, line := range strings.Split(f.Content, "\n") {
		if rc.full() || count >= 3 {
			return
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if magicNumberLine.MatchString(line) {
			rc.add(model.Finding{
				Category:    "magic-number",
				Severity:    model.SeverityLow,
				FilePath:    f.RelativePath,
				Lines:       model.LineRange{Start: i + 1, End: i + 1},
				Description: "Unexplained numeric literal; name it as a constant.",
			})
			count++
		}
	}
}

// checkSecrets flags credential-looking assignments.
func checkSecrets(rc *ruleCollector, f SourceFile) {
	for i, line := range strings.Split(f.Content, "\n") {
		if rc.full() {
			return
		}
		if secretPattern.MatchString(line) {
			rc.add(model.Finding{
				Category:    "hardcoded-secret",
				Severity:    model.SeverityCritical,
				FilePath:    f.RelativePath,
				Lines:       model.LineRange{Start: i + 1, End: i + 1},
				Description: "Possible hardcoded credential.",
			})
		}
	}
}

// checkSQLConcat flags string-concatenated SQL.
func checkSQLConcat(rc *ruleCollector, f SourceFile) {
	for i, line := range strings.Split(f.Content, "\n") {
		if rc.full() {
			return
		}
		if sqlConcatPattern.MatchString(line) {
			rc.add(model.Finding{
				Category:    "sql-injection",
				Severity:    model.SeverityHigh,
				FilePath:    f.RelativePath,
				Lines:       model.LineRange{Start: i + 1, End: i + 1},
				Description: "SQL statement built by string concatenation; use parameters.",
			})
		}
	}
}

// checkInsecureTransport flags plain-http literals.
func checkInsecureTransport(rc *ruleCollector, f SourceFile) {
	for i, line := range strings.Split(f.Content, "\n") {
		if rc.full() {
			return
		}
		if insecureURL.MatchString(line) && !strings.Contains(line, "localhost") && !strings.Contains(line, "127.0.0.1") {
			rc.add(model.Finding{
				Category:    "insecure-transport",
				Severity:    model.SeverityMedium,
				FilePath:    f.RelativePath,
				Lines:       model.LineRange{Start: i + 1, End: i + 1},
				Description: "Plain HTTP URL in source; prefer HTTPS.",
			})
		}
	}
}

// checkMissingReadme emits a project-level finding when no README exists.
func checkMissingReadme(rc *ruleCollector, files []SourceFile) {
	for _, f := range files {
		name := strings.ToLower(f.RelativePath)
		if name == "readme.md" || name == "readme" || strings.HasPrefix(name, "readme.") {
			return
		}
	}
	rc.add(model.Finding{
		Category:    "documentation",
		Severity:    model.SeverityLow,
		Description: "Project has no README.",
	})
}

// checkMissingTests flags projects without any recognizable test files or
// test directories.
func checkMissingTests(rc *ruleCollector, files []SourceFile) {
	for _, f := range files {
		name := strings.ToLower(f.RelativePath)
		if strings.HasSuffix(name, "_test.go") ||
			strings.Contains(name, ".test.") || strings.Contains(name, ".spec.") ||
			strings.Contains(name, "test/") || strings.Contains(name, "tests/") {
			return
		}
	}
	rc.add(model.Finding{
		Category:    "structure",
		Severity:    model.SeverityLow,
		Description: "Project has no tests directory or test files.",
	})
}

// checkDeepNesting flags directory trees nested beyond reason.
func checkDeepNesting(rc *ruleCollector, files []SourceFile) {
	const maxDepth = 7
	flagged := map[string]struct{}{}
	for _, f := range files {
		parts := strings.Split(f.RelativePath, "/")
		if len(parts) <= maxDepth {
			continue
		}
		dir := strings.Join(parts[:maxDepth], "/")
		if _, seen := flagged[dir]; seen {
			continue
		}
		flagged[dir] = struct{}{}
		rc.add(model.Finding{
			Category:    "deep-nesting",
			Severity:    model.SeverityLow,
			FilePath:    f.RelativePath,
			Description: "Directory nesting deeper than " + strings.Repeat("*/", maxDepth) + "; flatten the layout.",
		})
	}
}

// checkComplexity flags files whose approximate cyclomatic complexity is
// disproportionate.
func checkComplexity(rc *ruleCollector, f SourceFile) {
	const complexityThreshold = 30
	if f.Metrics.CyclomaticComplexity > complexityThreshold {
		rc.add(model.Finding{
			Category:    "complexity",
			Severity:    model.SeverityMedium,
			FilePath:    f.RelativePath,
			Description: "File has high cyclomatic complexity; extract smaller functions.",
		})
	}
}
