package model

import (
	"strings"
	"time"
)

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists all severities from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// severityRank orders severities for sorting; lower rank is more severe.
var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Rank returns the sort rank of the severity. Unknown severities rank last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// ParseSeverity parses a severity string case-insensitively. Unknown values
// fall back to Info; model output is untrusted.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low", "minor":
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// AgentKind identifies one analyzer in the closed roster.
type AgentKind string

const (
	AgentStructure    AgentKind = "structure"
	AgentCodeQuality  AgentKind = "code_quality"
	AgentSecurity     AgentKind = "security"
	AgentArchitecture AgentKind = "architecture_advisor"
)

// AgentKinds is the fixed roster, in scheduling order.
var AgentKinds = []AgentKind{AgentStructure, AgentCodeQuality, AgentSecurity, AgentArchitecture}

// LineRange marks the lines a finding refers to. A zero Start means the
// finding has no line anchor.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Finding is a single review observation produced by an agent.
type Finding struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	ReportID        string    `json:"report_id,omitempty"`
	Agent           AgentKind `json:"agent"`
	Category        string    `json:"category"`
	Severity        Severity  `json:"severity"`
	FilePath        string    `json:"file_path,omitempty"`
	Lines           LineRange `json:"lines,omitempty"`
	Symbol          string    `json:"symbol,omitempty"`
	Description     string    `json:"description"`
	Explanation     string    `json:"explanation,omitempty"`
	SuggestedFix    string    `json:"suggested_fix,omitempty"`
	OriginalSnippet string    `json:"original_snippet,omitempty"`
	FixedSnippet    string    `json:"fixed_snippet,omitempty"`
	// Confidence is a model-supplied quality estimate in [0,1]; negative
	// means unknown.
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Anchored reports whether the finding carries anchor evidence. Only
// anchored or project-level findings may be persisted.
func (f *Finding) Anchored() bool {
	return f.FilePath != "" || f.Symbol != ""
}

// ProjectLevel marks a finding that lost its anchor as applying to the whole
// project. The symbol slot carries the project reference so the persistence
// invariant still holds.
func ProjectLevel(f Finding, projectName string) Finding {
	f.FilePath = ""
	f.Lines = LineRange{}
	f.Symbol = "project:" + projectName
	return f
}

// DedupKey identifies a finding for deduplication before persistence.
type DedupKey struct {
	Agent     AgentKind
	Category  string
	Severity  Severity
	FilePath  string
	StartLine int
	Symbol    string
}

// Key returns the deduplication key of the finding.
func (f *Finding) Key() DedupKey {
	return DedupKey{
		Agent:     f.Agent,
		Category:  f.Category,
		Severity:  f.Severity,
		FilePath:  f.FilePath,
		StartLine: f.Lines.Start,
		Symbol:    f.Symbol,
	}
}
