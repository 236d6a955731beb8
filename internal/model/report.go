package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Report is the aggregated outcome of one analysis run.
type Report struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	HealthScore float64          `json:"health_score"` // [0,100], one decimal
	Counts      map[Severity]int `json:"counts"`
	Summary     string           `json:"summary"`
	Findings    []Finding        `json:"findings,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, s := range Severities {
		counts[s] = 0
	}
	for i := range findings {
		counts[findings[i].Severity]++
	}
	return counts
}

// Health-score penalties per severity. The constants are tunable defaults;
// Info findings carry no penalty.
const (
	penaltyCritical = 10.0
	penaltyHigh     = 5.0
	penaltyMedium   = 2.0
	penaltyLow      = 0.5
)

// HealthScore derives the project health score from severity counts,
// clamped to [0,100] and rounded to one decimal.
func HealthScore(counts map[Severity]int) float64 {
	score := 100.0 -
		penaltyCritical*float64(counts[SeverityCritical]) -
		penaltyHigh*float64(counts[SeverityHigh]) -
		penaltyMedium*float64(counts[SeverityMedium]) -
		penaltyLow*float64(counts[SeverityLow])
	if score < 0 {
		score = 0
	}
	return math.Round(score*10) / 10
}

// SortFindings orders findings deterministically: severity descending, then
// file path, then start line ascending, then symbol.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := &findings[i], &findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Lines.Start != b.Lines.Start {
			return a.Lines.Start < b.Lines.Start
		}
		return a.Symbol < b.Symbol
	})
}

// Deduplicate removes findings sharing a dedup key, keeping the first
// occurrence.
func Deduplicate(findings []Finding) []Finding {
	seen := make(map[DedupKey]struct{}, len(findings))
	out := findings[:0]
	for _, f := range findings {
		key := f.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Summarize composes a report summary proportional to the finding volume.
func Summarize(projectName string, counts map[Severity]int, total int) string {
	if total == 0 {
		return fmt.Sprintf("Analysis of %s completed with no findings.", projectName)
	}
	summary := fmt.Sprintf("Analysis of %s produced %d findings", projectName, total)
	for _, s := range Severities {
		if counts[s] > 0 {
			summary += fmt.Sprintf(", %d %s", counts[s], s)
		}
	}
	summary += "."
	if counts[SeverityCritical] > 0 {
		summary += " Critical issues require immediate attention."
	} else if counts[SeverityHigh] > 0 {
		summary += " High-severity issues should be addressed soon."
	}
	return summary
}
