package model

// Phase marks a point in the pipeline lifecycle. Phases are monotonic per
// project except on explicit reset.
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseExtracting  Phase = "extracting"
	PhaseIndexing    Phase = "indexing"
	PhaseAnalyzing   Phase = "analyzing"
	PhaseAggregating Phase = "aggregating"
	PhaseCompleted   Phase = "completed"
	PhaseFailed      Phase = "failed"
)

var phaseRank = map[Phase]int{
	PhasePending:     0,
	PhaseExtracting:  1,
	PhaseIndexing:    2,
	PhaseAnalyzing:   3,
	PhaseAggregating: 4,
	PhaseCompleted:   5,
	PhaseFailed:      5,
}

// Rank returns the pipeline position of the phase; unknown phases rank
// before Pending.
func (p Phase) Rank() int {
	if r, ok := phaseRank[p]; ok {
		return r
	}
	return -1
}

// Terminal reports whether the phase ends the pipeline.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// PhaseAdvances reports whether moving from one phase to another goes
// forward. Equal phases are allowed so progress-only upserts succeed.
func PhaseAdvances(from, to Phase) bool {
	return to.Rank() >= from.Rank()
}
