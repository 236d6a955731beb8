// Package progress fans analysis lifecycle events out to per-project
// subscribers. Publishing never blocks: a subscriber that cannot keep up
// has events dropped rather than stalling the pipeline.
package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/reviewd/internal/logfields"
	"git.home.luguber.info/inful/reviewd/internal/model"
)

// Kind discriminates event payloads.
type Kind string

const (
	KindPhase      Kind = "phase"
	KindProgress   Kind = "progress"
	KindFinding    Kind = "finding"
	KindCompletion Kind = "completion"
)

// Event is one lifecycle notification for a project.
type Event struct {
	Kind      Kind
	ProjectID string
	Phase     model.Phase
	Message   string
	// Percent is set on progress events, 0..100.
	Percent float64
	// FilesProcessed and TotalFiles count work items on progress events.
	// TotalFiles is zero when the total is not yet known.
	FilesProcessed int
	TotalFiles     int
	// Finding is set on finding events.
	Finding *model.Finding
	// Report is set on completion events for successful runs.
	Report *model.Report
	// DurationSeconds is the wall-clock run time, set on completion events.
	DurationSeconds float64
	// Stats breaks the run's findings down by severity on completion events.
	Stats     map[model.Severity]int
	Err       string
	Timestamp time.Time
}

const defaultBuffer = 64

type subscriber struct {
	ch chan Event
	// dropped is incremented by concurrent publishers holding only the
	// hub's read lock, so it must be atomic.
	dropped atomic.Int64
}

// Hub routes events to subscribers of the same project.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels buffer the given number
// of events; zero means the default.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers for one project's events. The returned cancel func
// closes the channel and must be called exactly once.
func (h *Hub) Subscribe(projectID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[projectID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[projectID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[projectID]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(h.subs, projectID)
				}
			}
			h.mu.Unlock()
			close(sub.ch)
			if dropped := sub.dropped.Load(); dropped > 0 {
				slog.Debug("Subscriber shed events",
					logfields.ProjectID(projectID), slog.Int64("dropped", dropped))
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its project. Events
// arrive in publish order per subscriber; a full subscriber buffer sheds
// the event for that subscriber only.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.ProjectID] {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount reports how many subscribers a project currently has.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

// PublishPhase is a convenience for phase transition events.
func (h *Hub) PublishPhase(projectID string, phase model.Phase, msg string) {
	h.Publish(Event{Kind: KindPhase, ProjectID: projectID, Phase: phase, Message: msg})
}

// PublishProgress is a convenience for progress inside a phase. Pass zero
// for total when the amount of work is not yet known.
func (h *Hub) PublishProgress(projectID string, phase model.Phase, percent float64, processed, total int, msg string) {
	h.Publish(Event{
		Kind:           KindProgress,
		ProjectID:      projectID,
		Phase:          phase,
		Percent:        percent,
		FilesProcessed: processed,
		TotalFiles:     total,
		Message:        msg,
	})
}

// PublishFinding is a convenience for streaming a single finding.
func (h *Hub) PublishFinding(projectID string, f model.Finding) {
	h.Publish(Event{Kind: KindFinding, ProjectID: projectID, Finding: &f})
}

// PublishCompletion is a convenience for the terminal event of a run.
func (h *Hub) PublishCompletion(projectID string, report *model.Report, elapsed time.Duration, runErr error) {
	ev := Event{
		Kind:            KindCompletion,
		ProjectID:       projectID,
		Report:          report,
		DurationSeconds: elapsed.Seconds(),
	}
	if report != nil {
		ev.Stats = report.Counts
	}
	if runErr != nil {
		ev.Err = runErr.Error()
	}
	h.Publish(ev)
}
