// Package metrics defines observability hooks for the analysis pipeline.
package metrics

import "time"

// ResultLabel enumerates job result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultRetried  ResultLabel = "retried"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for pipeline metrics. Implementations
// may forward to Prometheus. All methods must be safe on the NoopRecorder so
// injection stays optional.
type Recorder interface {
	ObserveExtractionDuration(d time.Duration)
	ObserveAgentDuration(agent string, d time.Duration)
	ObserveJobDuration(d time.Duration)
	IncJobOutcome(result ResultLabel)
	IncFindings(agent string, n int)
	SetQueueDepth(n int)
	IncDequeues()
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveExtractionDuration(time.Duration)     {}
func (NoopRecorder) ObserveAgentDuration(string, time.Duration)  {}
func (NoopRecorder) ObserveJobDuration(time.Duration)            {}
func (NoopRecorder) IncJobOutcome(ResultLabel)                   {}
func (NoopRecorder) IncFindings(string, int)                     {}
func (NoopRecorder) SetQueueDepth(int)                           {}
func (NoopRecorder) IncDequeues()                                {}
