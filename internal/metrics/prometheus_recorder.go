package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once               sync.Once
	extractionDuration prom.Histogram
	agentDuration      *prom.HistogramVec
	jobDuration        prom.Histogram
	jobOutcome         *prom.CounterVec
	findings           *prom.CounterVec
	queueDepth         prom.Gauge
	dequeues           prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics
// (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.extractionDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "reviewd",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of archive extraction per job",
			Buckets:   prom.DefBuckets,
		})
		pr.agentDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "reviewd",
			Name:      "agent_duration_seconds",
			Help:      "Duration of individual agent runs",
			Buckets:   prom.DefBuckets,
		}, []string{"agent"})
		pr.jobDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "reviewd",
			Name:      "job_duration_seconds",
			Help:      "Total analysis job duration",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		})
		pr.jobOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "reviewd",
			Name:      "job_outcomes_total",
			Help:      "Analysis job outcomes by final status",
		}, []string{"result"})
		pr.findings = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "reviewd",
			Name:      "findings_total",
			Help:      "Findings produced per agent",
		}, []string{"agent"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "reviewd",
			Name:      "queue_depth",
			Help:      "Last observed analysis queue depth",
		})
		pr.dequeues = prom.NewCounter(prom.CounterOpts{
			Namespace: "reviewd",
			Name:      "dequeues_total",
			Help:      "Total queue messages received by workers",
		})
		reg.MustRegister(pr.extractionDuration, pr.agentDuration, pr.jobDuration,
			pr.jobOutcome, pr.findings, pr.queueDepth, pr.dequeues)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveExtractionDuration(d time.Duration) {
	if p == nil || p.extractionDuration == nil {
		return
	}
	p.extractionDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveAgentDuration(agent string, d time.Duration) {
	if p == nil || p.agentDuration == nil {
		return
	}
	p.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveJobDuration(d time.Duration) {
	if p == nil || p.jobDuration == nil {
		return
	}
	p.jobDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncJobOutcome(result ResultLabel) {
	if p == nil || p.jobOutcome == nil {
		return
	}
	p.jobOutcome.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncFindings(agent string, n int) {
	if p == nil || p.findings == nil || n <= 0 {
		return
	}
	p.findings.WithLabelValues(agent).Add(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncDequeues() {
	if p == nil || p.dequeues == nil {
		return
	}
	p.dequeues.Inc()
}
