// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the pipeline's Prometheus metrics.
type Collector struct {
	jobsFinished       *prometheus.CounterVec
	stepRetries        *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	quotaRejections    *prometheus.CounterVec
	inFlight           prometheus.Gauge
	stageDuration      *prometheus.HistogramVec
}

// NewCollector creates and registers the pipeline metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_jobs_finished_total",
			Help: "Jobs reaching a terminal status, by status.",
		}, []string{"status"}),
		stepRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_step_retries_total",
			Help: "Pipeline step retry attempts, by stage and step.",
		}, []string{"stage", "step"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_breaker_transitions_total",
			Help: "Circuit breaker state transitions, by provider and new state.",
		}, []string{"provider", "state"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scribeflow_quota_rejections_total",
			Help: "Submissions rejected at admission, by resource kind.",
		}, []string{"resource"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scribeflow_transcriptions_in_flight",
			Help: "Transcription stage runs currently executing.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribeflow_stage_duration_seconds",
			Help:    "Stage execution time in seconds, by stage.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.jobsFinished,
		c.stepRetries,
		c.breakerTransitions,
		c.quotaRejections,
		c.inFlight,
		c.stageDuration,
	)
	return c
}

// NewNopCollector returns a collector registered on a throwaway registry,
// for tests and callers that do not scrape.
func NewNopCollector() *Collector {
	return NewCollector(prometheus.NewRegistry())
}

// JobFinished records a job reaching a terminal status.
func (c *Collector) JobFinished(status string) {
	c.jobsFinished.WithLabelValues(status).Inc()
}

// StepRetried records one retry attempt of a pipeline step.
func (c *Collector) StepRetried(stage, step string) {
	c.stepRetries.WithLabelValues(stage, step).Inc()
}

// BreakerTransition records a circuit breaker state change.
func (c *Collector) BreakerTransition(provider, state string) {
	c.breakerTransitions.WithLabelValues(provider, state).Inc()
}

// QuotaRejected records a submission denied at admission.
func (c *Collector) QuotaRejected(resource string) {
	c.quotaRejections.WithLabelValues(resource).Inc()
}

// TranscriptionStarted marks a transcription stage run as in flight.
func (c *Collector) TranscriptionStarted() { c.inFlight.Inc() }

// TranscriptionDone marks a transcription stage run as finished.
func (c *Collector) TranscriptionDone() { c.inFlight.Dec() }

// StageObserved records a stage execution duration.
func (c *Collector) StageObserved(stage string, seconds float64) {
	c.stageDuration.WithLabelValues(stage).Observe(seconds)
}
