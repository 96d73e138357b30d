// Package metrics records Prometheus metrics for orchestrator activity:
// story launches/completions, gate runs, and retry decisions. Grounded on
// the teacher's pkg/agent/middleware/metrics.PrometheusRecorder (same
// promauto CounterVec/HistogramVec shape, same "record on completion, not
// on start" style for duration metrics), adapted from LLM-request metrics
// to story/gate/retry metrics and registered on a *prometheus.Registry that
// each Recorder creates for itself instead of the default global one, so more than one
// Recorder can coexist in a test process without a duplicate-registration
// panic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder publishes counters/histograms for one orchestrator run.
type Recorder struct {
	registry *prometheus.Registry

	storiesLaunched  *prometheus.CounterVec
	storiesFinished  *prometheus.CounterVec
	storyDuration    *prometheus.HistogramVec
	gateRuns         *prometheus.CounterVec
	gateDuration     *prometheus.HistogramVec
	retryAttempts    *prometheus.CounterVec
	batchSize        prometheus.Histogram
}

// New builds a Recorder against a fresh registry. Use Handler to expose it
// over HTTP.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		storiesLaunched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_stories_launched_total",
				Help: "Total number of story executions launched, by agent and phase",
			},
			[]string{"agent", "phase"},
		),
		storiesFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_stories_finished_total",
				Help: "Total number of story executions that reached a terminal state",
			},
			[]string{"agent", "phase", "status"},
		),
		storyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_story_duration_seconds",
				Help:    "Wall-clock duration of a story execution attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent", "phase"},
		),
		gateRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_gate_runs_total",
				Help: "Total number of quality gate runs, by gate type and pass/fail result",
			},
			[]string{"gate_type", "result"},
		),
		gateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cascade_gate_duration_seconds",
				Help:    "Duration of a quality gate command execution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"gate_type"},
		),
		retryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cascade_retry_attempts_total",
				Help: "Total number of retry attempts, by story type and error classification",
			},
			[]string{"story_type", "error_type"},
		),
		batchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cascade_batch_size",
				Help:    "Number of stories launched together in one scheduler batch",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
	}
}

// ObserveStoryLaunch records that a story execution started.
func (r *Recorder) ObserveStoryLaunch(agent, phase string) {
	r.storiesLaunched.WithLabelValues(agent, phase).Inc()
}

// ObserveStoryFinished records a story's terminal outcome and attempt
// duration.
func (r *Recorder) ObserveStoryFinished(agent, phase, status string, duration time.Duration) {
	r.storiesFinished.WithLabelValues(agent, phase, status).Inc()
	r.storyDuration.WithLabelValues(agent, phase).Observe(duration.Seconds())
}

// ObserveGateRun records one gate command's pass/fail result and duration.
func (r *Recorder) ObserveGateRun(gateType string, passed bool, duration time.Duration) {
	result := "pass"
	if !passed {
		result = "fail"
	}
	r.gateRuns.WithLabelValues(gateType, result).Inc()
	r.gateDuration.WithLabelValues(gateType).Observe(duration.Seconds())
}

// ObserveRetryAttempt records one retry decision.
func (r *Recorder) ObserveRetryAttempt(storyType, errorType string) {
	r.retryAttempts.WithLabelValues(storyType, errorType).Inc()
}

// ObserveBatchSize records a scheduler batch's story count.
func (r *Recorder) ObserveBatchSize(size int) {
	r.batchSize.Observe(float64(size))
}

// Handler returns an http.Handler exposing this Recorder's metrics in the
// Prometheus text exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
