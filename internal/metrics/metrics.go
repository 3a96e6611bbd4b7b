// Package metrics exposes Prometheus instruments for evaluation runs.
// A nil *Recorder is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nbgrade"

// Evaluation outcomes
const (
	OutcomeSuccess           = "success"
	OutcomeValidationError   = "validation_error"
	OutcomeEmptyResult       = "empty_result"
	OutcomeCollaboratorError = "collaborator_error"
	OutcomeError             = "error"
)

// Recorder owns a private registry so several recorders can coexist in tests
type Recorder struct {
	registry        *prometheus.Registry
	stageDuration   *prometheus.HistogramVec
	evidenceResults *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
}

// NewRecorder creates a recorder with Go runtime and process collectors attached
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each evaluation stage.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		evidenceResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_results_total",
			Help:      "Evidence results by status.",
		}, []string{"status"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Completed evaluations by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		r.stageDuration,
		r.evidenceResults,
		r.evaluations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// ObserveStage records how long a stage took
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// CountEvidence counts one evidence result
func (r *Recorder) CountEvidence(status string) {
	if r == nil {
		return
	}
	r.evidenceResults.WithLabelValues(status).Inc()
}

// CountEvaluation counts one finished evaluation
func (r *Recorder) CountEvaluation(outcome string) {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the Prometheus scrape endpoint
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
