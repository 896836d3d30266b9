// Package metrics exposes Prometheus counters for the generation
// orchestration core: admission outcomes and job lifecycle transitions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcome label values.
const (
	OutcomeAdmitted       = "admitted"
	OutcomeExisting       = "existing"
	OutcomeQuotaExceeded  = "quota_exceeded"
	OutcomeCooldownActive = "cooldown_active"
	OutcomeCheckFailed    = "check_failed"
)

// Metrics holds the counters published by the orchestration core. A nil
// *Metrics is valid and records nothing, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	admissions    *prometheus.CounterVec
	jobsEnqueued  prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsFailed    prometheus.Counter
	jobRetries    prometheus.Counter
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parlo_admissions_total",
			Help: "Admission decisions by outcome.",
		}, []string{"outcome"}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parlo_jobs_enqueued_total",
			Help: "Jobs accepted into the queue.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parlo_jobs_completed_total",
			Help: "Jobs that reached the completed state.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parlo_jobs_failed_total",
			Help: "Jobs that reached the failed state.",
		}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "parlo_job_retries_total",
			Help: "Transient failures that scheduled a retry.",
		}),
	}

	registry.MustRegister(
		m.admissions,
		m.jobsEnqueued,
		m.jobsCompleted,
		m.jobsFailed,
		m.jobRetries,
	)

	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAdmission counts one admission decision with the given outcome.
func (m *Metrics) RecordAdmission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// RecordEnqueued counts one job accepted into the queue.
func (m *Metrics) RecordEnqueued() {
	if m == nil {
		return
	}
	m.jobsEnqueued.Inc()
}

// RecordCompleted counts one job reaching the completed state.
func (m *Metrics) RecordCompleted() {
	if m == nil {
		return
	}
	m.jobsCompleted.Inc()
}

// RecordFailed counts one job reaching the failed state.
func (m *Metrics) RecordFailed() {
	if m == nil {
		return
	}
	m.jobsFailed.Inc()
}

// RecordRetry counts one scheduled retry after a transient failure.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.jobRetries.Inc()
}
