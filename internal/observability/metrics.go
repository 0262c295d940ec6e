// Package observability exposes Prometheus metrics for the monitoring
// pipeline: detector cycles, polling activity, and persistence health.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric label values for detector cycle outcomes.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeError     = "error"
)

// Metrics holds all instruments on a private registry so multiple
// sessions can coexist without collector conflicts.
type Metrics struct {
	registry *prometheus.Registry

	DetectorCycles     *prometheus.CounterVec
	AuditRows          prometheus.Counter
	PollTicks          *prometheus.CounterVec
	TasksStarted       prometheus.Counter
	TasksRetired       prometheus.Counter
	ActiveTasks        prometheus.Gauge
	SaveRetries        prometheus.Counter
	SaveFailures       prometheus.Counter
	ExtractionFailures *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		DetectorCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_detector_cycles_total",
			Help: "Change detector cycles by outcome.",
		}, []string{"outcome"}),
		AuditRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_audit_rows_total",
			Help: "Audit rows emitted for reportable cell changes.",
		}),
		PollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_poll_ticks_total",
			Help: "Adaptive polling ticks by mode.",
		}, []string{"mode"}),
		TasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_poll_tasks_started_total",
			Help: "Polling tasks started.",
		}),
		TasksRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_poll_tasks_retired_total",
			Help: "Polling tasks retired after their observation window.",
		}),
		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchdog_poll_tasks_active",
			Help: "Currently active polling tasks.",
		}),
		SaveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_baseline_save_retries_total",
			Help: "Baseline save retry attempts.",
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdog_baseline_save_failures_total",
			Help: "Baseline saves that exhausted all retries.",
		}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_extraction_failures_total",
			Help: "Spreadsheet extraction failures by class.",
		}, []string{"class"}),
	}

	registry.MustRegister(
		m.DetectorCycles,
		m.AuditRows,
		m.PollTicks,
		m.TasksStarted,
		m.TasksRetired,
		m.ActiveTasks,
		m.SaveRetries,
		m.SaveFailures,
		m.ExtractionFailures,
	)

	return m
}

// Registry returns the private registry backing the instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
