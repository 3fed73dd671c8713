// Package metrics defines the Prometheus metric collectors used across the
// platform and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	RunsTotal               *prometheus.CounterVec
	RunDuration             *prometheus.HistogramVec
	CDCEventsInsertedTotal  *prometheus.CounterVec
	CDCEventsSkippedTotal   *prometheus.CounterVec
	FetchRatio              *prometheus.GaugeVec
	DegradedRunsTotal       *prometheus.CounterVec
	BootstrapRefusalsTotal  *prometheus.CounterVec
	SweepEventsTotal        *prometheus.CounterVec
	RelayPublishedTotal     prometheus.Counter
	RelayPublishErrorsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_runs_total",
				Help: "Total orchestrator runs by source and final report status.",
			},
			[]string{"source", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lifecycle_run_duration_seconds",
				Help:    "Orchestrator run duration in seconds.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"source"},
		),
		CDCEventsInsertedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_cdc_events_inserted_total",
				Help: "CDC events newly recorded by event type and provenance.",
			},
			[]string{"event_type", "resolved_by"},
		),
		CDCEventsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_cdc_events_skipped_total",
				Help: "CDC event inserts skipped because the row already existed.",
			},
			[]string{"event_type"},
		),
		FetchRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lifecycle_fetch_ratio",
				Help: "Fetched/expected ratio of the most recent run per source.",
			},
			[]string{"source"},
		),
		DegradedRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_degraded_runs_total",
				Help: "Runs whose event emission was suppressed, by source.",
			},
			[]string{"source"},
		),
		BootstrapRefusalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_bootstrap_refusals_total",
				Help: "Bootstrap attempts refused by the circuit breaker, by reason.",
			},
			[]string{"source", "reason"},
		),
		SweepEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_sweep_events_total",
				Help: "CDC events recorded by the scheduled sweeps, by job.",
			},
			[]string{"job"},
		),
		RelayPublishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lifecycle_relay_published_total",
				Help: "CDC events relayed to Kafka.",
			},
		),
		RelayPublishErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lifecycle_relay_publish_errors_total",
				Help: "Relay publish attempts that failed.",
			},
		),
	}

	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.CDCEventsInsertedTotal,
		m.CDCEventsSkippedTotal,
		m.FetchRatio,
		m.DegradedRunsTotal,
		m.BootstrapRefusalsTotal,
		m.SweepEventsTotal,
		m.RelayPublishedTotal,
		m.RelayPublishErrorsTotal,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
