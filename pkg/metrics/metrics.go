// Package metrics defines the Prometheus metric collectors used across the
// engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	CohortEvaluations    *prometheus.CounterVec
	CohortEvalDuration   prometheus.Histogram
	CohortSize           prometheus.Histogram
	AggregateRequests    *prometheus.CounterVec
	AutocompleteDuration prometheus.Histogram
	SessionEntries       prometheus.Gauge
	SessionsExpiredTotal prometheus.Counter
	SnapshotLoadSeconds  prometheus.Gauge
	IndexedConcepts      prometheus.Gauge
	IndexedPatients      prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CohortEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cohort_evaluations_total",
				Help: "Total cohort evaluations by outcome (ok, empty, error).",
			},
			[]string{"outcome"},
		),
		CohortEvalDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cohort_evaluation_duration_seconds",
				Help:    "Cohort evaluation latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		CohortSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cohort_size_patients",
				Help:    "Number of patients in evaluated cohorts.",
				Buckets: prometheus.ExponentialBuckets(1, 10, 7),
			},
		),
		AggregateRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aggregate_requests_total",
				Help: "Total aggregate reads by kind (facets, age, top_concepts, compare).",
			},
			[]string{"kind"},
		),
		AutocompleteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autocomplete_duration_seconds",
				Help:    "Concept autocomplete latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),
		SessionEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "session_cache_entries",
				Help: "Number of cohorts currently cached by session id.",
			},
		),
		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_cache_expired_total",
				Help: "Total session cache entries removed by the periodic sweep.",
			},
		),
		SnapshotLoadSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "snapshot_load_seconds",
				Help: "Wall-clock duration of the startup snapshot load.",
			},
		),
		IndexedConcepts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexed_concepts",
				Help: "Number of concepts in the loaded catalog.",
			},
		),
		IndexedPatients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexed_patients",
				Help: "Number of patients in the loaded universe.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CohortEvaluations,
		m.CohortEvalDuration,
		m.CohortSize,
		m.AggregateRequests,
		m.AutocompleteDuration,
		m.SessionEntries,
		m.SessionsExpiredTotal,
		m.SnapshotLoadSeconds,
		m.IndexedConcepts,
		m.IndexedPatients,
	)
	return m
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
