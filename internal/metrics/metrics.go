// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Transition metrics:
//   - watchlog_transitions_total{media_type,requested,outcome}
//   - watchlog_transition_duration_seconds{media_type}
//
// Activity metrics:
//   - watchlog_activity_recorded_total
//   - watchlog_activity_failures_total{stage}
//
// Catalog metrics:
//   - watchlog_catalog_requests_total{endpoint,outcome}
//   - watchlog_catalog_cache_total{result}
//   - watchlog_catalog_breaker_state
//
// HTTP metrics:
//   - watchlog_http_requests_total{method,route,status}
//   - watchlog_http_request_duration_seconds{method,route}
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlog_transitions_total",
			Help: "Transitions handled by the coordinator, by outcome (changed, noop, or an error kind)",
		},
		[]string{"media_type", "requested", "outcome"},
	)

	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchlog_transition_duration_seconds",
			Help:    "Time spent applying a transition, including the database transaction",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"media_type"},
	)

	ActivityRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "watchlog_activity_recorded_total",
			Help: "Activity events persisted",
		},
	)

	ActivityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlog_activity_failures_total",
			Help: "Activity events that could not be published or persisted",
		},
		[]string{"stage"},
	)

	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlog_catalog_requests_total",
			Help: "Requests sent to the catalog API",
		},
		[]string{"endpoint", "outcome"},
	)

	CatalogCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlog_catalog_cache_total",
			Help: "Catalog cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	CatalogBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchlog_catalog_breaker_state",
			Help: "Catalog circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlog_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchlog_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchlog_reconcile_runs_total",
			Help: "Scheduled show progress reconciliations by outcome",
		},
		[]string{"outcome"},
	)
)
