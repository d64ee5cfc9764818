// Coursemetry - Course Engagement Analytics Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coursemetry

// Package metrics provides Prometheus instrumentation for:
//   - Event ingestion throughput and latency
//   - Aggregate store query performance
//   - Cache efficiency
//   - Reconciliation job runs and drift repairs
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemetry_events_ingested_total",
			Help: "Total number of ingested engagement events",
		},
		[]string{"kind", "outcome"}, // outcome: ok, invalid, not_found, persistence_error, degraded
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coursemetry_ingest_duration_seconds",
			Help:    "End-to-end duration of event ingestion in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Aggregate store metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursemetry_db_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemetry_db_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursemetry_cache_hits_total",
			Help: "Total number of aggregate cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursemetry_cache_misses_total",
			Help: "Total number of aggregate cache misses",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursemetry_cache_evictions_total",
			Help: "Total number of cache entries evicted or invalidated",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursemetry_cache_entries",
			Help: "Current number of cached projections",
		},
	)

	// Reconciliation metrics
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coursemetry_reconcile_runs_total",
			Help: "Total number of reconciliation job runs",
		},
		[]string{"job", "outcome"}, // job: aggregate-refresh, rating-recompute, log-retention
	)

	ReconcileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coursemetry_reconcile_duration_seconds",
			Help:    "Duration of reconciliation job runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"job"},
	)

	ReconcileDriftRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursemetry_reconcile_drift_repairs_total",
			Help: "Number of subjects whose aggregates disagreed with the event-log fold",
		},
	)

	EventsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coursemetry_events_pruned_total",
			Help: "Total number of events removed by the retention pruner",
		},
	)

	// Circuit breaker state (0 closed, 1 half-open, 2 open)
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coursemetry_aggregate_breaker_state",
			Help: "Aggregate-store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)

// ObserveDBQuery records a database query duration and outcome.
func ObserveDBQuery(operation, table string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}
