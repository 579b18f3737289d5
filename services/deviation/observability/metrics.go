// Copyright (C) 2025 IntraTask AS (platform@intratask.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the
// deviation engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the ticket
// pipeline. Metrics include:
//   - Ticket flow counters (fetched, filtered, embedded, persisted)
//   - Clustering results (clusters found, deviations created)
//   - Pipeline run counters and duration histograms
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "intratask"

// Subsystem for pipeline metrics
const pipelineSubsystem = "deviation"

// PipelineMetrics holds all Prometheus metrics for pipeline runs.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring the ticket
// pipeline. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// TicketsFetchedTotal counts tickets fetched from the source.
	// Labels: mode (bulk, incremental)
	TicketsFetchedTotal *prometheus.CounterVec

	// TicketsFilteredTotal counts tickets surviving the severity filter.
	// Labels: mode (bulk, incremental)
	TicketsFilteredTotal *prometheus.CounterVec

	// EmbeddingsGeneratedTotal counts embedding vectors generated.
	EmbeddingsGeneratedTotal prometheus.Counter

	// TicketsPersistedTotal counts persistence outcomes.
	// Labels: status (created, skipped)
	TicketsPersistedTotal *prometheus.CounterVec

	// ClustersFoundTotal counts surfaced clusters.
	ClustersFoundTotal prometheus.Counter

	// DeviationsCreatedTotal counts deviations materialized.
	DeviationsCreatedTotal prometheus.Counter

	// PipelineRunsTotal counts pipeline runs by mode and outcome.
	// Labels: mode (bulk, incremental), status (success, error)
	PipelineRunsTotal *prometheus.CounterVec

	// PipelineDurationSeconds measures full pipeline run duration.
	// Labels: mode (bulk, incremental)
	PipelineDurationSeconds *prometheus.HistogramVec

	// UnclusteredPoolSize tracks the pool size at the last clustering pass.
	UnclusteredPoolSize prometheus.Gauge
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		TicketsFetchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tickets_fetched_total",
				Help:      "Total tickets fetched from the ticket source",
			},
			[]string{"mode"},
		),

		TicketsFilteredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tickets_filtered_total",
				Help:      "Total tickets surviving the severity tag filter",
			},
			[]string{"mode"},
		),

		EmbeddingsGeneratedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "embeddings_generated_total",
				Help:      "Total embedding vectors generated",
			},
		),

		TicketsPersistedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tickets_persisted_total",
				Help:      "Total ticket persistence outcomes by status",
			},
			[]string{"status"},
		),

		ClustersFoundTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "clusters_found_total",
				Help:      "Total near-duplicate clusters surfaced",
			},
		),

		DeviationsCreatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "deviations_created_total",
				Help:      "Total deviations materialized from clusters",
			},
		),

		PipelineRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "pipeline_runs_total",
				Help:      "Total pipeline runs by mode and outcome",
			},
			[]string{"mode", "status"},
		),

		PipelineDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "pipeline_duration_seconds",
				Help:      "Full pipeline run duration in seconds",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"mode"},
		),

		UnclusteredPoolSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "unclustered_pool_size",
				Help:      "Ticket pool size at the last clustering pass",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Run Modes
// =============================================================================

// Mode labels which orchestrator drove a pipeline run.
type Mode string

const (
	// ModeBulk is the one-time historical initialization run.
	ModeBulk Mode = "bulk"

	// ModeIncremental is the daily incremental run.
	ModeIncremental Mode = "incremental"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRun records a completed pipeline run.
func (m *PipelineMetrics) RecordRun(mode Mode, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.PipelineRunsTotal.WithLabelValues(string(mode), status).Inc()
	m.PipelineDurationSeconds.WithLabelValues(string(mode)).Observe(seconds)
}

// RecordFetched records tickets fetched from the source.
func (m *PipelineMetrics) RecordFetched(mode Mode, count int) {
	m.TicketsFetchedTotal.WithLabelValues(string(mode)).Add(float64(count))
}

// RecordFiltered records tickets surviving the severity filter.
func (m *PipelineMetrics) RecordFiltered(mode Mode, count int) {
	m.TicketsFilteredTotal.WithLabelValues(string(mode)).Add(float64(count))
}

// RecordPersisted records persistence outcomes.
func (m *PipelineMetrics) RecordPersisted(created, skipped int) {
	m.TicketsPersistedTotal.WithLabelValues("created").Add(float64(created))
	m.TicketsPersistedTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordClustering records the outcome of one clustering pass.
func (m *PipelineMetrics) RecordClustering(poolSize, clusters int) {
	m.UnclusteredPoolSize.Set(float64(poolSize))
	m.ClustersFoundTotal.Add(float64(clusters))
}
