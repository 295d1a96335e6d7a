// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the analytics
// pipeline.
//
// # Description
//
// Metrics cover agent runs, bus traffic, cache requests, connector
// attempts and persisted rows. They are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is a no-op on a nil *Metrics, so components can be built
// without instrumentation in tests.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "pulse"

// Metrics holds all Prometheus metrics for the analytics pipeline.
type Metrics struct {
	// AgentRuns counts agent invocations.
	// Labels: agent, status (success, no_data, error, ...)
	AgentRuns *prometheus.CounterVec

	// AgentDuration measures agent invocation latency.
	// Labels: agent
	AgentDuration *prometheus.HistogramVec

	// BusMessages counts bus deliveries.
	// Labels: event_type, outcome (delivered, queued, dropped, failed)
	BusMessages *prometheus.CounterVec

	// BusSubscribers tracks connected bus subscribers.
	BusSubscribers prometheus.Gauge

	// BusPending tracks messages queued while no subscriber is connected.
	BusPending prometheus.Gauge

	// CacheRequests counts cache operations.
	// Labels: op (get, set, delete), result (hit, miss, ok, error)
	CacheRequests *prometheus.CounterVec

	// ConnectorAttempts counts connector fetch attempts.
	// Labels: type, outcome (success, retry, failed)
	ConnectorAttempts *prometheus.CounterVec

	// RowsPersisted counts normalized rows committed to the store.
	RowsPersisted prometheus.Counter
}

// NewMetrics creates and registers all metrics with reg.
//
// # Description
//
// Pass prometheus.DefaultRegisterer in production so promhttp.Handler()
// serves them. Tests pass a fresh prometheus.NewRegistry() to stay
// isolated.
//
// # Limitations
//
//   - Panics if called twice with the same registerer (duplicate
//     registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AgentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "agent_runs_total",
				Help:      "Total agent invocations by agent and result status",
			},
			[]string{"agent", "status"},
		),

		AgentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "agent_duration_seconds",
				Help:      "Agent invocation duration in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
			},
			[]string{"agent"},
		),

		BusMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "bus_messages_total",
				Help:      "Bus messages by event type and delivery outcome",
			},
			[]string{"event_type", "outcome"},
		),

		BusSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "bus_subscribers",
				Help:      "Number of connected bus subscribers",
			},
		),

		BusPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "bus_pending",
				Help:      "Messages queued while no subscriber is connected",
			},
		),

		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_requests_total",
				Help:      "Cache operations by op and result",
			},
			[]string{"op", "result"},
		),

		ConnectorAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "connector_attempts_total",
				Help:      "Connector fetch attempts by connector type and outcome",
			},
			[]string{"type", "outcome"},
		),

		RowsPersisted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rows_persisted_total",
				Help:      "Normalized rows committed to the store",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordAgentRun records one finished agent invocation.
func (m *Metrics) RecordAgentRun(agent, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AgentRuns.WithLabelValues(agent, status).Inc()
	m.AgentDuration.WithLabelValues(agent).Observe(elapsed.Seconds())
}

// RecordBusMessage records a delivery outcome for one event type.
func (m *Metrics) RecordBusMessage(eventType, outcome string) {
	if m == nil {
		return
	}
	m.BusMessages.WithLabelValues(eventType, outcome).Inc()
}

// SetBusState sets the subscriber and pending gauges.
func (m *Metrics) SetBusState(subscribers, pending int) {
	if m == nil {
		return
	}
	m.BusSubscribers.Set(float64(subscribers))
	m.BusPending.Set(float64(pending))
}

// RecordCache records a cache operation result.
func (m *Metrics) RecordCache(op, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(op, result).Inc()
}

// RecordConnectorAttempt records one connector attempt.
func (m *Metrics) RecordConnectorAttempt(connectorType, outcome string) {
	if m == nil {
		return
	}
	m.ConnectorAttempts.WithLabelValues(connectorType, outcome).Inc()
}

// RecordRowsPersisted adds n committed rows.
func (m *Metrics) RecordRowsPersisted(n int) {
	if m == nil {
		return
	}
	m.RowsPersisted.Add(float64(n))
}
