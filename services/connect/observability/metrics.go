// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// connect service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the
// AnkiConnect bridge. Metrics include:
//   - Action counters (by action name and status)
//   - Action latency histograms
//   - Error counters (by action and error type)
//   - Note addition outcomes and cache drops
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
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
const metricsNamespace = "aleutian"

// Subsystem for bridge metrics
const connectSubsystem = "connect"

// BridgeMetrics holds all Prometheus metrics for AnkiConnect bridge
// operations.
//
// # Description
//
// Provides counters and histograms for monitoring action throughput,
// latency, and error rates. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - ActionsTotal: Counter of dispatched actions by name and status
//   - ActionDurationSeconds: Histogram of action handling latency
//   - ErrorsTotal: Counter of errors by action and error type
//   - NotesAddedTotal: Counter of addNote outcomes
//   - CacheDropsTotal: Counter of admin cache drops
//
// # Thread Safety
//
// All operations are thread-safe.
type BridgeMetrics struct {
	// ActionsTotal counts dispatched AnkiConnect actions by name and status.
	// Labels: action (addNote, deckNames, ...), status (success, error)
	ActionsTotal *prometheus.CounterVec

	// ActionDurationSeconds measures end-to-end action handling latency.
	// Labels: action
	ActionDurationSeconds *prometheus.HistogramVec

	// ErrorsTotal counts errors by action and error type.
	// Labels: action, error_code (validation, upstream, cache, ...)
	ErrorsTotal *prometheus.CounterVec

	// NotesAddedTotal counts addNote outcomes.
	// Labels: outcome (added, no_match)
	NotesAddedTotal *prometheus.CounterVec

	// CacheDropsTotal counts admin-initiated list cache drops.
	CacheDropsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of BridgeMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *BridgeMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *BridgeMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *BridgeMetrics {
	DefaultMetrics = &BridgeMetrics{
		ActionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectSubsystem,
				Name:      "actions_total",
				Help:      "Total AnkiConnect actions dispatched by action and status",
			},
			[]string{"action", "status"},
		),

		ActionDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: connectSubsystem,
				Name:      "action_duration_seconds",
				Help:      "End-to-end action handling latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1.0, 5.0, 30.0, 120.0},
			},
			[]string{"action"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectSubsystem,
				Name:      "errors_total",
				Help:      "Total action errors by action and error type",
			},
			[]string{"action", "error_code"},
		),

		NotesAddedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectSubsystem,
				Name:      "notes_added_total",
				Help:      "Total addNote outcomes",
			},
			[]string{"outcome"},
		),

		CacheDropsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: connectSubsystem,
				Name:      "cache_drops_total",
				Help:      "Total admin-initiated list cache drops",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request or note validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeMissingKey indicates no Renshuu API key was available.
	ErrorCodeMissingKey ErrorCode = "missing_key"

	// ErrorCodeUpstream indicates a Renshuu API failure.
	ErrorCodeUpstream ErrorCode = "upstream"

	// ErrorCodeCache indicates a local cache failure.
	ErrorCodeCache ErrorCode = "cache"

	// ErrorCodeUnsupported indicates an action this bridge does not implement.
	ErrorCodeUnsupported ErrorCode = "unsupported"

	// ErrorCodeInternal indicates an internal error.
	ErrorCodeInternal ErrorCode = "internal"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordAction records a completed action dispatch.
//
// # Inputs
//
//   - action: The AnkiConnect action name.
//   - success: Whether the action completed successfully.
func (m *BridgeMetrics) RecordAction(action string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ActionsTotal.WithLabelValues(action, status).Inc()
}

// RecordDuration records how long an action took.
//
// # Inputs
//
//   - action: The AnkiConnect action name.
//   - seconds: Handling time in seconds.
func (m *BridgeMetrics) RecordDuration(action string, seconds float64) {
	m.ActionDurationSeconds.WithLabelValues(action).Observe(seconds)
}

// RecordError records an action error.
//
// # Inputs
//
//   - action: The action where the error occurred.
//   - code: The error type code.
func (m *BridgeMetrics) RecordError(action string, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(action, string(code)).Inc()
}

// RecordNoteAdded records an addNote outcome.
//
// # Inputs
//
//   - matched: Whether a Renshuu term matched and was scheduled.
func (m *BridgeMetrics) RecordNoteAdded(matched bool) {
	outcome := "added"
	if !matched {
		outcome = "no_match"
	}
	m.NotesAddedTotal.WithLabelValues(outcome).Inc()
}

// RecordCacheDrop increments the cache drop counter.
func (m *BridgeMetrics) RecordCacheDrop() {
	m.CacheDropsTotal.Inc()
}
