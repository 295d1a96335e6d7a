// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agents implements the analytics agents and the event graph that
// ties them together.
//
// Agents are request-scoped handlers over shared collaborators (Deps).
// Every agent call produces a status-bearing result and publishes its
// events on the bus; only client errors (ErrValidation) and exhausted
// upstream retries (ErrUpstream) are returned as Go errors.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/cache"
	"github.com/AleutianAI/AleutianPulse/services/analytics/connectors"
	"github.com/AleutianAI/AleutianPulse/services/analytics/insights"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/observability"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Default agent ids.
const (
	IngestionAgentID    = "ingestion_agent_1"
	SchemaAgentID       = "schema_learning_agent_1"
	EDAAgentID          = "eda_agent_1"
	KPIAgentID          = "kpi_monitoring_agent_1"
	IssueAgentID        = "issue_detection_agent_1"
	RootCauseAgentID    = "root_cause_agent_1"
	PredictionAgentID   = "prediction_agent_1"
	OptimizationAgentID = "optimization_agent_1"
)

// DefaultAgentIDs lists every agent the graph runs, in pipeline order.
var DefaultAgentIDs = []string{
	IngestionAgentID,
	SchemaAgentID,
	EDAAgentID,
	KPIAgentID,
	IssueAgentID,
	RootCauseAgentID,
	PredictionAgentID,
	OptimizationAgentID,
}

// ClusterColumn holds the cluster label of every persisted row.
const ClusterColumn = "cluster"

var (
	// ErrValidation marks a client error: bad identifier, descriptor or
	// config. Nothing is retried.
	ErrValidation = errors.New("validation failed")

	// ErrUpstream marks a source that still failed after every retry.
	ErrUpstream = errors.New("upstream source failed")
)

var tracer = otel.Tracer("pulse.agents")

// Status tags every analytics result.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusNoData           Status = "no_data"
	StatusInsufficientData Status = "insufficient_data"
	StatusNoNumeric        Status = "no_numeric"
	StatusError            Status = "error"
)

// Header is the part every analytics result shares.
type Header struct {
	Identifier  string    `json:"identifier"`
	AgentID     string    `json:"agent_id"`
	SourceAgent string    `json:"source_agent,omitempty"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
}

// EventIdentifier implements bus.Identified.
func (h Header) EventIdentifier() string { return h.Identifier }

// OK reports whether the result succeeded.
func (h Header) OK() bool { return h.Status == StatusSuccess }

// ErrAgentRun marks a result whose status is error.
var ErrAgentRun = errors.New("agent run failed")

// Err returns nil unless the run ended with StatusError. Empty-data
// statuses are not errors.
func (h Header) Err() error {
	if h.Status != StatusError {
		return nil
	}
	return fmt.Errorf("%w: %s on %q: %s", ErrAgentRun, h.AgentID, h.Identifier, h.Message)
}

// Deps are the collaborators shared by every agent. Build once at start-up.
//
// Store and Bus are required. Cache, Oracle and Board may be nil: a nil
// cache always misses, a nil oracle answers with the unavailable
// placeholder and a nil board tracks nothing.
type Deps struct {
	Store      *store.Store
	Bus        *bus.Bus
	Cache      *cache.Cache
	Oracle     *insights.Oracle
	Connectors *connectors.Registry
	Board      *StatusBoard

	// Clock stamps results and coerces missing row timestamps. Defaults to
	// time.Now.
	Clock func() time.Time

	// RetryBaseDelay is the connector backoff unit. Default 1s.
	RetryBaseDelay time.Duration

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Connectors == nil {
		d.Connectors = connectors.NewRegistry()
	}
	return d
}

func (d Deps) now() time.Time { return d.Clock().UTC() }

func (d Deps) header(agentID, identifier, source string, status Status) Header {
	return Header{
		Identifier:  identifier,
		AgentID:     agentID,
		SourceAgent: source,
		Status:      status,
		IssuedAt:    d.now(),
	}
}

// publish broadcasts and logs instead of failing: the bus is best-effort.
func (d Deps) publish(ctx context.Context, eventType bus.EventType, data any, target string) {
	if d.Bus == nil {
		return
	}
	if err := d.Bus.Publish(ctx, eventType, data, target); err != nil {
		d.Logger.Warn("publish failed", "event_type", eventType, "error", err)
	}
}

// track opens a span and marks the agent running. The returned func
// closes both and records the run.
func (d Deps) track(ctx context.Context, agentID, identifier string) (context.Context, func(Status)) {
	ctx, span := tracer.Start(ctx, "agents."+agentID)
	span.SetAttributes(attribute.String("agent.id", agentID), attribute.String("identifier", identifier))
	d.Board.Set(agentID, StateRunning)
	start := time.Now()
	return ctx, func(status Status) {
		span.SetAttributes(attribute.String("agent.status", string(status)))
		if status == StatusError {
			span.SetStatus(codes.Error, "agent run failed")
			d.Board.Set(agentID, StateError)
		} else {
			d.Board.Set(agentID, StateIdle)
		}
		d.Metrics.RecordAgentRun(agentID, string(status), time.Since(start))
		span.End()
	}
}

// batchDigest hashes a batch's canonical JSON so fingerprints change when
// the data does.
func batchDigest(b *value.Batch) string {
	if b == nil {
		return cache.Digest(nil)
	}
	data, err := json.Marshal(b.Rows)
	if err != nil {
		return cache.Digest(nil)
	}
	return cache.Digest(data)
}

// derivedColumns returns the columns of b that the preprocessing pipeline
// added: the cluster label, rolling and trend features, and one-hot
// encodings of string columns.
func derivedColumns(b *value.Batch) map[string]bool {
	derived := map[string]bool{ClusterColumn: true}
	for _, col := range b.Columns {
		derived[kernel.RollAvgColumn(col)] = true
		derived[kernel.RollStdColumn(col)] = true
		derived[kernel.TrendColumn(col)] = true
	}
	for _, col := range b.Columns {
		if derived[col] || !stringColumn(b, col) {
			continue
		}
		prefix := col + "_"
		for _, other := range b.Columns {
			if strings.HasPrefix(other, prefix) && boolColumn(b, other) {
				derived[other] = true
			}
		}
	}
	for name := range derived {
		if !b.HasColumn(name) {
			delete(derived, name)
		}
	}
	return derived
}

// baseBatch drops derived columns so stored rows infer like raw ones.
func baseBatch(b *value.Batch) *value.Batch {
	derived := derivedColumns(b)
	if len(derived) == 0 {
		return b
	}
	rows := make([]value.Record, b.Len())
	for i, r := range b.Rows {
		rec := make(value.Record, len(r))
		for k, v := range r {
			if !derived[k] {
				rec[k] = v
			}
		}
		rows[i] = rec
	}
	return value.NewBatch(rows)
}

// numericColumns lists the non-derived columns whose present values are
// all numbers, in batch column order.
func numericColumns(b *value.Batch) []string {
	derived := derivedColumns(b)
	var out []string
	for _, col := range b.Columns {
		if derived[col] {
			continue
		}
		present, numeric := 0, 0
		for _, v := range b.Column(col) {
			if v.IsNull() {
				continue
			}
			present++
			if v.IsNumeric() {
				numeric++
			}
		}
		if present > 0 && numeric == present {
			out = append(out, col)
		}
	}
	return out
}

func stringColumn(b *value.Batch, col string) bool {
	return allKind(b, col, value.KindString)
}

func boolColumn(b *value.Batch, col string) bool {
	return allKind(b, col, value.KindBool)
}

func allKind(b *value.Batch, col string, kind value.Kind) bool {
	seen := false
	for _, v := range b.Column(col) {
		if v.IsNull() {
			continue
		}
		if v.Kind() != kind {
			return false
		}
		seen = true
	}
	return seen
}

// series returns the present values of col in row order with their row
// positions.
func series(b *value.Batch, col string) ([]float64, []int) {
	vals, present := b.Floats(col)
	return kernel.Compact(vals, present)
}

func finiteOr(f, fallback float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}
