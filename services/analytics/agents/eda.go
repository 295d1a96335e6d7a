// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/cache"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// DefaultEDACacheTTL is how long a preprocessing result stays cached.
const DefaultEDACacheTTL = time.Hour

// Messages of the early-exit results.
const (
	msgNoData    = "No data provided"
	msgNoNumeric = "No numeric data to analyze"
)

// EDAResult is the outcome of one preprocessing run.
type EDAResult struct {
	Header
	FieldTypes     kernel.Schema                 `json:"field_types,omitempty"`
	NumericColumns []string                      `json:"numeric_columns,omitempty"`
	Summary        map[string]kernel.Description `json:"summary,omitempty"`
	Clusters       int                           `json:"clusters"`
	AIInsights     string                        `json:"ai_insights,omitempty"`
	Rows           int                           `json:"rows"`
}

// DataReady announces freshly persisted rows.
type DataReady struct {
	Identifier  string   `json:"identifier"`
	NumericCols []string `json:"numeric_cols"`
	ClusterCol  string   `json:"cluster_col"`
	AgentID     string   `json:"agent_id"`
	Rows        int      `json:"rows"`
}

// EventIdentifier implements bus.Identified.
func (d DataReady) EventIdentifier() string { return d.Identifier }

// EDAAgent cleans, transforms, clusters and persists raw batches.
type EDAAgent struct {
	id       string
	deps     Deps
	cacheTTL time.Duration
	logger   *logging.Logger

	mu    sync.RWMutex
	hints map[string]kernel.Schema
}

// NewEDAAgent returns the preprocessing agent. An empty id uses
// EDAAgentID.
func NewEDAAgent(id string, deps Deps) *EDAAgent {
	if id == "" {
		id = EDAAgentID
	}
	deps = deps.withDefaults()
	return &EDAAgent{
		id:       id,
		deps:     deps,
		cacheTTL: DefaultEDACacheTTL,
		logger:   deps.Logger.ForAgent(id),
		hints:    make(map[string]kernel.Schema),
	}
}

// ID returns the agent id.
func (a *EDAAgent) ID() string { return a.id }

// AdaptSchema records a learned schema for identifier. Later runs use it
// to label columns whose own inference is unknown.
func (a *EDAAgent) AdaptSchema(identifier string, schema kernel.Schema) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hints[identifier] = schema.Clone()
	a.logger.Info("adapting preprocessing to evolved schema", "identifier", identifier, "columns", len(schema))
}

func (a *EDAAgent) hint(identifier string) kernel.Schema {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hints[identifier]
}

type edaFingerprint struct {
	Config kernel.PreprocessConfig `json:"config"`
	Data   string                  `json:"data"`
}

// Preprocess runs the preprocessing pipeline over raw.
//
// # Description
//
// Steps, in order: validate and default cfg, cache lookup, type
// inference, early exit on an empty batch or one without numeric
// columns, clean, transform, cluster, summarize, AI insights, publish
// eda_complete, cache, persist in cfg.BatchSize batches, publish
// data_ready to the visualization subscriber.
//
// Per-column clean and transform failures are logged and skipped. A
// clustering failure labels every row -1. A persistence failure turns the
// run into an error result and evicts the cached success.
//
// # Outputs
//
//   - *EDAResult: Always set unless err is non-nil.
//   - error: ErrValidation when cfg is invalid. Nothing is published then.
func (a *EDAAgent) Preprocess(ctx context.Context, identifier string, raw *value.Batch, cfg kernel.PreprocessConfig, source string) (*EDAResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	cfg = cfg.WithDefaults()

	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.run(ctx, identifier, raw, cfg, source)
	done(result.Status)
	return result, nil
}

func (a *EDAAgent) run(ctx context.Context, identifier string, raw *value.Batch, cfg kernel.PreprocessConfig, source string) *EDAResult {
	key, err := cache.Fingerprint(a.id, identifier, edaFingerprint{Config: cfg, Data: batchDigest(raw)})
	if err != nil {
		a.logger.Warn("fingerprint failed, skipping cache", "identifier", identifier, "error", err)
	}
	if key != "" {
		var cached EDAResult
		if a.deps.Cache.Get(ctx, key, &cached) {
			a.logger.Info("returning cached preprocessing result", "identifier", identifier)
			a.deps.publish(ctx, bus.EDAComplete, &cached, source)
			return &cached
		}
	}

	if raw == nil || raw.Len() == 0 {
		a.logger.Warn("no data provided", "identifier", identifier)
		return a.fail(ctx, identifier, source, StatusNoData, msgNoData)
	}

	schema := kernel.Infer(raw)
	if hint := a.hint(identifier); hint != nil {
		for col, label := range schema {
			if label == kernel.LabelUnknown && hint[col] != "" && hint[col] != kernel.LabelMixed {
				schema[col] = hint[col]
			}
		}
	}
	numeric := schema.Columns(kernel.LabelNumeric, raw.Columns)
	if len(numeric) == 0 {
		a.logger.Warn("no numeric columns found", "identifier", identifier)
		return a.fail(ctx, identifier, source, StatusError, msgNoNumeric)
	}

	cleaned, errs := kernel.Clean(raw, schema, cfg)
	for _, err := range errs {
		a.logger.Warn("column clean failed", "identifier", identifier, "error", err)
	}
	transformed, errs := kernel.Transform(cleaned, schema, cfg)
	for _, err := range errs {
		a.logger.Warn("column transform failed", "identifier", identifier, "error", err)
	}

	features := kernel.NumericMatrix(transformed, numeric)
	labels, err := kernel.DetectClusters(features, cfg.ClusteringMethod, cfg.ClusteringParams)
	if err != nil {
		a.logger.Warn("clustering failed, labelling rows as noise", "identifier", identifier, "method", cfg.ClusteringMethod, "error", err)
	}
	clusterCol := make([]value.Value, len(labels))
	for i, l := range labels {
		clusterCol[i] = value.Int(int64(l))
	}
	transformed.SetColumn(ClusterColumn, clusterCol)

	summary := make(map[string]kernel.Description, len(numeric))
	for _, col := range numeric {
		xs, _ := series(transformed, col)
		summary[col] = kernel.Describe(xs)
	}

	result := &EDAResult{
		Header:         a.deps.header(a.id, identifier, source, StatusSuccess),
		FieldTypes:     schema,
		NumericColumns: numeric,
		Summary:        summary,
		Clusters:       kernel.CountClusters(labels),
		AIInsights:     a.deps.Oracle.Summary(ctx, identifier, a.id, summary),
		Rows:           transformed.Len(),
	}
	a.deps.publish(ctx, bus.EDAComplete, result, source)
	if key != "" {
		a.deps.Cache.Set(ctx, key, result, a.cacheTTL)
	}

	rows := a.normalizedRows(identifier, raw, schema, transformed)
	committed, err := a.deps.Store.InsertRows(ctx, rows, cfg.BatchSize)
	if err != nil {
		a.logger.Error("persisting rows failed", "identifier", identifier, "committed", committed, "error", err)
		if key != "" {
			a.deps.Cache.Delete(ctx, key)
		}
		return a.fail(ctx, identifier, source, StatusError, fmt.Sprintf("persist rows: %v", err))
	}
	a.logger.Info("rows persisted", "identifier", identifier, "rows", committed, "clusters", result.Clusters)

	a.deps.publish(ctx, bus.DataReady, DataReady{
		Identifier:  identifier,
		NumericCols: numeric,
		ClusterCol:  ClusterColumn,
		AgentID:     a.id,
		Rows:        committed,
	}, bus.TargetVisualization)
	return result
}

// normalizedRows attaches a coerced timestamp to every transformed row.
// The timestamp comes from the first timestamp-labelled column, or a
// column named "timestamp"; unparseable values fall back to now.
func (a *EDAAgent) normalizedRows(identifier string, raw *value.Batch, schema kernel.Schema, transformed *value.Batch) []store.Row {
	tsCol := "timestamp"
	if cols := schema.Columns(kernel.LabelTimestamp, raw.Columns); len(cols) > 0 {
		tsCol = cols[0]
	}
	now := a.deps.now()
	rows := make([]store.Row, transformed.Len())
	for i, rec := range transformed.Rows {
		ts, ok := raw.Rows[i].Get(tsCol).Time()
		if !ok {
			ts = now
		}
		rows[i] = store.Row{Identifier: identifier, Timestamp: ts, AgentID: a.id, Data: rec}
	}
	return rows
}

func (a *EDAAgent) fail(ctx context.Context, identifier, source string, status Status, msg string) *EDAResult {
	result := &EDAResult{Header: a.deps.header(a.id, identifier, source, status)}
	result.Message = msg
	a.deps.publish(ctx, bus.EDAError, result, source)
	return result
}
