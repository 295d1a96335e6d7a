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
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/cache"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// SchemaConfig tunes schema learning.
type SchemaConfig struct {
	MaxHistoricalRows int           `json:"max_historical_rows"`
	MinRows           int           `json:"min_rows_for_inference"`
	CacheTTL          time.Duration `json:"cache_ttl"`
}

// DefaultSchemaConfig returns the learning defaults.
func DefaultSchemaConfig() SchemaConfig {
	return SchemaConfig{MaxHistoricalRows: 1000, MinRows: 5, CacheTTL: 24 * time.Hour}
}

// SchemaResult is a learned schema with its change set.
type SchemaResult struct {
	Header
	FieldTypes    kernel.Schema   `json:"field_types"`
	SchemaChanges []kernel.Change `json:"schema_changes"`
	DataSummary   SchemaSummary   `json:"data_summary"`
}

// SchemaSummary describes what a learn cycle looked at.
type SchemaSummary struct {
	NewRows        int       `json:"new_rows"`
	HistoricalRows int       `json:"historical_rows"`
	Columns        []string  `json:"columns"`
	SnapshotAt     time.Time `json:"snapshot_at,omitzero"`
}

// SchemaEvolved tells the preprocessing agent that a schema changed.
type SchemaEvolved struct {
	Identifier    string          `json:"identifier"`
	SchemaChanges []kernel.Change `json:"schema_changes"`
	FieldTypes    kernel.Schema   `json:"field_types"`
	AgentID       string          `json:"agent_id"`
}

// EventIdentifier implements bus.Identified.
func (s SchemaEvolved) EventIdentifier() string { return s.Identifier }

// SchemaAgent infers, merges and versions schemas.
type SchemaAgent struct {
	id     string
	deps   Deps
	cfg    SchemaConfig
	logger *logging.Logger
}

// NewSchemaAgent returns the schema-learning agent. Zero config fields
// take defaults.
func NewSchemaAgent(id string, deps Deps, cfg SchemaConfig) *SchemaAgent {
	if id == "" {
		id = SchemaAgentID
	}
	def := DefaultSchemaConfig()
	if cfg.MaxHistoricalRows <= 0 {
		cfg.MaxHistoricalRows = def.MaxHistoricalRows
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = def.MinRows
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	deps = deps.withDefaults()
	return &SchemaAgent{id: id, deps: deps, cfg: cfg, logger: deps.Logger.ForAgent(id)}
}

// ID returns the agent id.
func (a *SchemaAgent) ID() string { return a.id }

type schemaFingerprint struct {
	Config SchemaConfig `json:"config"`
	Data   string       `json:"data"`
}

// Learn infers the schema of raw and merges it with history.
//
// # Description
//
// The new batch is inferred and merged with the schema inferred over up
// to MaxHistoricalRows stored rows (derived columns excluded). The change
// delta is taken against the latest stored snapshot, or the historical
// schema when no snapshot exists yet. The merged schema becomes the new
// snapshot. A non-empty delta is also published as schema_evolved to the
// preprocessing agent.
func (a *SchemaAgent) Learn(ctx context.Context, identifier string, raw *value.Batch, source string) *SchemaResult {
	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.learn(ctx, identifier, raw, source)
	done(result.Status)
	return result
}

func (a *SchemaAgent) learn(ctx context.Context, identifier string, raw *value.Batch, source string) *SchemaResult {
	key, err := cache.Fingerprint(a.id, identifier, schemaFingerprint{Config: a.cfg, Data: batchDigest(raw)})
	if err != nil {
		a.logger.Warn("fingerprint failed, skipping cache", "identifier", identifier, "error", err)
	}
	if key != "" {
		var cached SchemaResult
		if a.deps.Cache.Get(ctx, key, &cached) {
			a.logger.Info("returning cached schema", "identifier", identifier)
			a.deps.publish(ctx, bus.SchemaLearned, &cached, source)
			return &cached
		}
	}

	if raw.Len() < a.cfg.MinRows {
		a.logger.Warn("insufficient data for schema inference", "identifier", identifier, "rows", raw.Len())
		result := a.result(identifier, source, StatusInsufficientData)
		result.Message = fmt.Sprintf("Need at least %d rows", a.cfg.MinRows)
		result.DataSummary.NewRows = raw.Len()
		a.deps.publish(ctx, bus.SchemaLearned, result, source)
		return result
	}

	fieldTypes := kernel.Infer(raw)
	history, err := a.deps.Store.Window(ctx, identifier, a.cfg.MaxHistoricalRows)
	if err != nil {
		return a.fail(ctx, identifier, source, err)
	}
	var historical kernel.Schema
	if history.Len() > 0 {
		historical = kernel.Infer(baseBatch(history))
		fieldTypes = kernel.Merge(fieldTypes, historical)
	}

	previous, snapshotAt, err := a.deps.Store.LatestSchema(ctx, identifier)
	switch {
	case errors.Is(err, store.ErrNotFound):
		previous = historical
	case err != nil:
		return a.fail(ctx, identifier, source, err)
	}
	var changes []kernel.Change
	if previous != nil {
		changes = kernel.Delta(previous, fieldTypes)
	}

	if err := a.deps.Store.SaveSchema(ctx, identifier, fieldTypes, a.deps.now()); err != nil {
		a.logger.Warn("saving schema snapshot failed", "identifier", identifier, "error", err)
	}

	result := a.result(identifier, source, StatusSuccess)
	result.FieldTypes = fieldTypes
	if len(changes) > 0 {
		result.SchemaChanges = changes
	}
	result.DataSummary = SchemaSummary{
		NewRows:        raw.Len(),
		HistoricalRows: history.Len(),
		Columns:        sortedColumns(fieldTypes),
		SnapshotAt:     snapshotAt,
	}
	if key != "" {
		a.deps.Cache.Set(ctx, key, result, a.cfg.CacheTTL)
	}
	a.deps.publish(ctx, bus.SchemaLearned, result, source)

	if len(changes) > 0 {
		a.deps.publish(ctx, bus.SchemaEvolved, SchemaEvolved{
			Identifier:    identifier,
			SchemaChanges: changes,
			FieldTypes:    fieldTypes,
			AgentID:       a.id,
		}, bus.TargetEDA)
	}
	a.logger.Info("schema learned", "identifier", identifier, "columns", len(fieldTypes), "changes", len(changes))
	return result
}

// Latest returns the stored snapshot without learning. A missing snapshot
// is a no_data result.
func (a *SchemaAgent) Latest(ctx context.Context, identifier, source string) *SchemaResult {
	schema, at, err := a.deps.Store.LatestSchema(ctx, identifier)
	switch {
	case errors.Is(err, store.ErrNotFound):
		result := a.result(identifier, source, StatusNoData)
		result.Message = "No schema learned yet"
		return result
	case err != nil:
		result := a.result(identifier, source, StatusError)
		result.Message = err.Error()
		return result
	}
	result := a.result(identifier, source, StatusSuccess)
	result.FieldTypes = schema
	result.DataSummary = SchemaSummary{Columns: sortedColumns(schema), SnapshotAt: at}
	return result
}

func (a *SchemaAgent) result(identifier, source string, status Status) *SchemaResult {
	return &SchemaResult{
		Header:        a.deps.header(a.id, identifier, source, status),
		FieldTypes:    kernel.Schema{},
		SchemaChanges: []kernel.Change{},
	}
}

func (a *SchemaAgent) fail(ctx context.Context, identifier, source string, err error) *SchemaResult {
	a.logger.Error("schema learning failed", "identifier", identifier, "error", err)
	result := a.result(identifier, source, StatusError)
	result.Message = err.Error()
	a.deps.publish(ctx, bus.SchemaLearningError, result, source)
	return result
}

func sortedColumns(s kernel.Schema) []string {
	return slices.Sorted(maps.Keys(s))
}
