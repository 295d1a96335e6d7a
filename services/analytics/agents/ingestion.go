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
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/pkg/validation"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/connectors"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// RawDataReady announces a fetched batch before preprocessing.
type RawDataReady struct {
	Identifier  string                  `json:"identifier"`
	RawData     []value.Record          `json:"raw_data"`
	Config      kernel.PreprocessConfig `json:"config"`
	SourceAgent string                  `json:"source_agent"`
	RunID       string                  `json:"run_id"`
}

// EventIdentifier implements bus.Identified.
func (r RawDataReady) EventIdentifier() string { return r.Identifier }

// IngestionFailed is the ingestion_error payload.
type IngestionFailed struct {
	Identifier string `json:"identifier"`
	SourceType string `json:"source_type"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error"`
	AgentID    string `json:"agent_id"`
	RunID      string `json:"run_id"`
}

// EventIdentifier implements bus.Identified.
func (i IngestionFailed) EventIdentifier() string { return i.Identifier }

// IngestionAgent pulls records from a source and hands them to
// preprocessing.
type IngestionAgent struct {
	id     string
	deps   Deps
	eda    *EDAAgent
	logger *logging.Logger
}

// NewIngestionAgent returns the ingestion agent. eda runs synchronously
// after every successful fetch.
func NewIngestionAgent(id string, deps Deps, eda *EDAAgent) *IngestionAgent {
	if id == "" {
		id = IngestionAgentID
	}
	deps = deps.withDefaults()
	return &IngestionAgent{id: id, deps: deps, eda: eda, logger: deps.Logger.ForAgent(id)}
}

// ID returns the agent id.
func (a *IngestionAgent) ID() string { return a.id }

// Ingest fetches the records d names and preprocesses them.
//
// # Description
//
// Inline csv data is used as is. Every other descriptor is resolved in
// the connector registry and fetched under retry, waiting
// RetryBaseDelay*2^attempt between attempts. On success raw_data_ready is
// published and the preprocessing result is returned.
//
// # Outputs
//
//   - *EDAResult: The preprocessing result.
//   - error: ErrValidation for a bad identifier, descriptor, config or
//     connector type; nothing is published then. ErrUpstream once every
//     attempt failed; ingestion_error is published first.
//
// # Limitations
//
// The whole batch is held in memory.
func (a *IngestionAgent) Ingest(ctx context.Context, identifier string, d connectors.Descriptor, cfg kernel.PreprocessConfig) (*EDAResult, error) {
	if err := validation.ValidateIdentifier(identifier); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	cfg = cfg.WithDefaults()

	ctx, done := a.deps.track(ctx, a.id, identifier)
	result, err := a.ingest(ctx, identifier, d, cfg)
	if err != nil {
		done(StatusError)
		return nil, err
	}
	done(result.Status)
	return result, nil
}

func (a *IngestionAgent) ingest(ctx context.Context, identifier string, d connectors.Descriptor, cfg kernel.PreprocessConfig) (*EDAResult, error) {
	runID := uuid.NewString()
	logger := a.logger.With("identifier", identifier, "run_id", runID, "source_type", d.Type)

	batch, inline, err := d.InlineData()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if !inline {
		start := time.Now()
		res, err := a.deps.Connectors.Fetch(ctx, d, connectors.RetryOptions{
			BaseDelay: a.deps.RetryBaseDelay,
			Logger:    logger,
			Metrics:   a.deps.Metrics,
		})
		if errors.Is(err, connectors.ErrInvalidConfig) || errors.Is(err, connectors.ErrUnknownConnector) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if err != nil {
			logger.Error("ingestion failed", "attempts", res.Attempts, "error", err)
			a.deps.publish(ctx, bus.IngestionError, IngestionFailed{
				Identifier: identifier,
				SourceType: d.Type,
				Attempts:   res.Attempts,
				Error:      err.Error(),
				AgentID:    a.id,
				RunID:      runID,
			}, "")
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		batch = res.Batch
		logger.Info("source fetched", "rows", batch.Len(), "attempts", res.Attempts, "duration", time.Since(start))
	} else {
		logger.Info("using inline records", "rows", batch.Len())
	}

	var rows []value.Record
	if batch != nil {
		rows = batch.Rows
	}
	if rows == nil {
		rows = []value.Record{}
	}
	a.deps.publish(ctx, bus.RawDataReady, RawDataReady{
		Identifier:  identifier,
		RawData:     rows,
		Config:      cfg,
		SourceAgent: d.AgentID,
		RunID:       runID,
	}, "")

	if a.eda == nil {
		return nil, fmt.Errorf("ingest %s: no preprocessing agent", identifier)
	}
	return a.eda.Preprocess(ctx, identifier, batch, cfg, a.id)
}
