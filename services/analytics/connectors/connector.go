// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package connectors pulls raw telemetry from external sources.
//
// # Description
//
// Every source kind (csv, sql, google_sheets, airtable, api) implements
// Connector and is looked up by type in a Registry. Connectors only
// produce records; typing, cleaning and persistence happen downstream.
// Fetch wraps a connector call in a per-attempt timeout and exponential
// backoff.
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/pkg/validation"
	"github.com/AleutianAI/AleutianPulse/services/analytics/observability"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Source types.
const (
	TypeCSV          = "csv"
	TypeSQL          = "sql"
	TypeGoogleSheets = "google_sheets"
	TypeAirtable     = "airtable"
	TypeAPI          = "api"
)

// Descriptor defaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 3
	DefaultAgentID       = "ingestion_agent_1"
)

var (
	// ErrInvalidConfig marks a descriptor or connector config that can never
	// succeed. It is not retried.
	ErrInvalidConfig = errors.New("invalid source config")

	// ErrUnknownConnector is returned for an unregistered source type.
	ErrUnknownConnector = errors.New("unknown connector type")
)

var tracer = otel.Tracer("pulse.connectors")

// Descriptor names a source and how to pull from it.
type Descriptor struct {
	// Type selects the connector.
	Type string `json:"type" validate:"required"`

	// Config is the connector-specific configuration.
	Config map[string]any `json:"config" validate:"required"`

	// TimeoutSeconds bounds each attempt. Default 30.
	TimeoutSeconds float64 `json:"timeout,omitempty" validate:"gte=0"`

	// RetryAttempts is the total number of attempts. Default 3.
	RetryAttempts int `json:"retry_attempts,omitempty" validate:"gte=0"`

	// AgentID attributes the ingestion. Default ingestion_agent_1.
	AgentID string `json:"agent_id,omitempty"`
}

// WithDefaults fills timeout, retry attempts and agent id.
func (d Descriptor) WithDefaults() Descriptor {
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = DefaultTimeout.Seconds()
	}
	if d.RetryAttempts <= 0 {
		d.RetryAttempts = DefaultRetryAttempts
	}
	if d.AgentID == "" {
		d.AgentID = DefaultAgentID
	}
	return d
}

// Timeout returns the per-attempt timeout.
func (d Descriptor) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds * float64(time.Second))
}

// Validate checks that a type and a config object are present.
func (d Descriptor) Validate() error {
	if err := validation.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// InlineData returns the records of an inline csv descriptor, if it has
// any.
func (d Descriptor) InlineData() (*value.Batch, bool, error) {
	if d.Type != TypeCSV {
		return nil, false, nil
	}
	raw, ok := d.Config["data"]
	if !ok {
		return nil, false, nil
	}
	b, err := inlineBatch(raw)
	if err != nil {
		return nil, true, err
	}
	return b, true, nil
}

// Connector produces records from one kind of source.
type Connector interface {
	// Type is the descriptor type this connector serves.
	Type() string

	// Fetch pulls every record the config names. Row order follows the
	// source.
	Fetch(ctx context.Context, config map[string]any) (*value.Batch, error)
}

// Registry maps source types to connectors.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns a registry holding cs.
func NewRegistry(cs ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector)}
	for _, c := range cs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for c.Type().
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Type()] = c
}

// Get returns the connector for sourceType.
func (r *Registry) Get(sourceType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, sourceType)
	}
	return c, nil
}

// Types lists the registered source types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connectors))
	for t := range r.connectors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RetryOptions tunes Fetch.
type RetryOptions struct {
	// BaseDelay is the backoff unit: attempt n (from 0) waits
	// BaseDelay*2^n before the next try. Default 1s.
	BaseDelay time.Duration

	// OnRetry, when set, is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// FetchResult is a successful fetch.
type FetchResult struct {
	Batch    *value.Batch
	Attempts int
}

// Fetch resolves the descriptor's connector and calls it under retry.
//
// # Description
//
// Each attempt runs under its own timeout of d.Timeout(). Errors wrapping
// ErrInvalidConfig end the loop immediately, as does cancellation of ctx.
// Between attempts Fetch sleeps BaseDelay*2^attempt.
//
// # Outputs
//
//   - FetchResult: The records and the number of attempts used.
//   - error: ErrInvalidConfig or ErrUnknownConnector for client errors,
//     otherwise the last attempt's error once attempts are exhausted.
func (r *Registry) Fetch(ctx context.Context, d Descriptor, opts RetryOptions) (FetchResult, error) {
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return FetchResult{}, err
	}
	conn, err := r.Get(d.Type)
	if err != nil {
		return FetchResult{}, err
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	ctx, span := tracer.Start(ctx, "connectors.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("connector.type", d.Type), attribute.Int("connector.max_attempts", d.RetryAttempts))

	var lastErr error
	for attempt := 0; attempt < d.RetryAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.Timeout())
		batch, err := conn.Fetch(attemptCtx, d.Config)
		cancel()
		if err == nil {
			opts.Metrics.RecordConnectorAttempt(d.Type, "success")
			span.SetAttributes(attribute.Int("connector.attempts", attempt+1), attribute.Int("connector.rows", batch.Len()))
			return FetchResult{Batch: batch, Attempts: attempt + 1}, nil
		}
		lastErr = err

		if errors.Is(err, ErrInvalidConfig) {
			opts.Metrics.RecordConnectorAttempt(d.Type, "failed")
			span.SetStatus(codes.Error, err.Error())
			return FetchResult{Attempts: attempt + 1}, err
		}
		if ctx.Err() != nil {
			opts.Metrics.RecordConnectorAttempt(d.Type, "failed")
			span.SetStatus(codes.Error, ctx.Err().Error())
			return FetchResult{Attempts: attempt + 1}, fmt.Errorf("fetch %s: %w", d.Type, ctx.Err())
		}
		if attempt == d.RetryAttempts-1 {
			break
		}

		opts.Metrics.RecordConnectorAttempt(d.Type, "retry")
		delay := opts.BaseDelay * time.Duration(1<<attempt)
		logger.Warn("connector fetch failed, retrying",
			"type", d.Type, "attempt", attempt+1, "max_attempts", d.RetryAttempts, "delay", delay, "error", err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, delay, err)
		}
		select {
		case <-ctx.Done():
			return FetchResult{Attempts: attempt + 1}, fmt.Errorf("fetch %s: %w", d.Type, ctx.Err())
		case <-time.After(delay):
		}
	}

	opts.Metrics.RecordConnectorAttempt(d.Type, "failed")
	span.SetStatus(codes.Error, lastErr.Error())
	return FetchResult{Attempts: d.RetryAttempts}, fmt.Errorf("fetch %s after %d attempts: %w", d.Type, d.RetryAttempts, lastErr)
}

// decodeConfig maps a loosely-typed config onto out and validates it.
func decodeConfig(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validation.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// inlineBatch accepts inline data as a CSV string, a JSON array of
// objects, or already-decoded records.
func inlineBatch(raw any) (*value.Batch, error) {
	switch data := raw.(type) {
	case string:
		b, err := value.ReadCSVString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: inline csv: %v", ErrInvalidConfig, err)
		}
		return b, nil
	case []any:
		recs, err := value.FromAnySlice(data)
		if err != nil {
			return nil, fmt.Errorf("%w: inline data: %v", ErrInvalidConfig, err)
		}
		return value.NewBatch(recs), nil
	case []map[string]any:
		recs, err := value.FromMaps(data)
		if err != nil {
			return nil, fmt.Errorf("%w: inline data: %v", ErrInvalidConfig, err)
		}
		return value.NewBatch(recs), nil
	case []value.Record:
		return value.NewBatch(data), nil
	case *value.Batch:
		return data, nil
	default:
		return nil, fmt.Errorf("%w: inline data has type %T", ErrInvalidConfig, raw)
	}
}
