// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package insights asks an LLM for free-text commentary on analytics
// summaries. It never fails its caller: every failure becomes a fixed
// placeholder string.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/cache"
	"github.com/AleutianAI/AleutianPulse/services/llm"
)

// Placeholder answers.
const (
	Unavailable   = "AI insights unavailable: API key not configured"
	NoInsights    = "No insights available"
	failurePrefix = "Failed to retrieve AI insights: "
)

// Oracle defaults.
const (
	DefaultCacheTTL    = time.Hour
	DefaultTimeout     = 30 * time.Second
	DefaultMaxTokens   = 200
	DefaultTemperature = 0.7
)

const cacheAgent = "ai_insights"

// Options tunes an Oracle.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	CacheTTL    time.Duration
	Logger      *logging.Logger
}

// Oracle is the best-effort enrichment source.
type Oracle struct {
	client llm.LLMClient
	cache  *cache.Cache
	opts   Options
	logger *logging.Logger
}

// New returns an oracle. A nil client makes every call return
// Unavailable; a nil cache disables response caching.
func New(client llm.LLMClient, c *cache.Cache, opts Options) *Oracle {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Oracle{client: client, cache: c, opts: opts, logger: logger}
}

// Failed formats the placeholder for a failed request.
func Failed(err error) string {
	return failurePrefix + err.Error()
}

type promptKey struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// Ask sends "<prompt>: <data as JSON>" and returns the trimmed answer or
// a placeholder. Successful answers are cached for CacheTTL under a
// fingerprint of the prompt and generation parameters.
func (o *Oracle) Ask(ctx context.Context, identifier, prompt string, data any) string {
	if o == nil || o.client == nil {
		return Unavailable
	}
	full := prompt
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Failed(fmt.Errorf("encode prompt data: %w", err))
		}
		full = prompt + ": " + string(encoded)
	}

	key, err := cache.Fingerprint(cacheAgent, identifier, promptKey{
		Prompt:      full,
		Model:       o.opts.Model,
		MaxTokens:   o.opts.MaxTokens,
		Temperature: o.opts.Temperature,
	})
	if err == nil {
		var cached string
		if o.cache.Get(ctx, key, &cached) && cached != "" {
			o.logger.Debug("returning cached AI insights", "identifier", identifier)
			return cached
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	answer, err := o.client.Generate(callCtx, full, llm.GenerationParams{
		Temperature: llm.Float32(o.opts.Temperature),
		MaxTokens:   llm.Int(o.opts.MaxTokens),
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			o.logger.Error("AI insights request timed out", "identifier", identifier)
			return Failed(fmt.Errorf("request timed out after %s", o.opts.Timeout))
		}
		o.logger.Error("AI insights request failed", "identifier", identifier, "error", err)
		return Failed(err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		o.logger.Warn("no valid insights returned", "identifier", identifier)
		return NoInsights
	}
	if key != "" {
		o.cache.Set(ctx, key, answer, o.opts.CacheTTL)
	}
	return answer
}

// Summary asks for trends and anomalies in a per-column describe.
func (o *Oracle) Summary(ctx context.Context, identifier, agentID string, summary any) string {
	prompt := fmt.Sprintf("Analyze this network data for trends and anomalies from agent %s. Summary statistics", agentID)
	return o.Ask(ctx, identifier, prompt, summary)
}
