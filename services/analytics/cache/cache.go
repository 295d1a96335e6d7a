// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache fronts agent results with a TTL key-value store.
//
// # Description
//
// Cache wraps a Backend (embedded badger or remote redis) with a fixed key
// prefix, JSON encoding and retry with exponential backoff. It degrades
// rather than fails: when the backend is unreachable, reads report a miss
// and writes are dropped with a warning. Nothing downstream depends on a
// cache hit for correctness.
//
// # Thread Safety
//
// Cache is safe for concurrent use if its Backend is.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/observability"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "multi_agent_cache:"

// Retry defaults.
const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is the raw store under Cache.
//
// # Description
//
// Get must return ErrMiss (possibly wrapped) for absent keys; any other
// error is treated as transient and retried.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// StatsReporter is implemented by backends that can describe their state
// for health checks.
type StatsReporter interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// Health is the cache health report served by /health.
type Health struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// Options configures a Cache.
type Options struct {
	// Attempts is the number of tries per operation. Default 3.
	Attempts int

	// BaseDelay is the first backoff delay; attempt n waits BaseDelay*2^n.
	// Default 1s.
	BaseDelay time.Duration

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// Cache is the JSON, prefixed, retrying facade over a Backend.
type Cache struct {
	backend   Backend
	attempts  int
	baseDelay time.Duration
	logger    *logging.Logger
	metrics   *observability.Metrics
}

// New wraps backend.
func New(backend Backend, opts Options) *Cache {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Cache{
		backend:   backend,
		attempts:  opts.Attempts,
		baseDelay: opts.BaseDelay,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Get decodes the value stored under key into out.
//
// # Outputs
//
//   - bool: True on a hit. Misses, backend failures and undecodable
//     values all report false.
func (c *Cache) Get(ctx context.Context, key string, out any) bool {
	if c == nil || c.backend == nil {
		return false
	}
	var data []byte
	err := c.retry(ctx, "get", func(ctx context.Context) error {
		var err error
		data, err = c.backend.Get(ctx, KeyPrefix+key)
		return err
	})
	switch {
	case errors.Is(err, ErrMiss):
		c.metrics.RecordCache("get", "miss")
		return false
	case err != nil:
		c.metrics.RecordCache("get", "error")
		c.logger.Warn("cache get failed, treating as miss", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.metrics.RecordCache("get", "error")
		c.logger.Warn("cache value undecodable, treating as miss", "key", key, "error", err)
		return false
	}
	c.metrics.RecordCache("get", "hit")
	return true
}

// Set stores v under key for ttl. Failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.backend == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.metrics.RecordCache("set", "error")
		c.logger.Warn("cache value not serializable, dropping write", "key", key, "error", err)
		return
	}
	err = c.retry(ctx, "set", func(ctx context.Context) error {
		return c.backend.Set(ctx, KeyPrefix+key, data, ttl)
	})
	if err != nil {
		c.metrics.RecordCache("set", "error")
		c.logger.Warn("cache set failed, dropping write", "key", key, "error", err)
		return
	}
	c.metrics.RecordCache("set", "ok")
}

// Delete removes key. Failures are logged and dropped.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil || c.backend == nil {
		return
	}
	err := c.retry(ctx, "delete", func(ctx context.Context) error {
		err := c.backend.Delete(ctx, KeyPrefix+key)
		if errors.Is(err, ErrMiss) {
			return nil
		}
		return err
	})
	if err != nil {
		c.metrics.RecordCache("delete", "error")
		c.logger.Warn("cache delete failed", "key", key, "error", err)
		return
	}
	c.metrics.RecordCache("delete", "ok")
}

// Health pings the backend and folds in its stats when available.
func (c *Cache) Health(ctx context.Context) Health {
	if c == nil || c.backend == nil {
		return Health{Status: "unhealthy", Details: map[string]any{"error": "no cache backend"}}
	}
	if err := c.backend.Ping(ctx); err != nil {
		return Health{Status: "unhealthy", Details: map[string]any{"error": err.Error()}}
	}
	h := Health{Status: "healthy"}
	if sr, ok := c.backend.(StatsReporter); ok {
		if stats, err := sr.Stats(ctx); err == nil {
			h.Details = stats
		}
	}
	return h
}

// Close closes the backend.
func (c *Cache) Close() error {
	if c == nil || c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

// retry runs op up to c.attempts times, sleeping baseDelay*2^attempt
// between tries. ErrMiss and context errors end the loop immediately.
func (c *Cache) retry(ctx context.Context, name string, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if err = op(ctx); err == nil || errors.Is(err, ErrMiss) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.attempts-1 {
			break
		}
		delay := c.baseDelay * time.Duration(1<<attempt)
		c.logger.Debug("cache operation failed, retrying", "op", name, "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("cache %s after %d attempts: %w", name, c.attempts, err)
}
