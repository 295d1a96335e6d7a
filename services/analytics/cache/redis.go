// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores cache entries in Redis with SET EX.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to the redis:// or rediss:// URL.
//
// # Description
//
// The connection is lazy; a failed server is reported by Ping and by the
// first operation, which Cache then degrades to a miss.
func NewRedisBackend(url string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return &RedisBackend{client: redis.NewClient(opts)}, nil
}

// NewRedisBackendFromClient wraps an existing client.
func NewRedisBackendFromClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Stats reports used_memory and max_memory from INFO memory.
func (r *RedisBackend) Stats(ctx context.Context) (map[string]any, error) {
	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, err
	}
	fields := parseInfo(info)
	stats := map[string]any{"backend": "redis"}
	if v, ok := fields["used_memory_human"]; ok {
		stats["used_memory"] = v
	} else if v, ok := fields["used_memory"]; ok {
		stats["used_memory"] = v
	}
	if v, ok := fields["maxmemory_human"]; ok {
		stats["max_memory"] = v
	} else if v, ok := fields["maxmemory"]; ok {
		stats["max_memory"] = v
	}
	if v, ok := fields["used_memory"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats["used_memory_bytes"] = n
		}
	}
	return stats, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// parseInfo reads the key:value lines of a Redis INFO reply.
func parseInfo(info string) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			out[k] = v
		}
	}
	return out
}
