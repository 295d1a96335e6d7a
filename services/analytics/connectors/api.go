// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

type apiConfig struct {
	URL     string            `json:"url" validate:"required,url"`
	Params  map[string]any    `json:"params"`
	Headers map[string]string `json:"headers"`
	DataKey string            `json:"data_key"`
}

// APIConnector issues a GET and reads a JSON array of objects, either at
// the top level or under data_key. Nested objects are flattened with dot
// separated keys.
type APIConnector struct {
	Client *http.Client
}

// NewAPIConnector returns a generic HTTP connector.
func NewAPIConnector() *APIConnector {
	return &APIConnector{Client: http.DefaultClient}
}

func (c *APIConnector) Type() string { return TypeAPI }

// Fetch performs the request.
func (c *APIConnector) Fetch(ctx context.Context, config map[string]any) (*value.Batch, error) {
	var cfg apiConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if len(cfg.Params) > 0 {
		q := u.Query()
		for k, v := range cfg.Params {
			q.Set(k, fmt.Sprint(v))
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: api returned %s", ErrInvalidConfig, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("api returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode api response: %w", err)
	}
	if cfg.DataKey != "" {
		obj, ok := body.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: response is not an object, cannot read %q", ErrInvalidConfig, cfg.DataKey)
		}
		body = obj[cfg.DataKey]
	}

	var objects []map[string]any
	switch data := body.(type) {
	case []any:
		for i, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("api record %d is %T, want object", i, item)
			}
			objects = append(objects, m)
		}
	case map[string]any:
		objects = []map[string]any{data}
	case nil:
	default:
		return nil, fmt.Errorf("api response has type %T, want array of objects", body)
	}

	recs, err := value.FromMaps(flattenAll(objects))
	if err != nil {
		return nil, err
	}
	return value.NewBatch(recs), nil
}

func flattenAll(objects []map[string]any) []map[string]any {
	out := make([]map[string]any, len(objects))
	for i, m := range objects {
		flat := make(map[string]any, len(m))
		flatten("", m, flat)
		out[i] = flat
	}
	return out
}

// flatten writes nested objects as dot-joined keys. Arrays are kept as
// their JSON text.
func flatten(prefix string, m map[string]any, out map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := m[k].(type) {
		case map[string]any:
			flatten(name, v, out)
		case []any:
			data, _ := json.Marshal(v)
			out[name] = string(data)
		default:
			out[name] = v
		}
	}
}
