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
	"strings"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Airtable API limits.
const (
	DefaultAirtableURL = "https://api.airtable.com/v0"
	airtableRatePerSec = 5
	airtableMaxPages   = 1000
)

type airtableConfig struct {
	BaseID    string `json:"base_id" validate:"required"`
	TableName string `json:"table_name" validate:"required"`
	View      string `json:"view"`
}

type airtablePage struct {
	Records []struct {
		Fields map[string]any `json:"fields"`
	} `json:"records"`
	Offset string `json:"offset"`
}

// AirtableConnector lists every record of a table, following pagination
// offsets under a 5 requests/second limiter.
type AirtableConnector struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

// NewAirtableConnector returns a connector for the public Airtable API.
func NewAirtableConnector(apiKey string) *AirtableConnector {
	return &AirtableConnector{
		APIKey:  apiKey,
		BaseURL: DefaultAirtableURL,
		Client:  http.DefaultClient,
		limiter: rate.NewLimiter(rate.Limit(airtableRatePerSec), 1),
	}
}

func (c *AirtableConnector) Type() string { return TypeAirtable }

// Fetch pages through the table.
func (c *AirtableConnector) Fetch(ctx context.Context, config map[string]any) (*value.Batch, error) {
	var cfg airtableConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: airtable api key not configured", ErrInvalidConfig)
	}
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultAirtableURL
	}
	endpoint := fmt.Sprintf("%s/%s/%s", base, url.PathEscape(cfg.BaseID), url.PathEscape(cfg.TableName))

	var records []map[string]any
	offset := ""
	for page := 0; page < airtableMaxPages; page++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		q := url.Values{}
		if offset != "" {
			q.Set("offset", offset)
		}
		if cfg.View != "" {
			q.Set("view", cfg.View)
		}
		reqURL := endpoint
		if len(q) > 0 {
			reqURL += "?" + q.Encode()
		}

		var body airtablePage
		if err := c.getJSON(ctx, reqURL, &body); err != nil {
			return nil, err
		}
		for _, r := range body.Records {
			records = append(records, r.Fields)
		}
		if body.Offset == "" {
			break
		}
		offset = body.Offset
	}

	recs, err := value.FromMaps(flattenAll(records))
	if err != nil {
		return nil, err
	}
	return value.NewBatch(recs), nil
}

func (c *AirtableConnector) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("airtable request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: airtable returned %s", ErrInvalidConfig, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("airtable returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode airtable response: %w", err)
	}
	return nil
}
