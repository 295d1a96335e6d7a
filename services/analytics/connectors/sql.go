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
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

type sqlConfig struct {
	ConnectionString string `json:"connection_string" validate:"required"`
	Query            string `json:"query" validate:"required"`
}

// SQLConnector runs a query against a sqlite or postgres database.
type SQLConnector struct {
	// Open connects to a database URL. Defaults to store.OpenDB.
	Open func(ctx context.Context, url string) (*sqlx.DB, error)
}

// NewSQLConnector returns a SQL connector using store.OpenDB.
func NewSQLConnector() *SQLConnector {
	return &SQLConnector{Open: store.OpenDB}
}

func (c *SQLConnector) Type() string { return TypeSQL }

// Fetch runs the query and returns its rows with the result's column
// order.
func (c *SQLConnector) Fetch(ctx context.Context, config map[string]any) (*value.Batch, error) {
	var cfg sqlConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	open := c.Open
	if open == nil {
		open = store.OpenDB
	}
	db, err := open(ctx, cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryxContext(ctx, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	b := &value.Batch{Columns: cols}
	for rows.Next() {
		raw := make(map[string]any, len(cols))
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec := make(value.Record, len(raw))
		for k, x := range raw {
			rec[k] = sqlValue(x)
		}
		b.Rows = append(b.Rows, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return b, nil
}

// sqlValue types a scanned column. Drivers return DECIMAL and some text
// columns as []byte, which are parsed like CSV cells.
func sqlValue(x any) value.Value {
	if raw, ok := x.([]byte); ok {
		return value.ParseCell(string(raw))
	}
	v, err := value.FromAny(x)
	if err != nil {
		return value.String(fmt.Sprint(x))
	}
	return v
}
