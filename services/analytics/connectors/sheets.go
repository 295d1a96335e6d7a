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
	"os"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// defaultSheetRange reads the whole first sheet.
const defaultSheetRange = "Sheet1"

// SheetValues reads a cell range from a spreadsheet.
type SheetValues interface {
	Values(ctx context.Context, sheetID, cellRange string) ([][]any, error)
}

// googleSheets is the SheetValues backed by the Sheets v4 API.
type googleSheets struct {
	credentialsFile string
}

func (g googleSheets) Values(ctx context.Context, sheetID, cellRange string) ([][]any, error) {
	if g.credentialsFile == "" {
		return nil, fmt.Errorf("%w: google sheets credentials not configured", ErrInvalidConfig)
	}
	if _, err := os.Stat(g.credentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: service account key not found at path: %s", ErrInvalidConfig, g.credentialsFile)
	}
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(g.credentialsFile),
		option.WithScopes(sheets.SpreadsheetsReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	resp, err := srv.Spreadsheets.Values.Get(sheetID, cellRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheetID, err)
	}
	return resp.Values, nil
}

type sheetsConfig struct {
	SheetID string `json:"sheet_id" validate:"required"`
	Range   string `json:"range"`
}

// SheetsConnector reads a spreadsheet whose first row is the header.
type SheetsConnector struct {
	Sheets SheetValues
}

// NewSheetsConnector returns a connector authenticating with the service
// account key at credentialsFile.
func NewSheetsConnector(credentialsFile string) *SheetsConnector {
	return &SheetsConnector{Sheets: googleSheets{credentialsFile: credentialsFile}}
}

func (c *SheetsConnector) Type() string { return TypeGoogleSheets }

// Fetch reads the configured range.
func (c *SheetsConnector) Fetch(ctx context.Context, config map[string]any) (*value.Batch, error) {
	var cfg sheetsConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Range == "" {
		cfg.Range = defaultSheetRange
	}
	grid, err := c.Sheets.Values(ctx, cfg.SheetID, cfg.Range)
	if err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return &value.Batch{}, nil
	}
	header := make([]string, len(grid[0]))
	for i, cell := range grid[0] {
		header[i] = fmt.Sprint(cell)
	}
	rows := make([][]string, 0, len(grid)-1)
	for _, r := range grid[1:] {
		cells := make([]string, len(r))
		for i, cell := range r {
			cells[i] = fmt.Sprint(cell)
		}
		rows = append(rows, cells)
	}
	return value.FromTable(header, rows), nil
}
