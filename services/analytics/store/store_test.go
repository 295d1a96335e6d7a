// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

func openTestStore(t *testing.T, mirror RowMirror) *Store {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "pulse.db")
	s, err := Open(context.Background(), Config{URL: url, MaxOpenConns: 1, Mirror: mirror})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeRows(identifier string, n int) []Row {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			Identifier: identifier,
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			AgentID:    "eda_agent_1",
			Data: value.Record{
				"value":   value.Int(int64(i)),
				"label":   value.String("x"),
				"cluster": value.Int(0),
			},
		}
	}
	return rows
}

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		driver string
		hasErr bool
	}{
		{"sqlite scheme", "sqlite:///tmp/a.db", DriverSQLite, false},
		{"file dsn", "file:/tmp/a.db", DriverSQLite, false},
		{"memory", ":memory:", DriverSQLite, false},
		{"postgres", "postgres://u:p@localhost/db?sslmode=disable", DriverPostgres, false},
		{"postgresql", "postgresql://localhost/db", DriverPostgres, false},
		{"empty", "", "", true},
		{"mysql", "mysql://localhost/db", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := ParseDatabaseURL(tt.url)
			if tt.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.NotEmpty(t, dsn)
		})
	}
}

func TestInsertRows_BatchesAndWindow(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	n, err := s.InsertRows(ctx, makeRows("A", 25), 10)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	count, err := s.CountRows(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 25, count)

	recent, err := s.Recent(ctx, "A", 5)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	// Newest first.
	assert.True(t, recent[0].Timestamp.After(recent[4].Timestamp))
	v, _ := recent[0].Data.Get("value").Float64()
	assert.Equal(t, 24.0, v)
	assert.Equal(t, "eda_agent_1", recent[0].AgentID)

	b, err := s.Window(ctx, "A", 5)
	require.NoError(t, err)
	require.Equal(t, 5, b.Len())
	vals, _ := b.Floats("value")
	assert.Equal(t, []float64{20, 21, 22, 23, 24}, vals)
	label, _ := b.Rows[0].Get("label").Str()
	assert.Equal(t, "x", label)
}

func TestInsertRows_CancelledBetweenBatches(t *testing.T) {
	s := openTestStore(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := s.InsertRows(ctx, makeRows("A", 5), 2)
	assert.Error(t, err)
	assert.Equal(t, 0, n)

	count, err := s.CountRows(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIdentifiers(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	_, err := s.InsertRows(ctx, makeRows("b", 2), 0)
	require.NoError(t, err)
	_, err = s.InsertRows(ctx, makeRows("a", 2), 0)
	require.NoError(t, err)

	ids, err := s.Identifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestIssues_SaveListResolve(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	at := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	issues := []Issue{
		{Identifier: "A", Description: "Anomalies detected", Severity: "high", AgentID: "issue_detection_agent_1", DetectedAt: at, Details: map[string]any{"count": 3.0}},
		{Identifier: "A", Description: "Trend detected", Severity: "medium", AgentID: "issue_detection_agent_1", DetectedAt: at.Add(time.Minute)},
	}
	require.NoError(t, s.SaveIssues(ctx, issues))
	assert.NotZero(t, issues[0].ID)
	assert.Equal(t, IssueOpen, issues[0].Status)

	got, err := s.Issues(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Trend detected", got[0].Description)
	assert.Equal(t, 3.0, got[1].Details["count"])
	assert.Nil(t, got[1].ResolvedAt)

	require.NoError(t, s.ResolveIssue(ctx, issues[0].ID, at.Add(time.Hour)))
	got, err = s.Issues(ctx, "A", 10)
	require.NoError(t, err)
	assert.Equal(t, IssueResolved, got[1].Status)
	require.NotNil(t, got[1].ResolvedAt)

	err = s.ResolveIssue(ctx, 9999, at)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIssues_RejectsBadSeverity(t *testing.T) {
	s := openTestStore(t, nil)
	err := s.SaveIssues(context.Background(), []Issue{{Identifier: "A", Description: "x", Severity: "extreme", AgentID: "a"}})
	assert.Error(t, err)
}

func TestOptimizations_SaveList(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	props := []Optimization{
		{Identifier: "A", Description: "Increase capacity", Confidence: 0.85, AgentID: "optimization_agent_1"},
	}
	require.NoError(t, s.SaveOptimizations(ctx, props))

	got, err := s.Optimizations(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Increase capacity", got[0].Description)
	assert.InDelta(t, 0.85, got[0].Confidence, 1e-9)
	assert.NotZero(t, got[0].ID)
}

func TestSchemas_LatestWins(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	_, _, err := s.LatestSchema(ctx, "A")
	assert.True(t, errors.Is(err, ErrNotFound))

	at := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSchema(ctx, "A", kernel.Schema{"value": kernel.LabelNumeric}, at))
	require.NoError(t, s.SaveSchema(ctx, "A", kernel.Schema{"value": kernel.LabelNumeric, "time": kernel.LabelTimestamp}, at.Add(time.Hour)))

	schema, learned, err := s.LatestSchema(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, kernel.Schema{"value": kernel.LabelNumeric, "time": kernel.LabelTimestamp}, schema)
	assert.Equal(t, at.Add(time.Hour), learned)
}

type captureWriter struct {
	points []*write.Point
	err    error
}

func (c *captureWriter) WritePoint(_ context.Context, p ...*write.Point) error {
	c.points = append(c.points, p...)
	return c.err
}

func TestInfluxMirror_WritesNumericFields(t *testing.T) {
	w := &captureWriter{}
	s := openTestStore(t, NewInfluxMirrorWithWriter(w))

	_, err := s.InsertRows(context.Background(), makeRows("A", 3), 0)
	require.NoError(t, err)
	require.Len(t, w.points, 3)

	p := w.points[0]
	assert.Equal(t, InfluxMeasurement, p.Name())
	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Contains(t, fields, "value")
	assert.NotContains(t, fields, "label")
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "A", tags["identifier"])
	assert.Equal(t, "eda_agent_1", tags["agent_id"])
}

func TestInfluxMirror_FailureDoesNotFailWrite(t *testing.T) {
	w := &captureWriter{err: errors.New("influx down")}
	s := openTestStore(t, NewInfluxMirrorWithWriter(w))

	n, err := s.InsertRows(context.Background(), makeRows("A", 2), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
