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
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

var errTransient = errors.New("connection reset")

type fakeConnector struct {
	kind     string
	failures int
	err      error
	calls    atomic.Int32
}

func (f *fakeConnector) Type() string { return f.kind }

func (f *fakeConnector) Fetch(ctx context.Context, _ map[string]any) (*value.Batch, error) {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		return nil, f.err
	}
	return value.NewBatch([]value.Record{{"v": value.Int(1)}}), nil
}

func TestRegistryFetch_RetriesThenSucceeds(t *testing.T) {
	conn := &fakeConnector{kind: "api", failures: 2, err: errTransient}
	reg := NewRegistry(conn)
	exp := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{Output: io.Discard, Exporter: exp})

	var delays []time.Duration
	res, err := reg.Fetch(context.Background(),
		Descriptor{Type: "api", Config: map[string]any{"url": "http://x"}},
		RetryOptions{
			BaseDelay: 10 * time.Millisecond,
			OnRetry:   func(_ int, d time.Duration, _ error) { delays = append(delays, d) },
			Logger:    logger,
		})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, res.Batch.Len())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
	assert.Len(t, exp.Messages(logging.LevelWarn), 2)
}

func TestRegistryFetch_Exhausted(t *testing.T) {
	conn := &fakeConnector{kind: "api", failures: 10, err: errTransient}
	reg := NewRegistry(conn)

	res, err := reg.Fetch(context.Background(),
		Descriptor{Type: "api", Config: map[string]any{}, RetryAttempts: 3},
		RetryOptions{BaseDelay: time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTransient))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), conn.calls.Load())
}

func TestRegistryFetch_InvalidConfigNotRetried(t *testing.T) {
	conn := &fakeConnector{kind: "api", failures: 10, err: fmt.Errorf("%w: missing url", ErrInvalidConfig)}
	reg := NewRegistry(conn)

	_, err := reg.Fetch(context.Background(),
		Descriptor{Type: "api", Config: map[string]any{}},
		RetryOptions{BaseDelay: time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Equal(t, int32(1), conn.calls.Load())
}

func TestRegistryFetch_ClientErrors(t *testing.T) {
	reg := NewRegistry(&fakeConnector{kind: "csv"})

	_, err := reg.Fetch(context.Background(), Descriptor{Type: "ftp", Config: map[string]any{}}, RetryOptions{})
	assert.True(t, errors.Is(err, ErrUnknownConnector))

	_, err = reg.Fetch(context.Background(), Descriptor{Type: "csv"}, RetryOptions{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = reg.Fetch(context.Background(), Descriptor{Config: map[string]any{}}, RetryOptions{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestRegistryFetch_PerAttemptTimeout(t *testing.T) {
	slow := funcConnector{kind: "api", fn: func(ctx context.Context) (*value.Batch, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	reg := NewRegistry(slow)

	start := time.Now()
	_, err := reg.Fetch(context.Background(),
		Descriptor{Type: "api", Config: map[string]any{}, TimeoutSeconds: 0.02, RetryAttempts: 2},
		RetryOptions{BaseDelay: time.Millisecond})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

type funcConnector struct {
	kind string
	fn   func(ctx context.Context) (*value.Batch, error)
}

func (c funcConnector) Type() string { return c.kind }
func (c funcConnector) Fetch(ctx context.Context, _ map[string]any) (*value.Batch, error) {
	return c.fn(ctx)
}

func TestDescriptor_Defaults(t *testing.T) {
	d := Descriptor{Type: "csv", Config: map[string]any{}}.WithDefaults()
	assert.Equal(t, DefaultTimeout, d.Timeout())
	assert.Equal(t, DefaultRetryAttempts, d.RetryAttempts)
	assert.Equal(t, DefaultAgentID, d.AgentID)
}

func TestDescriptor_InlineData(t *testing.T) {
	d := Descriptor{Type: "csv", Config: map[string]any{
		"data": []any{
			map[string]any{"time": "2023-01-01", "value": 10.0},
			map[string]any{"time": "2023-01-02", "value": 20.0},
		},
	}}
	b, ok, err := d.InlineData()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"time", "value"}, b.Columns)

	_, ok, err = Descriptor{Type: "sql", Config: map[string]any{"data": "a\n1"}}.InlineData()
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = Descriptor{Type: "csv", Config: map[string]any{"data": 42}}.InlineData()
	assert.True(t, ok)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestCSVConnector_Sources(t *testing.T) {
	ctx := context.Background()
	c := NewCSVConnector(nil)

	t.Run("inline string", func(t *testing.T) {
		b, err := c.Fetch(ctx, map[string]any{"data": "a,b\n1,x\n2,y\n"})
		require.NoError(t, err)
		assert.Equal(t, 2, b.Len())
		assert.Equal(t, []string{"a", "b"}, b.Columns)
	})

	t.Run("local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data.csv")
		require.NoError(t, os.WriteFile(path, []byte("time,value\n2023-01-01,10\n"), 0o600))
		b, err := c.Fetch(ctx, map[string]any{"file_path": path})
		require.NoError(t, err)
		v, _ := b.Rows[0].Get("value").Float64()
		assert.Equal(t, 10.0, v)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := c.Fetch(ctx, map[string]any{"file_path": filepath.Join(t.TempDir(), "nope.csv")})
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})

	t.Run("no source", func(t *testing.T) {
		_, err := c.Fetch(ctx, map[string]any{})
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})
}

type fakeObjects struct {
	bucket, object string
	body           string
}

func (f *fakeObjects) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	f.bucket, f.object = bucket, object
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestCSVConnector_GCSObject(t *testing.T) {
	objects := &fakeObjects{body: "v\n1\n2\n3\n"}
	c := NewCSVConnector(objects)

	b, err := c.Fetch(context.Background(), map[string]any{"file_path": "gs://telemetry/2023/kpi.csv"})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, "telemetry", objects.bucket)
	assert.Equal(t, "2023/kpi.csv", objects.object)
}

func TestParseGSPath(t *testing.T) {
	b, o, ok := parseGSPath("gs://bucket/a/b.csv")
	assert.True(t, ok)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "a/b.csv", o)

	_, _, ok = parseGSPath("gs://bucket")
	assert.False(t, ok)
	_, _, ok = parseGSPath("/tmp/a.csv")
	assert.False(t, ok)
}

type fakeSheets struct {
	grid   [][]any
	gotID  string
	gotRng string
}

func (f *fakeSheets) Values(_ context.Context, id, rng string) ([][]any, error) {
	f.gotID, f.gotRng = id, rng
	return f.grid, nil
}

func TestSheetsConnector(t *testing.T) {
	fs := &fakeSheets{grid: [][]any{
		{"time", "throughput"},
		{"2023-01-01", "12.5"},
		{"2023-01-02"},
	}}
	c := &SheetsConnector{Sheets: fs}

	b, err := c.Fetch(context.Background(), map[string]any{"sheet_id": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", fs.gotID)
	assert.Equal(t, defaultSheetRange, fs.gotRng)
	require.Equal(t, 2, b.Len())
	v, _ := b.Rows[0].Get("throughput").Float64()
	assert.Equal(t, 12.5, v)
	assert.True(t, b.Rows[1].Get("throughput").IsNull())

	_, err = c.Fetch(context.Background(), map[string]any{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestAirtableConnector_Paginates(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/base1/kpis", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("offset") == "" {
			fmt.Fprint(w, `{"records":[{"fields":{"value":1}},{"fields":{"value":2}}],"offset":"page2"}`)
			return
		}
		fmt.Fprint(w, `{"records":[{"fields":{"value":3,"site":{"name":"north"}}}]}`)
	}))
	defer srv.Close()

	c := NewAirtableConnector("key-123")
	c.BaseURL = srv.URL

	b, err := c.Fetch(context.Background(), map[string]any{"base_id": "base1", "table_name": "kpis"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
	require.Equal(t, 3, b.Len())
	name, _ := b.Rows[2].Get("site.name").Str()
	assert.Equal(t, "north", name)
}

func TestAirtableConnector_Errors(t *testing.T) {
	_, err := NewAirtableConnector("").Fetch(context.Background(), map[string]any{"base_id": "b", "table_name": "t"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewAirtableConnector("k").Fetch(context.Background(), map[string]any{"base_id": "b"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := NewAirtableConnector("k")
	c.BaseURL = srv.URL
	_, err = c.Fetch(context.Background(), map[string]any{"base_id": "b", "table_name": "t"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestAPIConnector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wrapped":
			assert.Equal(t, "7", r.URL.Query().Get("days"))
			json.NewEncoder(w).Encode(map[string]any{
				"results": []any{
					map[string]any{"cell": "c1", "kpi": map[string]any{"latency": 12.5, "throughput": 40}},
					map[string]any{"cell": "c2", "kpi": map[string]any{"latency": 14, "throughput": 38}},
				},
			})
		case "/flat":
			fmt.Fprint(w, `[{"a":1},{"a":2,"tags":["x","y"]}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewAPIConnector()
	ctx := context.Background()

	b, err := c.Fetch(ctx, map[string]any{"url": srv.URL + "/wrapped", "params": map[string]any{"days": 7}, "data_key": "results"})
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	assert.Equal(t, []string{"cell", "kpi.latency", "kpi.throughput"}, b.Columns)
	lat, _ := b.Rows[0].Get("kpi.latency").Float64()
	assert.Equal(t, 12.5, lat)

	b, err = c.Fetch(ctx, map[string]any{"url": srv.URL + "/flat"})
	require.NoError(t, err)
	tags, _ := b.Rows[1].Get("tags").Str()
	assert.Equal(t, `["x","y"]`, tags)

	_, err = c.Fetch(ctx, map[string]any{"url": srv.URL + "/missing"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = c.Fetch(ctx, map[string]any{"url": "not a url"})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestSQLConnector(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "src.db")
	db, err := store.OpenDB(ctx, url)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE kpi (ts TEXT, throughput REAL, cell TEXT, n INTEGER)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO kpi VALUES ('2023-01-01', 12.5, 'c1', 3), ('2023-01-02', 9.0, 'c2', 4)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	c := NewSQLConnector()
	b, err := c.Fetch(ctx, map[string]any{"connection_string": url, "query": "SELECT ts, throughput, cell, n FROM kpi ORDER BY ts"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ts", "throughput", "cell", "n"}, b.Columns)
	require.Equal(t, 2, b.Len())
	tp, _ := b.Rows[0].Get("throughput").Float64()
	assert.Equal(t, 12.5, tp)
	n, ok := b.Rows[1].Get("n").Float64()
	require.True(t, ok)
	assert.Equal(t, 4.0, n)

	_, err = c.Fetch(ctx, map[string]any{"connection_string": url})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
