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
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxMeasurement is the measurement mirrored rows are written to.
const InfluxMeasurement = "dynamic_data"

// PointWriter is the subset of api.WriteAPIBlocking the mirror uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxMirror writes the numeric fields of every persisted row as a
// point tagged by identifier and agent_id.
type InfluxMirror struct {
	writer PointWriter
	client influxdb2.Client
}

// NewInfluxMirror connects to InfluxDB and checks its health.
func NewInfluxMirror(ctx context.Context, cfg InfluxConfig) (*InfluxMirror, error) {
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influx unhealthy: %s", health.Status)
	}
	return &InfluxMirror{
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		client: client,
	}, nil
}

// NewInfluxMirrorWithWriter builds a mirror over an existing writer.
func NewInfluxMirrorWithWriter(w PointWriter) *InfluxMirror {
	return &InfluxMirror{writer: w}
}

// MirrorRows writes one point per row that has at least one numeric
// field.
func (m *InfluxMirror) MirrorRows(ctx context.Context, rows []Row) error {
	points := make([]*write.Point, 0, len(rows))
	for _, r := range rows {
		fields := make(map[string]interface{})
		for k, v := range r.Data {
			if f, ok := v.Float64(); ok {
				fields[k] = f
			}
		}
		if len(fields) == 0 {
			continue
		}
		points = append(points, influxdb2.NewPoint(
			InfluxMeasurement,
			map[string]string{
				"identifier": r.Identifier,
				"agent_id":   r.AgentID,
			},
			fields,
			r.Timestamp,
		))
	}
	if len(points) == 0 {
		return nil
	}
	if err := m.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	return nil
}

// Close releases the client.
func (m *InfluxMirror) Close() {
	if m.client != nil {
		m.client.Close()
	}
}
