// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Well-known telemetry columns the domain rules look for.
const (
	ColumnThroughput = "throughput"
	ColumnLatency    = "latency"
)

// Fixed cause descriptions.
const (
	CauseInterference = "Possible interference or congestion"
	CauseUnknown      = "Unknown"
)

// RootCauseThresholds drive the cause rules.
type RootCauseThresholds struct {
	ThroughputLow   float64 `json:"throughput_low"`
	LatencyHigh     float64 `json:"latency_high"`
	Correlation     float64 `json:"correlation_threshold"`
	ZScore          float64 `json:"z_score_threshold"`
	PersistentShare float64 `json:"persistent_share"`
}

// RootCauseConfig tunes root-cause analysis.
type RootCauseConfig struct {
	MaxRows       int                 `json:"max_rows"`
	MinDataPoints int                 `json:"min_data_points"`
	Thresholds    RootCauseThresholds `json:"thresholds"`
}

// DefaultRootCauseConfig returns the analysis defaults.
func DefaultRootCauseConfig() RootCauseConfig {
	return RootCauseConfig{
		MaxRows:       50,
		MinDataPoints: 5,
		Thresholds: RootCauseThresholds{
			ThroughputLow:   10,
			LatencyHigh:     50,
			Correlation:     0.7,
			ZScore:          2.0,
			PersistentShare: 0.1,
		},
	}
}

// Cause is a candidate root cause.
type Cause struct {
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Details     map[string]any `json:"details"`
}

// RootCauseSummary describes what an analysis run looked at.
type RootCauseSummary struct {
	RowsAnalyzed   int            `json:"rows_analyzed"`
	NumericColumns []string       `json:"numeric_columns"`
	AnomalyCounts  map[string]int `json:"anomaly_counts"`
}

// RootCauseResult is the outcome of one analysis run.
type RootCauseResult struct {
	Header
	Causes       []Cause                       `json:"causes"`
	Correlations map[string]map[string]float64 `json:"correlations"`
	DataSummary  RootCauseSummary              `json:"data_summary"`
}

// RootCauseIdentified is published to the decision-making subscriber
// when at least one cause is known.
type RootCauseIdentified struct {
	Identifier string  `json:"identifier"`
	Causes     []Cause `json:"causes"`
	AgentID    string  `json:"agent_id"`
}

// EventIdentifier implements bus.Identified.
func (r RootCauseIdentified) EventIdentifier() string { return r.Identifier }

// RootCauseAgent infers candidate causes from correlations and anomaly
// co-occurrence.
type RootCauseAgent struct {
	id     string
	deps   Deps
	cfg    RootCauseConfig
	logger *logging.Logger
}

// NewRootCauseAgent returns the root-cause agent. Zero config fields take
// defaults.
func NewRootCauseAgent(id string, deps Deps, cfg RootCauseConfig) *RootCauseAgent {
	if id == "" {
		id = RootCauseAgentID
	}
	def := DefaultRootCauseConfig()
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = def.MinDataPoints
	}
	if cfg.Thresholds == (RootCauseThresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	deps = deps.withDefaults()
	return &RootCauseAgent{id: id, deps: deps, cfg: cfg, logger: deps.Logger.ForAgent(id)}
}

// ID returns the agent id.
func (a *RootCauseAgent) ID() string { return a.id }

// Analyze infers causes over the most recent MaxRows rows.
//
// # Description
//
// Rules, in order:
//   - mean throughput below ThroughputLow with mean latency above
//     LatencyHigh: interference or congestion, confidence 0.9;
//   - |ρ| above the correlation threshold between two columns whose
//     z-score anomalies share at least one row: a common cause, with
//     confidence min(0.95, |ρ|);
//   - anomalies in more than PersistentShare of the rows of a column:
//     a persistent anomaly, confidence 0.85.
//
// When nothing fires the only cause is Unknown at 0.5. Any known cause
// publishes root_cause_identified to the decision-making subscriber.
func (a *RootCauseAgent) Analyze(ctx context.Context, identifier, source string) *RootCauseResult {
	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.analyze(ctx, identifier, source)
	done(result.Status)
	return result
}

func (a *RootCauseAgent) analyze(ctx context.Context, identifier, source string) *RootCauseResult {
	window, err := a.deps.Store.Window(ctx, identifier, a.cfg.MaxRows)
	if err != nil {
		a.logger.Error("root cause analysis failed", "identifier", identifier, "error", err)
		result := a.result(identifier, source, StatusError)
		result.Message = err.Error()
		result.Causes = []Cause{{Description: "Analysis failed", Confidence: 0, Details: map[string]any{"error": err.Error()}}}
		a.deps.publish(ctx, bus.RootCauseAnalysisError, result, source)
		return result
	}
	if window.Len() == 0 {
		a.logger.Warn("no data found", "identifier", identifier)
		return a.finish(ctx, a.result(identifier, source, StatusNoData))
	}
	if window.Len() < a.cfg.MinDataPoints {
		result := a.result(identifier, source, StatusInsufficientData)
		result.Message = fmt.Sprintf("Need at least %d rows", a.cfg.MinDataPoints)
		return a.finish(ctx, result)
	}
	numeric := numericColumns(window)
	if len(numeric) == 0 {
		result := a.result(identifier, source, StatusNoNumeric)
		result.Causes = []Cause{{Description: "No numeric data available", Confidence: 1, Details: map[string]any{}}}
		return a.finish(ctx, result)
	}

	correlations := correlate(window, numeric)
	anomalies := zAnomalies(window, numeric, a.cfg.Thresholds.ZScore)

	result := a.result(identifier, source, StatusSuccess)
	result.Causes = a.infer(window, numeric, correlations, anomalies)
	result.Correlations = correlations
	result.DataSummary = RootCauseSummary{
		RowsAnalyzed:   window.Len(),
		NumericColumns: numeric,
		AnomalyCounts:  make(map[string]int, len(anomalies)),
	}
	for col, idx := range anomalies {
		result.DataSummary.AnomalyCounts[col] = len(idx)
	}
	return a.finish(ctx, result)
}

func (a *RootCauseAgent) infer(b *value.Batch, numeric []string, corr map[string]map[string]float64, anomalies map[string][]int) []Cause {
	t := a.cfg.Thresholds
	var causes []Cause

	tp, lat := findColumn(numeric, ColumnThroughput), findColumn(numeric, ColumnLatency)
	if tp != "" && lat != "" {
		tpXs, _ := series(b, tp)
		latXs, _ := series(b, lat)
		tpMean, latMean := kernel.Mean(tpXs), kernel.Mean(latXs)
		if tpMean < t.ThroughputLow && latMean > t.LatencyHigh {
			causes = append(causes, Cause{
				Description: CauseInterference,
				Confidence:  0.9,
				Details:     map[string]any{"throughput_avg": tpMean, "latency_avg": latMean},
			})
		}
	}

	for i, c1 := range numeric {
		for _, c2 := range numeric[i+1:] {
			rho := corr[c1][c2]
			if math.Abs(rho) <= t.Correlation {
				continue
			}
			overlap := overlapCount(anomalies[c1], anomalies[c2])
			if overlap == 0 {
				continue
			}
			causes = append(causes, Cause{
				Description: fmt.Sprintf("Strong correlation between %s and %s (corr: %.2f) suggesting a common cause", c1, c2, rho),
				Confidence:  math.Min(0.95, math.Abs(rho)),
				Details: map[string]any{
					"correlated_columns": []string{c1, c2},
					"correlation":        rho,
					"anomaly_overlap":    overlap,
				},
			})
		}
	}

	for _, col := range numeric {
		idx := anomalies[col]
		if float64(len(idx)) <= t.PersistentShare*float64(b.Len()) {
			continue
		}
		xs, _ := series(b, col)
		causes = append(causes, Cause{
			Description: fmt.Sprintf("Persistent anomalies in %s indicating a potential root issue", col),
			Confidence:  0.85,
			Details:     map[string]any{"anomaly_count": len(idx), "recent_value": xs[len(xs)-1]},
		})
	}

	if len(causes) == 0 {
		return []Cause{{Description: CauseUnknown, Confidence: 0.5, Details: map[string]any{}}}
	}
	return causes
}

func (a *RootCauseAgent) finish(ctx context.Context, result *RootCauseResult) *RootCauseResult {
	a.deps.publish(ctx, bus.RootCauseAnalyzed, result, result.SourceAgent)
	if knownCause(result.Causes) && result.Status == StatusSuccess {
		a.deps.publish(ctx, bus.RootCauseIdentified, RootCauseIdentified{
			Identifier: result.Identifier,
			Causes:     result.Causes,
			AgentID:    a.id,
		}, bus.TargetDecisionMaking)
	}
	a.logger.Info("root cause analysis completed", "identifier", result.Identifier, "status", result.Status, "causes", len(result.Causes))
	return result
}

func (a *RootCauseAgent) result(identifier, source string, status Status) *RootCauseResult {
	return &RootCauseResult{
		Header:       a.deps.header(a.id, identifier, source, status),
		Causes:       []Cause{},
		Correlations: map[string]map[string]float64{},
		DataSummary:  RootCauseSummary{NumericColumns: []string{}, AnomalyCounts: map[string]int{}},
	}
}

func knownCause(causes []Cause) bool {
	for _, c := range causes {
		if c.Description != CauseUnknown {
			return true
		}
	}
	return false
}

// correlate returns the symmetric Pearson matrix without the diagonal.
func correlate(b *value.Batch, cols []string) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(cols))
	for _, c := range cols {
		out[c] = make(map[string]float64, len(cols)-1)
	}
	for i, c1 := range cols {
		x, xp := b.Floats(c1)
		for _, c2 := range cols[i+1:] {
			y, yp := b.Floats(c2)
			rho := kernel.Pearson(x, y, xp, yp)
			out[c1][c2] = rho
			out[c2][c1] = rho
		}
	}
	return out
}

// zAnomalies maps each column with outliers to their row positions.
func zAnomalies(b *value.Batch, cols []string, threshold float64) map[string][]int {
	out := make(map[string][]int)
	for _, col := range cols {
		xs, rows := series(b, col)
		hits := kernel.ZScoreOutliers(xs, threshold)
		if len(hits) == 0 {
			continue
		}
		idx := make([]int, len(hits))
		for i, h := range hits {
			idx[i] = rows[h]
		}
		out[col] = idx
	}
	return out
}

// overlapCount counts shared entries of two ascending index lists.
func overlapCount(a, b []int) int {
	n, i, j := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}

// findColumn returns the column named want, or else the first whose
// lower-cased name contains it.
func findColumn(cols []string, want string) string {
	for _, c := range cols {
		if strings.EqualFold(c, want) {
			return c
		}
	}
	for _, c := range cols {
		if strings.Contains(strings.ToLower(c), want) {
			return c
		}
	}
	return ""
}
