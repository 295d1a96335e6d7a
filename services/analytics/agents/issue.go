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

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// IssueConfig tunes issue detection.
type IssueConfig struct {
	MaxRows          int     `json:"max_rows"`
	Contamination    float64 `json:"contamination"`
	TrendWindow      int     `json:"trend_window"`
	TrendShare       float64 `json:"trend_share"`
	ClusterThreshold int     `json:"cluster_threshold"`
	Eps              float64 `json:"eps"`
	MinSamples       int     `json:"min_samples"`
	Seed             uint64  `json:"seed"`
}

// DefaultIssueConfig returns the detection defaults.
func DefaultIssueConfig() IssueConfig {
	return IssueConfig{
		MaxRows:          100,
		Contamination:    kernel.DefaultContamination,
		TrendWindow:      10,
		TrendShare:       0.7,
		ClusterThreshold: 2,
		Eps:              0.5,
		MinSamples:       3,
		Seed:             kernel.DefaultSeed,
	}
}

// Issue is one detected problem.
type Issue struct {
	Description string         `json:"description"`
	Severity    string         `json:"severity"`
	Details     map[string]any `json:"details"`
}

// IssueSummary describes what a detection run looked at.
type IssueSummary struct {
	RowsAnalyzed   int      `json:"rows_analyzed"`
	NumericColumns []string `json:"numeric_columns"`
	ClusterCount   int      `json:"cluster_count"`
	AnomalyCount   int      `json:"anomaly_count"`
}

// IssueResult is the outcome of one detection run.
type IssueResult struct {
	Header
	Issues      []Issue      `json:"issues"`
	DataSummary IssueSummary `json:"data_summary"`
}

// ActionRequired is published to the decision-making subscriber when a
// run finds issues.
type ActionRequired struct {
	Identifier string  `json:"identifier"`
	Issues     []Issue `json:"issues"`
	AgentID    string  `json:"agent_id"`
}

// EventIdentifier implements bus.Identified.
func (a ActionRequired) EventIdentifier() string { return a.Identifier }

// trend is one directional run found by detectTrends.
type trend struct {
	Column    string  `json:"column"`
	Direction string  `json:"trend"`
	Magnitude float64 `json:"magnitude"`
}

// IssueAgent turns clusters, anomalies and trends in stored rows into
// issues.
type IssueAgent struct {
	id     string
	deps   Deps
	cfg    IssueConfig
	logger *logging.Logger
}

// NewIssueAgent returns the issue detection agent. Zero config fields
// take defaults.
func NewIssueAgent(id string, deps Deps, cfg IssueConfig) *IssueAgent {
	if id == "" {
		id = IssueAgentID
	}
	def := DefaultIssueConfig()
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.TrendWindow <= 1 {
		cfg.TrendWindow = def.TrendWindow
	}
	if cfg.TrendShare <= 0 || cfg.TrendShare > 1 {
		cfg.TrendShare = def.TrendShare
	}
	if cfg.ClusterThreshold <= 0 {
		cfg.ClusterThreshold = def.ClusterThreshold
	}
	if cfg.Eps <= 0 {
		cfg.Eps = def.Eps
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	deps = deps.withDefaults()
	return &IssueAgent{id: id, deps: deps, cfg: cfg, logger: deps.Logger.ForAgent(id)}
}

// ID returns the agent id.
func (a *IssueAgent) ID() string { return a.id }

// Detect analyzes the most recent MaxRows rows.
//
// # Description
//
// Three detectors run over the numeric columns: DBSCAN cluster counting
// (an issue when at least ClusterThreshold clusters form), an isolation
// forest over standardized features, and a rolling-mean trend detector
// per column. Every issue is stored with status open. A run with issues
// also publishes action_required to the decision-making subscriber.
func (a *IssueAgent) Detect(ctx context.Context, identifier, source string) *IssueResult {
	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.detect(ctx, identifier, source)
	done(result.Status)
	return result
}

func (a *IssueAgent) detect(ctx context.Context, identifier, source string) *IssueResult {
	window, err := a.deps.Store.Window(ctx, identifier, a.cfg.MaxRows)
	if err != nil {
		return a.fail(ctx, identifier, source, err)
	}
	if window.Len() == 0 {
		a.logger.Warn("no data found", "identifier", identifier)
		return a.finish(ctx, a.result(identifier, source, StatusNoData))
	}
	numeric := numericColumns(window)
	if len(numeric) == 0 {
		a.logger.Info("no numeric columns found", "identifier", identifier)
		result := a.result(identifier, source, StatusNoNumeric)
		result.Message = "Ensure your data source contains numeric columns"
		return a.finish(ctx, result)
	}

	features := kernel.NumericMatrix(window, numeric)
	var issues []Issue

	labels, err := kernel.DetectClusters(features, kernel.ClusterDBSCAN, kernel.ClusterParams{
		Eps:        a.cfg.Eps,
		MinSamples: a.cfg.MinSamples,
	})
	if err != nil {
		a.logger.Warn("clustering failed", "identifier", identifier, "error", err)
	}
	nClusters := kernel.CountClusters(labels)
	if nClusters >= a.cfg.ClusterThreshold {
		issues = append(issues, Issue{
			Description: fmt.Sprintf("Detected %d distinct clusters indicating potential performance degradation", nClusters),
			Severity:    SeverityMedium,
			Details:     map[string]any{"n_clusters": nClusters},
		})
	}

	forest := kernel.NewIsolationForest(a.cfg.Contamination, a.cfg.Seed)
	outliers := forest.Outliers(kernel.Standardize(features))
	if len(outliers) > 0 {
		severity := SeverityMedium
		if float64(len(outliers)) > 0.2*float64(window.Len()) {
			severity = SeverityHigh
		}
		issues = append(issues, Issue{
			Description: fmt.Sprintf("Detected %d anomalies in numeric data", len(outliers)),
			Severity:    severity,
			Details:     map[string]any{"anomaly_indices": outliers},
		})
	}

	for _, tr := range detectTrends(window, numeric, a.cfg.TrendWindow, a.cfg.TrendShare) {
		severity := SeverityLow
		if math.Abs(tr.Magnitude) >= 1 {
			severity = SeverityMedium
		}
		issues = append(issues, Issue{
			Description: fmt.Sprintf("Trend detected in %s: %s (magnitude: %.2f)", tr.Column, tr.Direction, tr.Magnitude),
			Severity:    severity,
			Details: map[string]any{
				"column":    tr.Column,
				"trend":     tr.Direction,
				"magnitude": tr.Magnitude,
			},
		})
	}

	result := a.result(identifier, source, StatusSuccess)
	if issues != nil {
		result.Issues = issues
	}
	result.DataSummary = IssueSummary{
		RowsAnalyzed:   window.Len(),
		NumericColumns: numeric,
		ClusterCount:   nClusters,
		AnomalyCount:   len(outliers),
	}
	a.store(ctx, identifier, issues)
	return a.finish(ctx, result)
}

// store records issues; failures are logged and do not fail the run.
func (a *IssueAgent) store(ctx context.Context, identifier string, issues []Issue) {
	if len(issues) == 0 {
		return
	}
	rows := make([]store.Issue, len(issues))
	now := a.deps.now()
	for i, is := range issues {
		rows[i] = store.Issue{
			Identifier:  identifier,
			Description: is.Description,
			Severity:    is.Severity,
			AgentID:     a.id,
			Status:      store.IssueOpen,
			Details:     is.Details,
			DetectedAt:  now,
		}
	}
	if err := a.deps.Store.SaveIssues(ctx, rows); err != nil {
		a.logger.Warn("storing issues failed", "identifier", identifier, "error", err)
	}
}

func (a *IssueAgent) finish(ctx context.Context, result *IssueResult) *IssueResult {
	a.deps.publish(ctx, bus.IssuesDetected, result, result.SourceAgent)
	if len(result.Issues) > 0 {
		a.deps.publish(ctx, bus.ActionRequired, ActionRequired{
			Identifier: result.Identifier,
			Issues:     result.Issues,
			AgentID:    a.id,
		}, bus.TargetDecisionMaking)
	}
	a.logger.Info("issue detection completed", "identifier", result.Identifier, "status", result.Status, "issues", len(result.Issues))
	return result
}

func (a *IssueAgent) result(identifier, source string, status Status) *IssueResult {
	return &IssueResult{
		Header:      a.deps.header(a.id, identifier, source, status),
		Issues:      []Issue{},
		DataSummary: IssueSummary{NumericColumns: []string{}},
	}
}

func (a *IssueAgent) fail(ctx context.Context, identifier, source string, err error) *IssueResult {
	a.logger.Error("issue detection failed", "identifier", identifier, "error", err)
	result := a.result(identifier, source, StatusError)
	result.Message = err.Error()
	a.deps.publish(ctx, bus.IssueDetectionError, result, source)
	return result
}

// detectTrends reports a column when the last first-difference of its
// rolling mean has the same sign as at least share of the last window
// differences.
func detectTrends(b *value.Batch, cols []string, window int, share float64) []trend {
	var out []trend
	for _, col := range cols {
		xs, _ := series(b, col)
		if len(xs) < 3 {
			continue
		}
		diffs := rollingMeanDiffs(xs, window)
		if len(diffs) > window {
			diffs = diffs[len(diffs)-window:]
		}
		last := diffs[len(diffs)-1]
		if last == 0 {
			continue
		}
		same := 0
		for _, d := range diffs {
			if (d > 0) == (last > 0) && d != 0 {
				same++
			}
		}
		if float64(same) < share*float64(len(diffs)) {
			continue
		}
		direction := "increasing"
		if last < 0 {
			direction = "decreasing"
		}
		out = append(out, trend{Column: col, Direction: direction, Magnitude: last})
	}
	return out
}

// rollingMeanDiffs returns the first differences of the trailing rolling
// mean (min periods 1). The result has len(xs)-1 entries.
func rollingMeanDiffs(xs []float64, window int) []float64 {
	means := make([]float64, len(xs))
	var sum float64
	for i, x := range xs {
		sum += x
		if i >= window {
			sum -= xs[i-window]
		}
		means[i] = sum / float64(min(i+1, window))
	}
	diffs := make([]float64, len(xs)-1)
	for i := 1; i < len(means); i++ {
		diffs[i-1] = means[i] - means[i-1]
	}
	return diffs
}
