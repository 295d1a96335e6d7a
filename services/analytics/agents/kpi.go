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
)

// Severities shared by KPI anomalies and issues.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// KPIThresholds flag anomalies.
type KPIThresholds struct {
	StdToMeanRatio float64 `json:"std_to_mean_ratio"`
	ZScore         float64 `json:"z_score_threshold"`
	Trend          float64 `json:"trend_threshold"`
	Skew           float64 `json:"skew_threshold"`
}

// KPIConfig tunes KPI monitoring.
type KPIConfig struct {
	MaxRows       int           `json:"max_rows"`
	MinDataPoints int           `json:"min_data_points"`
	Thresholds    KPIThresholds `json:"thresholds"`
}

// DefaultKPIConfig returns the monitoring defaults. Stored rows are
// min-max normalized, so an evenly spread column sits near std/mean 0.6;
// the variability rule only fires once std exceeds the mean.
func DefaultKPIConfig() KPIConfig {
	return KPIConfig{
		MaxRows:       100,
		MinDataPoints: 5,
		Thresholds: KPIThresholds{
			StdToMeanRatio: 1.0,
			ZScore:         3.0,
			Trend:          0.1,
			Skew:           1.5,
		},
	}
}

// KPI is the summary of one numeric column.
type KPI struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Skew        float64 `json:"skew"`
	RecentValue float64 `json:"recent_value"`
	Trend       float64 `json:"trend"`
}

// Anomaly is one flagged KPI condition.
type Anomaly struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// KPIResult is the outcome of one monitoring run.
type KPIResult struct {
	Header
	AnomaliesDetected bool                 `json:"anomalies_detected"`
	KPIs              map[string]KPI       `json:"kpis"`
	Anomalies         map[string][]Anomaly `json:"anomalies"`
	DataSummary       WindowSummary        `json:"data_summary"`
}

// WindowSummary describes the stored window an agent analyzed.
type WindowSummary struct {
	RowsAnalyzed   int      `json:"rows_analyzed"`
	NumericColumns []string `json:"numeric_columns"`
}

// KPIAgent monitors summary statistics of stored rows.
type KPIAgent struct {
	id     string
	deps   Deps
	cfg    KPIConfig
	logger *logging.Logger
}

// NewKPIAgent returns the KPI monitoring agent. Zero config fields take
// defaults.
func NewKPIAgent(id string, deps Deps, cfg KPIConfig) *KPIAgent {
	if id == "" {
		id = KPIAgentID
	}
	def := DefaultKPIConfig()
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = def.MaxRows
	}
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = def.MinDataPoints
	}
	if cfg.Thresholds == (KPIThresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	deps = deps.withDefaults()
	return &KPIAgent{id: id, deps: deps, cfg: cfg, logger: deps.Logger.ForAgent(id)}
}

// ID returns the agent id.
func (a *KPIAgent) ID() string { return a.id }

// Monitor computes KPIs over the most recent MaxRows rows and flags
// anomalies. Alerts are published as kpi_alert to the decision-making
// subscriber.
func (a *KPIAgent) Monitor(ctx context.Context, identifier, source string) *KPIResult {
	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.monitor(ctx, identifier, source)
	done(result.Status)
	return result
}

func (a *KPIAgent) monitor(ctx context.Context, identifier, source string) *KPIResult {
	window, err := a.deps.Store.Window(ctx, identifier, a.cfg.MaxRows)
	if err != nil {
		a.logger.Error("reading window failed", "identifier", identifier, "error", err)
		result := a.result(identifier, source, StatusError)
		result.Message = err.Error()
		a.deps.publish(ctx, bus.KPIMonitoringError, result, source)
		return result
	}
	if window.Len() == 0 {
		a.logger.Warn("no data found", "identifier", identifier)
		return a.finish(ctx, a.result(identifier, source, StatusNoData), source)
	}

	numeric := numericColumns(window)
	if len(numeric) == 0 {
		result := a.result(identifier, source, StatusNoNumeric)
		result.Message = "Ensure your data source contains numeric columns"
		return a.finish(ctx, result, source)
	}

	kpis := make(map[string]KPI, len(numeric))
	for _, col := range numeric {
		xs, _ := series(window, col)
		if len(xs) < a.cfg.MinDataPoints {
			continue
		}
		kpis[col] = computeKPI(xs)
	}
	if len(kpis) == 0 {
		result := a.result(identifier, source, StatusInsufficientData)
		result.Message = fmt.Sprintf("Need at least %d data points", a.cfg.MinDataPoints)
		return a.finish(ctx, result, source)
	}

	result := a.result(identifier, source, StatusSuccess)
	result.KPIs = kpis
	result.DataSummary = WindowSummary{RowsAnalyzed: window.Len(), NumericColumns: numeric}
	for col, k := range kpis {
		found := flagKPI(k, a.cfg.Thresholds)
		result.Anomalies[col] = found
		if len(found) > 0 {
			result.AnomaliesDetected = true
		}
	}
	return a.finish(ctx, result, source)
}

func (a *KPIAgent) finish(ctx context.Context, result *KPIResult, source string) *KPIResult {
	a.deps.publish(ctx, bus.KPIsMonitored, result, source)
	if result.AnomaliesDetected {
		a.deps.publish(ctx, bus.KPIAlert, result, bus.TargetDecisionMaking)
	}
	a.logger.Info("KPI monitoring completed", "identifier", result.Identifier, "status", result.Status, "anomalies", result.AnomaliesDetected)
	return result
}

func (a *KPIAgent) result(identifier, source string, status Status) *KPIResult {
	return &KPIResult{
		Header:      a.deps.header(a.id, identifier, source, status),
		KPIs:        map[string]KPI{},
		Anomalies:   map[string][]Anomaly{},
		DataSummary: WindowSummary{NumericColumns: []string{}},
	}
}

func computeKPI(xs []float64) KPI {
	lo, hi := kernel.MinMax(xs)
	return KPI{
		Mean:        kernel.Mean(xs),
		Std:         finiteOr(kernel.Std(xs), 0),
		Min:         lo,
		Max:         hi,
		Skew:        finiteOr(kernel.Skew(xs), 0),
		RecentValue: xs[len(xs)-1],
		Trend:       (xs[len(xs)-1] - xs[0]) / float64(len(xs)),
	}
}

// flagKPI returns one Anomaly per threshold k breaches. The list is empty,
// never nil, so every monitored column appears in the result.
func flagKPI(k KPI, t KPIThresholds) []Anomaly {
	out := []Anomaly{}
	if k.Std > k.Mean*t.StdToMeanRatio {
		out = append(out, Anomaly{
			Description: fmt.Sprintf("High variability (std: %.2f, mean: %.2f)", k.Std, k.Mean),
			Severity:    SeverityMedium,
		})
	}
	var z float64
	if k.Std > 0 {
		z = (k.RecentValue - k.Mean) / k.Std
	}
	if math.Abs(z) > t.ZScore {
		out = append(out, Anomaly{
			Description: fmt.Sprintf("Recent value anomaly (value: %.2f, Z-score: %.2f)", k.RecentValue, z),
			Severity:    zSeverity(z),
		})
	}
	if math.Abs(k.Trend) > t.Trend {
		out = append(out, Anomaly{
			Description: fmt.Sprintf("Significant trend detected (rate: %.4f)", k.Trend),
			Severity:    SeverityMedium,
		})
	}
	if math.Abs(k.Skew) > t.Skew {
		out = append(out, Anomaly{
			Description: fmt.Sprintf("Highly skewed distribution (skew: %.2f)", k.Skew),
			Severity:    SeverityLow,
		})
	}
	return out
}

func zSeverity(z float64) string {
	switch az := math.Abs(z); {
	case az > 6:
		return SeverityCritical
	case az > 4:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
