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

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
)

// PredictionConfig tunes forecasting.
type PredictionConfig struct {
	MaxRows         int     `json:"max_rows"`
	Lookback        int     `json:"lookback"`
	ForecastSteps   int     `json:"forecast_steps"`
	MinDataPoints   int     `json:"min_data_points"`
	ValidationSplit float64 `json:"validation_split"`
}

// DefaultPredictionConfig returns the forecasting defaults.
func DefaultPredictionConfig() PredictionConfig {
	return PredictionConfig{
		MaxRows:         100,
		Lookback:        kernel.DefaultLookback,
		ForecastSteps:   kernel.DefaultForecastSteps,
		MinDataPoints:   kernel.DefaultMinDataPoints,
		ValidationSplit: kernel.DefaultValidationSplit,
	}
}

// merge fills zero fields of c from def.
func (c PredictionConfig) merge(def PredictionConfig) PredictionConfig {
	if c.MaxRows <= 0 {
		c.MaxRows = def.MaxRows
	}
	if c.Lookback <= 0 {
		c.Lookback = def.Lookback
	}
	if c.ForecastSteps <= 0 {
		c.ForecastSteps = def.ForecastSteps
	}
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = def.MinDataPoints
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		c.ValidationSplit = def.ValidationSplit
	}
	return c
}

// Performance is the validation score of one column's model.
type Performance struct {
	RMSE  kernel.RMSE `json:"rmse"`
	Model string      `json:"model"`
}

// PredictionResult is the outcome of one forecasting run.
type PredictionResult struct {
	Header
	Predictions map[string][]float64   `json:"predictions"`
	Performance map[string]Performance `json:"performance"`
	DataSummary WindowSummary          `json:"data_summary"`
}

// PredictionsAvailable is published to the decision-making subscriber
// when at least one column has a finite validation RMSE.
type PredictionsAvailable struct {
	Identifier  string                 `json:"identifier"`
	Predictions map[string][]float64   `json:"predictions"`
	Performance map[string]Performance `json:"performance"`
	AgentID     string                 `json:"agent_id"`
}

// EventIdentifier implements bus.Identified.
func (p PredictionsAvailable) EventIdentifier() string { return p.Identifier }

// PredictionAgent forecasts each numeric column of stored rows.
type PredictionAgent struct {
	id     string
	deps   Deps
	cfg    PredictionConfig
	logger *logging.Logger
}

// NewPredictionAgent returns the prediction agent. Zero config fields take
// defaults.
func NewPredictionAgent(id string, deps Deps, cfg PredictionConfig) *PredictionAgent {
	if id == "" {
		id = PredictionAgentID
	}
	deps = deps.withDefaults()
	return &PredictionAgent{
		id:     id,
		deps:   deps,
		cfg:    cfg.merge(DefaultPredictionConfig()),
		logger: deps.Logger.ForAgent(id),
	}
}

// ID returns the agent id.
func (a *PredictionAgent) ID() string { return a.id }

// Predict forecasts with the agent's configuration.
func (a *PredictionAgent) Predict(ctx context.Context, identifier, source string) *PredictionResult {
	return a.PredictWith(ctx, identifier, source, PredictionConfig{})
}

// PredictWith forecasts with overrides; zero fields of cfg keep the
// agent's configuration.
//
// # Description
//
// Each numeric column with at least MinDataPoints observations gets an
// autoregressive model over Lookback-sized windows, scored on the last
// ValidationSplit share of windows. Columns that are too short, or whose
// fit fails, forecast their mean with rmse +Inf. A column with a finite
// rmse makes the run publish predictions_available.
func (a *PredictionAgent) PredictWith(ctx context.Context, identifier, source string, cfg PredictionConfig) *PredictionResult {
	cfg = cfg.merge(a.cfg)
	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.predict(ctx, identifier, source, cfg)
	done(result.Status)
	return result
}

func (a *PredictionAgent) predict(ctx context.Context, identifier, source string, cfg PredictionConfig) *PredictionResult {
	window, err := a.deps.Store.Window(ctx, identifier, cfg.MaxRows)
	if err != nil {
		a.logger.Error("prediction failed", "identifier", identifier, "error", err)
		result := a.result(identifier, source, StatusError)
		result.Message = err.Error()
		a.deps.publish(ctx, bus.PredictionError, result, source)
		return result
	}
	if window.Len() == 0 {
		a.logger.Warn("no data found", "identifier", identifier)
		return a.finish(ctx, a.result(identifier, source, StatusNoData))
	}
	if window.Len() < cfg.MinDataPoints {
		result := a.result(identifier, source, StatusInsufficientData)
		result.Message = fmt.Sprintf("Need at least %d rows", cfg.MinDataPoints)
		return a.finish(ctx, result)
	}
	numeric := numericColumns(window)
	if len(numeric) == 0 {
		result := a.result(identifier, source, StatusNoNumeric)
		result.Message = "Ensure your data source contains numeric columns"
		return a.finish(ctx, result)
	}

	opts := kernel.ForecastOptions{
		Lookback:        cfg.Lookback,
		Steps:           cfg.ForecastSteps,
		MinDataPoints:   cfg.MinDataPoints,
		ValidationSplit: cfg.ValidationSplit,
	}
	result := a.result(identifier, source, StatusSuccess)
	for _, col := range numeric {
		xs, _ := series(window, col)
		fc := kernel.Forecast(xs, opts)
		if fc.Model == kernel.ModelMeanFallback {
			a.logger.Debug("forecast fell back to mean", "identifier", identifier, "column", col, "points", len(xs))
		}
		result.Predictions[col] = fc.Forecast
		result.Performance[col] = Performance{RMSE: fc.RMSE, Model: fc.Model}
	}
	result.DataSummary = WindowSummary{RowsAnalyzed: window.Len(), NumericColumns: numeric}
	return a.finish(ctx, result)
}

func (a *PredictionAgent) finish(ctx context.Context, result *PredictionResult) *PredictionResult {
	a.deps.publish(ctx, bus.PredictionsGenerated, result, result.SourceAgent)
	if result.anyFinite() {
		a.deps.publish(ctx, bus.PredictionsAvailable, PredictionsAvailable{
			Identifier:  result.Identifier,
			Predictions: result.Predictions,
			Performance: result.Performance,
			AgentID:     a.id,
		}, bus.TargetDecisionMaking)
	}
	a.logger.Info("predictions completed", "identifier", result.Identifier, "status", result.Status, "columns", len(result.Predictions))
	return result
}

func (r *PredictionResult) anyFinite() bool {
	for col, p := range r.Performance {
		if p.RMSE.Finite() && len(r.Predictions[col]) > 0 {
			return true
		}
	}
	return false
}

func (a *PredictionAgent) result(identifier, source string, status Status) *PredictionResult {
	return &PredictionResult{
		Header:      a.deps.header(a.id, identifier, source, status),
		Predictions: map[string][]float64{},
		Performance: map[string]Performance{},
		DataSummary: WindowSummary{NumericColumns: []string{}},
	}
}
