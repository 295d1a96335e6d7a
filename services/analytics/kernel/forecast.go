// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Forecast defaults.
const (
	DefaultLookback        = 10
	DefaultForecastSteps   = 5
	DefaultMinDataPoints   = 20
	DefaultValidationSplit = 0.2

	ridgePenalty = 1e-3
)

// Forecast model names reported alongside each column.
const (
	ModelAutoregressive = "autoregressive"
	ModelMeanFallback   = "mean_fallback"
)

// ErrSeriesTooShort is returned when a series cannot fill one window.
var ErrSeriesTooShort = errors.New("series too short for lookback")

// RMSE is a validation error. +Inf means the model fell back; NaN means no
// validation windows were available.
type RMSE float64

// Finite reports whether the model was validated.
func (r RMSE) Finite() bool {
	f := float64(r)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// MarshalJSON encodes infinities as the string "+Inf" and NaN as null.
func (r RMSE) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsNaN(f):
		return []byte("null"), nil
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// UnmarshalJSON accepts the forms MarshalJSON produces.
func (r *RMSE) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*r = RMSE(math.NaN())
		return nil
	case `"+Inf"`, `"Infinity"`:
		*r = RMSE(math.Inf(1))
		return nil
	case `"-Inf"`:
		*r = RMSE(math.Inf(-1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("rmse: %w", err)
	}
	*r = RMSE(f)
	return nil
}

// ForecastResult is the forecast for one column.
type ForecastResult struct {
	Forecast []float64 `json:"forecast"`
	RMSE     RMSE      `json:"rmse"`
	Model    string    `json:"model"`
}

// ForecastOptions configures Forecast. Zero fields take defaults.
type ForecastOptions struct {
	Lookback        int
	Steps           int
	MinDataPoints   int
	ValidationSplit float64
}

func (o ForecastOptions) withDefaults() ForecastOptions {
	if o.Lookback <= 0 {
		o.Lookback = DefaultLookback
	}
	if o.Steps <= 0 {
		o.Steps = DefaultForecastSteps
	}
	if o.MinDataPoints <= 0 {
		o.MinDataPoints = DefaultMinDataPoints
	}
	if o.ValidationSplit <= 0 || o.ValidationSplit >= 1 {
		o.ValidationSplit = DefaultValidationSplit
	}
	return o
}

// MeanFallback forecasts the series mean for every step with rmse +Inf.
func MeanFallback(series []float64, steps int) ForecastResult {
	m := Mean(series)
	if math.IsNaN(m) {
		m = 0
	}
	out := make([]float64, steps)
	for i := range out {
		out[i] = m
	}
	return ForecastResult{Forecast: out, RMSE: RMSE(math.Inf(1)), Model: ModelMeanFallback}
}

// Forecast fits a linear autoregressive model over sliding windows of the
// series and predicts opts.Steps values recursively.
//
// # Description
//
// Windows of opts.Lookback consecutive values predict the next value. The
// last opts.ValidationSplit share of windows is held out and scored with
// one-step RMSE; the model is then refit on every window for the forecast.
// Series shorter than opts.MinDataPoints, or too short to fill a training
// window, fall back to MeanFallback.
func Forecast(series []float64, opts ForecastOptions) ForecastResult {
	opts = opts.withDefaults()
	if len(series) < opts.MinDataPoints {
		return MeanFallback(series, opts.Steps)
	}
	xs, ys, err := slidingWindows(series, opts.Lookback)
	if err != nil {
		return MeanFallback(series, opts.Steps)
	}

	nVal := int(math.Round(float64(len(xs)) * opts.ValidationSplit))
	nTrain := len(xs) - nVal
	if nTrain < 1 {
		return MeanFallback(series, opts.Steps)
	}

	rmse := RMSE(math.NaN())
	if nVal > 0 {
		w, err := fitAR(xs[:nTrain], ys[:nTrain])
		if err != nil {
			return MeanFallback(series, opts.Steps)
		}
		var ss float64
		for i := nTrain; i < len(xs); i++ {
			d := predictAR(w, xs[i]) - ys[i]
			ss += d * d
		}
		rmse = RMSE(math.Sqrt(ss / float64(nVal)))
	}

	w, err := fitAR(xs, ys)
	if err != nil {
		return MeanFallback(series, opts.Steps)
	}
	window := append([]float64(nil), series[len(series)-opts.Lookback:]...)
	out := make([]float64, opts.Steps)
	for i := range out {
		next := predictAR(w, window)
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return MeanFallback(series, opts.Steps)
		}
		out[i] = next
		window = append(window[1:], next)
	}
	return ForecastResult{Forecast: out, RMSE: rmse, Model: ModelAutoregressive}
}

func slidingWindows(series []float64, lookback int) ([][]float64, []float64, error) {
	if len(series) <= lookback {
		return nil, nil, fmt.Errorf("%w: %d values, lookback %d", ErrSeriesTooShort, len(series), lookback)
	}
	n := len(series) - lookback
	xs := make([][]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = series[i : i+lookback]
		ys[i] = series[i+lookback]
	}
	return xs, ys, nil
}

// fitAR solves ridge-regularised least squares for weights over the window
// plus an intercept in the last slot.
func fitAR(xs [][]float64, ys []float64) ([]float64, error) {
	dims := len(xs[0]) + 1
	a := make([][]float64, dims)
	for i := range a {
		a[i] = make([]float64, dims+1)
	}
	row := make([]float64, dims)
	for k, x := range xs {
		copy(row, x)
		row[dims-1] = 1
		for i := 0; i < dims; i++ {
			for j := 0; j < dims; j++ {
				a[i][j] += row[i] * row[j]
			}
			a[i][dims] += row[i] * ys[k]
		}
	}
	for i := 0; i < dims-1; i++ {
		a[i][i] += ridgePenalty * float64(len(xs))
	}
	return solve(a)
}

// solve runs Gauss-Jordan elimination with partial pivoting on an
// augmented matrix.
func solve(a [][]float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.New("singular system")
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := a[r][col] / a[col][col]
			for c := col; c <= n; c++ {
				a[r][c] -= factor * a[col][c]
			}
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = a[i][n] / a[i][i]
	}
	return out, nil
}

func predictAR(w, window []float64) float64 {
	y := w[len(w)-1]
	for i, x := range window {
		y += w[i] * x
	}
	return y
}
