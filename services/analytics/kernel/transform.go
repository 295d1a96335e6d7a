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
	"fmt"
	"math"
	"sort"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Trend labels for the per-row first difference.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// normalizeEpsilon is the range below which a column normalises to 0.
const normalizeEpsilon = 1e-6

// Derived column name helpers.
func RollAvgColumn(col string) string { return col + "_roll_avg" }
func RollStdColumn(col string) string { return col + "_roll_std" }
func TrendColumn(col string) string   { return col + "_trend" }

// Transform derives features from a copy of b.
//
// # Description
//
// For each numeric column, in batch column order:
//
//   - {col}_roll_avg and {col}_roll_std over cfg.RollingWindow rows
//     (min_periods 1), gaps filled with the column mean and std, when
//     cfg.Rolling() is true. The rolling features use pre-normalisation
//     values.
//   - {col}_trend: "up", "down" or "stable" from the sign of the first
//     difference. The first row is "stable".
//   - the column itself is min-max normalised to [0,1], or set to 0 when
//     its range is below 1e-6.
//
// When cfg.Encode() is true, each categorical column also gets one boolean
// column per distinct value, named {col}_{value}.
//
// Rows are never removed or reordered and original columns keep their
// names. A derived name that collides with an existing column is skipped
// and reported.
func Transform(b *value.Batch, schema Schema, cfg PreprocessConfig) (*value.Batch, []error) {
	cfg = cfg.WithDefaults()
	out := b.Clone()
	original := append([]string(nil), b.Columns...)
	taken := make(map[string]bool, len(original))
	for _, c := range original {
		taken[c] = true
	}
	var errs []error

	addColumn := func(src, name string, vals []value.Value) {
		if taken[name] {
			errs = append(errs, &ColumnError{Column: src, Stage: "transform",
				Err: fmt.Errorf("derived column %q already exists", name)})
			return
		}
		taken[name] = true
		out.SetColumn(name, vals)
	}

	for _, col := range original {
		switch schema[col] {
		case LabelNumeric:
			vals, present := out.Floats(col)
			if cfg.Rolling() {
				avg, std := rollingStats(vals, present, cfg.RollingWindow)
				addColumn(col, RollAvgColumn(col), avg)
				addColumn(col, RollStdColumn(col), std)
			}
			addColumn(col, TrendColumn(col), trendLabels(vals, present))
			out.SetColumn(col, normalize(vals, present))
		case LabelCategorical:
			if cfg.Encode() {
				for _, enc := range oneHot(out, col) {
					addColumn(col, enc.name, enc.vals)
				}
			}
		}
	}
	return out, errs
}

func rollingStats(vals []float64, present []bool, window int) (avg, std []value.Value) {
	if window < 1 {
		window = 1
	}
	xs, _ := Compact(vals, present)
	colMean, colStd := Mean(xs), Std(xs)
	if math.IsNaN(colMean) {
		colMean = 0
	}
	if math.IsNaN(colStd) {
		colStd = 0
	}

	avg = make([]value.Value, len(vals))
	std = make([]value.Value, len(vals))
	for i := range vals {
		var win []float64
		for j := max(0, i-window+1); j <= i; j++ {
			if present[j] {
				win = append(win, vals[j])
			}
		}
		m, s := Mean(win), Std(win)
		if math.IsNaN(m) {
			m = colMean
		}
		if math.IsNaN(s) {
			s = colStd
		}
		avg[i] = value.Float(m)
		std[i] = value.Float(s)
	}
	return avg, std
}

func trendLabels(vals []float64, present []bool) []value.Value {
	out := make([]value.Value, len(vals))
	for i := range vals {
		label := TrendStable
		if i > 0 && present[i] && present[i-1] {
			switch d := vals[i] - vals[i-1]; {
			case d > 0:
				label = TrendUp
			case d < 0:
				label = TrendDown
			}
		}
		out[i] = value.String(label)
	}
	return out
}

func normalize(vals []float64, present []bool) []value.Value {
	xs, _ := Compact(vals, present)
	lo, hi := MinMax(xs)
	span := hi - lo
	out := make([]value.Value, len(vals))
	for i, v := range vals {
		switch {
		case !present[i]:
			out[i] = value.Null()
		case !(span >= normalizeEpsilon):
			out[i] = value.Float(0)
		default:
			n := (v - lo) / span
			out[i] = value.Float(math.Max(0, math.Min(1, n)))
		}
	}
	return out
}

type encodedColumn struct {
	name string
	vals []value.Value
}

func oneHot(b *value.Batch, col string) []encodedColumn {
	vals := b.Column(col)
	distinct := make(map[string]bool)
	for _, v := range vals {
		if !v.IsNull() {
			distinct[v.String()] = true
		}
	}
	levels := make([]string, 0, len(distinct))
	for l := range distinct {
		levels = append(levels, l)
	}
	sort.Strings(levels)

	out := make([]encodedColumn, 0, len(levels))
	for _, level := range levels {
		enc := make([]value.Value, len(vals))
		for i, v := range vals {
			enc[i] = value.Bool(!v.IsNull() && v.String() == level)
		}
		out = append(out, encodedColumn{name: col + "_" + level, vals: enc})
	}
	return out
}

// NumericMatrix extracts the given columns as a row-major feature matrix.
// Missing cells take the column mean (0 if the column has no values).
func NumericMatrix(b *value.Batch, cols []string) [][]float64 {
	features := make([][]float64, b.Len())
	for i := range features {
		features[i] = make([]float64, len(cols))
	}
	for j, col := range cols {
		vals, present := b.Floats(col)
		xs, _ := Compact(vals, present)
		fill := Mean(xs)
		if math.IsNaN(fill) {
			fill = 0
		}
		for i := range vals {
			if present[i] {
				features[i][j] = vals[i]
			} else {
				features[i][j] = fill
			}
		}
	}
	return features
}
