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

// UnknownCategory fills categorical columns that have no values at all.
const UnknownCategory = "unknown"

// ColumnError reports a failure confined to one column. The pipeline logs
// it and continues with the column unchanged.
type ColumnError struct {
	Column string
	Stage  string
	Err    error
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("%s column %q: %v", e.Stage, e.Column, e.Err)
}

func (e *ColumnError) Unwrap() error { return e.Err }

// Clean imputes and bounds a copy of b according to schema and cfg.
//
// # Description
//
// Numeric columns have missing values imputed with cfg.ImputeMethod and
// outliers handled with cfg.OutlierMethod:
//
//   - iqr: clip to [Q1 - k*IQR, Q3 + k*IQR], quartiles taken at the
//     nearest order statistic
//   - zscore: values with |z| > k become missing and are re-imputed with
//     the mean, repeated until no value exceeds k
//
// Categorical and identifier columns have missing values filled with the
// column mode, or UnknownCategory when the column is empty.
//
// Both policies reach a fixed point, so Clean(Clean(b)) equals Clean(b).
//
// # Outputs
//
//   - *value.Batch: The cleaned copy. Rows and columns are unchanged in
//     number and order.
//   - []error: Per-column *ColumnError values. Never fatal.
func Clean(b *value.Batch, schema Schema, cfg PreprocessConfig) (*value.Batch, []error) {
	cfg = cfg.WithDefaults()
	out := b.Clone()
	var errs []error
	for _, col := range out.Columns {
		var err error
		switch schema[col] {
		case LabelNumeric:
			err = cleanNumeric(out, col, cfg)
		case LabelCategorical, LabelIdentifier:
			cleanCategorical(out, col)
		}
		if err != nil {
			errs = append(errs, &ColumnError{Column: col, Stage: "clean", Err: err})
		}
	}
	return out, errs
}

func cleanNumeric(b *value.Batch, col string, cfg PreprocessConfig) error {
	vals, present := b.Floats(col)
	for _, v := range vals {
		if math.IsInf(v, 0) {
			return fmt.Errorf("infinite value")
		}
	}

	fill := imputeValue(vals, present, cfg.ImputeMethod)
	filled := make([]float64, len(vals))
	for i := range vals {
		if present[i] {
			filled[i] = vals[i]
		} else {
			filled[i] = fill
		}
	}

	if len(filled) > 0 {
		switch cfg.OutlierMethod {
		case OutlierZScore:
			filled = replaceZScoreOutliers(filled, cfg.OutlierThreshold)
		default:
			filled = clipIQR(filled, cfg.OutlierThreshold)
		}
	}

	out := make([]value.Value, len(filled))
	for i, f := range filled {
		if present[i] && vals[i] == f {
			out[i] = b.Rows[i].Get(col) // keep Int values as Int when untouched
			continue
		}
		out[i] = value.Float(f)
	}
	b.SetColumn(col, out)
	return nil
}

func imputeValue(vals []float64, present []bool, method ImputeMethod) float64 {
	xs, _ := Compact(vals, present)
	if len(xs) == 0 || method == ImputeZero {
		return 0
	}
	switch method {
	case ImputeMedian:
		return Median(xs)
	case ImputeMode:
		return Mode(xs)
	default:
		return Mean(xs)
	}
}

func clipIQR(xs []float64, k float64) []float64 {
	q1 := NearestQuantile(xs, 0.25)
	q3 := NearestQuantile(xs, 0.75)
	iqr := q3 - q1
	lo, hi := q1-k*iqr, q3+k*iqr
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Max(lo, math.Min(hi, x))
	}
	return out
}

func replaceZScoreOutliers(xs []float64, k float64) []float64 {
	out := append([]float64(nil), xs...)
	for iter := 0; iter <= len(out); iter++ {
		m, s := Mean(out), Std(out)
		if !(s > 0) {
			return out
		}
		var outliers []int
		for i, x := range out {
			if math.Abs((x-m)/s) > k {
				outliers = append(outliers, i)
			}
		}
		if len(outliers) == 0 {
			return out
		}
		isOutlier := make(map[int]bool, len(outliers))
		for _, i := range outliers {
			isOutlier[i] = true
		}
		var kept []float64
		for i, x := range out {
			if !isOutlier[i] {
				kept = append(kept, x)
			}
		}
		fill := Mean(kept)
		for _, i := range outliers {
			out[i] = fill
		}
	}
	return out
}

func cleanCategorical(b *value.Batch, col string) {
	vals := b.Column(col)
	counts := make(map[string]int)
	exemplar := make(map[string]value.Value)
	missing := false
	for _, v := range vals {
		if v.IsNull() {
			missing = true
			continue
		}
		k := v.Key()
		counts[k]++
		exemplar[k] = v
	}
	if !missing {
		return
	}

	fill := value.String(UnknownCategory)
	if len(counts) > 0 {
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		best := keys[0]
		for _, k := range keys[1:] {
			if counts[k] > counts[best] {
				best = k
			}
		}
		fill = exemplar[best]
	}

	for i, v := range vals {
		if v.IsNull() {
			vals[i] = fill
		}
	}
	b.SetColumn(col, vals)
}
