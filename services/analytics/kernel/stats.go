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
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// Std returns the sample standard deviation (n-1 denominator), or NaN when
// fewer than two values are given.
func Std(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Skew returns the biased sample skewness m3 / m2^1.5. A constant series
// has zero skew.
func Skew(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := Mean(xs)
	var m2, m3 float64
	for _, x := range xs {
		d := x - m
		m2 += d * d
		m3 += d * d * d
	}
	n := float64(len(xs))
	m2 /= n
	m3 /= n
	if m2 < 1e-24 {
		return 0
	}
	return m3 / math.Pow(m2, 1.5)
}

func sortedCopy(xs []float64) []float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s
}

// Quantile returns the q-quantile with linear interpolation between order
// statistics.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := sortedCopy(xs)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	frac := pos - float64(lo)
	return s[lo] + frac*(s[hi]-s[lo])
}

// NearestQuantile returns the order statistic nearest to the q-quantile
// position. The result is always an observed value.
func NearestQuantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := sortedCopy(xs)
	idx := int(math.Round(q * float64(len(s)-1)))
	return s[idx]
}

// Median returns the 0.5 quantile.
func Median(xs []float64) float64 {
	return Quantile(xs, 0.5)
}

// Mode returns the most frequent value; ties go to the smallest.
func Mode(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	counts := make(map[float64]int, len(xs))
	for _, x := range xs {
		counts[x]++
	}
	best, bestCount := math.Inf(1), 0
	for x, c := range counts {
		if c > bestCount || (c == bestCount && x < best) {
			best, bestCount = x, c
		}
	}
	return best
}

// MinMax returns the extremes of xs.
func MinMax(xs []float64) (lo, hi float64) {
	if len(xs) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	return lo, hi
}

// Description is a per-column summary in the shape of a describe() table.
type Description struct {
	Count float64 `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"25%"`
	P50   float64 `json:"50%"`
	P75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

// Describe summarises xs. Undefined statistics (std of one value) are 0 so
// the result always serialises.
func Describe(xs []float64) Description {
	if len(xs) == 0 {
		return Description{}
	}
	lo, hi := MinMax(xs)
	d := Description{
		Count: float64(len(xs)),
		Mean:  Mean(xs),
		Std:   Std(xs),
		Min:   lo,
		P25:   Quantile(xs, 0.25),
		P50:   Quantile(xs, 0.5),
		P75:   Quantile(xs, 0.75),
		Max:   hi,
	}
	if math.IsNaN(d.Std) {
		d.Std = 0
	}
	return d
}

// MinCorrelationPoints is the number of common observations Pearson needs.
const MinCorrelationPoints = 5

// Pearson returns the correlation of x and y over indices where both are
// present. Fewer than MinCorrelationPoints common points, or a constant
// series, yields 0.
func Pearson(x, y []float64, xPresent, yPresent []bool) float64 {
	var xs, ys []float64
	for i := range x {
		if i < len(y) && xPresent[i] && yPresent[i] {
			xs = append(xs, x[i])
			ys = append(ys, y[i])
		}
	}
	if len(xs) < MinCorrelationPoints {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx < 1e-24 || syy < 1e-24 {
		return 0
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r))
}

// ZScoreOutliers returns the positions i (into xs) whose |z| exceeds
// threshold, using the sample standard deviation. Series with fewer than
// five points or zero spread have no outliers.
func ZScoreOutliers(xs []float64, threshold float64) []int {
	if len(xs) < 5 {
		return nil
	}
	m, s := Mean(xs), Std(xs)
	if !(s > 0) {
		return nil
	}
	var out []int
	for i, x := range xs {
		if math.Abs((x-m)/s) > threshold {
			out = append(out, i)
		}
	}
	return out
}

// Compact returns the present values of vals in order, with their
// original positions.
func Compact(vals []float64, present []bool) (xs []float64, idx []int) {
	for i, v := range vals {
		if present[i] {
			xs = append(xs, v)
			idx = append(idx, i)
		}
	}
	return xs, idx
}

// Standardize scales each feature column to zero mean and unit population
// variance. Constant columns become 0.
func Standardize(features [][]float64) [][]float64 {
	if len(features) == 0 {
		return nil
	}
	dims := len(features[0])
	out := make([][]float64, len(features))
	for i := range out {
		out[i] = make([]float64, dims)
	}
	col := make([]float64, len(features))
	for j := 0; j < dims; j++ {
		for i, row := range features {
			col[i] = row[j]
		}
		m := Mean(col)
		var ss float64
		for _, x := range col {
			ss += (x - m) * (x - m)
		}
		sd := math.Sqrt(ss / float64(len(col)))
		for i := range features {
			if sd > 1e-12 {
				out[i][j] = (col[i] - m) / sd
			}
		}
	}
	return out
}
