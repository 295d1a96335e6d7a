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
	"testing"

	"github.com/stretchr/testify/assert"
)

func allPresent(n int) []bool {
	p := make([]bool, n)
	for i := range p {
		p[i] = true
	}
	return p
}

func TestDescribe(t *testing.T) {
	d := Describe([]float64{1, 2, 3, 4, 5})
	assert.Equal(t, 5.0, d.Count)
	assert.Equal(t, 3.0, d.Mean)
	assert.InDelta(t, math.Sqrt(2.5), d.Std, 1e-12)
	assert.Equal(t, 2.0, d.P25)
	assert.Equal(t, 3.0, d.P50)
	assert.Equal(t, 4.0, d.P75)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)

	assert.Equal(t, 0.0, Describe([]float64{9}).Std)
}

func TestSkew(t *testing.T) {
	assert.Equal(t, 0.0, Skew([]float64{3, 3, 3}))
	assert.InDelta(t, 0.0, Skew([]float64{1, 2, 3}), 1e-12)
	assert.Greater(t, Skew([]float64{1, 1, 1, 1, 10}), 1.0)
}

func TestPearson(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{2, 4, 6, 8, 10, 12}
	z := []float64{6, 5, 4, 3, 2, 1}
	p := allPresent(6)

	assert.InDelta(t, 1.0, Pearson(x, y, p, p), 1e-12)
	assert.InDelta(t, -1.0, Pearson(x, z, p, p), 1e-12)

	sparse := []bool{true, true, false, true, false, true}
	assert.Equal(t, 0.0, Pearson(x, y, p, sparse), "fewer than five common points")
	assert.Equal(t, 0.0, Pearson(x, []float64{1, 1, 1, 1, 1, 1}, p, p))
}

func TestZScoreOutliers(t *testing.T) {
	xs := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 100}
	assert.Equal(t, []int{9}, ZScoreOutliers(xs, 2.0))
	assert.Nil(t, ZScoreOutliers([]float64{1, 100}, 2.0))
}

func TestMode_TieGoesToSmallest(t *testing.T) {
	assert.Equal(t, 2.0, Mode([]float64{5, 2, 5, 2, 9}))
}

func TestStandardize(t *testing.T) {
	out := Standardize([][]float64{{1, 5}, {3, 5}})
	assert.Equal(t, [][]float64{{-1, 0}, {1, 0}}, out)
}
