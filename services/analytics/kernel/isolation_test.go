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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsolationForest_FlagsFarPoint(t *testing.T) {
	var pts [][]float64
	for i := 0; i < 19; i++ {
		pts = append(pts, []float64{float64(i%5) * 0.1, float64(i%4) * 0.1})
	}
	pts = append(pts, []float64{50, 50})

	forest := NewIsolationForest(0.05, DefaultSeed)
	outliers := forest.Outliers(pts)
	require.Len(t, outliers, 1)
	assert.Equal(t, 19, outliers[0])
}

func TestIsolationForest_Deterministic(t *testing.T) {
	pts := blobs()
	f := NewIsolationForest(DefaultContamination, DefaultSeed)
	assert.Equal(t, f.Scores(pts), f.Scores(pts))
}

func TestIsolationForest_ContaminationCount(t *testing.T) {
	f := NewIsolationForest(0.1, DefaultSeed)
	assert.Len(t, f.Outliers(blobs()), 1)
	assert.Empty(t, NewIsolationForest(0.01, DefaultSeed).Outliers(blobs()))
}
