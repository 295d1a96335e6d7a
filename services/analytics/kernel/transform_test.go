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

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

func TestTransform_NormalizationRange(t *testing.T) {
	b := sampleBatch(15)
	schema := Infer(b)
	cleaned, _ := Clean(b, schema, PreprocessConfig{})
	out, errs := Transform(cleaned, schema, PreprocessConfig{})
	require.Empty(t, errs)

	vals, present := out.Floats("value")
	for i, v := range vals {
		require.True(t, present[i])
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, 0.0, vals[0])
	assert.Equal(t, 1.0, vals[14])
	assert.InDelta(t, 0.5, Mean(vals), 1e-9)
}

func TestTransform_ConstantColumnIsZero(t *testing.T) {
	b := numericBatch(7.0, 7.0, 7.0000001, 7.0)
	out, _ := Transform(b, Schema{"v": LabelNumeric}, PreprocessConfig{})
	vals, _ := out.Floats("v")
	assert.Equal(t, []float64{0, 0, 0, 0}, vals)
}

func TestTransform_NoRowLossAndColumnsKept(t *testing.T) {
	b := value.NewBatch([]value.Record{
		{"v": value.Int(1), "c": value.String("a")},
		{"v": value.Int(3), "c": value.String("b")},
		{"v": value.Null(), "c": value.String("a")},
		{"v": value.Int(2), "c": value.Null()},
	})
	schema := Schema{"v": LabelNumeric, "c": LabelCategorical}
	cleaned, _ := Clean(b, schema, PreprocessConfig{})
	out, errs := Transform(cleaned, schema, PreprocessConfig{})
	require.Empty(t, errs)

	assert.Equal(t, b.Len(), out.Len())
	assert.Equal(t, b.Columns, out.Columns[:len(b.Columns)])
	for _, col := range []string{"v_roll_avg", "v_roll_std", "v_trend", "c_a", "c_b"} {
		assert.True(t, out.HasColumn(col), col)
	}
}

func TestTransform_TrendLabels(t *testing.T) {
	b := numericBatch(1.0, 2.0, 2.0, 0.5)
	out, _ := Transform(b, Schema{"v": LabelNumeric}, PreprocessConfig{})
	got := out.Column(TrendColumn("v"))
	assert.Equal(t, []value.Value{
		value.String(TrendStable),
		value.String(TrendUp),
		value.String(TrendStable),
		value.String(TrendDown),
	}, got)
}

func TestTransform_RollingUsesRawValues(t *testing.T) {
	b := numericBatch(2.0, 4.0, 6.0)
	out, _ := Transform(b, Schema{"v": LabelNumeric}, PreprocessConfig{RollingWindow: 2})
	avg, _ := out.Floats(RollAvgColumn("v"))
	assert.Equal(t, []float64{2, 3, 5}, avg)

	std, _ := out.Floats(RollStdColumn("v"))
	// a single-point window has no sample std and takes the column std
	assert.InDelta(t, 2.0, std[0], 1e-9)
}

func TestTransform_RollingDisabled(t *testing.T) {
	off := false
	b := numericBatch(1.0, 2.0)
	out, _ := Transform(b, Schema{"v": LabelNumeric}, PreprocessConfig{RollingFeatures: &off, EncodeCategorical: &off})
	assert.False(t, out.HasColumn(RollAvgColumn("v")))
	assert.True(t, out.HasColumn(TrendColumn("v")))
}

func TestTransform_CollisionReported(t *testing.T) {
	b := value.NewBatch([]value.Record{
		{"v": value.Int(1), "v_trend": value.String("keep")},
		{"v": value.Int(2), "v_trend": value.String("keep")},
	})
	out, errs := Transform(b, Schema{"v": LabelNumeric, "v_trend": LabelIdentifier}, PreprocessConfig{})
	require.Len(t, errs, 1)
	assert.Equal(t, value.String("keep"), out.Rows[0].Get("v_trend"))
}

func TestNumericMatrix_FillsMean(t *testing.T) {
	b := numericBatch(1.0, nil, 3.0)
	m := NumericMatrix(b, []string{"v"})
	assert.Equal(t, [][]float64{{1}, {2}, {3}}, m)
}
