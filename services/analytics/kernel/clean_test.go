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
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

func numericBatch(vals ...any) *value.Batch {
	rows := make([]value.Record, len(vals))
	for i, v := range vals {
		x, _ := value.FromAny(v)
		rows[i] = value.Record{"v": x}
	}
	return value.NewBatch(rows)
}

func TestClean_ImputeMethods(t *testing.T) {
	tests := []struct {
		method ImputeMethod
		want   float64
	}{
		{ImputeMean, 4},
		{ImputeMedian, 3},
		{ImputeMode, 3},
		{ImputeZero, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			b := numericBatch(3.0, 3.0, 6.0, nil)
			// a wide threshold keeps outlier handling out of the way
			cfg := PreprocessConfig{ImputeMethod: tt.method, OutlierMethod: OutlierZScore, OutlierThreshold: 100}
			out, errs := Clean(b, Schema{"v": LabelNumeric}, cfg)
			require.Empty(t, errs)
			f, ok := out.Rows[3].Get("v").Float64()
			require.True(t, ok)
			assert.InDelta(t, tt.want, f, 1e-9)
		})
	}
}

func TestClean_IQRClip(t *testing.T) {
	b := numericBatch(1.0, 2.0, 3.0, 4.0, 5.0, 100.0)
	out, errs := Clean(b, Schema{"v": LabelNumeric}, PreprocessConfig{})
	require.Empty(t, errs)

	vals, _ := out.Floats("v")
	_, hi := MinMax(vals)
	assert.Less(t, hi, 100.0)
	assert.Equal(t, 1.0, vals[0])
}

func TestClean_ZScoreReplacesOutliers(t *testing.T) {
	b := numericBatch(10.0, 10.0, 11.0, 9.0, 10.0, 10.0, 500.0)
	out, errs := Clean(b, Schema{"v": LabelNumeric}, PreprocessConfig{OutlierMethod: OutlierZScore})
	require.Empty(t, errs)

	vals, _ := out.Floats("v")
	assert.Less(t, vals[6], 20.0)
}

func TestClean_KeepsIntsWhenUntouched(t *testing.T) {
	b := numericBatch(1, 2, 3, 4, 5)
	out, _ := Clean(b, Schema{"v": LabelNumeric}, PreprocessConfig{})
	assert.Equal(t, value.KindInt, out.Rows[0].Get("v").Kind())
}

func TestClean_Categorical(t *testing.T) {
	b := value.NewBatch([]value.Record{
		{"c": value.String("x"), "e": value.Null()},
		{"c": value.String("y"), "e": value.Null()},
		{"c": value.String("y"), "e": value.Null()},
		{"c": value.Null(), "e": value.Null()},
	})
	out, errs := Clean(b, Schema{"c": LabelCategorical, "e": LabelIdentifier}, PreprocessConfig{})
	require.Empty(t, errs)

	assert.Equal(t, value.String("y"), out.Rows[3].Get("c"))
	assert.Equal(t, value.String(UnknownCategory), out.Rows[0].Get("e"))
}

func TestClean_InfiniteIsColumnError(t *testing.T) {
	b := numericBatch(1.0, math.Inf(1), 3.0)
	out, errs := Clean(b, Schema{"v": LabelNumeric}, PreprocessConfig{})
	require.Len(t, errs, 1)

	var colErr *ColumnError
	require.True(t, errors.As(errs[0], &colErr))
	assert.Equal(t, "v", colErr.Column)
	assert.Equal(t, 3, out.Len())
}

func TestClean_Idempotent(t *testing.T) {
	configs := []PreprocessConfig{
		{},
		{OutlierMethod: OutlierZScore},
		{ImputeMethod: ImputeMedian},
		{ImputeMethod: ImputeMode, OutlierMethod: OutlierZScore, OutlierThreshold: 1.5},
	}
	b := numericBatch(5.0, nil, 7.0, 6.0, 200.0, 5.5, nil, -40.0, 6.5, 6.0, 5.0)
	schema := Schema{"v": LabelNumeric}
	for _, cfg := range configs {
		once, _ := Clean(b, schema, cfg)
		twice, _ := Clean(once, schema, cfg)
		assert.True(t, once.Equal(twice), "config %+v", cfg)
	}
}

func TestClean_DoesNotMutateInput(t *testing.T) {
	b := numericBatch(1.0, nil, 3.0)
	_, _ = Clean(b, Schema{"v": LabelNumeric}, PreprocessConfig{})
	assert.True(t, b.Rows[1].Get("v").IsNull())
}
