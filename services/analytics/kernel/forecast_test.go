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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecast_LinearSeries(t *testing.T) {
	series := make([]float64, 40)
	for i := range series {
		series[i] = 2*float64(i) + 1
	}
	res := Forecast(series, ForecastOptions{})

	assert.Equal(t, ModelAutoregressive, res.Model)
	require.Len(t, res.Forecast, DefaultForecastSteps)
	assert.True(t, res.RMSE.Finite())
	assert.Less(t, float64(res.RMSE), 1.0)
	assert.InDelta(t, 81.0, res.Forecast[0], 1.0)
	assert.Greater(t, res.Forecast[4], res.Forecast[0])
}

func TestForecast_ShortSeriesFallsBack(t *testing.T) {
	res := Forecast([]float64{1, 2, 3}, ForecastOptions{})
	assert.Equal(t, ModelMeanFallback, res.Model)
	assert.Equal(t, []float64{2, 2, 2, 2, 2}, res.Forecast)
	assert.True(t, math.IsInf(float64(res.RMSE), 1))
}

func TestForecast_ConstantSeries(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 4
	}
	res := Forecast(series, ForecastOptions{Steps: 3})
	require.Len(t, res.Forecast, 3)
	for _, f := range res.Forecast {
		assert.InDelta(t, 4.0, f, 1e-6)
	}
}

func TestRMSE_JSON(t *testing.T) {
	tests := []struct {
		in   RMSE
		want string
	}{
		{RMSE(math.Inf(1)), `"+Inf"`},
		{RMSE(math.NaN()), `null`},
		{RMSE(0.25), `0.25`},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(data))
	}

	var r RMSE
	require.NoError(t, json.Unmarshal([]byte(`"+Inf"`), &r))
	assert.True(t, math.IsInf(float64(r), 1))
}
