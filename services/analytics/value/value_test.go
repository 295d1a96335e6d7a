// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package value

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat_NaNIsNull(t *testing.T) {
	assert.True(t, Float(math.NaN()).IsNull())
	assert.False(t, Float(1.5).IsNull())
}

func TestKey_IntAndFloatShareKey(t *testing.T) {
	assert.Equal(t, Int(3).Key(), Float(3).Key())
	assert.NotEqual(t, Int(3).Key(), String("3").Key())
	assert.False(t, Int(3).Equal(Float(3)), "Equal compares kinds")
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{"", KindNull},
		{"  ", KindNull},
		{"42", KindInt},
		{"-7", KindInt},
		{"3.25", KindFloat},
		{"1e3", KindFloat},
		{"true", KindBool},
		{"FALSE", KindBool},
		{"cell-7", KindString},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.kind, ParseCell(tt.in).Kind())
		})
	}
}

func TestParseTime(t *testing.T) {
	got, ok := ParseTime("2023-01-02")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), got)

	_, ok = ParseTime("2023-01-02T03:04:05Z")
	assert.True(t, ok)

	_, ok = ParseTime("20230102")
	assert.False(t, ok, "bare numbers are not datetimes")

	_, ok = ParseTime("hello")
	assert.False(t, ok)
}

func TestJSON_RoundTripScalars(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"a":1,"b":2.5,"c":"x","d":true,"e":null}`), &rec))

	assert.Equal(t, KindInt, rec["a"].Kind())
	assert.Equal(t, KindFloat, rec["b"].Kind())
	assert.Equal(t, KindString, rec["c"].Kind())
	assert.Equal(t, KindBool, rec["d"].Kind())
	assert.True(t, rec["e"].IsNull())

	data, err := json.Marshal(Float(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestJSON_RejectsNested(t *testing.T) {
	_, err := DecodeRecords([]byte(`[{"a":{"b":1}}]`))
	assert.Error(t, err)
}

func TestNewBatch_ColumnOrder(t *testing.T) {
	b := NewBatch([]Record{
		{"z": Int(1), "a": Int(2)},
		{"m": Int(3), "a": Int(4)},
	})
	assert.Equal(t, []string{"a", "z", "m"}, b.Columns)
	assert.True(t, b.Rows[1].Get("z").IsNull())
}

func TestReadCSV(t *testing.T) {
	in := "time,value,label\n2023-01-01,10,x\n2023-01-02,,y\n2023-01-03,30\n"
	b, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"time", "value", "label"}, b.Columns)
	require.Equal(t, 3, b.Len())
	assert.True(t, b.Rows[1].Get("value").IsNull())
	assert.True(t, b.Rows[2].Get("label").IsNull())

	vals, present := b.Floats("value")
	assert.Equal(t, []bool{true, false, true}, present)
	assert.Equal(t, 30.0, vals[2])
}

func TestBatch_SetColumnAndClone(t *testing.T) {
	b := NewBatch([]Record{{"a": Int(1)}, {"a": Int(2)}})
	c := b.Clone()
	c.SetColumn("b", []Value{String("x"), String("y")})

	assert.False(t, b.HasColumn("b"))
	assert.True(t, c.HasColumn("b"))
	assert.False(t, b.Equal(c))
	assert.Panics(t, func() { c.SetColumn("c", []Value{Null()}) })
}

func TestFromAnySlice(t *testing.T) {
	recs, err := FromAnySlice([]any{map[string]any{"v": 1.0}, map[string]any{"v": "x"}})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = FromAnySlice([]any{"not an object"})
	assert.Error(t, err)
}
