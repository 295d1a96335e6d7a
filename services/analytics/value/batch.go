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
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Record is one row: field name to scalar. A missing key and a Null value
// both mean "missing".
type Record map[string]Value

// Get returns the value for field, or Null when absent.
func (r Record) Get(field string) Value {
	if v, ok := r[field]; ok {
		return v
	}
	return Null()
}

// Clone returns a shallow copy; Values are immutable so this is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// sortedKeys returns the record's keys in lexical order.
func (r Record) sortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Batch is an ordered set of rows with a stable column order.
//
// # Description
//
// Columns are listed in order of first appearance. Within a single record
// newly seen keys are added in lexical order, so construction from maps is
// deterministic. Row order is significant and every kernel operation
// preserves it.
type Batch struct {
	Columns []string
	Rows    []Record
}

// NewBatch builds a Batch from rows, discovering columns.
func NewBatch(rows []Record) *Batch {
	b := &Batch{Rows: rows}
	seen := make(map[string]bool)
	for _, row := range rows {
		for _, k := range row.sortedKeys() {
			if !seen[k] {
				seen[k] = true
				b.Columns = append(b.Columns, k)
			}
		}
	}
	return b
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// HasColumn reports whether name is a known column.
func (b *Batch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the values of name for every row, Null where absent.
func (b *Batch) Column(name string) []Value {
	out := make([]Value, len(b.Rows))
	for i, row := range b.Rows {
		out[i] = row.Get(name)
	}
	return out
}

// Floats returns the numeric values of name with a presence mask.
// Non-numeric values are reported as missing.
func (b *Batch) Floats(name string) (vals []float64, present []bool) {
	vals = make([]float64, len(b.Rows))
	present = make([]bool, len(b.Rows))
	for i, row := range b.Rows {
		if f, ok := row.Get(name).Float64(); ok {
			vals[i] = f
			present[i] = true
		}
	}
	return vals, present
}

// SetColumn writes vals into column name, appending the column if new.
func (b *Batch) SetColumn(name string, vals []Value) {
	if len(vals) != len(b.Rows) {
		panic(fmt.Sprintf("value: SetColumn %q with %d values for %d rows", name, len(vals), len(b.Rows)))
	}
	if !b.HasColumn(name) {
		b.Columns = append(b.Columns, name)
	}
	for i, v := range vals {
		b.Rows[i][name] = v
	}
}

// Clone deep-copies the batch.
func (b *Batch) Clone() *Batch {
	out := &Batch{
		Columns: append([]string(nil), b.Columns...),
		Rows:    make([]Record, len(b.Rows)),
	}
	for i, row := range b.Rows {
		out.Rows[i] = row.Clone()
	}
	return out
}

// Equal reports whether two batches hold the same columns and values.
func (b *Batch) Equal(o *Batch) bool {
	if b.Len() != o.Len() || len(b.Columns) != len(o.Columns) {
		return false
	}
	for i, c := range b.Columns {
		if o.Columns[i] != c {
			return false
		}
	}
	for i := range b.Rows {
		for _, c := range b.Columns {
			if !b.Rows[i].Get(c).Equal(o.Rows[i].Get(c)) {
				return false
			}
		}
	}
	return true
}

// =============================================================================
// Decoding
// =============================================================================

// DecodeRecords parses a JSON array of flat objects.
func DecodeRecords(data []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return FromMaps(raw)
}

// FromMaps converts generic decoded objects into Records. Nested objects
// and arrays are rejected.
func FromMaps(raw []map[string]any) ([]Record, error) {
	out := make([]Record, len(raw))
	for i, m := range raw {
		rec := make(Record, len(m))
		for k, x := range m {
			v, err := FromAny(x)
			if err != nil {
				return nil, fmt.Errorf("record %d field %q: %w", i, k, err)
			}
			rec[k] = v
		}
		out[i] = rec
	}
	return out, nil
}

// FromAnySlice converts a decoded JSON array (as produced by a generic
// map[string]any config) into Records.
func FromAnySlice(raw []any) ([]Record, error) {
	maps := make([]map[string]any, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, want object", i, item)
		}
		maps[i] = m
	}
	return FromMaps(maps)
}

// ReadCSV parses CSV with a header row. Column order follows the header.
// Cells are typed with ParseCell. Rows shorter than the header are padded
// with Null.
func ReadCSV(r io.Reader) (*Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Batch{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	b := &Batch{Columns: append([]string(nil), header...)}
	for line := 2; ; line++ {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec := make(Record, len(header))
		for i, name := range header {
			if i < len(cells) {
				rec[name] = ParseCell(cells[i])
			} else {
				rec[name] = Null()
			}
		}
		b.Rows = append(b.Rows, rec)
	}
	return b, nil
}

// ReadCSVString is ReadCSV over an in-memory string.
func ReadCSVString(s string) (*Batch, error) {
	return ReadCSV(strings.NewReader(s))
}

// FromTable builds a Batch from a header row and string cells, as returned
// by spreadsheet APIs.
func FromTable(header []string, rows [][]string) *Batch {
	b := &Batch{Columns: append([]string(nil), header...)}
	for _, cells := range rows {
		rec := make(Record, len(header))
		for i, name := range header {
			if i < len(cells) {
				rec[name] = ParseCell(cells[i])
			} else {
				rec[name] = Null()
			}
		}
		b.Rows = append(b.Rows, rec)
	}
	return b
}
