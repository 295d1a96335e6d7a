// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel implements the column-wise analytics used by the agents:
// type inference, cleaning, feature transforms, clustering, descriptive
// statistics, isolation-based anomaly scoring and windowed forecasting.
//
// Every function here is pure: it takes a batch or float slices and
// returns new values, never mutating its input. Randomised algorithms take
// an explicit seed so results are reproducible.
package kernel

import (
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// Label is a field type label.
type Label string

const (
	LabelNumeric     Label = "numeric"
	LabelTimestamp   Label = "timestamp"
	LabelCategorical Label = "categorical"
	LabelIdentifier  Label = "identifier"
	LabelBoolean     Label = "boolean"
	LabelMixed       Label = "mixed"
	LabelUnknown     Label = "unknown"

	// LabelMissing marks a column absent from one side of a delta. It never
	// appears inside a Schema.
	LabelMissing Label = "missing"
)

// Schema maps field name to label.
type Schema map[string]Label

// Clone copies s.
func (s Schema) Clone() Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Columns returns the field names with the given label, in the order they
// appear in order (falling back to lexical order for names not in order).
func (s Schema) Columns(label Label, order []string) []string {
	var out []string
	seen := make(map[string]bool, len(order))
	for _, c := range order {
		seen[c] = true
		if s[c] == label {
			out = append(out, c)
		}
	}
	var rest []string
	for c, l := range s {
		if !seen[c] && l == label {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// lowCardinalityRatio is the distinct/rows ratio under which a column is
// treated as an identifier.
const lowCardinalityRatio = 0.1

// Infer labels every column of b.
//
// # Description
//
// Rules, first match wins, over the non-missing values of each column:
//
//  1. All values are datetimes, or the name contains "time" → timestamp
//  2. All numeric, all integer-like, distinct < 10% of rows → identifier
//  3. All numeric → numeric
//  4. All strings, distinct < 10% of rows → identifier, else categorical
//  5. All booleans → boolean
//  6. Otherwise (mixed kinds or no values) → unknown
//
// Inference is a pure function of the batch, so inferring twice yields
// identical labels.
func Infer(b *value.Batch) Schema {
	schema := make(Schema, len(b.Columns))
	for _, col := range b.Columns {
		schema[col] = inferColumn(col, b.Column(col), b.Len())
	}
	return schema
}

func inferColumn(name string, vals []value.Value, rows int) Label {
	var present, numeric, integral, strs, bools, times int
	distinct := make(map[string]struct{})
	for _, v := range vals {
		if v.IsNull() {
			continue
		}
		present++
		distinct[v.Key()] = struct{}{}
		switch v.Kind() {
		case value.KindInt, value.KindFloat:
			numeric++
			if v.IsIntegral() {
				integral++
			}
		case value.KindString:
			strs++
			if _, ok := v.Time(); ok {
				times++
			}
		case value.KindTimestamp:
			times++
		case value.KindBool:
			bools++
		}
	}

	if strings.Contains(strings.ToLower(name), "time") {
		return LabelTimestamp
	}
	if present == 0 {
		return LabelUnknown
	}
	if times == present {
		return LabelTimestamp
	}
	lowCardinality := float64(len(distinct)) < float64(rows)*lowCardinalityRatio
	switch {
	case numeric == present:
		if integral == present && lowCardinality {
			return LabelIdentifier
		}
		return LabelNumeric
	case strs == present:
		if lowCardinality {
			return LabelIdentifier
		}
		return LabelCategorical
	case bools == present:
		return LabelBoolean
	default:
		return LabelUnknown
	}
}

// Merge combines a new-batch schema with one inferred from history.
//
// # Description
//
// For each column:
//
//   - absent or unknown in next → the historical label
//   - both agree → kept
//   - both in {numeric, timestamp} but different → numeric
//   - otherwise → mixed
//
// Columns only in next are kept as-is.
func Merge(next, historical Schema) Schema {
	merged := next.Clone()
	for col, hist := range historical {
		cur, ok := merged[col]
		switch {
		case !ok || cur == LabelUnknown:
			merged[col] = hist
		case cur == hist:
		case isTemporalOrNumeric(cur) && isTemporalOrNumeric(hist):
			merged[col] = LabelNumeric
		default:
			merged[col] = LabelMixed
		}
	}
	return merged
}

func isTemporalOrNumeric(l Label) bool {
	return l == LabelNumeric || l == LabelTimestamp
}

// ChangeType classifies a schema delta entry.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// Change is one entry of a schema delta.
type Change struct {
	Column       string     `json:"column"`
	PreviousType Label      `json:"previous_type"`
	CurrentType  Label      `json:"current_type"`
	ChangeType   ChangeType `json:"change_type"`
}

// Delta lists the per-column differences from previous to current, sorted
// by column name.
func Delta(previous, current Schema) []Change {
	cols := make(map[string]struct{}, len(previous)+len(current))
	for c := range previous {
		cols[c] = struct{}{}
	}
	for c := range current {
		cols[c] = struct{}{}
	}
	names := make([]string, 0, len(cols))
	for c := range cols {
		names = append(names, c)
	}
	sort.Strings(names)

	var changes []Change
	for _, c := range names {
		prev, okPrev := previous[c]
		cur, okCur := current[c]
		if !okPrev {
			prev = LabelMissing
		}
		if !okCur {
			cur = LabelMissing
		}
		if prev == cur {
			continue
		}
		ct := ChangeModified
		switch {
		case !okPrev:
			ct = ChangeAdded
		case !okCur:
			ct = ChangeRemoved
		}
		changes = append(changes, Change{Column: c, PreviousType: prev, CurrentType: cur, ChangeType: ct})
	}
	return changes
}

// Apply replays changes on top of s and returns the result. Applying
// Delta(a, b) to a yields b.
func Apply(s Schema, changes []Change) Schema {
	out := s.Clone()
	for _, ch := range changes {
		if ch.ChangeType == ChangeRemoved {
			delete(out, ch.Column)
			continue
		}
		out[ch.Column] = ch.CurrentType
	}
	return out
}
