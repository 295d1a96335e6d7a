// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// EventType names a bus event.
type EventType string

const (
	RawDataReady   EventType = "raw_data_ready"
	IngestionError EventType = "ingestion_error"

	SchemaLearned       EventType = "schema_learned"
	SchemaEvolved       EventType = "schema_evolved"
	SchemaLearningError EventType = "schema_learning_error"

	EDAComplete EventType = "eda_complete"
	EDAError    EventType = "eda_error"
	DataReady   EventType = "data_ready"

	KPIsMonitored      EventType = "kpis_monitored"
	KPIAlert           EventType = "kpi_alert"
	KPIMonitoringError EventType = "kpi_monitoring_error"

	IssuesDetected      EventType = "issues_detected"
	ActionRequired      EventType = "action_required"
	IssueDetectionError EventType = "issue_detection_error"

	RootCauseAnalyzed      EventType = "root_cause_analyzed"
	RootCauseIdentified    EventType = "root_cause_identified"
	RootCauseAnalysisError EventType = "root_cause_analysis_error"

	PredictionsGenerated EventType = "predictions_generated"
	PredictionsAvailable EventType = "predictions_available"
	PredictionError      EventType = "prediction_error"

	OptimizationProposed   EventType = "optimization_proposed"
	OptimizationActionable EventType = "optimization_actionable"
	OptimizationError      EventType = "optimization_error"
)

// Well-known subscriber contexts used as event targets.
const (
	TargetVisualization  = "visualization_agent"
	TargetDecisionMaking = "decision_making_agent"
	TargetEDA            = "eda_agent_1"
)

// triggerSuffix marks manual agent triggers, e.g. "kpi_agent_1_trigger".
const triggerSuffix = "_trigger"

// Taxonomy lists every analytics event type.
var Taxonomy = []EventType{
	RawDataReady, IngestionError,
	SchemaLearned, SchemaEvolved, SchemaLearningError,
	EDAComplete, EDAError, DataReady,
	KPIsMonitored, KPIAlert, KPIMonitoringError,
	IssuesDetected, ActionRequired, IssueDetectionError,
	RootCauseAnalyzed, RootCauseIdentified, RootCauseAnalysisError,
	PredictionsGenerated, PredictionsAvailable, PredictionError,
	OptimizationProposed, OptimizationActionable, OptimizationError,
}

// Known reports whether t belongs to the analytics taxonomy.
func (t EventType) Known() bool {
	return slices.Contains(Taxonomy, t)
}

// IsTrigger reports whether t is a manual agent trigger.
func (t EventType) IsTrigger() bool {
	return strings.HasSuffix(string(t), triggerSuffix) && len(t) > len(triggerSuffix)
}

// TriggerFor returns the trigger event type for agentID.
func TriggerFor(agentID string) EventType {
	return EventType(agentID + triggerSuffix)
}

// Identified is implemented by event payloads that carry the identifier
// they concern.
type Identified interface {
	EventIdentifier() string
}

// Message is one bus event.
type Message struct {
	EventType   EventType
	Data        any
	IssuedAt    time.Time
	TargetAgent string
}

// NewMessage stamps a message at now (UTC).
func NewMessage(t EventType, data any, target string, now time.Time) Message {
	return Message{EventType: t, Data: data, IssuedAt: now.UTC(), TargetAgent: target}
}

type wireMessage struct {
	EventType   EventType       `json:"event_type"`
	Data        json.RawMessage `json:"data"`
	IssuedAt    string          `json:"issued_at"`
	TargetAgent *string         `json:"target_agent"`
}

// Encode serializes m as {event_type, data, issued_at, target_agent}.
// issued_at is ISO-8601 UTC and an empty target encodes as null.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.EventType, err)
	}
	w := wireMessage{
		EventType: m.EventType,
		Data:      data,
		IssuedAt:  m.IssuedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.TargetAgent != "" {
		target := m.TargetAgent
		w.TargetAgent = &target
	}
	return json.Marshal(w)
}

// Decoded is a message read back from the wire. Data stays raw so callers
// decode it into the payload type they expect.
type Decoded struct {
	EventType   EventType       `json:"event_type"`
	Data        json.RawMessage `json:"data"`
	IssuedAt    time.Time       `json:"issued_at"`
	TargetAgent string          `json:"target_agent"`
}

// Decode parses a wire message.
func Decode(payload []byte) (Decoded, error) {
	var w wireMessage
	if err := json.Unmarshal(payload, &w); err != nil {
		return Decoded{}, fmt.Errorf("decode message: %w", err)
	}
	issued, err := time.Parse(time.RFC3339Nano, w.IssuedAt)
	if err != nil {
		return Decoded{}, fmt.Errorf("decode issued_at: %w", err)
	}
	d := Decoded{EventType: w.EventType, Data: w.Data, IssuedAt: issued}
	if w.TargetAgent != nil {
		d.TargetAgent = *w.TargetAgent
	}
	return d, nil
}

// Identifier extracts data.identifier, or "" when absent.
func (d Decoded) Identifier() string {
	var head struct {
		Identifier string `json:"identifier"`
	}
	if err := json.Unmarshal(d.Data, &head); err != nil {
		return ""
	}
	return head.Identifier
}

// ErrMalformed is returned by Validate.
var ErrMalformed = errors.New("malformed event")

// Validate checks that a decoded message has a known event type or a
// trigger type, and a data.identifier.
func Validate(d Decoded) error {
	if !d.EventType.Known() && !d.EventType.IsTrigger() {
		return fmt.Errorf("%w: unknown event type %q", ErrMalformed, d.EventType)
	}
	if d.IssuedAt.IsZero() {
		return fmt.Errorf("%w: missing issued_at", ErrMalformed)
	}
	if !d.EventType.IsTrigger() && d.Identifier() == "" {
		return fmt.Errorf("%w: %s has no data.identifier", ErrMalformed, d.EventType)
	}
	return nil
}
