// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agents

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
)

// Proposal descriptions. Proposals are de-duplicated by description, so
// every rule uses a fixed text.
const (
	ProposalAntenna      = "Adjust antenna tilt by 2 degrees or increase power by 3 dBm"
	ProposalSpectrum     = "Reallocate spectrum or offload traffic to adjacent cells"
	ProposalManual       = "Manual investigation required"
	ProposalCapacity     = "Increase capacity ahead of the predicted throughput decline"
	ProposalQoS          = "Apply QoS optimization ahead of the predicted latency increase"
	ProposalThroughputUp = "Optimize throughput: rebalance load and review carrier aggregation"
	ProposalLatencyDown  = "Reduce latency: tune schedulers and move traffic closer to the edge"
)

// OptimizationThresholds drive the proposal rules.
type OptimizationThresholds struct {
	ThroughputDecline float64 `json:"throughput_decline"`
	LatencyIncrease   float64 `json:"latency_increase"`
	ThroughputLow     float64 `json:"throughput_low"`
	LatencyHigh       float64 `json:"latency_high"`
}

// DefaultOptimizationThresholds returns the proposal defaults.
func DefaultOptimizationThresholds() OptimizationThresholds {
	return OptimizationThresholds{
		ThroughputDecline: 0.1,
		LatencyIncrease:   0.1,
		ThroughputLow:     10,
		LatencyHigh:       50,
	}
}

// OptimizationInput is what the proposal rules look at.
type OptimizationInput struct {
	Causes      []Cause              `json:"causes"`
	Predictions map[string][]float64 `json:"predictions"`
	KPIs        map[string]KPI       `json:"kpis"`
}

// Proposal is one suggested action.
type Proposal struct {
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Details     map[string]any `json:"details"`
}

// Actionable reports whether p asks for more than manual investigation.
func (p Proposal) Actionable() bool { return p.Description != ProposalManual }

// OptimizationResult is the outcome of one proposal run.
type OptimizationResult struct {
	Header
	Proposals  []Proposal `json:"proposals"`
	Actionable bool       `json:"actionable"`
}

// OptimizationActionable is published when a run proposes a concrete
// action.
type OptimizationActionable struct {
	Identifier string     `json:"identifier"`
	Proposals  []Proposal `json:"proposals"`
	AgentID    string     `json:"agent_id"`
}

// EventIdentifier implements bus.Identified.
func (o OptimizationActionable) EventIdentifier() string { return o.Identifier }

// OptimizationAgent ranks actionable proposals from causes, predictions
// and KPIs.
type OptimizationAgent struct {
	id         string
	deps       Deps
	thresholds OptimizationThresholds
	logger     *logging.Logger
}

// NewOptimizationAgent returns the optimization agent. Zero thresholds
// take defaults.
func NewOptimizationAgent(id string, deps Deps, thresholds OptimizationThresholds) *OptimizationAgent {
	if id == "" {
		id = OptimizationAgentID
	}
	if thresholds == (OptimizationThresholds{}) {
		thresholds = DefaultOptimizationThresholds()
	}
	deps = deps.withDefaults()
	return &OptimizationAgent{id: id, deps: deps, thresholds: thresholds, logger: deps.Logger.ForAgent(id)}
}

// ID returns the agent id.
func (a *OptimizationAgent) ID() string { return a.id }

// Propose applies the cause, prediction and KPI rules to in.
//
// # Description
//
// Proposals are de-duplicated by description, keeping the highest
// confidence, and ranked by confidence. An empty list becomes a single
// manual investigation at 0.5. Proposals are stored; a storage failure is
// logged only. optimization_actionable goes to the decision-making
// subscriber when any proposal is more than manual investigation.
func (a *OptimizationAgent) Propose(ctx context.Context, identifier, source string, in OptimizationInput) *OptimizationResult {
	ctx, done := a.deps.track(ctx, a.id, identifier)
	result := a.propose(ctx, identifier, source, in)
	done(result.Status)
	return result
}

func (a *OptimizationAgent) propose(ctx context.Context, identifier, source string, in OptimizationInput) *OptimizationResult {
	var proposals []Proposal
	proposals = append(proposals, causeProposals(in.Causes)...)
	proposals = append(proposals, predictionProposals(in.Predictions, a.thresholds)...)
	proposals = append(proposals, kpiProposals(in.KPIs, a.thresholds)...)
	proposals = dedupeProposals(proposals)
	if len(proposals) == 0 {
		proposals = []Proposal{{Description: ProposalManual, Confidence: 0.5, Details: map[string]any{}}}
	}

	result := &OptimizationResult{
		Header:    a.deps.header(a.id, identifier, source, StatusSuccess),
		Proposals: proposals,
	}
	for _, p := range proposals {
		if p.Actionable() {
			result.Actionable = true
			break
		}
	}
	a.store(ctx, identifier, proposals)

	a.deps.publish(ctx, bus.OptimizationProposed, result, source)
	if result.Actionable {
		a.deps.publish(ctx, bus.OptimizationActionable, OptimizationActionable{
			Identifier: identifier,
			Proposals:  proposals,
			AgentID:    a.id,
		}, bus.TargetDecisionMaking)
	}
	a.logger.Info("optimization proposed", "identifier", identifier, "proposals", len(proposals), "actionable", result.Actionable)
	return result
}

func (a *OptimizationAgent) store(ctx context.Context, identifier string, proposals []Proposal) {
	if a.deps.Store == nil {
		return
	}
	rows := make([]store.Optimization, len(proposals))
	now := a.deps.now()
	for i, p := range proposals {
		rows[i] = store.Optimization{
			Identifier:  identifier,
			Description: p.Description,
			Confidence:  p.Confidence,
			AgentID:     a.id,
			Details:     p.Details,
			ProposedAt:  now,
		}
	}
	if err := a.deps.Store.SaveOptimizations(ctx, rows); err != nil {
		a.logger.Warn("storing proposals failed", "identifier", identifier, "error", err)
	}
}

// causeProposals maps each cause to one proposal. Interference is checked
// first, so the combined "interference or congestion" cause gets the
// antenna change only.
func causeProposals(causes []Cause) []Proposal {
	var out []Proposal
	for _, c := range causes {
		desc := strings.ToLower(c.Description)
		details := map[string]any{"cause": c.Description}
		switch {
		case strings.Contains(desc, "interference"):
			out = append(out, Proposal{
				Description: ProposalAntenna,
				Confidence:  math.Min(c.Confidence+0.2, 0.9),
				Details:     details,
			})
		case strings.Contains(desc, "congestion"):
			out = append(out, Proposal{
				Description: ProposalSpectrum,
				Confidence:  math.Min(c.Confidence+0.1, 0.85),
				Details:     details,
			})
		default:
			out = append(out, Proposal{
				Description: ProposalManual,
				Confidence:  0.5,
				Details:     details,
			})
		}
	}
	return out
}

func predictionProposals(predictions map[string][]float64, t OptimizationThresholds) []Proposal {
	var out []Proposal
	cols := sortedKeys(predictions)
	if col := findColumn(cols, ColumnThroughput); col != "" {
		if tr, ok := forecastTrend(predictions[col]); ok && tr < -t.ThroughputDecline {
			out = append(out, Proposal{
				Description: ProposalCapacity,
				Confidence:  0.85,
				Details:     map[string]any{"column": col, "trend": tr},
			})
		}
	}
	if col := findColumn(cols, ColumnLatency); col != "" {
		if tr, ok := forecastTrend(predictions[col]); ok && tr > t.LatencyIncrease {
			out = append(out, Proposal{
				Description: ProposalQoS,
				Confidence:  0.85,
				Details:     map[string]any{"column": col, "trend": tr},
			})
		}
	}
	return out
}

func kpiProposals(kpis map[string]KPI, t OptimizationThresholds) []Proposal {
	var out []Proposal
	cols := sortedKeys(kpis)
	if col := findColumn(cols, ColumnThroughput); col != "" && kpis[col].Mean < t.ThroughputLow {
		out = append(out, Proposal{
			Description: ProposalThroughputUp,
			Confidence:  0.8,
			Details:     map[string]any{"column": col, "mean": kpis[col].Mean},
		})
	}
	if col := findColumn(cols, ColumnLatency); col != "" && kpis[col].Mean > t.LatencyHigh {
		out = append(out, Proposal{
			Description: ProposalLatencyDown,
			Confidence:  0.8,
			Details:     map[string]any{"column": col, "mean": kpis[col].Mean},
		})
	}
	return out
}

// forecastTrend is (last - first) / length of a forecast.
func forecastTrend(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	return (xs[len(xs)-1] - xs[0]) / float64(len(xs)), true
}

// dedupeProposals keeps the highest-confidence proposal per description
// and ranks the survivors by confidence, then description.
func dedupeProposals(in []Proposal) []Proposal {
	best := make(map[string]Proposal, len(in))
	for _, p := range in {
		if cur, ok := best[p.Description]; !ok || p.Confidence > cur.Confidence {
			best[p.Description] = p
		}
	}
	out := make([]Proposal, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Description < out[j].Description
	})
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
