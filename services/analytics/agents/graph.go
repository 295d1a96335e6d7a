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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/value"
)

// GraphQueueSize is the graph listener's buffer. The graph consumes its
// own events, so the buffer must absorb everything one handler publishes.
const GraphQueueSize = 1024

// ErrUnknownAgent is returned by Trigger for an id not on the board.
var ErrUnknownAgent = errors.New("unknown agent")

// Config tunes every agent. Zero values take each agent's defaults.
type Config struct {
	Schema       SchemaConfig
	KPI          KPIConfig
	Issue        IssueConfig
	RootCause    RootCauseConfig
	Prediction   PredictionConfig
	Optimization OptimizationThresholds
}

// Set holds one instance of each agent.
type Set struct {
	Ingestion    *IngestionAgent
	Schema       *SchemaAgent
	EDA          *EDAAgent
	KPI          *KPIAgent
	Issue        *IssueAgent
	RootCause    *RootCauseAgent
	Prediction   *PredictionAgent
	Optimization *OptimizationAgent
}

// NewSet builds every agent with its default id over deps.
func NewSet(deps Deps, cfg Config) *Set {
	eda := NewEDAAgent(EDAAgentID, deps)
	return &Set{
		Ingestion:    NewIngestionAgent(IngestionAgentID, deps, eda),
		Schema:       NewSchemaAgent(SchemaAgentID, deps, cfg.Schema),
		EDA:          eda,
		KPI:          NewKPIAgent(KPIAgentID, deps, cfg.KPI),
		Issue:        NewIssueAgent(IssueAgentID, deps, cfg.Issue),
		RootCause:    NewRootCauseAgent(RootCauseAgentID, deps, cfg.RootCause),
		Prediction:   NewPredictionAgent(PredictionAgentID, deps, cfg.Prediction),
		Optimization: NewOptimizationAgent(OptimizationAgentID, deps, cfg.Optimization),
	}
}

// StatusReport is the output of a full analytics pass over one
// identifier.
type StatusReport struct {
	Identifier   string              `json:"identifier"`
	Schema       *SchemaResult       `json:"schema"`
	KPIs         *KPIResult          `json:"kpis"`
	Issues       *IssueResult        `json:"issues"`
	Predictions  *PredictionResult   `json:"predictions"`
	RootCause    *RootCauseResult    `json:"root_cause"`
	Optimization *OptimizationResult `json:"optimization"`
}

// latest is the most recent monitoring output seen for an identifier.
// Optimization runs read it when an alert arrives.
type latest struct {
	causes      []Cause
	predictions map[string][]float64
	kpis        map[string]KPI
}

// Graph routes bus events to agents.
//
// # Description
//
// The graph subscribes one in-process listener that receives every event:
//
//   - raw_data_ready runs schema learning. Ingestion preprocesses
//     synchronously, so preprocessing is not repeated here.
//   - schema_evolved adapts the preprocessing agent.
//   - data_ready fans out to KPI, issue, prediction and root-cause
//     agents concurrently.
//   - kpi_alert, action_required, root_cause_identified and
//     predictions_available run optimization over the latest results.
//   - <agent_id>_trigger runs that agent for data.identifier.
//
// # Thread Safety
//
// Start and Stop must not be called concurrently. Everything else is safe
// for concurrent use.
type Graph struct {
	agents *Set
	deps   Deps
	logger *logging.Logger

	listener *bus.Listener
	subID    uint64
	cancel   context.CancelFunc

	mu     sync.Mutex
	latest map[string]*latest
}

// NewGraph returns a graph over agents. Call Start to subscribe it.
func NewGraph(deps Deps, agents *Set) *Graph {
	deps = deps.withDefaults()
	return &Graph{
		agents: agents,
		deps:   deps,
		logger: deps.Logger.With("component", "graph"),
		latest: make(map[string]*latest),
	}
}

// Agents returns the agents the graph drives.
func (g *Graph) Agents() *Set { return g.agents }

// Start subscribes the graph's listener to the bus.
func (g *Graph) Start(ctx context.Context) error {
	if g.listener != nil {
		return errors.New("graph already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	l := bus.NewListener(ctx, g.handle, bus.ListenerOptions{
		QueueSize: GraphQueueSize,
		Logger:    g.logger,
	})
	id, err := g.deps.Bus.Subscribe(ctx, l)
	if err != nil {
		cancel()
		_ = l.Close()
		return fmt.Errorf("subscribe graph: %w", err)
	}
	g.listener, g.subID, g.cancel = l, id, cancel
	g.logger.Info("agent graph started", "listener", l.ID())
	return nil
}

// Stop unsubscribes the listener and waits for its handler to return.
func (g *Graph) Stop() {
	if g.listener == nil {
		return
	}
	g.deps.Bus.Unsubscribe(g.subID)
	g.cancel()
	_ = g.listener.Close()
	g.listener.Wait()
	g.listener = nil
	g.logger.Info("agent graph stopped")
}

// Trigger asks agentID to run for identifier by publishing its trigger
// event.
func (g *Graph) Trigger(ctx context.Context, agentID, identifier string) error {
	if !g.deps.Board.Known(agentID) {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	g.deps.Board.Set(agentID, StateTriggered)
	return g.deps.Bus.Publish(ctx, bus.TriggerFor(agentID), triggerData{
		Identifier: identifier,
		AgentID:    agentID,
	}, agentID)
}

type triggerData struct {
	Identifier string `json:"identifier"`
	AgentID    string `json:"agent_id"`
}

// Status runs a full synchronous pass: schema snapshot, KPIs, issues,
// predictions, root causes, then optimization over those results.
func (g *Graph) Status(ctx context.Context, identifier, source string) *StatusReport {
	a := g.agents
	report := &StatusReport{Identifier: identifier}
	report.Schema = a.Schema.Latest(ctx, identifier, source)
	report.KPIs = a.KPI.Monitor(ctx, identifier, source)
	report.Issues = a.Issue.Detect(ctx, identifier, source)
	report.Predictions = a.Prediction.Predict(ctx, identifier, source)
	report.RootCause = a.RootCause.Analyze(ctx, identifier, source)
	report.Optimization = a.Optimization.Propose(ctx, identifier, source, OptimizationInput{
		Causes:      report.RootCause.Causes,
		Predictions: report.Predictions.Predictions,
		KPIs:        report.KPIs.KPIs,
	})
	return report
}

// Latest returns the optimization input assembled from the most recent
// events for identifier.
func (g *Graph) Latest(identifier string) OptimizationInput {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.latest[identifier]
	if !ok {
		return OptimizationInput{}
	}
	return OptimizationInput{Causes: l.causes, Predictions: l.predictions, KPIs: l.kpis}
}

func (g *Graph) handle(ctx context.Context, d bus.Decoded) {
	if d.EventType.IsTrigger() {
		g.handleTrigger(ctx, d)
		return
	}
	identifier := d.Identifier()
	if identifier == "" {
		return
	}
	a := g.agents
	switch d.EventType {
	case bus.RawDataReady:
		var payload struct {
			RawData json.RawMessage `json:"raw_data"`
		}
		if err := json.Unmarshal(d.Data, &payload); err != nil {
			g.logger.Warn("bad raw_data_ready payload", "identifier", identifier, "error", err)
			return
		}
		records, err := value.DecodeRecords(payload.RawData)
		if err != nil {
			g.logger.Warn("bad raw_data_ready records", "identifier", identifier, "error", err)
			return
		}
		a.Schema.Learn(ctx, identifier, value.NewBatch(records), a.Ingestion.ID())

	case bus.SchemaEvolved:
		var payload SchemaEvolved
		if err := json.Unmarshal(d.Data, &payload); err != nil {
			g.logger.Warn("bad schema_evolved payload", "identifier", identifier, "error", err)
			return
		}
		a.EDA.AdaptSchema(identifier, payload.FieldTypes)

	case bus.DataReady:
		if err := g.fanOut(ctx, identifier); err != nil {
			g.logger.Warn("monitoring run failed", "identifier", identifier, "error", err)
		}

	case bus.KPIsMonitored, bus.RootCauseAnalyzed, bus.PredictionsGenerated:
		g.remember(identifier, d)

	case bus.KPIAlert, bus.ActionRequired, bus.RootCauseIdentified, bus.PredictionsAvailable:
		g.remember(identifier, d)
		a.Optimization.Propose(ctx, identifier, string(d.EventType), g.Latest(identifier))
	}
}

// fanOut runs the monitoring agents over freshly persisted rows. The
// agents share ctx and do not cancel each other; the returned error is
// the first failed run.
func (g *Graph) fanOut(ctx context.Context, identifier string) error {
	a := g.agents
	source := a.EDA.ID()
	var eg errgroup.Group
	eg.Go(func() error { return a.KPI.Monitor(ctx, identifier, source).Err() })
	eg.Go(func() error { return a.Issue.Detect(ctx, identifier, source).Err() })
	eg.Go(func() error { return a.Prediction.Predict(ctx, identifier, source).Err() })
	eg.Go(func() error { return a.RootCause.Analyze(ctx, identifier, source).Err() })
	return eg.Wait()
}

// remember folds a monitoring event into the latest results.
func (g *Graph) remember(identifier string, d bus.Decoded) {
	var payload struct {
		Status      Status               `json:"status"`
		KPIs        map[string]KPI       `json:"kpis"`
		Causes      []Cause              `json:"causes"`
		Predictions map[string][]float64 `json:"predictions"`
	}
	if err := json.Unmarshal(d.Data, &payload); err != nil {
		g.logger.Warn("bad payload", "event_type", d.EventType, "identifier", identifier, "error", err)
		return
	}
	if payload.Status != "" && payload.Status != StatusSuccess {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.latest[identifier]
	if !ok {
		l = &latest{}
		g.latest[identifier] = l
	}
	if payload.KPIs != nil {
		l.kpis = payload.KPIs
	}
	if payload.Causes != nil {
		l.causes = payload.Causes
	}
	if payload.Predictions != nil {
		l.predictions = payload.Predictions
	}
}

func (g *Graph) handleTrigger(ctx context.Context, d bus.Decoded) {
	agentID := strings.TrimSuffix(string(d.EventType), "_trigger")
	identifier := d.Identifier()
	if identifier == "" {
		g.logger.Info("trigger without identifier ignored", "agent_id", agentID)
		return
	}
	a := g.agents
	source := "trigger"
	switch agentID {
	case a.KPI.ID():
		a.KPI.Monitor(ctx, identifier, source)
	case a.Issue.ID():
		a.Issue.Detect(ctx, identifier, source)
	case a.RootCause.ID():
		a.RootCause.Analyze(ctx, identifier, source)
	case a.Prediction.ID():
		a.Prediction.Predict(ctx, identifier, source)
	case a.Optimization.ID():
		a.Optimization.Propose(ctx, identifier, source, g.Latest(identifier))
	case a.Schema.ID():
		window, err := g.deps.Store.Window(ctx, identifier, a.Schema.cfg.MaxHistoricalRows)
		if err != nil {
			g.logger.Warn("trigger window read failed", "agent_id", agentID, "identifier", identifier, "error", err)
			return
		}
		a.Schema.Learn(ctx, identifier, baseBatch(window), source)
	default:
		g.logger.Info("agent has no stored-data trigger", "agent_id", agentID, "identifier", identifier)
		g.deps.Board.Set(agentID, StateIdle)
	}
}
