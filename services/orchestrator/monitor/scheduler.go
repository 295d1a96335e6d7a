// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor re-runs KPI monitoring on a fixed interval for every
// identifier that has stored rows.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/agents"
)

// Source tags scheduled runs in their results and events.
const Source = "monitor_scheduler"

// ErrRunning is returned by Start on a running scheduler.
var ErrRunning = errors.New("scheduler is already running")

// IdentifierLister lists identifiers with stored rows.
type IdentifierLister interface {
	Identifiers(ctx context.Context) ([]string, error)
}

// KPIMonitor runs one monitoring pass.
type KPIMonitor interface {
	Monitor(ctx context.Context, identifier, source string) *agents.KPIResult
}

// CycleResult summarizes one scheduled pass.
type CycleResult struct {
	Identifiers int
	Alerts      int
	Failures    int
	StartTime   time.Time
	EndTime     time.Time
}

// Duration returns how long the cycle took.
func (r CycleResult) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Scheduler runs a KPI monitoring pass per identifier every Interval.
//
// # Description
//
// Uses the ticker plus done channel pattern: one pass runs immediately on
// Start, then one per tick until Stop or context cancellation. A failing
// identifier listing is logged and the scheduler keeps running.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	ids      IdentifierLister
	monitor  KPIMonitor
	interval time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	done    chan struct{}
	stopped chan struct{}
	running bool
}

// NewScheduler returns a stopped scheduler.
//
// # Inputs
//
//   - ids: Source of identifiers, normally the store.
//   - monitor: The KPI agent.
//   - interval: Time between passes. Must be positive.
//   - logger: May be nil.
func NewScheduler(ids IdentifierLister, monitor KPIMonitor, interval time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		ids:      ids,
		monitor:  monitor,
		interval: interval,
		logger:   logger.With("component", "monitor_scheduler"),
	}
}

// Start begins the background loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", s.interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrRunning
	}
	s.running = true
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})

	s.logger.Info("monitor scheduler starting", "interval", s.interval.String())
	go s.runLoop(ctx, s.done, s.stopped)
	return nil
}

// Stop signals the loop and waits for the current pass to finish. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.done)
	stopped := s.stopped
	s.mu.Unlock()

	<-stopped
	s.logger.Info("monitor scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow runs one pass synchronously without touching the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (CycleResult, error) {
	return s.runCycle(ctx)
}

func (s *Scheduler) runLoop(ctx context.Context, done, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.execute(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor scheduler stopped (context cancelled)")
			return
		case <-done:
			return
		case <-ticker.C:
			s.execute(ctx)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context) {
	result, err := s.runCycle(ctx)
	if err != nil {
		s.logger.Error("monitor cycle failed", "error", err)
		return
	}
	if result.Identifiers == 0 {
		s.logger.Debug("monitor cycle completed (no identifiers)")
		return
	}
	s.logger.Info("monitor cycle completed",
		"identifiers", result.Identifiers,
		"alerts", result.Alerts,
		"failures", result.Failures,
		"duration_ms", result.Duration().Milliseconds(),
	)
}

func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{StartTime: time.Now()}
	ids, err := s.ids.Identifiers(ctx)
	if err != nil {
		result.EndTime = time.Now()
		return result, fmt.Errorf("list identifiers: %w", err)
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		r := s.monitor.Monitor(ctx, id, Source)
		result.Identifiers++
		switch {
		case r == nil || r.Status == agents.StatusError:
			result.Failures++
		case r.AnomaliesDetected:
			result.Alerts++
		}
	}
	result.EndTime = time.Now()
	return result, nil
}
