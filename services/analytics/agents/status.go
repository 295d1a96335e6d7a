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
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
)

// State is an agent's advisory run state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateError     State = "error"
	StateTriggered State = "triggered"
)

// AgentStatus is one board entry.
type AgentStatus struct {
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusBoard records the last known state of each agent.
//
// # Description
//
// The board is advisory and may be stale. Nothing synchronizes on it;
// it exists for /health and the heartbeat log.
//
// # Thread Safety
//
// Safe for concurrent use. All methods are nil-safe.
type StatusBoard struct {
	mu     sync.RWMutex
	states map[string]AgentStatus
	clock  func() time.Time
}

// NewStatusBoard returns a board with every id idle.
func NewStatusBoard(clock func() time.Time, ids ...string) *StatusBoard {
	if clock == nil {
		clock = time.Now
	}
	b := &StatusBoard{states: make(map[string]AgentStatus, len(ids)), clock: clock}
	now := clock().UTC()
	for _, id := range ids {
		b.states[id] = AgentStatus{State: StateIdle, UpdatedAt: now}
	}
	return b
}

// Set records state for id. Unknown ids are added.
func (b *StatusBoard) Set(id string, state State) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[id] = AgentStatus{State: state, UpdatedAt: b.clock().UTC()}
}

// Get returns the entry for id.
func (b *StatusBoard) Get(id string) (AgentStatus, bool) {
	if b == nil {
		return AgentStatus{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.states[id]
	return s, ok
}

// Known reports whether id is on the board.
func (b *StatusBoard) Known(id string) bool {
	_, ok := b.Get(id)
	return ok
}

// Snapshot copies the board.
func (b *StatusBoard) Snapshot() map[string]AgentStatus {
	if b == nil {
		return map[string]AgentStatus{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]AgentStatus, len(b.states))
	for id, s := range b.states {
		out[id] = s
	}
	return out
}

// States flattens the board to id → state.
func (b *StatusBoard) States() map[string]State {
	snap := b.Snapshot()
	out := make(map[string]State, len(snap))
	for id, s := range snap {
		out[id] = s.State
	}
	return out
}

// IDs returns the known ids, sorted.
func (b *StatusBoard) IDs() []string {
	snap := b.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Heartbeat logs the board every interval until ctx is done.
func (b *StatusBoard) Heartbeat(ctx context.Context, interval time.Duration, logger *logging.Logger) {
	if b == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("agent heartbeat stopped")
			return
		case <-ticker.C:
			logger.Debug("agent status", "agents", b.States())
		}
	}
}
