// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/services/analytics/agents"
)

type fakeLister struct {
	ids []string
	err error
}

func (f fakeLister) Identifiers(ctx context.Context) ([]string, error) { return f.ids, f.err }

type fakeMonitor struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*agents.KPIResult
}

func (f *fakeMonitor) Monitor(ctx context.Context, identifier, source string) *agents.KPIResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, identifier+"@"+source)
	if r, ok := f.results[identifier]; ok {
		return r
	}
	return &agents.KPIResult{Header: agents.Header{Identifier: identifier, Status: agents.StatusSuccess}}
}

func (f *fakeMonitor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestScheduler_RunNowCountsOutcomes(t *testing.T) {
	mon := &fakeMonitor{results: map[string]*agents.KPIResult{
		"alerting": {Header: agents.Header{Status: agents.StatusSuccess}, AnomaliesDetected: true},
		"broken":   {Header: agents.Header{Status: agents.StatusError}},
	}}
	s := NewScheduler(fakeLister{ids: []string{"quiet", "alerting", "broken"}}, mon, time.Hour, nil)

	result, err := s.RunNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Identifiers)
	assert.Equal(t, 1, result.Alerts)
	assert.Equal(t, 1, result.Failures)
	assert.Equal(t, []string{"quiet@" + Source, "alerting@" + Source, "broken@" + Source}, mon.calls)
	assert.False(t, result.EndTime.Before(result.StartTime))
}

func TestScheduler_RunNowListingError(t *testing.T) {
	s := NewScheduler(fakeLister{err: errors.New("db down")}, &fakeMonitor{}, time.Hour, nil)

	_, err := s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	mon := &fakeMonitor{}
	s := NewScheduler(fakeLister{ids: []string{"cell-1"}}, mon, time.Hour, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)

	assert.Eventually(t, func() bool { return mon.count() >= 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.Running())
	s.Stop()
}

func TestScheduler_TicksRepeatedly(t *testing.T) {
	mon := &fakeMonitor{}
	s := NewScheduler(fakeLister{ids: []string{"cell-1"}}, mon, 10*time.Millisecond, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return mon.count() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	s := NewScheduler(fakeLister{}, &fakeMonitor{}, 0, nil)
	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.Running())
}
