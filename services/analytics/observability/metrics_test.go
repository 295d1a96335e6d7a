// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAgentRun(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAgentRun("eda_agent_1", "success", 10*time.Millisecond)
	m.RecordAgentRun("eda_agent_1", "success", 20*time.Millisecond)
	m.RecordAgentRun("eda_agent_1", "error", time.Millisecond)

	if got := testutil.ToFloat64(m.AgentRuns.WithLabelValues("eda_agent_1", "success")); got != 2 {
		t.Errorf("success runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AgentRuns.WithLabelValues("eda_agent_1", "error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
}

func TestSetBusState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetBusState(3, 7)

	if got := testutil.ToFloat64(m.BusSubscribers); got != 3 {
		t.Errorf("subscribers = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.BusPending); got != 7 {
		t.Errorf("pending = %v, want 7", got)
	}
}

func TestCountersAccumulate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordCache("get", "hit")
	m.RecordConnectorAttempt("csv", "retry")
	m.RecordBusMessage("data_ready", "delivered")
	m.RecordRowsPersisted(15)

	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("get", "hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectorAttempts.WithLabelValues("csv", "retry")); got != 1 {
		t.Errorf("connector retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BusMessages.WithLabelValues("data_ready", "delivered")); got != 1 {
		t.Errorf("bus deliveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RowsPersisted); got != 15 {
		t.Errorf("rows = %v, want 15", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordAgentRun("a", "success", time.Second)
	m.RecordBusMessage("x", "delivered")
	m.SetBusState(1, 1)
	m.RecordCache("get", "miss")
	m.RecordConnectorAttempt("csv", "success")
	m.RecordRowsPersisted(1)
}
