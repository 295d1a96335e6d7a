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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
)

type recorder struct {
	agent string
	fail  error
	block bool

	mu     sync.Mutex
	got    []Decoded
	closed bool
}

func (r *recorder) Send(ctx context.Context, payload []byte) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if r.fail != nil {
		return r.fail
	}
	d, err := Decode(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.got = append(r.got, d)
	r.mu.Unlock()
	return nil
}

func (r *recorder) Context() string { return r.agent }

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.got))
	for i, d := range r.got {
		out[i] = d.EventType
	}
	return out
}

func (r *recorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type payload struct {
	Identifier string `json:"identifier"`
	N          int    `json:"n,omitempty"`
}

func (p payload) EventIdentifier() string { return p.Identifier }

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestBus(opts Options) *Bus {
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return fixedNow }
	}
	return New(opts)
}

func TestMessage_EncodeShape(t *testing.T) {
	m := NewMessage(DataReady, payload{Identifier: "A"}, "", fixedNow)
	raw, err := m.Encode()
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, "data_ready", generic["event_type"])
	assert.Equal(t, "2024-03-01T12:00:00Z", generic["issued_at"])
	assert.Contains(t, generic, "target_agent")
	assert.Nil(t, generic["target_agent"])

	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "A", d.Identifier())
	assert.NoError(t, Validate(d))
}

func TestValidate(t *testing.T) {
	good, _ := NewMessage(KPIAlert, payload{Identifier: "A"}, TargetDecisionMaking, fixedNow).Encode()
	d, err := Decode(good)
	require.NoError(t, err)
	assert.NoError(t, Validate(d))
	assert.Equal(t, TargetDecisionMaking, d.TargetAgent)

	unknown, _ := NewMessage("made_up", payload{Identifier: "A"}, "", fixedNow).Encode()
	d, _ = Decode(unknown)
	assert.True(t, errors.Is(Validate(d), ErrMalformed))

	noID, _ := NewMessage(KPIAlert, map[string]any{}, "", fixedNow).Encode()
	d, _ = Decode(noID)
	assert.True(t, errors.Is(Validate(d), ErrMalformed))

	trig, _ := NewMessage(TriggerFor("kpi_agent_1"), map[string]any{}, "kpi_agent_1", fixedNow).Encode()
	d, _ = Decode(trig)
	assert.NoError(t, Validate(d))
}

func TestTaxonomy(t *testing.T) {
	assert.Len(t, Taxonomy, 23)
	for _, et := range Taxonomy {
		assert.True(t, et.Known(), et)
		assert.False(t, et.IsTrigger(), et)
	}
	assert.True(t, TriggerFor("eda_agent_1").IsTrigger())
	assert.False(t, EventType("_trigger").IsTrigger())
}

func TestBroadcast_DeliversInOrder(t *testing.T) {
	b := newTestBus(Options{})
	r1, r2 := &recorder{}, &recorder{}
	ctx := context.Background()
	_, err := b.Subscribe(ctx, r1)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, r2)
	require.NoError(t, err)

	seq := []EventType{RawDataReady, SchemaLearned, EDAComplete, DataReady}
	for _, et := range seq {
		require.NoError(t, b.Publish(ctx, et, payload{Identifier: "A"}, ""))
	}
	assert.Equal(t, seq, r1.types())
	assert.Equal(t, seq, r2.types())
}

func TestBroadcast_FailingSubscriberRemoved(t *testing.T) {
	b := newTestBus(Options{})
	ctx := context.Background()
	good := &recorder{}
	bad := &recorder{fail: errors.New("broken pipe")}
	_, err := b.Subscribe(ctx, good)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, bad)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""))
	assert.Equal(t, 1, b.Len())
	assert.True(t, bad.isClosed())
	assert.False(t, good.isClosed())
	assert.Equal(t, []EventType{DataReady}, good.types())

	require.NoError(t, b.Publish(ctx, KPIsMonitored, payload{Identifier: "A"}, ""))
	assert.Equal(t, []EventType{DataReady, KPIsMonitored}, good.types())
}

func TestBroadcast_SlowSubscriberTimesOut(t *testing.T) {
	b := newTestBus(Options{SendTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	slow := &recorder{block: true}
	fast := &recorder{}
	_, _ = b.Subscribe(ctx, slow)
	_, _ = b.Subscribe(ctx, fast)

	start := time.Now()
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []EventType{DataReady}, fast.types())
}

func TestBroadcast_TargetFiltering(t *testing.T) {
	b := newTestBus(Options{})
	ctx := context.Background()
	all := &recorder{}
	decision := &recorder{agent: TargetDecisionMaking}
	viz := &recorder{agent: TargetVisualization}
	for _, r := range []*recorder{all, decision, viz} {
		_, err := b.Subscribe(ctx, r)
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(ctx, KPIAlert, payload{Identifier: "A"}, TargetDecisionMaking))
	require.NoError(t, b.Publish(ctx, KPIsMonitored, payload{Identifier: "A"}, ""))

	assert.Equal(t, []EventType{KPIAlert, KPIsMonitored}, all.types())
	assert.Equal(t, []EventType{KPIAlert, KPIsMonitored}, decision.types())
	assert.Equal(t, []EventType{KPIsMonitored}, viz.types())
}

func TestPendingQueue_DrainsOnSubscribe(t *testing.T) {
	b := newTestBus(Options{MaxPending: 2})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, RawDataReady, payload{Identifier: "A"}, ""))
	require.NoError(t, b.Publish(ctx, EDAComplete, payload{Identifier: "A"}, ""))
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""))
	assert.Equal(t, 2, b.Pending())

	r := &recorder{}
	_, err := b.Subscribe(ctx, r)
	require.NoError(t, err)
	// Oldest dropped when the queue overflowed.
	assert.Equal(t, []EventType{EDAComplete, DataReady}, r.types())
	assert.Equal(t, 0, b.Pending())
}

func TestPendingQueue_KeepsUnmatchedTargets(t *testing.T) {
	b := newTestBus(Options{})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, KPIAlert, payload{Identifier: "A"}, TargetDecisionMaking))
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""))
	require.NoError(t, b.Publish(ctx, ActionRequired, payload{Identifier: "A"}, TargetDecisionMaking))
	require.Equal(t, 3, b.Pending())

	viz := &recorder{agent: TargetVisualization}
	_, err := b.Subscribe(ctx, viz)
	require.NoError(t, err)
	assert.Equal(t, []EventType{DataReady}, viz.types())
	assert.Equal(t, 2, b.Pending())

	decision := &recorder{agent: TargetDecisionMaking}
	_, err = b.Subscribe(ctx, decision)
	require.NoError(t, err)
	assert.Equal(t, []EventType{KPIAlert, ActionRequired}, decision.types())
	assert.Equal(t, 0, b.Pending())
}

func TestPendingQueue_FailedDrainKeepsRest(t *testing.T) {
	b := newTestBus(Options{})
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, RawDataReady, payload{Identifier: "A"}, ""))
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""))

	_, err := b.Subscribe(ctx, &recorder{fail: errors.New("broken pipe")})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, b.Pending())

	r := &recorder{}
	_, err = b.Subscribe(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []EventType{DataReady}, r.types())
}

func TestCloseAll(t *testing.T) {
	b := newTestBus(Options{})
	ctx := context.Background()
	r := &recorder{}
	_, _ = b.Subscribe(ctx, r)
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""))

	b.CloseAll()
	b.CloseAll()
	assert.True(t, r.isClosed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, b.Len())

	assert.True(t, errors.Is(b.Publish(ctx, DataReady, payload{Identifier: "A"}, ""), ErrClosed))
	_, err := b.Subscribe(ctx, &recorder{})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestBroadcast_UnserializableDropped(t *testing.T) {
	exp := logging.NewBufferedExporter()
	b := newTestBus(Options{Logger: logging.New(logging.Config{Output: io.Discard, Exporter: exp})})
	ctx := context.Background()
	r := &recorder{}
	_, _ = b.Subscribe(ctx, r)

	err := b.Publish(ctx, DataReady, map[string]any{"identifier": "A", "bad": make(chan int)}, "")
	assert.NoError(t, err)
	assert.Empty(t, r.types())
	assert.Len(t, exp.Messages(logging.LevelError), 1)
}

func TestSendTo(t *testing.T) {
	b := newTestBus(Options{})
	ctx := context.Background()
	r1, r2 := &recorder{}, &recorder{agent: TargetVisualization}
	id1, _ := b.Subscribe(ctx, r1)
	id2, _ := b.Subscribe(ctx, r2)
	assert.NotEqual(t, id1, id2)

	msg := NewMessage(KPIAlert, payload{Identifier: "A"}, TargetDecisionMaking, fixedNow)
	require.NoError(t, b.SendTo(ctx, id2, msg))
	assert.Empty(t, r1.types())
	assert.Equal(t, []EventType{KPIAlert}, r2.types())

	assert.True(t, errors.Is(b.SendTo(ctx, 999, msg), ErrUnknownSubscriber))

	b.Unsubscribe(id1)
	assert.True(t, r1.isClosed())
	assert.Equal(t, 1, b.Len())
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakePublisher) Publish(subject string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func TestNATSRelay_PublishesEverySubject(t *testing.T) {
	pub := &fakePublisher{}
	b := newTestBus(Options{Relay: NewNATSRelay(pub)})
	ctx := context.Background()

	// Relayed even without subscribers.
	require.NoError(t, b.Publish(ctx, EDAComplete, payload{Identifier: "A"}, ""))
	require.NoError(t, b.Publish(ctx, KPIAlert, payload{Identifier: "A"}, TargetDecisionMaking))
	assert.Equal(t, []string{"pulse.events.eda_complete", "pulse.events.kpi_alert"}, pub.subjects)
}

func TestListener_HandlesSelectedTypesAndRepublishes(t *testing.T) {
	b := newTestBus(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &recorder{agent: TargetDecisionMaking}
	_, err := b.Subscribe(ctx, sink)
	require.NoError(t, err)

	handled := make(chan Decoded, 4)
	l := NewListener(ctx, func(ctx context.Context, d Decoded) {
		handled <- d
		// Re-entrant publish from a handler.
		_ = b.Publish(ctx, KPIAlert, payload{Identifier: d.Identifier()}, TargetDecisionMaking)
	}, ListenerOptions{Types: []EventType{DataReady}})
	_, err = b.Subscribe(ctx, l)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, EDAComplete, payload{Identifier: "A"}, ""))
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, TargetVisualization))

	select {
	case d := <-handled:
		assert.Equal(t, DataReady, d.EventType)
		assert.Equal(t, "A", d.Identifier())
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not handle data_ready")
	}

	require.Eventually(t, func() bool {
		for _, et := range sink.types() {
			if et == KPIAlert {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Close())
	l.Wait()
	assert.True(t, errors.Is(l.Send(ctx, []byte(`{"event_type":"data_ready","data":{},"issued_at":"2024-03-01T12:00:00Z","target_agent":null}`)), ErrClosed))
}

func TestListener_FullQueueDropsAndStaysSubscribed(t *testing.T) {
	b := newTestBus(Options{SendTimeout: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	handled := make(chan int, 16)
	l := NewListener(ctx, func(ctx context.Context, d Decoded) {
		var p payload
		_ = json.Unmarshal(d.Data, &p)
		if p.N == 0 {
			<-release
		}
		handled <- p.N
	}, ListenerOptions{QueueSize: 1})
	_, err := b.Subscribe(ctx, l)
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A", N: i}, ""))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, b.Len())
	assert.GreaterOrEqual(t, l.Dropped(), uint64(3))

	close(release)
	require.Eventually(t, func() bool { return len(handled) >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A", N: 99}, ""))
	assert.Eventually(t, func() bool {
		for len(handled) > 0 {
			if <-handled == 99 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, b.Len())
}

func TestUpgrader_OriginCheck(t *testing.T) {
	up := NewUpgrader([]string{"https://dash.example.com/"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, up.CheckOrigin(req))

	open := NewUpgrader(nil)
	assert.True(t, open.CheckOrigin(req))
}

func TestWSSubscriber_ReceivesBroadcast(t *testing.T) {
	b := newTestBus(Options{})
	up := NewUpgrader(nil)
	subscribed := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sub := NewWSSubscriber(conn, r.URL.Query().Get("agent"))
		id, err := b.Subscribe(r.Context(), sub)
		if err != nil {
			conn.Close()
			return
		}
		close(subscribed)
		_ = sub.ReadLoop()
		b.Unsubscribe(id)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?agent=" + TargetVisualization
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never subscribed")
	}

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, KPIAlert, payload{Identifier: "A"}, TargetDecisionMaking))
	require.NoError(t, b.Publish(ctx, DataReady, payload{Identifier: "A"}, TargetVisualization))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	d, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, DataReady, d.EventType)
	assert.Equal(t, TargetVisualization, d.TargetAgent)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return b.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
