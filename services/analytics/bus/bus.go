// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bus broadcasts analytics events to subscribers.
//
// # Description
//
// The Bus holds a set of subscribers keyed by numeric id. Broadcast
// encodes a message once and delivers it to every subscriber in parallel,
// each under its own send timeout. A subscriber whose send fails is
// removed. Broadcasts are serialized, so every subscriber sees messages
// in publish order. With no subscribers, encoded messages wait in a
// bounded queue and are handed to the next subscriber whose context
// accepts them.
//
// Delivery is best-effort and at-most-once.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
	"github.com/AleutianAI/AleutianPulse/services/analytics/observability"
)

// Bus defaults.
const (
	DefaultSendTimeout = 5 * time.Second
	DefaultMaxPending  = 1000
)

// ErrClosed is returned by sends after CloseAll.
var ErrClosed = errors.New("bus closed")

// ErrUnknownSubscriber is returned by SendTo for an id not subscribed.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Subscriber receives encoded messages.
type Subscriber interface {
	// Send delivers one encoded message. It must respect ctx.
	Send(ctx context.Context, payload []byte) error

	// Context is the agent context used for target filtering. An empty
	// context receives every message.
	Context() string

	// Close releases the subscriber. Called when it is removed.
	Close() error
}

// Relay forwards every broadcast to an external broker.
type Relay interface {
	Relay(ctx context.Context, eventType EventType, payload []byte) error
}

// Options configures a Bus.
type Options struct {
	SendTimeout time.Duration
	MaxPending  int

	// Relay, when set, receives every broadcast message regardless of
	// subscribers. Relay errors are logged.
	Relay Relay

	// Clock stamps messages built by Publish. Defaults to time.Now.
	Clock func() time.Time

	Logger  *logging.Logger
	Metrics *observability.Metrics
}

type pendingMessage struct {
	eventType EventType
	target    string
	payload   []byte
}

// Bus is the broadcast sink shared by every agent.
//
// # Thread Safety
//
// Safe for concurrent use. Subscribe, Unsubscribe, broadcast and close
// are serialized by one mutex.
type Bus struct {
	mu      sync.Mutex
	subs    map[uint64]Subscriber
	nextID  uint64
	pending []pendingMessage
	closed  bool

	sendTimeout time.Duration
	maxPending  int
	relay       Relay
	clock       func() time.Time
	logger      *logging.Logger
	metrics     *observability.Metrics
}

// New returns an empty bus.
func New(opts Options) *Bus {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPending
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Bus{
		subs:        make(map[uint64]Subscriber),
		sendTimeout: opts.SendTimeout,
		maxPending:  opts.MaxPending,
		relay:       opts.Relay,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Subscribe adds s and returns its id. Queued messages s accepts are
// delivered to it before Subscribe returns; the rest stay queued for a
// later subscriber.
func (b *Bus) Subscribe(ctx context.Context, s Subscriber) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.logger.Debug("subscriber added", "conn_id", id, "context", s.Context(), "subscribers", len(b.subs))

	if len(b.pending) > 0 {
		queued := b.pending
		var kept []pendingMessage
		for i, m := range queued {
			if !accepts(s, m.target) {
				kept = append(kept, m)
				continue
			}
			if err := b.sendOne(ctx, id, s, m.payload); err != nil {
				b.recordFailure(m.eventType, id, err)
				b.remove(id)
				kept = append(kept, queued[i+1:]...)
				break
			}
			b.metrics.RecordBusMessage(string(m.eventType), "delivered")
		}
		b.pending = kept
	}
	b.publishState()
	return id, nil
}

// Unsubscribe removes the subscriber with id and closes it. Unknown ids
// are ignored.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(id)
	b.publishState()
}

// Broadcast delivers msg to every subscriber whose context accepts the
// message's target.
//
// # Description
//
// An encoding failure is logged and the message dropped; Broadcast then
// returns nil. Individual send failures remove the failing subscriber
// and never fail the broadcast.
//
// # Outputs
//
//   - error: ErrClosed after CloseAll, otherwise nil.
func (b *Bus) Broadcast(ctx context.Context, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		b.logger.Error("dropping unserializable message", "event_type", msg.EventType, "error", err)
		b.metrics.RecordBusMessage(string(msg.EventType), "dropped")
		return nil
	}

	if ided, ok := msg.Data.(Identified); ok {
		b.logger.Debug("broadcast", "event_type", msg.EventType, "identifier", ided.EventIdentifier(), "target", msg.TargetAgent)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	if b.relay != nil {
		rctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
		if err := b.relay.Relay(rctx, msg.EventType, payload); err != nil {
			b.logger.Warn("bus relay failed", "event_type", msg.EventType, "error", err)
		}
		cancel()
	}

	if len(b.subs) == 0 {
		b.enqueue(pendingMessage{eventType: msg.EventType, target: msg.TargetAgent, payload: payload})
		b.publishState()
		return nil
	}

	type failure struct {
		id  uint64
		err error
	}
	var (
		wg       sync.WaitGroup
		failMu   sync.Mutex
		failures []failure
	)
	for _, id := range b.ids() {
		s := b.subs[id]
		if !accepts(s, msg.TargetAgent) {
			b.metrics.RecordBusMessage(string(msg.EventType), "skipped")
			continue
		}
		wg.Add(1)
		go func(id uint64, s Subscriber) {
			defer wg.Done()
			if err := b.sendOne(ctx, id, s, payload); err != nil {
				failMu.Lock()
				failures = append(failures, failure{id: id, err: err})
				failMu.Unlock()
				return
			}
			b.metrics.RecordBusMessage(string(msg.EventType), "delivered")
		}(id, s)
	}
	wg.Wait()

	for _, f := range failures {
		b.recordFailure(msg.EventType, f.id, f.err)
		b.remove(f.id)
	}
	b.publishState()
	return nil
}

// Publish builds a message stamped by the bus clock and broadcasts it.
func (b *Bus) Publish(ctx context.Context, eventType EventType, data any, target string) error {
	return b.Broadcast(ctx, NewMessage(eventType, data, target, b.clock()))
}

// SendTo delivers msg to one subscriber, ignoring target filtering. A
// failed send removes the subscriber.
func (b *Bus) SendTo(ctx context.Context, id uint64, msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		b.logger.Error("dropping unserializable message", "event_type", msg.EventType, "conn_id", id, "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	s, ok := b.subs[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSubscriber, id)
	}
	if err := b.sendOne(ctx, id, s, payload); err != nil {
		b.recordFailure(msg.EventType, id, err)
		b.remove(id)
		b.publishState()
		return fmt.Errorf("send to %d: %w", id, err)
	}
	b.metrics.RecordBusMessage(string(msg.EventType), "delivered")
	return nil
}

// CloseAll closes every subscriber, discards queued messages and rejects
// further sends. It is idempotent.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, id := range b.ids() {
		b.remove(id)
	}
	if n := len(b.pending); n > 0 {
		b.logger.Info("discarding queued messages on shutdown", "count", n)
	}
	b.pending = nil
	b.publishState()
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Pending returns the number of queued messages.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Closed reports whether CloseAll has run.
func (b *Bus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) sendOne(ctx context.Context, id uint64, s Subscriber, payload []byte) error {
	sctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	return s.Send(sctx, payload)
}

func (b *Bus) recordFailure(eventType EventType, id uint64, err error) {
	b.logger.Warn("removing subscriber after failed send", "conn_id", id, "event_type", eventType, "error", err)
	b.metrics.RecordBusMessage(string(eventType), "failed")
}

// remove must be called with mu held.
func (b *Bus) remove(id uint64) {
	s, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	if err := s.Close(); err != nil {
		b.logger.Debug("subscriber close failed", "conn_id", id, "error", err)
	}
}

// enqueue must be called with mu held. The oldest message is dropped
// when the queue is full.
func (b *Bus) enqueue(m pendingMessage) {
	if len(b.pending) >= b.maxPending {
		dropped := b.pending[0]
		b.pending = b.pending[1:]
		b.metrics.RecordBusMessage(string(dropped.eventType), "dropped")
	}
	b.pending = append(b.pending, m)
	b.metrics.RecordBusMessage(string(m.eventType), "queued")
}

// ids returns subscriber ids in subscription order. mu must be held.
func (b *Bus) ids() []uint64 {
	out := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bus) publishState() {
	b.metrics.SetBusState(len(b.subs), len(b.pending))
}

// accepts reports whether s should receive a message for target.
func accepts(s Subscriber, target string) bool {
	c := s.Context()
	return target == "" || c == "" || c == target
}
