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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianPulse/pkg/logging"
)

// DefaultListenerQueue is the per-listener buffer.
const DefaultListenerQueue = 256

// Handler processes one decoded message on a listener's goroutine.
type Handler func(ctx context.Context, msg Decoded)

// Listener is an in-process subscriber that hands messages of the
// selected types to a Handler on its own goroutine.
//
// # Description
//
// Send only enqueues, so a handler may itself publish on the bus without
// deadlocking the broadcast that delivered its message. Messages are
// handled one at a time in delivery order. When the queue is full the
// message is dropped and logged; Send still succeeds so the bus keeps the
// listener subscribed.
type Listener struct {
	id      string
	context string
	types   map[EventType]struct{}
	handler Handler
	logger  *logging.Logger

	queue     chan Decoded
	dropped   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ListenerOptions configures a Listener.
type ListenerOptions struct {
	// Context is the subscriber context for target filtering. Empty means
	// every target.
	Context string

	// Types limits delivery. Empty means every event type.
	Types []EventType

	QueueSize int
	Logger    *logging.Logger
}

// NewListener starts a listener whose handler runs under ctx.
func NewListener(ctx context.Context, handler Handler, opts ListenerOptions) *Listener {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultListenerQueue
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	l := &Listener{
		id:      uuid.NewString(),
		context: opts.Context,
		handler: handler,
		logger:  opts.Logger,
		queue:   make(chan Decoded, opts.QueueSize),
		done:    make(chan struct{}),
	}
	if len(opts.Types) > 0 {
		l.types = make(map[EventType]struct{}, len(opts.Types))
		for _, t := range opts.Types {
			l.types[t] = struct{}{}
		}
	}
	l.wg.Add(1)
	go l.run(ctx)
	return l
}

// ID is the listener's random id, used in logs.
func (l *Listener) ID() string { return l.id }

// Context implements Subscriber.
func (l *Listener) Context() string { return l.context }

// Dropped returns how many messages were discarded on a full queue.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Send implements Subscriber. Messages of unselected types are accepted
// and ignored. It never blocks and fails only once the listener is closed.
func (l *Listener) Send(_ context.Context, payload []byte) error {
	d, err := Decode(payload)
	if err != nil {
		return err
	}
	if l.types != nil {
		if _, ok := l.types[d.EventType]; !ok {
			return nil
		}
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.queue <- d:
	default:
		n := l.dropped.Add(1)
		l.logger.Warn("listener queue full, dropping message",
			"listener", l.id, "event_type", d.EventType, "identifier", d.Identifier(), "dropped", n)
	}
	return nil
}

// Close stops the listener. It does not wait for an in-flight handler;
// use Wait for that.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// Wait blocks until the listener goroutine has exited.
func (l *Listener) Wait() { l.wg.Wait() }

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-ctx.Done():
			return
		case d := <-l.queue:
			l.handle(ctx, d)
		}
	}
}

func (l *Listener) handle(ctx context.Context, d Decoded) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("listener handler panicked", "listener", l.id, "event_type", d.EventType, "panic", fmt.Sprint(r))
		}
	}()
	l.handler(ctx, d)
}
