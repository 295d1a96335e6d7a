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
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NewUpgrader returns a websocket upgrader that accepts the listed
// origins. An empty list, or a "*" entry, accepts any origin.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 64 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[strings.TrimRight(origin, "/")]
			return ok
		},
	}
}

// WSSubscriber delivers bus messages to a websocket client as text
// frames.
type WSSubscriber struct {
	conn    *websocket.Conn
	context string

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSSubscriber wraps an upgraded connection. agentContext is the
// subscriber context used for target filtering.
func NewWSSubscriber(conn *websocket.Conn, agentContext string) *WSSubscriber {
	return &WSSubscriber{conn: conn, context: agentContext, closed: make(chan struct{})}
}

// Context implements Subscriber.
func (w *WSSubscriber) Context() string { return w.context }

// Send writes payload as one text frame. The write deadline follows ctx.
func (w *WSSubscriber) Send(ctx context.Context, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		w.conn.SetWriteDeadline(deadline)
	} else {
		w.conn.SetWriteDeadline(time.Time{})
	}
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the connection.
func (w *WSSubscriber) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closed)
		w.mu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.mu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// Done is closed once the subscriber has been closed.
func (w *WSSubscriber) Done() <-chan struct{} { return w.closed }

// ReadLoop discards inbound frames until the client goes away or the
// connection fails. Control frames are handled by the library while it
// reads.
func (w *WSSubscriber) ReadLoop() error {
	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}
