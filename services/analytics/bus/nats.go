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

	"github.com/nats-io/nats.go"
)

// SubjectPrefix prefixes the subject every relayed message is published
// on: pulse.events.<event_type>.
const SubjectPrefix = "pulse.events."

// Publisher is the subset of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRelay publishes every bus message to a NATS subject.
type NATSRelay struct {
	pub  Publisher
	conn *nats.Conn
}

// DialNATS connects to url with reconnects enabled.
func DialNATS(url string) (*NATSRelay, error) {
	nc, err := nats.Connect(url,
		nats.Name("pulse-bus"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSRelay{pub: nc, conn: nc}, nil
}

// NewNATSRelay relays through an existing publisher.
func NewNATSRelay(pub Publisher) *NATSRelay {
	return &NATSRelay{pub: pub}
}

// Subject returns the subject for eventType.
func Subject(eventType EventType) string {
	return SubjectPrefix + string(eventType)
}

// Relay implements Relay.
func (r *NATSRelay) Relay(ctx context.Context, eventType EventType, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.pub.Publish(Subject(eventType), payload); err != nil {
		return fmt.Errorf("publish %s: %w", Subject(eventType), err)
	}
	return nil
}

// Close drains and closes the connection, if the relay owns one.
func (r *NATSRelay) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Drain()
}
