// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
)

// Palette
var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorSlate   = lipgloss.Color("#2C4A54")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
)

// maxSummary caps the rendered event payload.
const maxSummary = 160

type eventStyles struct {
	time    lipgloss.Style
	normal  lipgloss.Style
	alert   lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newEventStyles(color bool) eventStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return eventStyles{plain, plain, plain, plain, plain}
	}
	return eventStyles{
		time:    lipgloss.NewStyle().Foreground(colorSlate),
		normal:  lipgloss.NewStyle().Foreground(colorTeal),
		alert:   lipgloss.NewStyle().Bold(true).Foreground(colorWarning),
		failure: lipgloss.NewStyle().Bold(true).Foreground(colorError),
		muted:   lipgloss.NewStyle().Foreground(colorSlate),
	}
}

func (s eventStyles) forType(t bus.EventType) lipgloss.Style {
	name := string(t)
	switch {
	case strings.HasSuffix(name, "_error"):
		return s.failure
	case t == bus.KPIAlert, t == bus.ActionRequired, t == bus.RootCauseIdentified,
		t == bus.OptimizationActionable, t == bus.SchemaEvolved:
		return s.alert
	default:
		return s.normal
	}
}

// renderEvent formats one event as a single line.
func renderEvent(d bus.Decoded, s eventStyles) string {
	var b strings.Builder
	b.WriteString(s.time.Render(d.IssuedAt.Format("15:04:05")))
	b.WriteString("  ")
	b.WriteString(s.forType(d.EventType).Render(string(d.EventType)))
	if id := d.Identifier(); id != "" {
		b.WriteString("  ")
		b.WriteString(id)
	}
	if d.TargetAgent != "" {
		b.WriteString(s.muted.Render("  -> " + d.TargetAgent))
	}
	if summary := summarize(d.Data); summary != "" {
		b.WriteString("  ")
		b.WriteString(s.muted.Render(summary))
	}
	return b.String()
}

func summarize(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return ""
	}
	out := compact.String()
	if len(out) > maxSummary {
		out = out[:maxSummary-3] + "..."
	}
	return out
}

// eventFilter keeps the listed types, or everything when empty.
type eventFilter map[bus.EventType]struct{}

func newEventFilter(types []string) eventFilter {
	f := eventFilter{}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			f[bus.EventType(t)] = struct{}{}
		}
	}
	return f
}

func (f eventFilter) keep(t bus.EventType) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}

func runWatch(cmd *cobra.Command, _ []string) error {
	server, _ := cmd.Flags().GetString("server")
	agent, _ := cmd.Flags().GetString("agent")
	types, _ := cmd.Flags().GetStringSlice("type")
	noColor, _ := cmd.Flags().GetBool("no-color")

	client, err := newAPIClient(server, "")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color := !noColor && isatty.IsTerminal(os.Stdout.Fd())
	return watchEvents(ctx, client.EventsURL(agent), newEventFilter(types), newEventStyles(color), cmd.OutOrStdout())
}

// watchEvents prints bus events from wsURL until ctx ends or the server
// closes the stream.
func watchEvents(ctx context.Context, wsURL string, filter eventFilter, styles eventStyles, out io.Writer) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("server closed the stream: %s", closeErr.Text)
			}
			return fmt.Errorf("event stream failed: %w", err)
		}
		d, err := bus.Decode(payload)
		if err != nil {
			continue
		}
		if !filter.keep(d.EventType) {
			continue
		}
		fmt.Fprintln(out, renderEvent(d, styles))
	}
}
