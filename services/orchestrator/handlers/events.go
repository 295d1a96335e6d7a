// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianPulse/pkg/validation"
	"github.com/AleutianAI/AleutianPulse/services/analytics/agents"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/analytics/cache"
)

// HandleEventStream upgrades GET /ws and subscribes the connection to the
// bus until the client goes away. ?agent=<id> sets the subscriber context,
// so events targeted at other agents are not delivered.
func HandleEventStream(b *bus.Bus, allowedOrigins []string, logger *slog.Logger) gin.HandlerFunc {
	upgrader := bus.NewUpgrader(allowedOrigins)
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("failed to upgrade the websocket", "error", err)
			return
		}
		sub := bus.NewWSSubscriber(conn, c.Query("agent"))
		defer sub.Close()

		id, err := b.Subscribe(c.Request.Context(), sub)
		if err != nil {
			logger.Warn("websocket subscribe refused", "error", err)
			return
		}
		defer b.Unsubscribe(id)
		logger.Info("websocket client connected", "subscriber", id, "agent", sub.Context())

		if err := sub.ReadLoop(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			logger.Info("websocket client disconnected", "subscriber", id, "error", err.Error())
			return
		}
		logger.Info("websocket client disconnected", "subscriber", id)
	}
}

// TriggerRequest is the body of POST /trigger-agent/:agent_id.
type TriggerRequest struct {
	Identifier string `json:"identifier"`
}

// Triggerer is the part of the agent graph HandleTrigger needs.
type Triggerer interface {
	Trigger(ctx context.Context, agentID, identifier string) error
}

// HandleTrigger broadcasts "<agent_id>_trigger" targeted at that agent.
// An unknown agent is 404.
func HandleTrigger(g Triggerer, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		agentID := c.Param("agent_id")
		var req TriggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
		if err := validation.ValidateIdentifier(req.Identifier); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := g.Trigger(c.Request.Context(), agentID, req.Identifier); err != nil {
			if errors.Is(err, agents.ErrUnknownAgent) {
				c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Agent %s not found", agentID)})
				return
			}
			respondError(c, logger, err)
			return
		}
		logger.Info("agent triggered", "agent_id", agentID, "identifier", req.Identifier)
		c.JSON(http.StatusOK, gin.H{
			"message":    fmt.Sprintf("Triggered %s", agentID),
			"agent_id":   agentID,
			"identifier": req.Identifier,
		})
	}
}

// Pinger reports database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheHealth reports cache backend health.
type CacheHealth interface {
	Health(ctx context.Context) cache.Health
}

// HealthCheck handles GET /health. A failing database makes the service
// unhealthy (503); a failing cache only degrades it.
func HealthCheck(db Pinger, c CacheHealth, board *agents.StatusBoard) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		body := gin.H{"status": "healthy", "database": "connected"}
		code := http.StatusOK

		if err := db.Ping(ctx.Request.Context()); err != nil {
			body["status"] = "unhealthy"
			body["database"] = "disconnected"
			body["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if c != nil {
			h := c.Health(ctx.Request.Context())
			body["cache"] = h
			if h.Status != "healthy" && code == http.StatusOK {
				body["status"] = "degraded"
			}
		}
		if board != nil {
			body["agents"] = board.States()
		}
		ctx.JSON(code, body)
	}
}
