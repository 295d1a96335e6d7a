// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPulse/pkg/extensions"
	"github.com/AleutianAI/AleutianPulse/services/analytics/agents"
	"github.com/AleutianAI/AleutianPulse/services/analytics/bus"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/middleware"
)

// Dependencies are what the routes are served from.
type Dependencies struct {
	Analytics *handlers.Analytics
	Graph     *agents.Graph
	Bus       *bus.Bus
	DB        handlers.Pinger
	Cache     handlers.CacheHealth
	Board     *agents.StatusBoard

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	AllowedOrigins middleware.Origins
	Logger         *slog.Logger
}

// SetupRoutes registers every route on router. The /api group requires
// authentication through opts.AuthProvider; /health, /metrics, /ws and
// /trigger-agent do not.
func SetupRoutes(router *gin.Engine, deps Dependencies, opts extensions.ServiceOptions) {
	router.Use(middleware.CORS(deps.AllowedOrigins))

	router.GET("/health", handlers.HealthCheck(deps.DB, deps.Cache, deps.Board))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	router.GET("/ws", handlers.HandleEventStream(deps.Bus, deps.AllowedOrigins, deps.Logger))
	router.POST("/trigger-agent/:agent_id", handlers.HandleTrigger(deps.Graph, deps.Logger))

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		h := deps.Analytics
		api.POST("/ingest/:identifier", h.Ingest())
		api.POST("/upload-csv/:identifier", h.UploadCSV())
		api.GET("/schema/:identifier", h.Schema())
		api.GET("/monitor/:identifier", h.Monitor())
		api.GET("/issues/:identifier", h.Issues())
		api.GET("/root-cause/:identifier", h.RootCause())
		api.POST("/predict/:identifier", h.Predict())
		api.POST("/optimize/:identifier", h.Optimize())
		api.GET("/status/:identifier", h.Status())
	}
}
