// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers holds the gin handlers of the Pulse HTTP service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianPulse/pkg/validation"
	"github.com/AleutianAI/AleutianPulse/services/analytics/agents"
	"github.com/AleutianAI/AleutianPulse/services/analytics/connectors"
	"github.com/AleutianAI/AleutianPulse/services/analytics/kernel"
	"github.com/AleutianAI/AleutianPulse/services/analytics/store"
	"github.com/AleutianAI/AleutianPulse/services/orchestrator/middleware"
)

// MaxUploadBytes caps the size of an uploaded CSV file.
const MaxUploadBytes = 32 << 20

// DefaultStoredIssues is how many stored issues ?stored=true returns when
// no limit is given.
const DefaultStoredIssues = 100

// IngestRequest is the body of POST /api/ingest/:identifier.
type IngestRequest struct {
	Type          string                   `json:"type"`
	Config        map[string]any           `json:"config"`
	Timeout       float64                  `json:"timeout,omitempty"`
	RetryAttempts int                      `json:"retry_attempts,omitempty"`
	Preprocess    *kernel.PreprocessConfig `json:"preprocess,omitempty"`
}

func (r IngestRequest) descriptor(agentID string) connectors.Descriptor {
	return connectors.Descriptor{
		Type:           r.Type,
		Config:         r.Config,
		TimeoutSeconds: r.Timeout,
		RetryAttempts:  r.RetryAttempts,
		AgentID:        agentID,
	}
}

// PredictRequest is the optional body of POST /api/predict/:identifier.
type PredictRequest struct {
	Lookback      int `json:"lookback"`
	ForecastSteps int `json:"forecast_steps"`
}

// apiPreprocess is applied to API ingestion that names no preprocessing.
func apiPreprocess() kernel.PreprocessConfig {
	return kernel.PreprocessConfig{ImputeMethod: kernel.ImputeMean, OutlierThreshold: 2.0}
}

// Analytics serves the /api routes over the agent graph.
//
// # Description
//
// Every handler validates the identifier path parameter first, then runs
// one agent (or the whole status sequence) synchronously. Runs are
// attributed to the caller's agent id from the auth middleware.
//
// Background ingestion runs under the context passed to NewAnalytics so a
// service shutdown cancels it. Wait blocks until those runs return.
//
// # Thread Safety
//
// Safe for concurrent use.
type Analytics struct {
	graph  *agents.Graph
	store  *store.Store
	logger *slog.Logger

	base context.Context
	bg   sync.WaitGroup
}

// NewAnalytics returns the /api handlers. base bounds background work;
// logger may be nil.
func NewAnalytics(base context.Context, graph *agents.Graph, st *store.Store, logger *slog.Logger) *Analytics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analytics{graph: graph, store: st, logger: logger, base: base}
}

// Wait blocks until every background ingestion has returned.
func (h *Analytics) Wait() { h.bg.Wait() }

// Ingest handles POST /api/ingest/:identifier.
//
// The body is validated up front. By default the run continues in the
// background and the handler answers 202; with ?sync=true the EDA result
// is returned.
func (h *Analytics) Ingest() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		var req IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
		cfg := apiPreprocess()
		if req.Preprocess != nil {
			cfg = *req.Preprocess
		}
		agentID := middleware.AgentID(c)
		d := req.descriptor(agentID)
		if err := precheck(d, cfg); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if wait, _ := strconv.ParseBool(c.Query("sync")); wait {
			h.runIngest(c, identifier, d, cfg)
			return
		}

		h.bg.Add(1)
		go func() {
			defer h.bg.Done()
			if _, err := h.graph.Agents().Ingestion.Ingest(h.base, identifier, d, cfg); err != nil {
				h.logger.Error("background ingestion failed", "identifier", identifier, "error", err)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"message": fmt.Sprintf("Data ingestion started for %s by agent %s", identifier, agentID),
		})
	}
}

// UploadCSV handles POST /api/upload-csv/:identifier with a multipart
// "file" field. The file is ingested synchronously.
func (h *Analytics) UploadCSV() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
			return
		}
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".csv") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Only CSV files are supported"})
			return
		}
		if fh.Size > MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
			return
		}
		defer f.Close()
		contents, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
			return
		}

		d := connectors.Descriptor{
			Type:    connectors.TypeCSV,
			Config:  map[string]any{"data": string(contents)},
			AgentID: middleware.AgentID(c),
		}
		h.runIngest(c, identifier, d, apiPreprocess())
	}
}

func (h *Analytics) runIngest(c *gin.Context, identifier string, d connectors.Descriptor, cfg kernel.PreprocessConfig) {
	result, err := h.graph.Agents().Ingestion.Ingest(c.Request.Context(), identifier, d, cfg)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Schema handles GET /api/schema/:identifier. Answers 404 until a schema
// has been learned.
func (h *Analytics) Schema() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		result := h.graph.Agents().Schema.Latest(c.Request.Context(), identifier, middleware.AgentID(c))
		switch result.Status {
		case agents.StatusNoData:
			c.JSON(http.StatusNotFound, result)
		case agents.StatusError:
			c.JSON(http.StatusInternalServerError, result)
		default:
			c.JSON(http.StatusOK, result)
		}
	}
}

// Monitor handles GET /api/monitor/:identifier.
func (h *Analytics) Monitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.graph.Agents().KPI.Monitor(c.Request.Context(), identifier, middleware.AgentID(c)))
	}
}

// Issues handles GET /api/issues/:identifier. With ?stored=true it lists
// persisted issues (newest first, ?limit=N) instead of running detection.
func (h *Analytics) Issues() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		if stored, _ := strconv.ParseBool(c.Query("stored")); stored {
			limit := DefaultStoredIssues
			if raw := c.Query("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n <= 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
					return
				}
				limit = n
			}
			issues, err := h.store.Issues(c.Request.Context(), identifier, limit)
			if err != nil {
				respondError(c, h.logger, err)
				return
			}
			if issues == nil {
				issues = []store.Issue{}
			}
			c.JSON(http.StatusOK, gin.H{"identifier": identifier, "issues": issues})
			return
		}
		c.JSON(http.StatusOK, h.graph.Agents().Issue.Detect(c.Request.Context(), identifier, middleware.AgentID(c)))
	}
}

// RootCause handles GET /api/root-cause/:identifier.
func (h *Analytics) RootCause() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.graph.Agents().RootCause.Analyze(c.Request.Context(), identifier, middleware.AgentID(c)))
	}
}

// Predict handles POST /api/predict/:identifier. The body is optional;
// zero fields keep the agent's configuration.
func (h *Analytics) Predict() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		var req PredictRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
				return
			}
		}
		if req.Lookback < 0 || req.ForecastSteps < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lookback and forecast_steps must not be negative"})
			return
		}
		result := h.graph.Agents().Prediction.PredictWith(c.Request.Context(), identifier, middleware.AgentID(c),
			agents.PredictionConfig{Lookback: req.Lookback, ForecastSteps: req.ForecastSteps})
		c.JSON(http.StatusOK, result)
	}
}

// Optimize handles POST /api/optimize/:identifier with body
// {causes, predictions, kpis}; every field is optional.
func (h *Analytics) Optimize() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		var in agents.OptimizationInput
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&in); err != nil && !errors.Is(err, io.EOF) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
				return
			}
		}
		c.JSON(http.StatusOK, h.graph.Agents().Optimization.Propose(c.Request.Context(), identifier, middleware.AgentID(c), in))
	}
}

// Status handles GET /api/status/:identifier: every agent in sequence.
func (h *Analytics) Status() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier, ok := identifierParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, h.graph.Status(c.Request.Context(), identifier, middleware.AgentID(c)))
	}
}

// precheck runs the ingestion agent's validation early so an asynchronous
// request can still be refused with 400.
func precheck(d connectors.Descriptor, cfg kernel.PreprocessConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := d.WithDefaults().Validate(); err != nil {
		return err
	}
	if _, _, err := d.InlineData(); err != nil {
		return err
	}
	return nil
}

// identifierParam validates :identifier and answers 400 when it is bad.
func identifierParam(c *gin.Context) (string, bool) {
	identifier := c.Param("identifier")
	if err := validation.ValidateIdentifier(identifier); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return identifier, true
}

// respondError maps the error taxonomy onto HTTP status codes. Unexpected
// errors are logged and reported without detail.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, agents.ErrValidation),
		errors.Is(err, connectors.ErrInvalidConfig),
		errors.Is(err, connectors.ErrUnknownConnector),
		errors.Is(err, validation.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, agents.ErrUnknownAgent), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, agents.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
