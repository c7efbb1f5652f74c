// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mandi

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// Handlers
// =============================================================================

// Handlers exposes the Service over HTTP.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHandlers creates the HTTP handler set.
//
// Inputs:
//
//	svc    - The service façade. Must not be nil.
//	logger - Logger instance. Nil uses slog.Default().
func NewHandlers(svc *Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// HandleAsk answers one turn.
//
// POST /v1/mandi/ask
//
// Request body: AskRequest. A blank session_id starts a new conversation;
// the response carries the id to continue it.
func (h *Handlers) HandleAsk(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With(slog.String("request_id", requestID))

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	resp, err := h.svc.Ask(c.Request.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		code := "INVALID_REQUEST"
		if strings.Contains(err.Error(), "unknown session") {
			status = http.StatusNotFound
			code = "SESSION_NOT_FOUND"
		}
		logger.Warn("ask rejected", slog.String("error", err.Error()))
		c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleSession returns a session's turns.
//
// GET /v1/mandi/sessions/:id
func (h *Handlers) HandleSession(c *gin.Context) {
	sessionID := c.Param("id")
	turns, err := h.svc.History(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "SESSION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"turns":      turns,
	})
}

// HandleHealth reports process liveness.
//
// GET /v1/mandi/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady reports whether the semantic tier is warmed. The service
// answers in degraded mode before warm-up completes, so this is 200
// either way; the body says which.
//
// GET /v1/mandi/ready
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ready":         true,
		"semantic_tier": h.svc.Ready(),
	})
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
