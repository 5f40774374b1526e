// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextd

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
	"github.com/AleutianAI/AleutianContext/services/contextd/llm"
	"github.com/AleutianAI/AleutianContext/services/contextd/vector"
)

// Handlers adapts the Engine to the HTTP surface.
type Handlers struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandlers creates the handler set for an engine.
func NewHandlers(engine *Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, logger: logger}
}

// HandleIndex runs a full build from a complete descriptor set.
//
// POST /v1/context/index
func (h *Handlers) HandleIndex(c *gin.Context) {
	var req IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Detail: err.Error()})
		return
	}
	resp, err := h.engine.Index(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleUpdate applies an incremental change batch.
//
// POST /v1/context/update
func (h *Handlers) HandleUpdate(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Detail: err.Error()})
		return
	}
	if len(req.Files) == 0 && len(req.DeletedFiles) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "empty batch"})
		return
	}
	resp, err := h.engine.Update(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleQuery retrieves a budgeted context for a question or vector.
//
// POST /v1/context/query
func (h *Handlers) HandleQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Detail: err.Error()})
		return
	}
	resp, err := h.engine.Query(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleAnswer retrieves context and synthesizes an answer.
//
// POST /v1/context/answer
func (h *Handlers) HandleAnswer(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Detail: err.Error()})
		return
	}
	if req.Question == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "answer requires a question"})
		return
	}
	resp, err := h.engine.Answer(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleChangeset maps a unified diff to impacted units.
//
// POST /v1/context/changeset
func (h *Handlers) HandleChangeset(c *gin.Context) {
	var req ChangesetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Detail: err.Error()})
		return
	}
	resp, err := h.engine.Changeset(c.Request.Context(), []byte(req.Patch))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSaveSnapshot persists the current graph version.
//
// POST /v1/context/snapshots
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	meta, err := h.engine.SaveSnapshot(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// HandleListSnapshots lists stored snapshots, newest first.
//
// GET /v1/context/snapshots
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	list, err := h.engine.ListSnapshots(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": list})
}

// HandleDiffSnapshots compares two stored snapshots.
//
// GET /v1/context/snapshots/diff?base=<id>&target=<id>
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	baseID := c.Query("base")
	targetID := c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "base and target snapshot IDs are required"})
		return
	}
	diff, err := h.engine.DiffSnapshots(c.Request.Context(), baseID, targetID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// HandleStats reports graph size counters.
//
// GET /v1/context/stats
func (h *Handlers) HandleStats(c *gin.Context) {
	resp, err := h.engine.Stats()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth reports component reachability.
//
// GET /v1/context/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Health(c.Request.Context()))
}

// fail translates engine errors to HTTP statuses.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotIndexed):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no index built yet"})
	case errors.Is(err, ErrNoQueryInput), errors.Is(err, graph.ErrMalformedChange):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, graph.ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, vector.ErrUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "vector index unavailable", Detail: err.Error()})
	case errors.Is(err, llm.ErrNotConfigured):
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "answer synthesis not configured"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Detail: err.Error()})
	}
}
