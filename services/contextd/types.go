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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianContext/services/contextd/changeset"
	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
	"github.com/AleutianAI/AleutianContext/services/contextd/parse"
	"github.com/AleutianAI/AleutianContext/services/contextd/retrieval"
)

// IndexRequest is the full-build payload: the project root and one parse
// descriptor per source file.
type IndexRequest struct {
	ProjectRoot string            `json:"project_root" binding:"required"`
	Files       []parse.FileParse `json:"files" binding:"required"`
}

type IndexResponse struct {
	Version       uint64             `json:"version"`
	Build         *graph.BuildResult `json:"build"`
	UnitsEmbedded int                `json:"units_embedded"`
}

// UpdateRequest is one incremental batch: re-parsed changed files plus
// deleted paths.
type UpdateRequest struct {
	Files        []parse.FileParse `json:"files,omitempty"`
	DeletedFiles []string          `json:"deleted_files,omitempty"`
}

type UpdateResponse struct {
	Version       uint64              `json:"version"`
	Report        *graph.ChangeReport `json:"report"`
	UnitsEmbedded int                 `json:"units_embedded"`
}

// QueryRequest asks for a budgeted context. Either Question or Vector
// must be set; zero tuning fields fall back to the configured defaults.
type QueryRequest struct {
	Question      string    `json:"question,omitempty"`
	Vector        []float32 `json:"vector,omitempty"`
	TopK          int       `json:"top_k,omitempty"`
	MinSimilarity float64   `json:"min_similarity,omitempty"`
	Depth         int       `json:"depth,omitempty"`
	Language      string    `json:"language,omitempty"`
	MaxCandidates int       `json:"max_candidates,omitempty"`
	Budget        int       `json:"budget,omitempty"`
}

type QueryResponse struct {
	// Version is the graph version the whole pass was answered against.
	Version      uint64          `json:"version"`
	SeedCount    int             `json:"seed_count"`
	DroppedSeeds []string        `json:"dropped_seeds,omitempty"`
	Plan         *retrieval.Plan `json:"plan"`
	Context      string          `json:"context"`
}

type AnswerResponse struct {
	Query  *QueryResponse `json:"query"`
	Answer string         `json:"answer"`
}

// ChangesetRequest carries a unified diff (git or plain).
type ChangesetRequest struct {
	Patch string `json:"patch" binding:"required"`
}

type ChangesetResponse struct {
	Version      uint64              `json:"version"`
	ChangedFiles []string            `json:"changed_files"`
	DeletedFiles []string            `json:"deleted_files,omitempty"`
	Units        []changeset.UnitHit `json:"units"`
}

type StatsResponse struct {
	Version uint64      `json:"version"`
	Stats   graph.Stats `json:"stats"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Indexed     bool   `json:"indexed"`
	Version     uint64 `json:"version"`
	VectorReady bool   `json:"vector_ready"`
}

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func statusAttr(status string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("status", status))
}
