// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextd wires the context engine together: graph lifecycle,
// embedding, retrieval, budget allocation, rendering, and the HTTP
// surface.
//
// # Ownership Model
//
// The Engine owns the live graph behind a single-writer/multi-reader
// RWMutex. Index and Update are the only writers; each committed batch
// bumps a monotonically increasing version. Queries take the read lock
// for their whole pass, so every query is answered against exactly one
// graph version.
//
// # Lifecycle
//
// NewEngine → (optional) Restore from the latest snapshot → serve.
// There are no background goroutines; all work happens on request
// goroutines.
package contextd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianContext/services/contextd/assemble"
	"github.com/AleutianAI/AleutianContext/services/contextd/changeset"
	"github.com/AleutianAI/AleutianContext/services/contextd/config"
	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
	"github.com/AleutianAI/AleutianContext/services/contextd/retrieval"
	"github.com/AleutianAI/AleutianContext/services/contextd/telemetry"
	"github.com/AleutianAI/AleutianContext/services/contextd/vector"
)

// ErrNotIndexed is returned by read operations before the first
// successful Index (or snapshot restore).
var ErrNotIndexed = errors.New("contextd: no index built yet")

// ErrNoQueryInput is returned when a query carries neither a question
// nor a raw vector.
var ErrNoQueryInput = errors.New("contextd: query needs a question or a vector")

// Embedder turns text into unit-normalized vectors. *embed.Client
// satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore is the engine's view of the vector index. *vector.Client
// satisfies it.
type VectorStore interface {
	retrieval.SeedSource
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, obj vector.UnitObject, vec []float32) error
	Delete(ctx context.Context, unitID string) error
	Ready(ctx context.Context) bool
}

// AnswerClient synthesizes an answer from a context document.
// *llm.Client satisfies it.
type AnswerClient interface {
	Answer(ctx context.Context, question, contextDoc string) (string, error)
	Configured() bool
}

// Engine is the service core.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	cfg config.Config

	// writeMu serializes Index/Update end to end (graph mutation plus
	// vector reconciliation). mu guards the graph for readers; writers
	// hold it only while actually mutating so queries stay unblocked
	// during embedding.
	writeMu sync.Mutex
	mu      sync.RWMutex
	graph   *graph.Graph
	version uint64

	builder   *graph.Builder
	differ    *graph.DiffEngine
	vectors   VectorStore
	embedder  Embedder
	retriever *retrieval.Retriever
	allocator *retrieval.Allocator
	renderer  *assemble.Renderer
	chat      AnswerClient
	snapshots *graph.SnapshotManager

	metrics *telemetry.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

// EngineDeps carries the engine's collaborators. Snapshots, Chat, and
// Metrics are optional; the others are required.
type EngineDeps struct {
	Vectors   VectorStore
	Embedder  Embedder
	Chat      AnswerClient
	Snapshots *graph.SnapshotManager
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// NewEngine assembles an engine from its collaborators.
func NewEngine(cfg config.Config, projectRoot string, deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counter := assemble.NewTokenCounter(logger)
	return &Engine{
		cfg:       cfg,
		builder:   graph.NewBuilder(graph.WithLogger(logger)),
		differ:    graph.NewDiffEngine(logger),
		vectors:   deps.Vectors,
		embedder:  deps.Embedder,
		retriever: retrieval.NewRetriever(deps.Vectors, logger),
		allocator: retrieval.NewAllocator(retrieval.DefaultTierCeilings, logger),
		renderer:  assemble.NewRenderer(projectRoot, counter, logger),
		chat:      deps.Chat,
		snapshots: deps.Snapshots,
		metrics:   deps.Metrics,
		logger:    logger,
		tracer:    otel.Tracer("contextd/engine"),
	}
}

// Version returns the committed graph version, 0 before the first index.
func (e *Engine) Version() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Restore loads the latest snapshot for the project, if one exists.
// Called at startup; a missing snapshot is not an error.
func (e *Engine) Restore(ctx context.Context, projectRoot string) error {
	if e.snapshots == nil {
		return nil
	}
	g, meta, err := e.snapshots.LoadLatest(ctx, projectRoot)
	if err != nil {
		if errors.Is(err, graph.ErrSnapshotNotFound) {
			return nil
		}
		return err
	}
	e.mu.Lock()
	e.graph = g
	e.version = meta.Version
	e.mu.Unlock()
	e.logger.Info("restored graph from snapshot",
		"snapshot", meta.ID, "version", meta.Version, "units", meta.UnitCount)
	return nil
}

// Index performs a full rebuild from a complete set of parse
// descriptors, re-embeds every unit, and commits the new graph.
func (e *Engine) Index(ctx context.Context, req *IndexRequest) (*IndexResponse, error) {
	ctx, span := e.tracer.Start(ctx, "engine.index",
		trace.WithAttributes(attribute.Int("files", len(req.Files))))
	defer span.End()
	start := time.Now()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	g := graph.New(req.ProjectRoot)
	result, err := e.builder.Build(ctx, g, req.Files)
	if err != nil {
		e.countIndex(ctx, "error")
		return nil, fmt.Errorf("build graph: %w", err)
	}

	embedded, err := e.embedGraphUnits(ctx, g, allNonFileUnitIDs(g))
	if err != nil {
		e.countIndex(ctx, "error")
		return nil, fmt.Errorf("embed units: %w", err)
	}

	e.mu.Lock()
	e.graph = g
	e.version++
	version := e.version
	e.mu.Unlock()
	e.renderer.Invalidate(g.Files())

	e.countIndex(ctx, "ok")
	if e.metrics != nil {
		e.metrics.IndexBuildDuration.Record(ctx, time.Since(start).Seconds())
		e.metrics.UnitsIndexed.Add(ctx, int64(embedded))
	}
	e.logger.Info("index built",
		"version", version, "units", g.UnitCount(), "edges", g.EdgeCount(),
		"embedded", embedded, "duration", time.Since(start))

	return &IndexResponse{
		Version:       version,
		Build:         result,
		UnitsEmbedded: embedded,
	}, nil
}

// Update applies an incremental change batch. Only the outgoing edges of
// changed units are recomputed and only added/modified units re-embed;
// removed units are deleted from the vector index.
func (e *Engine) Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error) {
	ctx, span := e.tracer.Start(ctx, "engine.update",
		trace.WithAttributes(
			attribute.Int("files", len(req.Files)),
			attribute.Int("deleted", len(req.DeletedFiles))))
	defer span.End()
	start := time.Now()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	batch := graph.ChangeBatch{Files: req.Files, DeletedFiles: req.DeletedFiles}

	e.mu.Lock()
	if e.graph == nil {
		e.mu.Unlock()
		return nil, ErrNotIndexed
	}
	report, err := e.differ.Apply(ctx, e.graph, batch)
	if err != nil {
		e.mu.Unlock()
		e.countUpdate(ctx, "rejected")
		return nil, err
	}
	e.version++
	version := e.version
	g := e.graph
	e.mu.Unlock()

	touched := append(append([]string{}, report.AddedUnitIDs...), report.ModifiedUnitIDs...)
	embedded, err := e.embedGraphUnits(ctx, g, touched)
	if err != nil {
		// Graph commit already happened; the next update retries the
		// vectors. Surface the degradation instead of failing the batch.
		e.logger.Warn("re-embedding failed, vector index is stale", "error", err)
		span.RecordError(err)
	}
	for _, id := range report.RemovedUnitIDs {
		if derr := e.vectors.Delete(ctx, id); derr != nil {
			e.logger.Warn("vector delete failed", "unit", id, "error", derr)
		}
	}

	var invalidate []string
	for _, fp := range req.Files {
		invalidate = append(invalidate, fp.FilePath)
	}
	e.renderer.Invalidate(append(invalidate, req.DeletedFiles...))

	e.countUpdate(ctx, "ok")
	if e.metrics != nil {
		e.metrics.UpdateDuration.Record(ctx, time.Since(start).Seconds())
		e.metrics.UnitsIndexed.Add(ctx, int64(embedded))
	}
	e.logger.Info("update applied",
		"version", version,
		"added", report.UnitsAdded, "modified", report.UnitsModified,
		"removed", report.UnitsRemoved, "relinked", report.CallersRelinked,
		"duration", time.Since(start))

	return &UpdateResponse{
		Version:       version,
		Report:        report,
		UnitsEmbedded: embedded,
	}, nil
}

// Query runs one retrieval + allocation + render pass against a single
// graph version.
func (e *Engine) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	ctx, span := e.tracer.Start(ctx, "engine.query")
	defer span.End()
	start := time.Now()

	queryVec := req.Vector
	if len(queryVec) == 0 {
		if req.Question == "" {
			return nil, ErrNoQueryInput
		}
		var err error
		queryVec, err = e.embedder.Embed(ctx, req.Question)
		if err != nil {
			e.countQuery(ctx, "error")
			return nil, fmt.Errorf("embed question: %w", err)
		}
	}

	opts := retrieval.Options{
		TopK:          req.TopK,
		MinSimilarity: req.MinSimilarity,
		Depth:         req.Depth,
		Language:      req.Language,
		MaxCandidates: req.MaxCandidates,
	}
	if opts.TopK <= 0 {
		opts.TopK = e.cfg.Retrieval.TopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = e.cfg.Retrieval.MinSimilarity
	}
	if opts.Depth <= 0 {
		opts.Depth = e.cfg.Retrieval.Depth
	}
	budget := req.Budget
	if budget == 0 {
		budget = e.cfg.Retrieval.Budget
	}

	// The read lock spans retrieval, pricing, and rendering so the whole
	// pass sees one version.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return nil, ErrNotIndexed
	}

	result, err := e.retriever.Retrieve(ctx, e.graph, queryVec, opts)
	if err != nil {
		e.countQuery(ctx, "error")
		return nil, err
	}

	e.renderer.Price(result.Candidates)
	plan := e.allocator.Allocate(result.Candidates, budget)
	doc := e.renderer.Render(req.Question, plan)

	e.countQuery(ctx, "ok")
	if e.metrics != nil {
		e.metrics.QueryDuration.Record(ctx, time.Since(start).Seconds())
		e.metrics.CandidatesRetrieved.Record(ctx, int64(len(result.Candidates)))
		if plan.Budget > 0 {
			e.metrics.BudgetUtilization.Record(ctx, float64(plan.TokensUsed)/float64(plan.Budget))
		}
	}
	span.SetAttributes(
		attribute.Int("candidates", len(result.Candidates)),
		attribute.Int("admitted", len(plan.Admitted)),
		attribute.Int("tokens_used", plan.TokensUsed))

	return &QueryResponse{
		Version:      e.version,
		SeedCount:    result.SeedCount,
		DroppedSeeds: result.DroppedSeeds,
		Plan:         plan,
		Context:      doc,
	}, nil
}

// Answer runs Query and synthesizes an answer over the rendered context.
func (e *Engine) Answer(ctx context.Context, req *QueryRequest) (*AnswerResponse, error) {
	qr, err := e.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	answer, err := e.chat.Answer(ctx, req.Question, qr.Context)
	if err != nil {
		return nil, fmt.Errorf("synthesize answer: %w", err)
	}
	return &AnswerResponse{Query: qr, Answer: answer}, nil
}

// Changeset parses a unified diff and maps it to changed graph units
// with impact grades.
func (e *Engine) Changeset(ctx context.Context, patch []byte) (*ChangesetResponse, error) {
	_, span := e.tracer.Start(ctx, "engine.changeset")
	defer span.End()

	cs, err := changeset.Parse(patch)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return nil, ErrNotIndexed
	}
	return &ChangesetResponse{
		Version:      e.version,
		ChangedFiles: cs.ChangedFiles(),
		DeletedFiles: cs.DeletedFiles(),
		Units:        changeset.ChangedUnits(e.graph, cs),
	}, nil
}

// SaveSnapshot persists the current graph version.
func (e *Engine) SaveSnapshot(ctx context.Context) (*graph.SnapshotMetadata, error) {
	if e.snapshots == nil {
		return nil, fmt.Errorf("contextd: snapshot store not configured")
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return nil, ErrNotIndexed
	}
	return e.snapshots.Save(ctx, e.graph, e.version)
}

// ListSnapshots lists stored snapshots for the current project.
func (e *Engine) ListSnapshots(ctx context.Context) ([]*graph.SnapshotMetadata, error) {
	if e.snapshots == nil {
		return nil, fmt.Errorf("contextd: snapshot store not configured")
	}
	e.mu.RLock()
	root := ""
	if e.graph != nil {
		root = e.graph.ProjectRoot()
	}
	e.mu.RUnlock()
	if root == "" {
		return nil, ErrNotIndexed
	}
	return e.snapshots.List(ctx, root)
}

// DiffSnapshots compares two stored snapshots by ID.
func (e *Engine) DiffSnapshots(ctx context.Context, baseID, targetID string) (*graph.SnapshotDiff, error) {
	if e.snapshots == nil {
		return nil, fmt.Errorf("contextd: snapshot store not configured")
	}
	base, _, err := e.snapshots.Load(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("load base: %w", err)
	}
	target, _, err := e.snapshots.Load(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load target: %w", err)
	}
	return graph.DiffSnapshots(base.ToSerializable(), target.ToSerializable())
}

// Stats reports graph size counters and the committed version.
func (e *Engine) Stats() (*StatsResponse, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.graph == nil {
		return nil, ErrNotIndexed
	}
	return &StatsResponse{
		Version: e.version,
		Stats:   e.graph.ComputeStats(),
	}, nil
}

// Health reports component reachability.
func (e *Engine) Health(ctx context.Context) *HealthResponse {
	e.mu.RLock()
	indexed := e.graph != nil
	version := e.version
	e.mu.RUnlock()
	return &HealthResponse{
		Status:      "ok",
		Indexed:     indexed,
		Version:     version,
		VectorReady: e.vectors.Ready(ctx),
	}
}

// embedGraphUnits embeds the given units and upserts them into the
// vector index. Returns how many units were embedded.
func (e *Engine) embedGraphUnits(ctx context.Context, g *graph.Graph, ids []string) (int, error) {
	var units []*graph.CodeUnit
	var texts []string
	for _, id := range ids {
		u, ok := g.Unit(id)
		if !ok || u.Kind == graph.UnitFile {
			continue
		}
		units = append(units, u)
		texts = append(texts, embedText(u))
	}
	if len(units) == 0 {
		return 0, nil
	}

	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, u := range units {
		obj := vector.UnitObject{
			UnitID:        u.ID,
			QualifiedName: u.QualifiedName,
			FilePath:      u.FilePath,
			Language:      u.Language,
			Kind:          u.Kind.String(),
		}
		if err := e.vectors.Upsert(ctx, obj, vecs[i]); err != nil {
			return i, fmt.Errorf("upsert %s: %w", u.ID, err)
		}
	}
	// Unit structs may be visible to concurrent readers; take the write
	// lock for the field update.
	e.mu.Lock()
	for _, u := range units {
		u.EmbeddingID = vector.ObjectID(u.ID)
	}
	e.mu.Unlock()
	return len(units), nil
}

// embedText is the text embedded per unit: identity, signature, and doc.
// Bodies are deliberately excluded; they churn without changing meaning
// and the qualified name + doc carry the semantic signal.
func embedText(u *graph.CodeUnit) string {
	text := u.QualifiedName
	if u.Signature != "" {
		text += "\n" + u.Signature
	}
	if u.Doc != "" {
		text += "\n" + u.Doc
	}
	return text
}

func allNonFileUnitIDs(g *graph.Graph) []string {
	var ids []string
	for _, file := range g.Files() {
		for _, u := range g.UnitsInFile(file) {
			if u.Kind != graph.UnitFile {
				ids = append(ids, u.ID)
			}
		}
	}
	return ids
}

func (e *Engine) countIndex(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.IndexBuildsTotal.Add(ctx, 1, statusAttr(status))
	}
}

func (e *Engine) countUpdate(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.UpdatesTotal.Add(ctx, 1, statusAttr(status))
	}
}

func (e *Engine) countQuery(ctx context.Context, status string) {
	if e.metrics != nil {
		e.metrics.QueriesTotal.Add(ctx, 1, statusAttr(status))
	}
}
