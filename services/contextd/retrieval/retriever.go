// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
	"github.com/AleutianAI/AleutianContext/services/contextd/vector"
)

// DefaultMinSimilarity filters seeds whose cosine similarity is too low to
// be meaningful; matches below it usually indicate the question is outside
// the codebase's scope.
const DefaultMinSimilarity = 0.25

// SeedSource produces nearest-neighbor seeds for a query vector.
// *vector.Client satisfies it.
type SeedSource interface {
	QueryNearest(ctx context.Context, vec []float32, k int, language string) ([]vector.Seed, error)
}

// Options tunes one retrieval pass.
type Options struct {
	// TopK is the number of vector seeds requested.
	TopK int

	// MinSimilarity drops seeds scoring below it; 0 means the default.
	MinSimilarity float64

	// Depth is the CALLS expansion depth for callers and callees.
	// Test and container expansion is always one hop.
	Depth int

	// Language restricts vector search to one language; empty means all.
	Language string

	// MaxCandidates caps the final candidate list; 0 means unlimited.
	MaxCandidates int
}

func (o *Options) applyDefaults() {
	if o.TopK <= 0 {
		o.TopK = 5
	}
	if o.MinSimilarity <= 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	if o.Depth <= 0 {
		o.Depth = 1
	}
}

// Result is the ordered candidate set of one retrieval pass.
type Result struct {
	Candidates []Candidate `json:"candidates"`

	// SeedCount is the number of seeds that survived the similarity filter
	// and graph lookup.
	SeedCount int `json:"seed_count"`

	// DroppedSeeds are seed unit IDs the vector index returned but the
	// graph no longer holds (index lag after deletions).
	DroppedSeeds []string `json:"dropped_seeds,omitempty"`
}

// Retriever combines vector search with graph expansion.
//
// Description:
//
//	Tier 0 is the filtered nearest-neighbor seed set. Each seed then pulls
//	in its callers (tier 1), callees (tier 2), tests (tier 3), and
//	structural container (tier 4). A unit reachable through several routes
//	keeps its lowest tier, except that a unit testing a seed is excluded
//	from that seed's caller tier even though the test also calls it. The
//	final order is tier ascending, seed score
//	descending, qualified name ascending — fully deterministic for a given
//	graph snapshot and seed response.
//
// Thread Safety: Safe for concurrent use. The caller must pass a graph
// view that no writer mutates for the duration of the call.
type Retriever struct {
	index  SeedSource
	logger *slog.Logger
	tracer trace.Tracer
}

// NewRetriever creates a Retriever over a seed source.
func NewRetriever(index SeedSource, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		index:  index,
		logger: logger,
		tracer: otel.Tracer("contextd/retrieval"),
	}
}

// Retrieve runs one retrieval pass against a stable graph view.
//
// Outputs:
//
//	*Result - Ordered candidates; empty (not nil) when nothing matched.
//	error - A vector-index failure propagates; it is never masked as an
//	        empty result.
func (r *Retriever) Retrieve(ctx context.Context, g *graph.Graph, queryVec []float32, opts Options) (*Result, error) {
	opts.applyDefaults()
	ctx, span := r.tracer.Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(
			attribute.Int("top_k", opts.TopK),
			attribute.Int("depth", opts.Depth)))
	defer span.End()

	rawSeeds, err := r.index.QueryNearest(ctx, queryVec, opts.TopK, opts.Language)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	result := &Result{Candidates: []Candidate{}}
	type seedUnit struct {
		unit  *graph.CodeUnit
		score float64
	}
	var seeds []seedUnit
	for _, s := range rawSeeds {
		if s.Score < opts.MinSimilarity {
			continue
		}
		u, ok := g.Unit(s.UnitID)
		if !ok {
			result.DroppedSeeds = append(result.DroppedSeeds, s.UnitID)
			r.logger.Warn("seed missing from graph, dropping", "unit", s.UnitID)
			continue
		}
		seeds = append(seeds, seedUnit{unit: u, score: s.Score})
	}
	result.SeedCount = len(seeds)
	if len(seeds) == 0 {
		return result, nil
	}

	// Expand each seed concurrently. Expansion only reads the bound graph
	// view; results land in per-seed slots so the merge stays ordered.
	expansions := make([][]Candidate, len(seeds))
	eg, gctx := errgroup.WithContext(ctx)
	for i, s := range seeds {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			expansions[i] = expandSeed(g, s.unit, s.score, opts.Depth)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Merge with lowest-tier-wins dedupe. Seeds enter first so a unit that
	// is both a seed and someone's callee stays tier 0.
	best := make(map[string]*Candidate)
	for _, s := range seeds {
		c := toCandidate(s.unit, TierSeed, s.unit.ID, s.score)
		best[c.UnitID] = &c
	}
	for _, expansion := range expansions {
		for i := range expansion {
			c := &expansion[i]
			cur, ok := best[c.UnitID]
			if !ok || c.Tier < cur.Tier || (c.Tier == cur.Tier && c.SeedScore > cur.SeedScore) {
				best[c.UnitID] = c
			}
		}
	}

	for _, c := range best {
		result.Candidates = append(result.Candidates, *c)
	}
	sort.Slice(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.SeedScore != b.SeedScore {
			return a.SeedScore > b.SeedScore
		}
		return a.QualifiedName < b.QualifiedName
	})
	if opts.MaxCandidates > 0 && len(result.Candidates) > opts.MaxCandidates {
		result.Candidates = result.Candidates[:opts.MaxCandidates]
	}

	span.SetAttributes(
		attribute.Int("seeds", result.SeedCount),
		attribute.Int("candidates", len(result.Candidates)))
	return result, nil
}

// expandSeed collects one seed's graph neighborhood.
func expandSeed(g *graph.Graph, seed *graph.CodeUnit, score float64, depth int) []Candidate {
	var out []Candidate

	// Tests reach the seed through ordinary call edges too. Classify them
	// first and keep them out of the caller tier, otherwise the
	// lowest-tier merge would promote every test to a caller and the test
	// tier could never fill.
	testers := make(map[string]bool)
	for _, u := range g.Neighbors(seed.ID, graph.EdgeTests, graph.DirIn, 1) {
		testers[u.ID] = true
		out = append(out, toCandidate(u, TierTest, seed.ID, score))
	}

	for _, u := range g.Neighbors(seed.ID, graph.EdgeCalls, graph.DirIn, depth) {
		if testers[u.ID] {
			continue
		}
		out = append(out, toCandidate(u, TierCaller, seed.ID, score))
	}
	for _, u := range g.Neighbors(seed.ID, graph.EdgeCalls, graph.DirOut, depth) {
		out = append(out, toCandidate(u, TierCallee, seed.ID, score))
	}
	for _, u := range g.Neighbors(seed.ID, graph.EdgeContains, graph.DirIn, 1) {
		out = append(out, toCandidate(u, TierContainer, seed.ID, score))
	}
	return out
}

func toCandidate(u *graph.CodeUnit, tier Tier, seedID string, score float64) Candidate {
	return Candidate{
		UnitID:        u.ID,
		QualifiedName: u.QualifiedName,
		FilePath:      u.FilePath,
		StartLine:     u.StartLine,
		EndLine:       u.EndLine,
		Kind:          u.Kind.String(),
		Language:      u.Language,
		Signature:     u.Signature,
		Doc:           u.Doc,
		Tier:          tier,
		SeedID:        seedID,
		SeedScore:     score,
	}
}
