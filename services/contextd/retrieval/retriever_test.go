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
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
	"github.com/AleutianAI/AleutianContext/services/contextd/parse"
	"github.com/AleutianAI/AleutianContext/services/contextd/vector"
)

type fakeIndex struct {
	seeds []vector.Seed
	err   error
}

func (f *fakeIndex) QueryNearest(_ context.Context, _ []float32, k int, _ string) ([]vector.Seed, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.seeds) > k {
		return f.seeds[:k], nil
	}
	return f.seeds, nil
}

func addUnit(t *testing.T, g *graph.Graph, file, name string, kind graph.UnitKind) string {
	t.Helper()
	id := file + "::" + name
	err := g.UpsertUnit(&graph.CodeUnit{
		ID:            id,
		Kind:          kind,
		Name:          name,
		QualifiedName: name,
		FilePath:      file,
		StartLine:     1,
		EndLine:       10,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func addEdge(t *testing.T, g *graph.Graph, kind graph.EdgeKind, from, to string) {
	t.Helper()
	if err := g.AddEdge(kind, from, to, 1.0, 0); err != nil {
		t.Fatal(err)
	}
}

// authGraph builds the shape used across tests:
//
//	handler ──CALLS──▶ authenticate ──CALLS──▶ validate_password
//	                        ▲   ▲                  load_user
//	        test_authenticate (CALLS+TESTS)
//	        auth.py file CONTAINS authenticate
func authGraph(t *testing.T) (*graph.Graph, string) {
	t.Helper()
	g := graph.New("/repo")

	fileUnit := &graph.CodeUnit{
		ID: "auth.py", Kind: graph.UnitFile, Name: "auth.py",
		QualifiedName: "auth.py", FilePath: "auth.py",
	}
	if err := g.UpsertUnit(fileUnit); err != nil {
		t.Fatal(err)
	}

	seed := addUnit(t, g, "auth.py", "authenticate", graph.UnitFunction)
	validate := addUnit(t, g, "auth.py", "validate_password", graph.UnitFunction)
	load := addUnit(t, g, "auth.py", "load_user", graph.UnitFunction)
	handler := addUnit(t, g, "api.py", "handler", graph.UnitFunction)
	test := addUnit(t, g, "tests/test_auth.py", "test_authenticate", graph.UnitFunction)

	addEdge(t, g, graph.EdgeContains, "auth.py", seed)
	addEdge(t, g, graph.EdgeCalls, seed, validate)
	addEdge(t, g, graph.EdgeCalls, seed, load)
	addEdge(t, g, graph.EdgeCalls, handler, seed)
	addEdge(t, g, graph.EdgeCalls, test, seed)
	addEdge(t, g, graph.EdgeTests, test, seed)
	return g, seed
}

func tiersByID(result *Result) map[string]Tier {
	out := make(map[string]Tier, len(result.Candidates))
	for _, c := range result.Candidates {
		out[c.UnitID] = c.Tier
	}
	return out
}

func TestRetrieveTierAssignment(t *testing.T) {
	g, seed := authGraph(t)
	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{{UnitID: seed, Score: 0.95}}}, nil)

	result, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]Tier{
		seed:                       TierSeed,
		"api.py::handler":          TierCaller,
		"auth.py::validate_password": TierCallee,
		"auth.py::load_user":       TierCallee,
		// The test calls the seed too, but its TESTS edge pins it to the
		// test tier.
		"tests/test_auth.py::test_authenticate": TierTest,
		"auth.py":                               TierContainer,
	}
	got := tiersByID(result)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tiers = %v, want %v", got, want)
	}

	// Order: tier asc, then qualified name within equal tier/score.
	var order []string
	for _, c := range result.Candidates {
		order = append(order, c.UnitID)
	}
	wantOrder := []string{
		seed,
		"api.py::handler",
		"auth.py::load_user",
		"auth.py::validate_password",
		"tests/test_auth.py::test_authenticate",
		"auth.py",
	}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("order = %v, want %v", order, wantOrder)
	}
}

// Builder-produced graphs give every test a CALLS edge alongside its TESTS
// edge. Retrieval must still report the test at the test tier, never as a
// caller.
func TestRetrieveBuilderGraphKeepsTestsAtTestTier(t *testing.T) {
	files := []parse.FileParse{
		{
			FilePath: "src/app.py",
			Language: "python",
			Units: []parse.UnitDescriptor{
				{Kind: parse.KindFunction, Name: "A", QualifiedName: "A", StartLine: 1, EndLine: 5,
					Calls: []parse.RawCall{{Name: "B", Line: 2}, {Name: "C", Line: 3}}},
				{Kind: parse.KindFunction, Name: "B", QualifiedName: "B", StartLine: 7, EndLine: 9},
				{Kind: parse.KindFunction, Name: "C", QualifiedName: "C", StartLine: 11, EndLine: 14,
					Calls: []parse.RawCall{{Name: "D", Line: 12}}},
				{Kind: parse.KindFunction, Name: "D", QualifiedName: "D", StartLine: 16, EndLine: 18},
			},
		},
		{
			FilePath: "tests/test_app.py",
			Language: "python",
			Units: []parse.UnitDescriptor{
				{Kind: parse.KindFunction, Name: "test_A", QualifiedName: "test_A", StartLine: 1, EndLine: 4,
					Calls: []parse.RawCall{{Name: "A", Line: 2}}},
			},
		},
	}
	g := graph.New("/repo")
	if _, err := graph.NewBuilder().Build(context.Background(), g, files); err != nil {
		t.Fatal(err)
	}

	seed := "src/app.py::A"
	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{{UnitID: seed, Score: 0.9}}}, nil)
	result, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5, Depth: 1})
	if err != nil {
		t.Fatal(err)
	}

	tiers := tiersByID(result)
	want := map[string]Tier{
		seed:                        TierSeed,
		"src/app.py::B":             TierCallee,
		"src/app.py::C":             TierCallee,
		"tests/test_app.py::test_A": TierTest,
	}
	for id, tier := range want {
		if got, ok := tiers[id]; !ok || got != tier {
			t.Errorf("tier[%s] = %v (present=%v), want %v", id, got, ok, tier)
		}
	}
	for id, tier := range tiers {
		if tier == TierCaller {
			t.Errorf("%s classified as caller; the seed has no non-test callers", id)
		}
	}
	if _, ok := tiers["src/app.py::D"]; ok {
		t.Error("depth-1 expansion reached the two-hop callee D")
	}

	// Admitted order of the code units; the synthetic file containers
	// trail at the container tier.
	var order []string
	for _, c := range result.Candidates {
		if c.Kind != graph.UnitFile.String() {
			order = append(order, c.UnitID)
		}
	}
	wantOrder := []string{seed, "src/app.py::B", "src/app.py::C", "tests/test_app.py::test_A"}
	if !reflect.DeepEqual(order, wantOrder) {
		t.Errorf("order = %v, want %v", order, wantOrder)
	}
}

func TestRetrieveDedupeKeepsLowestTier(t *testing.T) {
	g, seed := authGraph(t)
	// validate_password is both a seed and a callee of authenticate.
	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{
		{UnitID: seed, Score: 0.95},
		{UnitID: "auth.py::validate_password", Score: 0.80},
	}}, nil)

	result, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if tier := tiersByID(result)["auth.py::validate_password"]; tier != TierSeed {
		t.Errorf("tier = %v, want TierSeed", tier)
	}
	if result.SeedCount != 2 {
		t.Errorf("SeedCount = %d, want 2", result.SeedCount)
	}
}

func TestRetrieveMinSimilarityFilter(t *testing.T) {
	g, seed := authGraph(t)
	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{
		{UnitID: seed, Score: 0.20}, // below the 0.25 default
	}}, nil)

	result, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 0 || result.SeedCount != 0 {
		t.Errorf("got %d candidates from below-threshold seed", len(result.Candidates))
	}
}

func TestRetrieveDropsSeedsMissingFromGraph(t *testing.T) {
	g, seed := authGraph(t)
	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{
		{UnitID: "gone.py::deleted", Score: 0.9},
		{UnitID: seed, Score: 0.8},
	}}, nil)

	result, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.DroppedSeeds) != 1 || result.DroppedSeeds[0] != "gone.py::deleted" {
		t.Errorf("DroppedSeeds = %v", result.DroppedSeeds)
	}
	if result.SeedCount != 1 {
		t.Errorf("SeedCount = %d, want 1", result.SeedCount)
	}
}

func TestRetrieveIndexErrorPropagates(t *testing.T) {
	g, _ := authGraph(t)
	r := NewRetriever(&fakeIndex{err: vector.ErrUnavailable}, nil)

	_, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
	if !errors.Is(err, vector.ErrUnavailable) {
		t.Fatalf("err = %v, want wrapped vector.ErrUnavailable", err)
	}
}

func TestRetrieveDepthTwoFollowsTransitiveCalls(t *testing.T) {
	g, seed := authGraph(t)
	deep := addUnit(t, g, "auth.py", "hash_bytes", graph.UnitFunction)
	addEdge(t, g, graph.EdgeCalls, "auth.py::validate_password", deep)

	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{{UnitID: seed, Score: 0.9}}}, nil)

	shallow, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5, Depth: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tiersByID(shallow)[deep]; ok {
		t.Error("depth-1 retrieval reached a two-hop callee")
	}

	deeper, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5, Depth: 2})
	if err != nil {
		t.Fatal(err)
	}
	if tier, ok := tiersByID(deeper)[deep]; !ok || tier != TierCallee {
		t.Errorf("two-hop callee tier = %v (present=%v), want TierCallee", tier, ok)
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	g, seed := authGraph(t)
	idx := &fakeIndex{seeds: []vector.Seed{{UnitID: seed, Score: 0.9}}}
	r := NewRetriever(idx, nil)

	first, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first.Candidates, again.Candidates) {
			t.Fatalf("run %d differs from first run", i)
		}
	}
}

func TestRetrieveMaxCandidatesCap(t *testing.T) {
	g, seed := authGraph(t)
	r := NewRetriever(&fakeIndex{seeds: []vector.Seed{{UnitID: seed, Score: 0.9}}}, nil)

	result, err := r.Retrieve(context.Background(), g, []float32{0.1}, Options{TopK: 5, MaxCandidates: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(result.Candidates))
	}
	if result.Candidates[0].UnitID != seed {
		t.Error("cap must keep the best-ranked candidates")
	}
}
