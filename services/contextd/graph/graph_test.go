// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"testing"
)

// testUnit creates a function unit for direct graph tests.
func testUnit(file, name string) *CodeUnit {
	return &CodeUnit{
		ID:            file + "::" + name,
		Kind:          UnitFunction,
		Name:          name,
		QualifiedName: name,
		FilePath:      file,
		StartLine:     1,
		EndLine:       10,
	}
}

func mustUpsert(t *testing.T, g *Graph, u *CodeUnit) {
	t.Helper()
	if err := g.UpsertUnit(u); err != nil {
		t.Fatalf("UpsertUnit(%s): %v", u.ID, err)
	}
}

func mustEdge(t *testing.T, g *Graph, kind EdgeKind, from, to string) {
	t.Helper()
	if err := g.AddEdge(kind, from, to, 1.0, 0); err != nil {
		t.Fatalf("AddEdge(%s, %s, %s): %v", kind, from, to, err)
	}
}

func TestUpsertUnit(t *testing.T) {
	t.Run("insert and lookup", func(t *testing.T) {
		g := New("/repo")
		mustUpsert(t, g, testUnit("a.py", "foo"))

		u, ok := g.Unit("a.py::foo")
		if !ok {
			t.Fatal("unit not found after insert")
		}
		if u.Name != "foo" {
			t.Errorf("Name = %q, want foo", u.Name)
		}
		if got := g.UnitCount(); got != 1 {
			t.Errorf("UnitCount = %d, want 1", got)
		}
	})

	t.Run("re-upsert refreshes attributes and keeps edges", func(t *testing.T) {
		g := New("/repo")
		mustUpsert(t, g, testUnit("a.py", "foo"))
		mustUpsert(t, g, testUnit("a.py", "bar"))
		mustEdge(t, g, EdgeCalls, "a.py::foo", "a.py::bar")

		updated := testUnit("a.py", "foo")
		updated.StartLine = 20
		updated.EndLine = 35
		updated.BodyHash = "abc"
		mustUpsert(t, g, updated)

		u, _ := g.Unit("a.py::foo")
		if u.StartLine != 20 || u.BodyHash != "abc" {
			t.Errorf("attributes not refreshed: start=%d hash=%q", u.StartLine, u.BodyHash)
		}
		if len(g.Outgoing("a.py::foo", EdgeCalls)) != 1 {
			t.Error("re-upsert dropped outgoing edges")
		}
	})

	t.Run("re-upsert refreshes kind", func(t *testing.T) {
		// A def rewritten as a class keeps its qualified name and ID.
		g := New("/repo")
		mustUpsert(t, g, testUnit("a.py", "foo"))

		updated := testUnit("a.py", "foo")
		updated.Kind = UnitClass
		mustUpsert(t, g, updated)

		u, _ := g.Unit("a.py::foo")
		if u.Kind != UnitClass {
			t.Errorf("Kind = %v, want UnitClass", u.Kind)
		}
	})

	t.Run("invalid unit rejected", func(t *testing.T) {
		g := New("/repo")
		err := g.UpsertUnit(&CodeUnit{ID: "", Kind: UnitFunction})
		if !errors.Is(err, ErrInvalidUnit) {
			t.Errorf("err = %v, want ErrInvalidUnit", err)
		}
	})
}

func TestAddEdge(t *testing.T) {
	t.Run("deduplicates and keeps max confidence", func(t *testing.T) {
		g := New("/repo")
		mustUpsert(t, g, testUnit("a.py", "foo"))
		mustUpsert(t, g, testUnit("a.py", "bar"))

		if err := g.AddEdge(EdgeCalls, "a.py::foo", "a.py::bar", 0.4, 5); err != nil {
			t.Fatal(err)
		}
		if err := g.AddEdge(EdgeCalls, "a.py::foo", "a.py::bar", 0.9, 5); err != nil {
			t.Fatal(err)
		}
		if err := g.AddEdge(EdgeCalls, "a.py::foo", "a.py::bar", 0.1, 5); err != nil {
			t.Fatal(err)
		}

		edges := g.Outgoing("a.py::foo", EdgeCalls)
		if len(edges) != 1 {
			t.Fatalf("edge count = %d, want 1", len(edges))
		}
		if edges[0].Confidence != 0.9 {
			t.Errorf("confidence = %v, want 0.9", edges[0].Confidence)
		}
		if g.EdgeCount() != 1 {
			t.Errorf("EdgeCount = %d, want 1", g.EdgeCount())
		}
	})

	t.Run("missing endpoint rejected", func(t *testing.T) {
		g := New("/repo")
		mustUpsert(t, g, testUnit("a.py", "foo"))
		err := g.AddEdge(EdgeCalls, "a.py::foo", "a.py::ghost", 1.0, 0)
		if !errors.Is(err, ErrEdgeEndpointMissing) {
			t.Errorf("err = %v, want ErrEdgeEndpointMissing", err)
		}
	})
}

func TestRemoveUnit(t *testing.T) {
	t.Run("cascade leaves no dangling edges", func(t *testing.T) {
		g := New("/repo")
		mustUpsert(t, g, testUnit("a.py", "caller1"))
		mustUpsert(t, g, testUnit("b.py", "caller2"))
		mustUpsert(t, g, testUnit("c.py", "victim"))
		mustUpsert(t, g, testUnit("c.py", "callee"))
		mustEdge(t, g, EdgeCalls, "a.py::caller1", "c.py::victim")
		mustEdge(t, g, EdgeCalls, "b.py::caller2", "c.py::victim")
		mustEdge(t, g, EdgeCalls, "c.py::victim", "c.py::callee")

		flagged, err := g.RemoveUnit("c.py::victim")
		if err != nil {
			t.Fatal(err)
		}
		if len(flagged) != 2 {
			t.Fatalf("flagged = %v, want 2 callers", flagged)
		}
		if flagged[0] != "a.py::caller1" || flagged[1] != "b.py::caller2" {
			t.Errorf("flagged = %v, want sorted caller IDs", flagged)
		}
		if g.EdgeCount() != 0 {
			t.Errorf("EdgeCount = %d, want 0", g.EdgeCount())
		}
		if err := g.Validate(nil); err != nil {
			t.Errorf("Validate after cascade: %v", err)
		}

		caller, _ := g.Unit("a.py::caller1")
		if len(caller.UnresolvedCalls) != 1 || caller.UnresolvedCalls[0] != "victim" {
			t.Errorf("UnresolvedCalls = %v, want [victim]", caller.UnresolvedCalls)
		}
		if got := g.TakePending("victim"); len(got) != 2 {
			t.Errorf("pending callers = %v, want 2", got)
		}
	})

	t.Run("unknown unit", func(t *testing.T) {
		g := New("/repo")
		if _, err := g.RemoveUnit("nope"); !errors.Is(err, ErrUnitNotFound) {
			t.Errorf("err = %v, want ErrUnitNotFound", err)
		}
	})
}

func TestNeighbors(t *testing.T) {
	// a → b → c → a forms a cycle; d hangs off c.
	g := New("/repo")
	for _, name := range []string{"a", "b", "c", "d"} {
		mustUpsert(t, g, testUnit("x.py", name))
	}
	mustEdge(t, g, EdgeCalls, "x.py::a", "x.py::b")
	mustEdge(t, g, EdgeCalls, "x.py::b", "x.py::c")
	mustEdge(t, g, EdgeCalls, "x.py::c", "x.py::a")
	mustEdge(t, g, EdgeCalls, "x.py::c", "x.py::d")

	t.Run("terminates on cycles", func(t *testing.T) {
		got := g.Neighbors("x.py::a", EdgeCalls, DirOut, 100)
		if len(got) != 3 {
			t.Fatalf("reached %d units, want 3", len(got))
		}
	})

	t.Run("respects depth bound", func(t *testing.T) {
		got := g.Neighbors("x.py::a", EdgeCalls, DirOut, 1)
		if len(got) != 1 || got[0].Name != "b" {
			t.Errorf("depth-1 neighbors = %v, want [b]", names(got))
		}
	})

	t.Run("reverse direction", func(t *testing.T) {
		got := g.Neighbors("x.py::a", EdgeCalls, DirIn, 1)
		if len(got) != 1 || got[0].Name != "c" {
			t.Errorf("callers of a = %v, want [c]", names(got))
		}
	})

	t.Run("zero depth", func(t *testing.T) {
		if got := g.Neighbors("x.py::a", EdgeCalls, DirOut, 0); got != nil {
			t.Errorf("depth-0 = %v, want nil", names(got))
		}
	})
}

func TestSubgraph(t *testing.T) {
	g := New("/repo")
	mustUpsert(t, g, testUnit("a.py", "f"))
	mustUpsert(t, g, testUnit("a.py", "g"))
	mustUpsert(t, g, testUnit("a.py", "h"))
	mustEdge(t, g, EdgeCalls, "a.py::f", "a.py::g")
	mustEdge(t, g, EdgeCalls, "a.py::g", "a.py::h")

	sub := g.Subgraph([]string{"a.py::f", "a.py::g", "a.py::missing"})
	if sub.UnitCount() != 2 {
		t.Errorf("UnitCount = %d, want 2", sub.UnitCount())
	}
	// Only f→g survives; g→h crosses the boundary.
	if sub.EdgeCount() != 1 {
		t.Errorf("EdgeCount = %d, want 1", sub.EdgeCount())
	}
}

func TestValidateRepairsDanglingEdges(t *testing.T) {
	g := New("/repo")
	mustUpsert(t, g, testUnit("a.py", "f"))
	mustUpsert(t, g, testUnit("a.py", "g"))
	mustEdge(t, g, EdgeCalls, "a.py::f", "a.py::g")

	// Simulate corruption: drop the target behind the graph's back.
	delete(g.units, "a.py::g")

	err := g.Validate(nil)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v, want ErrInconsistent", err)
	}
	if g.EdgeCount() != 0 {
		t.Errorf("EdgeCount after repair = %d, want 0", g.EdgeCount())
	}
	if err := g.Validate(nil); err != nil {
		t.Errorf("second Validate: %v", err)
	}
}

func names(units []*CodeUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Name
	}
	return out
}
