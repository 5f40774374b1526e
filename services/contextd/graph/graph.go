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
	"fmt"
	"log/slog"
	"sort"
)

// Direction selects which adjacency ring a traversal follows.
type Direction int

const (
	// DirOut follows edges from source to target (callees, members).
	DirOut Direction = iota

	// DirIn follows edges from target to source (callers, containers).
	DirIn
)

type edgeKey struct {
	from, to string
	kind     EdgeKind
}

// Graph is the in-memory code graph.
//
// Description:
//
//	Holds code units and typed edges with per-kind forward and reverse
//	adjacency. Node and edge insertion are O(1) amortized; per-kind
//	neighbor lookup is O(1) to the ring. The graph is mutable: the
//	builder populates it, the diff engine patches it in place.
//
// Thread Safety: NOT safe for concurrent use. See the package comment.
type Graph struct {
	projectRoot string

	units map[string]*CodeUnit
	out   [NumEdgeKinds]map[string][]*Edge
	in    [NumEdgeKinds]map[string][]*Edge
	edges map[edgeKey]*Edge

	// byName indexes units by simple name for call resolution.
	byName map[string][]string

	// byFile indexes unit IDs by file path for diff application.
	byFile map[string][]string

	// pending maps an unresolved callee name to the caller IDs waiting on
	// it. When a unit with a matching name is later added, only these
	// callers are re-resolved.
	pending map[string][]string
}

// New creates an empty graph rooted at projectRoot.
func New(projectRoot string) *Graph {
	g := &Graph{
		projectRoot: projectRoot,
		units:       make(map[string]*CodeUnit),
		edges:       make(map[edgeKey]*Edge),
		byName:      make(map[string][]string),
		byFile:      make(map[string][]string),
		pending:     make(map[string][]string),
	}
	for k := range g.out {
		g.out[k] = make(map[string][]*Edge)
		g.in[k] = make(map[string][]*Edge)
	}
	return g
}

// ProjectRoot returns the project root the graph was built for.
func (g *Graph) ProjectRoot() string { return g.projectRoot }

// UnitCount returns the number of units in the graph.
func (g *Graph) UnitCount() int { return len(g.units) }

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Unit returns the unit with the given identity key.
func (g *Graph) Unit(id string) (*CodeUnit, bool) {
	u, ok := g.units[id]
	return u, ok
}

// UpsertUnit registers a unit or refreshes its attributes in place.
//
// Description:
//
//	Identity is the unit ID. A re-upsert of an existing ID updates the
//	mutable attributes (kind, lines, signature, doc, body hash) and
//	preserves every edge touching the unit — change detection upstream
//	decides whether edges need recomputing.
//
// Outputs:
//
//	error - ErrInvalidUnit if the unit fails validation.
func (g *Graph) UpsertUnit(u *CodeUnit) error {
	if err := u.validate(); err != nil {
		return err
	}
	if existing, ok := g.units[u.ID]; ok {
		existing.Kind = u.Kind
		existing.StartLine = u.StartLine
		existing.EndLine = u.EndLine
		existing.Signature = u.Signature
		existing.Doc = u.Doc
		existing.BodyHash = u.BodyHash
		existing.Language = u.Language
		if u.EmbeddingID != "" {
			existing.EmbeddingID = u.EmbeddingID
		}
		return nil
	}
	g.units[u.ID] = u
	g.byName[u.Name] = append(g.byName[u.Name], u.ID)
	g.byFile[u.FilePath] = append(g.byFile[u.FilePath], u.ID)
	return nil
}

// UnitsByName returns all units with the given simple name, sorted by ID.
func (g *Graph) UnitsByName(name string) []*CodeUnit {
	ids := g.byName[name]
	units := make([]*CodeUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := g.units[id]; ok {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units
}

// UnitsInFile returns all units defined in the given file, sorted by start
// line then ID.
func (g *Graph) UnitsInFile(filePath string) []*CodeUnit {
	ids := g.byFile[filePath]
	units := make([]*CodeUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := g.units[id]; ok {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].StartLine != units[j].StartLine {
			return units[i].StartLine < units[j].StartLine
		}
		return units[i].ID < units[j].ID
	})
	return units
}

// Files returns every file path with at least one unit, sorted.
func (g *Graph) Files() []string {
	files := make([]string, 0, len(g.byFile))
	for f, ids := range g.byFile {
		if len(ids) > 0 {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files
}

// AddEdge inserts a typed edge between two existing units.
//
// Description:
//
//	Edges are deduplicated on (from, to, kind). Re-adding an existing edge
//	raises its confidence to the maximum of the stored and offered values;
//	it never lowers it. Both endpoints must already be registered — the
//	graph never holds a dangling edge.
//
// Outputs:
//
//	error - ErrInvalidEdgeKind or ErrEdgeEndpointMissing.
func (g *Graph) AddEdge(kind EdgeKind, fromID, toID string, confidence float64, line int) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidEdgeKind, int(kind))
	}
	if _, ok := g.units[fromID]; !ok {
		return fmt.Errorf("%w: from %s", ErrEdgeEndpointMissing, fromID)
	}
	if _, ok := g.units[toID]; !ok {
		return fmt.Errorf("%w: to %s", ErrEdgeEndpointMissing, toID)
	}
	key := edgeKey{from: fromID, to: toID, kind: kind}
	if e, ok := g.edges[key]; ok {
		if confidence > e.Confidence {
			e.Confidence = confidence
		}
		return nil
	}
	e := &Edge{Kind: kind, FromID: fromID, ToID: toID, Confidence: confidence, Line: line}
	g.edges[key] = e
	g.out[kind][fromID] = append(g.out[kind][fromID], e)
	g.in[kind][toID] = append(g.in[kind][toID], e)
	return nil
}

// Outgoing returns the edges of the given kind leaving the unit. The slice
// is the graph's own ring; callers must not mutate it.
func (g *Graph) Outgoing(id string, kind EdgeKind) []*Edge {
	if !kind.Valid() {
		return nil
	}
	return g.out[kind][id]
}

// Incoming returns the edges of the given kind arriving at the unit. The
// slice is the graph's own ring; callers must not mutate it.
func (g *Graph) Incoming(id string, kind EdgeKind) []*Edge {
	if !kind.Valid() {
		return nil
	}
	return g.in[kind][id]
}

// RemoveOutgoing drops every edge of the given kind leaving the unit.
// Used by the diff engine before recomputing a modified unit's edges.
func (g *Graph) RemoveOutgoing(id string, kind EdgeKind) {
	if !kind.Valid() {
		return
	}
	ring := g.out[kind][id]
	if len(ring) == 0 {
		return
	}
	for _, e := range ring {
		delete(g.edges, edgeKey{from: e.FromID, to: e.ToID, kind: e.Kind})
		g.in[kind][e.ToID] = dropEdge(g.in[kind][e.ToID], e)
	}
	delete(g.out[kind], id)
}

// RemoveUnit deletes a unit and cascades edge removal so no edge dangles.
//
// Description:
//
//	All outgoing edges are dropped. For each incoming CALLS edge, the
//	caller is flagged with an unresolved call to the removed unit's name
//	and recorded in the pending index, so a later re-add relinks exactly
//	those callers. Other incoming edge kinds are dropped silently.
//
// Outputs:
//
//	[]string - IDs of callers flagged unresolved, sorted.
//	error - ErrUnitNotFound if the ID is not registered.
func (g *Graph) RemoveUnit(id string) ([]string, error) {
	u, ok := g.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}

	var flagged []string
	for kind := EdgeKind(0); kind < NumEdgeKinds; kind++ {
		for _, e := range g.out[kind][id] {
			delete(g.edges, edgeKey{from: e.FromID, to: e.ToID, kind: e.Kind})
			g.in[kind][e.ToID] = dropEdge(g.in[kind][e.ToID], e)
		}
		delete(g.out[kind], id)

		for _, e := range g.in[kind][id] {
			delete(g.edges, edgeKey{from: e.FromID, to: e.ToID, kind: e.Kind})
			g.out[kind][e.FromID] = dropEdge(g.out[kind][e.FromID], e)
			if kind == EdgeCalls {
				if caller, ok := g.units[e.FromID]; ok {
					caller.UnresolvedCalls = appendUnique(caller.UnresolvedCalls, u.Name)
					g.MarkPending(u.Name, caller.ID)
					flagged = append(flagged, caller.ID)
				}
			}
		}
		delete(g.in[kind], id)
	}

	g.byName[u.Name] = dropString(g.byName[u.Name], id)
	g.byFile[u.FilePath] = dropString(g.byFile[u.FilePath], id)
	delete(g.units, id)

	sort.Strings(flagged)
	return flagged, nil
}

// MarkPending records that callerID has an unresolved call to name.
func (g *Graph) MarkPending(name, callerID string) {
	g.pending[name] = appendUnique(g.pending[name], callerID)
}

// TakePending removes and returns the caller IDs waiting on name, sorted.
// Returns nil when no caller is waiting.
func (g *Graph) TakePending(name string) []string {
	ids := g.pending[name]
	if len(ids) == 0 {
		return nil
	}
	delete(g.pending, name)
	sort.Strings(ids)
	return ids
}

// ClearUnresolved resets a unit's unresolved-call markers and removes it
// from every pending ring. Called before a unit's edges are recomputed.
func (g *Graph) ClearUnresolved(id string) {
	u, ok := g.units[id]
	if !ok {
		return
	}
	for _, name := range u.UnresolvedCalls {
		g.pending[name] = dropString(g.pending[name], id)
		if len(g.pending[name]) == 0 {
			delete(g.pending, name)
		}
	}
	u.UnresolvedCalls = nil
}

// Neighbors walks the given edge kind from a start unit up to maxDepth hops
// and returns the reached units.
//
// Description:
//
//	Breadth-first, cycle-safe: a visited set guarantees termination on
//	cyclic graphs (recursion, mutual calls). The start unit itself is not
//	included. Order is deterministic: distance first, then qualified name.
//
// Inputs:
//
//	id - Start unit ID.
//	kind - Edge kind to follow.
//	dir - DirOut follows from→to, DirIn follows to→from.
//	maxDepth - Maximum hop count; 0 returns nil.
//
// Outputs:
//
//	[]*CodeUnit - Reached units, or nil if the start unit is unknown.
func (g *Graph) Neighbors(id string, kind EdgeKind, dir Direction, maxDepth int) []*CodeUnit {
	if _, ok := g.units[id]; !ok || maxDepth <= 0 || !kind.Valid() {
		return nil
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var result []*CodeUnit

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			for _, nb := range g.adjacent(cur, kind, dir) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
			}
		}
		sort.Slice(next, func(i, j int) bool {
			return g.units[next[i]].QualifiedName < g.units[next[j]].QualifiedName
		})
		for _, nid := range next {
			result = append(result, g.units[nid])
		}
		frontier = next
	}
	return result
}

func (g *Graph) adjacent(id string, kind EdgeKind, dir Direction) []string {
	var ids []string
	if dir == DirOut {
		for _, e := range g.out[kind][id] {
			ids = append(ids, e.ToID)
		}
	} else {
		for _, e := range g.in[kind][id] {
			ids = append(ids, e.FromID)
		}
	}
	return ids
}

// Subgraph extracts the induced subgraph over the given unit IDs: the named
// units plus every edge whose endpoints are both in the set. Unknown IDs
// are ignored.
func (g *Graph) Subgraph(ids []string) *Graph {
	sub := New(g.projectRoot)
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		if u, ok := g.units[id]; ok {
			keep[id] = true
			cp := *u
			cp.UnresolvedCalls = append([]string(nil), u.UnresolvedCalls...)
			// validate cannot fail: the source unit already passed it.
			_ = sub.UpsertUnit(&cp)
		}
	}
	for key, e := range g.edges {
		if keep[key.from] && keep[key.to] {
			_ = sub.AddEdge(e.Kind, e.FromID, e.ToID, e.Confidence, e.Line)
		}
	}
	return sub
}

// Validate checks the orphan-free invariant and repairs violations.
//
// Description:
//
//	Scans every edge for endpoints missing from the unit map. Dangling
//	edges are removed (auto-heal) and the repair is logged; the returned
//	error wraps ErrInconsistent so callers can count occurrences. A nil
//	return means the graph was already consistent.
func (g *Graph) Validate(logger *slog.Logger) error {
	var dangling []edgeKey
	for key := range g.edges {
		_, fromOK := g.units[key.from]
		_, toOK := g.units[key.to]
		if !fromOK || !toOK {
			dangling = append(dangling, key)
		}
	}
	if len(dangling) == 0 {
		return nil
	}
	for _, key := range dangling {
		e := g.edges[key]
		delete(g.edges, key)
		g.out[key.kind][key.from] = dropEdge(g.out[key.kind][key.from], e)
		g.in[key.kind][key.to] = dropEdge(g.in[key.kind][key.to], e)
	}
	if logger != nil {
		logger.Warn("repaired dangling edges", "count", len(dangling))
	}
	return fmt.Errorf("%w: %d dangling edges removed", ErrInconsistent, len(dangling))
}

// Stats summarizes graph size for the stats endpoint and logs.
type Stats struct {
	Units       int            `json:"units"`
	Edges       int            `json:"edges"`
	Files       int            `json:"files"`
	EdgesByKind map[string]int `json:"edges_by_kind"`
}

// ComputeStats returns current size counters.
func (g *Graph) ComputeStats() Stats {
	s := Stats{
		Units:       len(g.units),
		Edges:       len(g.edges),
		Files:       len(g.Files()),
		EdgesByKind: make(map[string]int, int(NumEdgeKinds)),
	}
	for kind := EdgeKind(0); kind < NumEdgeKinds; kind++ {
		n := 0
		for _, ring := range g.out[kind] {
			n += len(ring)
		}
		if n > 0 {
			s.EdgesByKind[kind.String()] = n
		}
	}
	return s
}

func dropEdge(ring []*Edge, target *Edge) []*Edge {
	for i, e := range ring {
		if e == target {
			return append(ring[:i], ring[i+1:]...)
		}
	}
	return ring
}

func dropString(list []string, target string) []string {
	for i, s := range list {
		if s == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
