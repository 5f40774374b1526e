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
	"sort"
)

// GraphSchemaVersion identifies the serialized graph format. Bump on any
// breaking change to the serializable types.
const GraphSchemaVersion = "1.0"

// SerializableUnit is the wire form of a CodeUnit.
type SerializableUnit struct {
	ID              string   `json:"id"`
	Kind            string   `json:"kind"`
	Name            string   `json:"name"`
	QualifiedName   string   `json:"qualified_name"`
	FilePath        string   `json:"file_path"`
	Language        string   `json:"language,omitempty"`
	StartLine       int      `json:"start_line,omitempty"`
	EndLine         int      `json:"end_line,omitempty"`
	Signature       string   `json:"signature,omitempty"`
	Doc             string   `json:"doc,omitempty"`
	BodyHash        string   `json:"body_hash,omitempty"`
	EmbeddingID     string   `json:"embedding_id,omitempty"`
	UnresolvedCalls []string `json:"unresolved_calls,omitempty"`
}

// SerializableEdge is the wire form of an Edge.
type SerializableEdge struct {
	Kind       string  `json:"kind"`
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	Confidence float64 `json:"confidence"`
	Line       int     `json:"line,omitempty"`
}

// SerializableGraph is the complete wire form of a graph.
type SerializableGraph struct {
	SchemaVersion string             `json:"schema_version"`
	ProjectRoot   string             `json:"project_root"`
	Units         []SerializableUnit `json:"units"`
	Edges         []SerializableEdge `json:"edges"`
}

// ToSerializable converts the graph to its wire form.
//
// Output is deterministic: units sorted by ID, edges sorted by
// (from, to, kind). Serializing the same graph twice yields identical
// bytes, which makes snapshot content hashes meaningful.
func (g *Graph) ToSerializable() *SerializableGraph {
	sg := &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		ProjectRoot:   g.projectRoot,
		Units:         make([]SerializableUnit, 0, len(g.units)),
		Edges:         make([]SerializableEdge, 0, len(g.edges)),
	}

	ids := make([]string, 0, len(g.units))
	for id := range g.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := g.units[id]
		unresolved := append([]string(nil), u.UnresolvedCalls...)
		sort.Strings(unresolved)
		sg.Units = append(sg.Units, SerializableUnit{
			ID:              u.ID,
			Kind:            u.Kind.String(),
			Name:            u.Name,
			QualifiedName:   u.QualifiedName,
			FilePath:        u.FilePath,
			Language:        u.Language,
			StartLine:       u.StartLine,
			EndLine:         u.EndLine,
			Signature:       u.Signature,
			Doc:             u.Doc,
			BodyHash:        u.BodyHash,
			EmbeddingID:     u.EmbeddingID,
			UnresolvedCalls: unresolved,
		})
	}

	for _, e := range g.edges {
		sg.Edges = append(sg.Edges, SerializableEdge{
			Kind:       e.Kind.String(),
			FromID:     e.FromID,
			ToID:       e.ToID,
			Confidence: e.Confidence,
			Line:       e.Line,
		})
	}
	sort.Slice(sg.Edges, func(i, j int) bool {
		a, b := sg.Edges[i], sg.Edges[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.Kind < b.Kind
	})
	return sg
}

// FromSerializable reconstructs a graph from its wire form. The pending
// caller index is rebuilt from the units' unresolved-call markers.
func FromSerializable(sg *SerializableGraph) (*Graph, error) {
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("%w: schema %q, want %q", ErrSnapshotCorrupt, sg.SchemaVersion, GraphSchemaVersion)
	}
	g := New(sg.ProjectRoot)
	for i := range sg.Units {
		su := &sg.Units[i]
		kind, err := ParseUnitKind(su.Kind)
		if err != nil {
			return nil, err
		}
		u := &CodeUnit{
			ID:              su.ID,
			Kind:            kind,
			Name:            su.Name,
			QualifiedName:   su.QualifiedName,
			FilePath:        su.FilePath,
			Language:        su.Language,
			StartLine:       su.StartLine,
			EndLine:         su.EndLine,
			Signature:       su.Signature,
			Doc:             su.Doc,
			BodyHash:        su.BodyHash,
			EmbeddingID:     su.EmbeddingID,
			UnresolvedCalls: append([]string(nil), su.UnresolvedCalls...),
		}
		if err := g.UpsertUnit(u); err != nil {
			return nil, err
		}
		for _, name := range u.UnresolvedCalls {
			g.MarkPending(name, u.ID)
		}
	}
	for i := range sg.Edges {
		se := &sg.Edges[i]
		kind, ok := edgeKindFromName(se.Kind)
		if !ok {
			return nil, fmt.Errorf("%w: edge kind %q", ErrSnapshotCorrupt, se.Kind)
		}
		if err := g.AddEdge(kind, se.FromID, se.ToID, se.Confidence, se.Line); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
		}
	}
	return g, nil
}

func edgeKindFromName(name string) (EdgeKind, bool) {
	for k, n := range edgeKindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}
