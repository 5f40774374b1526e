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

// SnapshotDiff compares two graph snapshots at the unit and edge level.
type SnapshotDiff struct {
	BaseID   string `json:"base_id"`
	TargetID string `json:"target_id"`

	UnitsAdded    []string `json:"units_added,omitempty"`
	UnitsRemoved  []string `json:"units_removed,omitempty"`
	UnitsModified []string `json:"units_modified,omitempty"`

	EdgesAdded   int `json:"edges_added"`
	EdgesRemoved int `json:"edges_removed"`

	Summary DiffSummary `json:"summary"`
}

// DiffSummary aggregates a SnapshotDiff for quick display.
type DiffSummary struct {
	TotalChanges  int     `json:"total_changes"`
	FilesAffected int     `json:"files_affected"`
	ChangeRatio   float64 `json:"change_ratio"`
}

// DiffSnapshots computes the unit- and edge-level difference between a base
// and a target snapshot.
//
// Description:
//
//	Units are matched by identity key. A unit present in both snapshots is
//	modified when its body hash, signature, or location changed. Edge
//	comparison is by (from, to, kind) set membership; only counts are
//	reported. Output lists are sorted for stable display and testing.
func DiffSnapshots(base, target *SerializableGraph) (*SnapshotDiff, error) {
	if base == nil || target == nil {
		return nil, fmt.Errorf("diff snapshots: nil input")
	}

	diff := &SnapshotDiff{}

	baseUnits := make(map[string]*SerializableUnit, len(base.Units))
	for i := range base.Units {
		baseUnits[base.Units[i].ID] = &base.Units[i]
	}
	targetUnits := make(map[string]*SerializableUnit, len(target.Units))
	for i := range target.Units {
		targetUnits[target.Units[i].ID] = &target.Units[i]
	}

	affectedFiles := make(map[string]bool)
	for id, tu := range targetUnits {
		bu, ok := baseUnits[id]
		if !ok {
			diff.UnitsAdded = append(diff.UnitsAdded, id)
			affectedFiles[tu.FilePath] = true
			continue
		}
		if unitChanged(bu, tu) {
			diff.UnitsModified = append(diff.UnitsModified, id)
			affectedFiles[tu.FilePath] = true
		}
	}
	for id, bu := range baseUnits {
		if _, ok := targetUnits[id]; !ok {
			diff.UnitsRemoved = append(diff.UnitsRemoved, id)
			affectedFiles[bu.FilePath] = true
		}
	}
	sort.Strings(diff.UnitsAdded)
	sort.Strings(diff.UnitsRemoved)
	sort.Strings(diff.UnitsModified)

	baseEdges := buildEdgeSet(base.Edges)
	targetEdges := buildEdgeSet(target.Edges)
	for key := range targetEdges {
		if !baseEdges[key] {
			diff.EdgesAdded++
		}
	}
	for key := range baseEdges {
		if !targetEdges[key] {
			diff.EdgesRemoved++
		}
	}

	total := len(diff.UnitsAdded) + len(diff.UnitsRemoved) + len(diff.UnitsModified) +
		diff.EdgesAdded + diff.EdgesRemoved
	diff.Summary = DiffSummary{
		TotalChanges:  total,
		FilesAffected: len(affectedFiles),
	}
	if denom := len(baseUnits) + len(base.Edges); denom > 0 {
		diff.Summary.ChangeRatio = float64(total) / float64(denom)
	}
	return diff, nil
}

// unitChanged reports whether a unit's content or placement differs between
// snapshots. Embedding IDs are ignored: re-embedding is not a code change.
func unitChanged(a, b *SerializableUnit) bool {
	return a.BodyHash != b.BodyHash ||
		a.Signature != b.Signature ||
		a.FilePath != b.FilePath ||
		a.StartLine != b.StartLine
}

func buildEdgeSet(edges []SerializableEdge) map[string]bool {
	set := make(map[string]bool, len(edges))
	for _, e := range edges {
		set[e.FromID+"|"+e.ToID+"|"+e.Kind] = true
	}
	return set
}
