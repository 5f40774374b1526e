// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changeset maps unified diffs onto graph units: which files and
// which functions a patch touches, and how risky each touched function is
// by caller count.
package changeset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/AleutianContext/services/contextd/graph"
)

// LineRange is a 1-indexed inclusive range on the new side of a diff.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// FileChange is one file's worth of a parsed patch.
type FileChange struct {
	Path    string      `json:"path"`
	OldPath string      `json:"old_path,omitempty"`
	Added   bool        `json:"added,omitempty"`
	Deleted bool        `json:"deleted,omitempty"`
	Hunks   []LineRange `json:"hunks,omitempty"`
}

// ChangeSet is a parsed unified diff.
type ChangeSet struct {
	Files []FileChange `json:"files"`
}

// Parse reads a unified diff (git or plain) into a ChangeSet.
func Parse(patch []byte) (*ChangeSet, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("changeset: parse diff: %w", err)
	}

	cs := &ChangeSet{}
	for _, fd := range fileDiffs {
		orig := stripDiffPrefix(fd.OrigName)
		next := stripDiffPrefix(fd.NewName)

		fc := FileChange{Path: next}
		switch {
		case next == "/dev/null":
			fc.Path = orig
			fc.Deleted = true
		case orig == "/dev/null":
			fc.Added = true
		case orig != next:
			fc.OldPath = orig
		}
		for _, h := range fd.Hunks {
			if fc.Deleted {
				continue
			}
			fc.Hunks = append(fc.Hunks, LineRange{
				Start: int(h.NewStartLine),
				End:   int(h.NewStartLine + h.NewLines - 1),
			})
		}
		cs.Files = append(cs.Files, fc)
	}
	return cs, nil
}

// ChangedFiles returns the paths the patch touches (new-side names),
// sorted.
func (cs *ChangeSet) ChangedFiles() []string {
	files := make([]string, 0, len(cs.Files))
	for _, f := range cs.Files {
		files = append(files, f.Path)
	}
	sort.Strings(files)
	return files
}

// DeletedFiles returns the paths the patch deletes, sorted.
func (cs *ChangeSet) DeletedFiles() []string {
	var files []string
	for _, f := range cs.Files {
		if f.Deleted {
			files = append(files, f.Path)
		}
	}
	sort.Strings(files)
	return files
}

// Impact grades how risky a change to a unit is, by fan-in.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// highImpactCallers is the fan-in above which a changed unit is flagged
// high impact.
const highImpactCallers = 5

// UnitHit is one graph unit a patch touches.
type UnitHit struct {
	UnitID        string      `json:"unit_id"`
	QualifiedName string      `json:"qualified_name"`
	FilePath      string      `json:"file_path"`
	Kind          string      `json:"kind"`
	Ranges        []LineRange `json:"ranges"`
	CallerCount   int         `json:"caller_count"`
	Impact        Impact      `json:"impact"`
}

// ChangedUnits intersects the patch's hunks with the graph's unit line
// ranges and grades each hit by caller count.
//
// Description:
//
//	A unit is hit when any hunk's new-side line range overlaps the unit's
//	line range. File-kind units are skipped: a file hit is implied by any
//	member hit and carries no useful impact signal. Output is sorted by
//	unit ID.
func ChangedUnits(g *graph.Graph, cs *ChangeSet) []UnitHit {
	var hits []UnitHit
	for _, fc := range cs.Files {
		if fc.Deleted {
			continue
		}
		for _, u := range g.UnitsInFile(fc.Path) {
			if u.Kind == graph.UnitFile {
				continue
			}
			var overlaps []LineRange
			for _, h := range fc.Hunks {
				if h.Start <= u.EndLine && u.StartLine <= h.End {
					overlaps = append(overlaps, h)
				}
			}
			if len(overlaps) == 0 {
				continue
			}
			callers := len(g.Incoming(u.ID, graph.EdgeCalls))
			hits = append(hits, UnitHit{
				UnitID:        u.ID,
				QualifiedName: u.QualifiedName,
				FilePath:      u.FilePath,
				Kind:          u.Kind.String(),
				Ranges:        overlaps,
				CallerCount:   callers,
				Impact:        gradeImpact(callers),
			})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].UnitID < hits[j].UnitID })
	return hits
}

func gradeImpact(callers int) Impact {
	switch {
	case callers > highImpactCallers:
		return ImpactHigh
	case callers >= 2:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

func stripDiffPrefix(name string) string {
	if name == "/dev/null" {
		return name
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}
