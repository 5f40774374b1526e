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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianContext/services/contextd/parse"
)

// ChangeBatch is one incremental update: fresh parses for changed or added
// files plus the paths of deleted files.
type ChangeBatch struct {
	Files        []parse.FileParse `json:"files,omitempty"`
	DeletedFiles []string          `json:"deleted_files,omitempty"`
}

// ChangeReport summarizes what a batch did to the graph.
//
// The ID lists drive downstream work: added and modified units need
// re-embedding, removed units need vector-store deletes.
type ChangeReport struct {
	FilesChanged int      `json:"files_changed"`
	FilesDeleted int      `json:"files_deleted"`
	FilesSkipped []string `json:"files_skipped,omitempty"`

	UnitsAdded     int `json:"units_added"`
	UnitsRemoved   int `json:"units_removed"`
	UnitsModified  int `json:"units_modified"`
	UnitsUnchanged int `json:"units_unchanged"`

	AddedUnitIDs    []string `json:"added_unit_ids,omitempty"`
	ModifiedUnitIDs []string `json:"modified_unit_ids,omitempty"`
	RemovedUnitIDs  []string `json:"removed_unit_ids,omitempty"`

	CallersFlagged  int           `json:"callers_flagged"`
	CallersRelinked int           `json:"callers_relinked"`
	Duration        time.Duration `json:"duration"`
}

// DiffEngine applies change batches to a live graph.
//
// Description:
//
//	Classifies each unit in a changed file as added, removed, modified, or
//	unchanged by identity key and normalized body hash, then patches the
//	graph: removed units cascade out, added and modified units get their
//	outgoing references recomputed, unchanged units keep every edge. Cost
//	is proportional to the change set, not to repository size — a callee's
//	body change never touches its callers' edges.
//
//	A batch is all-or-nothing with respect to validation: a malformed
//	batch (a deleted file the graph has never seen) is rejected before any
//	mutation. Parse failures are not malformed: the file is skipped and
//	its stale units are retained.
//
// Thread Safety: The engine is stateless and safe for concurrent use; the
// Graph it mutates is not. Callers serialize Apply behind the writer lock.
type DiffEngine struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// NewDiffEngine creates a DiffEngine.
func NewDiffEngine(logger *slog.Logger) *DiffEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiffEngine{
		logger: logger,
		tracer: otel.Tracer("contextd/graph"),
	}
}

// fileChange is the classification of one changed file, computed before any
// mutation so a rejected batch leaves the graph untouched.
type fileChange struct {
	parse    *parse.FileParse
	added    []string
	removed  []string
	modified []string
	same     []string
}

// Apply patches g with one change batch.
//
// Inputs:
//
//	ctx - Cancellation; a cancelled apply returns ErrBuildCancelled.
//	g - The live graph. Mutated in place.
//	batch - Changed-file parses and deleted paths.
//
// Outputs:
//
//	*ChangeReport - Classification counts and unit ID lists.
//	error - ErrMalformedChange (batch rejected, graph unchanged) or
//	        ErrBuildCancelled.
func (d *DiffEngine) Apply(ctx context.Context, g *Graph, batch ChangeBatch) (*ChangeReport, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "graph.apply",
		trace.WithAttributes(
			attribute.Int("files", len(batch.Files)),
			attribute.Int("deleted", len(batch.DeletedFiles))))
	defer span.End()

	report := &ChangeReport{}

	deleted := append([]string(nil), batch.DeletedFiles...)
	sort.Strings(deleted)
	for _, f := range deleted {
		if len(g.UnitsInFile(f)) == 0 {
			return nil, fmt.Errorf("%w: deleted file %q not in graph", ErrMalformedChange, f)
		}
	}

	files := make([]parse.FileParse, len(batch.Files))
	copy(files, batch.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })

	// Classify before mutating.
	var changes []fileChange
	for i := range files {
		fp := &files[i]
		if fp.Failed {
			report.FilesSkipped = append(report.FilesSkipped, fp.FilePath)
			d.logger.Warn("parse unavailable, retaining stale units",
				"file", fp.FilePath, "error", fp.Error)
			continue
		}
		changes = append(changes, d.classify(g, fp))
	}

	// Deletions first: every unit in the file cascades out.
	for _, f := range deleted {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		report.CallersFlagged += d.removeFile(g, f, report)
		report.FilesDeleted++
	}

	// Phase 1 over changed files: removals and registration.
	for i := range changes {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		fc := &changes[i]
		for _, id := range fc.removed {
			flagged, err := g.RemoveUnit(id)
			if err != nil {
				continue
			}
			report.CallersFlagged += len(flagged)
			report.RemovedUnitIDs = append(report.RemovedUnitIDs, id)
		}
		if _, err := registerFile(g, fc.parse); err != nil {
			return report, err
		}
		g.RemoveOutgoing(fc.parse.FilePath, EdgeImports)
		resolveImports(g, fc.parse)
		report.FilesChanged++
	}

	// Phase 2: recompute outgoing references for added and modified units,
	// then relink callers that were waiting on the added names. Unchanged
	// units are never touched.
	for i := range changes {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		fc := &changes[i]
		descByID := make(map[string]*parse.UnitDescriptor, len(fc.parse.Units))
		for j := range fc.parse.Units {
			descByID[fc.parse.Units[j].ID(fc.parse.FilePath)] = &fc.parse.Units[j]
		}

		for _, id := range append(append([]string(nil), fc.added...), fc.modified...) {
			u, ok := g.Unit(id)
			if !ok {
				continue
			}
			g.ClearUnresolved(id)
			for _, kind := range []EdgeKind{EdgeCalls, EdgeUses, EdgeTests, EdgeInherits, EdgeImplements} {
				g.RemoveOutgoing(id, kind)
			}
			resolveUnitReferences(g, u, descByID[id])
		}
		for _, id := range fc.added {
			if u, ok := g.Unit(id); ok {
				report.CallersRelinked += relinkPending(g, u)
			}
		}

		report.UnitsAdded += len(fc.added)
		report.UnitsRemoved += len(fc.removed)
		report.UnitsModified += len(fc.modified)
		report.UnitsUnchanged += len(fc.same)
		report.AddedUnitIDs = append(report.AddedUnitIDs, fc.added...)
		report.ModifiedUnitIDs = append(report.ModifiedUnitIDs, fc.modified...)
	}

	if err := g.Validate(d.logger); err != nil {
		// Auto-healed; diagnostic only.
		d.logger.Error("graph repaired after batch", "error", err)
	}

	sort.Strings(report.AddedUnitIDs)
	sort.Strings(report.ModifiedUnitIDs)
	sort.Strings(report.RemovedUnitIDs)
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("units_added", report.UnitsAdded),
		attribute.Int("units_removed", report.UnitsRemoved),
		attribute.Int("units_modified", report.UnitsModified))
	d.logger.Info("change batch applied",
		"files", report.FilesChanged,
		"deleted", report.FilesDeleted,
		"added", report.UnitsAdded,
		"removed", report.UnitsRemoved,
		"modified", report.UnitsModified,
		"unchanged", report.UnitsUnchanged,
		"duration", report.Duration)
	return report, nil
}

// classify splits a changed file's units into added/removed/modified/
// unchanged by identity key and body hash. A rename is a removal plus an
// addition; no rename tracking is attempted.
func (d *DiffEngine) classify(g *Graph, fp *parse.FileParse) fileChange {
	fc := fileChange{parse: fp}

	oldUnits := make(map[string]*CodeUnit)
	for _, u := range g.UnitsInFile(fp.FilePath) {
		if u.Kind != UnitFile {
			oldUnits[u.ID] = u
		}
	}

	seen := make(map[string]bool, len(fp.Units))
	for i := range fp.Units {
		desc := &fp.Units[i]
		id := desc.ID(fp.FilePath)
		seen[id] = true
		old, ok := oldUnits[id]
		switch {
		case !ok:
			fc.added = append(fc.added, id)
		case old.BodyHash != desc.Hash():
			fc.modified = append(fc.modified, id)
		default:
			fc.same = append(fc.same, id)
		}
	}
	for id := range oldUnits {
		if !seen[id] {
			fc.removed = append(fc.removed, id)
		}
	}
	sort.Strings(fc.added)
	sort.Strings(fc.removed)
	sort.Strings(fc.modified)
	sort.Strings(fc.same)
	return fc
}

// removeFile cascades removal of every unit in a deleted file. Returns the
// number of callers flagged unresolved.
func (d *DiffEngine) removeFile(g *Graph, filePath string, report *ChangeReport) int {
	flaggedTotal := 0
	for _, u := range g.UnitsInFile(filePath) {
		id := u.ID
		flagged, err := g.RemoveUnit(id)
		if err != nil {
			continue
		}
		flaggedTotal += len(flagged)
		if u.Kind != UnitFile {
			report.RemovedUnitIDs = append(report.RemovedUnitIDs, id)
			report.UnitsRemoved++
		}
	}
	return flaggedTotal
}
