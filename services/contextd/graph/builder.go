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
	"path"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianContext/services/contextd/parse"
)

// Resolution confidence by scope. Same-file definitions win, then imported
// modules, then a unique project-wide match; ambiguous names fan out to all
// candidates at reduced confidence.
const (
	confidenceSameFile  = 1.0
	confidenceImported  = 0.9
	confidenceUnique    = 0.7
	confidenceAmbiguous = 0.4

	// confidenceStructural is carried by edges that are facts of the file
	// layout rather than resolution guesses.
	confidenceStructural = 1.0
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// Logger receives build progress and resolution diagnostics.
	Logger *slog.Logger
}

// BuilderOption mutates BuilderOptions.
type BuilderOption func(*BuilderOptions)

// WithLogger sets the build logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) { o.Logger = logger }
}

// Builder constructs a graph from parser output in two passes.
//
// Description:
//
//	Pass 1 registers every unit (plus a synthetic file unit per file) and
//	the structural edges that need no resolution. Pass 2 resolves call,
//	use, inheritance, and import references against the registered units.
//	Unresolved references are recorded, never fatal. The same input always
//	produces the same graph: files are processed in lexical path order and
//	every fan-out is sorted.
//
// Thread Safety: A Builder is stateless and safe for concurrent use;
// the Graph it mutates is not.
type Builder struct {
	opts   BuilderOptions
	tracer trace.Tracer
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	options := BuilderOptions{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	return &Builder{
		opts:   options,
		tracer: otel.Tracer("contextd/graph"),
	}
}

// BuildResult summarizes one build pass.
type BuildResult struct {
	FilesProcessed  int           `json:"files_processed"`
	FilesFailed     []string      `json:"files_failed,omitempty"`
	UnitsRegistered int           `json:"units_registered"`
	EdgesAdded      int           `json:"edges_added"`
	UnresolvedCalls int           `json:"unresolved_calls"`
	AmbiguousCalls  int           `json:"ambiguous_calls"`
	Duration        time.Duration `json:"duration"`
}

// Build populates g from a batch of file parses.
//
// Inputs:
//
//	ctx - Cancellation; a cancelled build returns ErrBuildCancelled with
//	      the graph in a valid but partial state.
//	g - Target graph, typically freshly created.
//	files - Parser output; failed parses are skipped and reported.
//
// Outputs:
//
//	*BuildResult - Counters for logging and the stats endpoint.
//	error - ErrBuildCancelled or a unit validation error.
func (b *Builder) Build(ctx context.Context, g *Graph, files []parse.FileParse) (*BuildResult, error) {
	start := time.Now()
	ctx, span := b.tracer.Start(ctx, "graph.build",
		trace.WithAttributes(attribute.Int("files", len(files))))
	defer span.End()

	sorted := make([]parse.FileParse, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].FilePath < sorted[j].FilePath })

	result := &BuildResult{}

	// Pass 1: register units and structural edges.
	for i := range sorted {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		fp := &sorted[i]
		if fp.Failed {
			result.FilesFailed = append(result.FilesFailed, fp.FilePath)
			b.opts.Logger.Warn("skipping failed parse", "file", fp.FilePath, "error", fp.Error)
			continue
		}
		n, err := registerFile(g, fp)
		if err != nil {
			return result, err
		}
		result.UnitsRegistered += n
		result.FilesProcessed++
	}

	// Pass 2: resolve references.
	edgesBefore := g.EdgeCount()
	for i := range sorted {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("%w: %v", ErrBuildCancelled, err)
		}
		fp := &sorted[i]
		if fp.Failed {
			continue
		}
		resolveImports(g, fp)
		for j := range fp.Units {
			u, ok := g.Unit(fp.Units[j].ID(fp.FilePath))
			if !ok {
				continue
			}
			stats := resolveUnitReferences(g, u, &fp.Units[j])
			result.UnresolvedCalls += stats.unresolved
			result.AmbiguousCalls += stats.ambiguous
		}
	}
	result.EdgesAdded = g.EdgeCount() - edgesBefore
	result.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("units", result.UnitsRegistered),
		attribute.Int("edges", result.EdgesAdded),
		attribute.Int("unresolved", result.UnresolvedCalls),
	)
	b.opts.Logger.Info("graph build complete",
		"files", result.FilesProcessed,
		"units", result.UnitsRegistered,
		"edges", result.EdgesAdded,
		"unresolved_calls", result.UnresolvedCalls,
		"duration", result.Duration)
	return result, nil
}

// registerFile creates the file unit, every descriptor unit, and the
// structural CONTAINS/DEFINES edges. Returns the number of units added.
func registerFile(g *Graph, fp *parse.FileParse) (int, error) {
	fileUnit := &CodeUnit{
		ID:            fp.FilePath,
		Kind:          UnitFile,
		Name:          path.Base(fp.FilePath),
		QualifiedName: fp.FilePath,
		FilePath:      fp.FilePath,
		Language:      fp.Language,
	}
	if err := g.UpsertUnit(fileUnit); err != nil {
		return 0, err
	}
	count := 1

	for i := range fp.Units {
		desc := &fp.Units[i]
		kind, err := ParseUnitKind(desc.Kind)
		if err != nil {
			return count, err
		}
		if kind == UnitFile {
			return count, fmt.Errorf("%w: parser emitted file-kind unit %q", ErrInvalidUnit, desc.QualifiedName)
		}
		u := &CodeUnit{
			ID:            desc.ID(fp.FilePath),
			Kind:          kind,
			Name:          desc.Name,
			QualifiedName: desc.QualifiedName,
			FilePath:      fp.FilePath,
			Language:      fp.Language,
			StartLine:     desc.StartLine,
			EndLine:       desc.EndLine,
			Signature:     desc.Signature,
			Doc:           desc.Doc,
			BodyHash:      desc.Hash(),
		}
		if err := g.UpsertUnit(u); err != nil {
			return count, err
		}
		count++

		if err := g.AddEdge(EdgeDefines, fileUnit.ID, u.ID, confidenceStructural, 0); err != nil {
			return count, err
		}
		if desc.ParentClass == "" {
			if err := g.AddEdge(EdgeContains, fileUnit.ID, u.ID, confidenceStructural, 0); err != nil {
				return count, err
			}
		}
	}

	// Second sweep links methods into their classes; the class may appear
	// after its methods in parser output.
	for i := range fp.Units {
		desc := &fp.Units[i]
		if desc.ParentClass == "" {
			continue
		}
		classID := parse.UnitID(fp.FilePath, desc.ParentClass)
		unitID := desc.ID(fp.FilePath)
		if _, ok := g.Unit(classID); ok {
			if err := g.AddEdge(EdgeContains, classID, unitID, confidenceStructural, 0); err != nil {
				return count, err
			}
		} else {
			// Parent class not in this file; fall back to file containment
			// so the unit still has a container.
			if err := g.AddEdge(EdgeContains, fileUnit.ID, unitID, confidenceStructural, 0); err != nil {
				return count, err
			}
		}
	}
	return count, nil
}

// resolveImports links the file unit to the project files its import
// statements refer to. Imports of modules outside the project resolve to
// nothing and are dropped.
func resolveImports(g *Graph, fp *parse.FileParse) {
	for _, imp := range fp.Imports {
		target := resolveModulePath(g, imp.Module)
		if target == "" || target == fp.FilePath {
			continue
		}
		_ = g.AddEdge(EdgeImports, fp.FilePath, target, confidenceStructural, 0)
	}
}

// resolveModulePath maps a dotted module path onto a project file by suffix
// match against the indexed file paths, extension stripped. Returns "" when
// no file matches or the match is ambiguous.
func resolveModulePath(g *Graph, module string) string {
	needle := strings.ReplaceAll(module, ".", "/")
	var matches []string
	for _, f := range g.Files() {
		stem := strings.TrimSuffix(f, path.Ext(f))
		if stem == needle || strings.HasSuffix(stem, "/"+needle) {
			matches = append(matches, f)
		}
	}
	if len(matches) != 1 {
		return ""
	}
	return matches[0]
}

type resolveStats struct {
	unresolved int
	ambiguous  int
}

// resolveUnitReferences resolves a unit's calls, uses, and base classes and
// installs the resulting edges. Shared by the full build and the diff
// engine's per-unit recompute.
func resolveUnitReferences(g *Graph, u *CodeUnit, desc *parse.UnitDescriptor) resolveStats {
	var stats resolveStats
	isTest := isTestUnit(u)

	for _, call := range desc.Calls {
		targets := resolveName(g, u, call.Name, callableKinds)
		if len(targets) == 0 {
			u.UnresolvedCalls = appendUnique(u.UnresolvedCalls, bareName(call.Name))
			g.MarkPending(bareName(call.Name), u.ID)
			stats.unresolved++
			continue
		}
		if len(targets) > 1 && targets[0].confidence == confidenceAmbiguous {
			stats.ambiguous++
		}
		for _, t := range targets {
			_ = g.AddEdge(EdgeCalls, u.ID, t.id, t.confidence, call.Line)
			if isTest {
				_ = g.AddEdge(EdgeTests, u.ID, t.id, t.confidence, call.Line)
			}
		}
	}

	for _, name := range desc.Uses {
		for _, t := range resolveName(g, u, name, anyKinds) {
			_ = g.AddEdge(EdgeUses, u.ID, t.id, t.confidence, 0)
		}
	}

	for _, base := range desc.Bases {
		for _, t := range resolveName(g, u, base, classKinds) {
			_ = g.AddEdge(EdgeInherits, u.ID, t.id, t.confidence, 0)
		}
	}
	for _, iface := range desc.Implements {
		for _, t := range resolveName(g, u, iface, classKinds) {
			_ = g.AddEdge(EdgeImplements, u.ID, t.id, t.confidence, 0)
		}
	}
	return stats
}

// relinkPending re-resolves the callers recorded as waiting on the given
// unit's name. Only those callers are touched; the rest of the graph is
// untouched, which keeps incremental cost proportional to the change.
func relinkPending(g *Graph, added *CodeUnit) int {
	callers := g.TakePending(added.Name)
	relinked := 0
	for _, callerID := range callers {
		caller, ok := g.Unit(callerID)
		if !ok {
			continue
		}
		targets := resolveName(g, caller, added.Name, callableKinds)
		if len(targets) == 0 {
			// Still unresolved; put the marker back.
			g.MarkPending(added.Name, callerID)
			continue
		}
		isTest := isTestUnit(caller)
		for _, t := range targets {
			_ = g.AddEdge(EdgeCalls, caller.ID, t.id, t.confidence, 0)
			if isTest {
				_ = g.AddEdge(EdgeTests, caller.ID, t.id, t.confidence, 0)
			}
		}
		caller.UnresolvedCalls = dropString(caller.UnresolvedCalls, added.Name)
		relinked++
	}
	return relinked
}

type resolvedTarget struct {
	id         string
	confidence float64
}

type kindFilter func(UnitKind) bool

func callableKinds(k UnitKind) bool {
	return k == UnitFunction || k == UnitMethod || k == UnitClass
}

func classKinds(k UnitKind) bool { return k == UnitClass }

func anyKinds(k UnitKind) bool { return k != UnitFile }

// resolveName resolves a referenced name from the caller's scope.
//
// Precedence: definitions in the caller's file win outright; next, units
// defined in files the caller's file imports; next, a unique project-wide
// match. Multiple surviving candidates all receive edges at reduced
// confidence rather than picking one arbitrarily.
func resolveName(g *Graph, caller *CodeUnit, name string, accept kindFilter) []resolvedTarget {
	candidates := g.UnitsByName(bareName(name))
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if accept(c.Kind) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	var sameFile []*CodeUnit
	for _, c := range filtered {
		if c.FilePath == caller.FilePath {
			sameFile = append(sameFile, c)
		}
	}
	if len(sameFile) > 0 {
		return toTargets(sameFile, confidenceSameFile)
	}

	imported := importedFiles(g, caller.FilePath)
	var inImports []*CodeUnit
	for _, c := range filtered {
		if imported[c.FilePath] {
			inImports = append(inImports, c)
		}
	}
	if len(inImports) > 0 {
		if len(inImports) == 1 {
			return toTargets(inImports, confidenceImported)
		}
		return toTargets(inImports, confidenceAmbiguous)
	}

	if len(filtered) == 1 {
		return toTargets(filtered, confidenceUnique)
	}
	return toTargets(filtered, confidenceAmbiguous)
}

func toTargets(units []*CodeUnit, confidence float64) []resolvedTarget {
	targets := make([]resolvedTarget, len(units))
	for i, u := range units {
		targets[i] = resolvedTarget{id: u.ID, confidence: confidence}
	}
	return targets
}

// importedFiles returns the set of file paths the given file imports.
func importedFiles(g *Graph, filePath string) map[string]bool {
	edges := g.Outgoing(filePath, EdgeImports)
	if len(edges) == 0 {
		return nil
	}
	set := make(map[string]bool, len(edges))
	for _, e := range edges {
		set[e.ToID] = true
	}
	return set
}

// bareName strips any qualifier: "csv.parse_row" → "parse_row".
func bareName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// isTestUnit reports whether a unit is test code, by unit name and file
// path convention.
func isTestUnit(u *CodeUnit) bool {
	if strings.HasPrefix(u.Name, "test_") || strings.HasPrefix(u.Name, "Test") {
		return true
	}
	base := path.Base(u.FilePath)
	if strings.Contains(base, "_test.") || strings.HasPrefix(base, "test_") {
		return true
	}
	return strings.Contains(u.FilePath, "/tests/") || strings.Contains(u.FilePath, "/test/")
}
