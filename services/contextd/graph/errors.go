// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the code graph: typed-edge relationships between
// code units, built from parser descriptors and kept current through
// incremental change batches.
//
// # Ownership Model
//
// A Graph is owned by a single writer. The engine serializes all mutations
// (full builds, change batches) behind its own lock and bumps the graph
// version once per committed batch. Readers never mutate.
//
// # Thread Safety
//
// Graph methods are NOT safe for concurrent use. Concurrency control lives
// one level up: the engine hands readers a version-bound view under a read
// lock and applies writes exclusively.
//
// # Lifecycle
//
//	g := graph.New(projectRoot)
//	result, err := builder.Build(ctx, g, files)   // full build
//	report, err := engine.Apply(ctx, g, batch)    // incremental updates
//	snap, err := manager.Save(ctx, g, version)    // persistence
package graph

import "errors"

var (
	// ErrUnitNotFound is returned when an operation references a unit ID
	// that is not present in the graph.
	ErrUnitNotFound = errors.New("graph: unit not found")

	// ErrInvalidUnit is returned when a unit fails validation (empty ID,
	// unknown kind, missing file path).
	ErrInvalidUnit = errors.New("graph: invalid unit")

	// ErrInvalidEdgeKind is returned when an edge kind is outside the
	// defined range.
	ErrInvalidEdgeKind = errors.New("graph: invalid edge kind")

	// ErrEdgeEndpointMissing is returned when an edge references a unit
	// that does not exist. Edges are only ever added between registered
	// units; placeholders are not materialized as nodes.
	ErrEdgeEndpointMissing = errors.New("graph: edge endpoint missing")

	// ErrMalformedChange is returned when a change batch names a file that
	// exists neither in the current graph nor in the incoming descriptors.
	// The whole batch is rejected and the graph version is not bumped.
	ErrMalformedChange = errors.New("graph: malformed change batch")

	// ErrBuildCancelled is returned when the build context is cancelled
	// mid-flight.
	ErrBuildCancelled = errors.New("graph: build cancelled")

	// ErrSnapshotNotFound is returned when a snapshot ID does not exist in
	// the store.
	ErrSnapshotNotFound = errors.New("graph: snapshot not found")

	// ErrSnapshotCorrupt is returned when a stored snapshot fails its
	// integrity check on load.
	ErrSnapshotCorrupt = errors.New("graph: snapshot corrupt")

	// ErrInconsistent is returned by Validate when the graph held a
	// dangling edge. Validate repairs the graph before returning, so the
	// error is diagnostic: the caller logs it and continues.
	ErrInconsistent = errors.New("graph: inconsistency detected and repaired")
)
