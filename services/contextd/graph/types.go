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

import "fmt"

// UnitKind classifies a code unit.
type UnitKind int

const (
	UnitFile UnitKind = iota
	UnitClass
	UnitFunction
	UnitMethod

	// NumUnitKinds is a sentinel for iteration and validation.
	NumUnitKinds
)

var unitKindNames = map[UnitKind]string{
	UnitFile:     "file",
	UnitClass:    "class",
	UnitFunction: "function",
	UnitMethod:   "method",
}

// String returns the lowercase name of the unit kind.
func (k UnitKind) String() string {
	if name, ok := unitKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UnitKind(%d)", int(k))
}

// ParseUnitKind maps a parser kind string onto a UnitKind.
func ParseUnitKind(s string) (UnitKind, error) {
	for k, name := range unitKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown unit kind %q", ErrInvalidUnit, s)
}

// EdgeKind is the type of a relationship between two units.
type EdgeKind int

const (
	// EdgeContains links a container to a member: file → top-level unit,
	// class → method.
	EdgeContains EdgeKind = iota

	// EdgeDefines links a file to every unit defined in it.
	EdgeDefines

	// EdgeCalls links a caller to a callee.
	EdgeCalls

	// EdgeUses links a unit to a name it references without calling.
	EdgeUses

	// EdgeImports links a file to a file it imports.
	EdgeImports

	// EdgeInherits links a class to a base class.
	EdgeInherits

	// EdgeImplements links a class to an interface or protocol.
	EdgeImplements

	// EdgeTests links a test unit to the unit it exercises.
	EdgeTests

	// NumEdgeKinds is a sentinel for array sizing and validation.
	NumEdgeKinds
)

var edgeKindNames = map[EdgeKind]string{
	EdgeContains:   "CONTAINS",
	EdgeDefines:    "DEFINES",
	EdgeCalls:      "CALLS",
	EdgeUses:       "USES",
	EdgeImports:    "IMPORTS",
	EdgeInherits:   "INHERITS",
	EdgeImplements: "IMPLEMENTS",
	EdgeTests:      "TESTS",
}

// String returns the uppercase name of the edge kind.
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EdgeKind(%d)", int(k))
}

// Valid reports whether the kind is within the defined range.
func (k EdgeKind) Valid() bool {
	return k >= 0 && k < NumEdgeKinds
}

// Edge is a directed, typed relationship between two units.
type Edge struct {
	// Kind is the relationship type.
	Kind EdgeKind

	// FromID and ToID are unit identity keys. Both endpoints always exist
	// in the graph; removal of either endpoint removes the edge.
	FromID string
	ToID   string

	// Confidence is the resolution confidence in (0, 1]. Structural edges
	// carry 1.0; call edges carry the scope-precedence confidence assigned
	// at resolution time.
	Confidence float64

	// Line is the 1-indexed source line the edge was observed at, 0 when
	// not applicable.
	Line int
}

// CodeUnit is a node in the graph: a file, class, function, or method.
//
// Identity is (FilePath, QualifiedName), flattened into ID as
// "path::qualified". Attribute updates preserve identity; a rename or a
// move produces a new unit.
type CodeUnit struct {
	ID            string
	Kind          UnitKind
	Name          string
	QualifiedName string
	FilePath      string
	Language      string
	StartLine     int
	EndLine       int
	Signature     string
	Doc           string

	// BodyHash is the normalized content hash used for change detection.
	// Empty for file-kind units.
	BodyHash string

	// EmbeddingID is the vector store object ID for this unit, empty until
	// the unit has been embedded.
	EmbeddingID string

	// UnresolvedCalls holds callee names that could not be resolved, either
	// at build time or because the target was later removed. Cleared when
	// the unit's outgoing edges are recomputed.
	UnresolvedCalls []string
}

// validate checks the invariants every registered unit must satisfy.
func (u *CodeUnit) validate() error {
	switch {
	case u == nil:
		return fmt.Errorf("%w: nil unit", ErrInvalidUnit)
	case u.ID == "":
		return fmt.Errorf("%w: empty ID", ErrInvalidUnit)
	case u.FilePath == "":
		return fmt.Errorf("%w: %s has no file path", ErrInvalidUnit, u.ID)
	case u.QualifiedName == "" && u.Kind != UnitFile:
		return fmt.Errorf("%w: %s has no qualified name", ErrInvalidUnit, u.ID)
	case u.Kind < 0 || u.Kind >= NumUnitKinds:
		return fmt.Errorf("%w: %s has kind %d", ErrInvalidUnit, u.ID, u.Kind)
	}
	return nil
}
