// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parse defines the handoff format between the external parser and
// the context engine.
//
// The engine never reads or parses source itself. A parser (tree-sitter
// sidecar, language server, CI step) produces one FileParse per file and
// submits batches over the HTTP API. Everything downstream — graph
// construction, diffing, retrieval — works from these descriptors alone.
package parse

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Unit kind strings accepted from the parser. They map 1:1 onto the graph's
// unit kinds; anything else is rejected during registration.
const (
	KindFile     = "file"
	KindClass    = "class"
	KindFunction = "function"
	KindMethod   = "method"
)

// RawCall is one unresolved call reference observed inside a unit body.
type RawCall struct {
	// Name is the callee as written at the call site. May be a bare name
	// ("parse_row") or qualified ("csv.parse_row"); resolution happens in
	// the graph builder.
	Name string `json:"name"`

	// Line is the 1-indexed line of the call site, 0 if unknown.
	Line int `json:"line,omitempty"`
}

// RawImport is one import statement observed in a file.
type RawImport struct {
	// Module is the imported module path as written ("utils.csv").
	Module string `json:"module"`

	// Alias is the local binding name, empty when the module name is used.
	Alias string `json:"alias,omitempty"`
}

// UnitDescriptor describes one semantic unit (class, function, or method)
// extracted from a file. File-kind units are synthesized by the builder and
// must not appear in parser output.
type UnitDescriptor struct {
	Kind          string     `json:"kind"`
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	ParentClass   string     `json:"parent_class,omitempty"`
	StartLine     int        `json:"start_line"`
	EndLine       int        `json:"end_line"`
	Signature     string     `json:"signature,omitempty"`
	Doc           string     `json:"doc,omitempty"`

	// Body is the unit's source text. It is hashed (normalized) for change
	// detection and is not stored in the graph.
	Body string `json:"body,omitempty"`

	// Calls are the call references found in the body, in source order.
	Calls []RawCall `json:"calls,omitempty"`

	// Uses are names referenced without a call (type annotations, globals).
	Uses []string `json:"uses,omitempty"`

	// Bases are parent class names (class kind only).
	Bases []string `json:"bases,omitempty"`

	// Implements are interface/protocol names satisfied (class kind only).
	Implements []string `json:"implements,omitempty"`
}

// FileParse is the parser's output for one file.
//
// A failed parse carries Failed=true and Error; the descriptor list is then
// ignored and any previously indexed units for the file are retained stale
// rather than dropped.
type FileParse struct {
	FilePath string           `json:"file_path"`
	Language string           `json:"language"`
	Imports  []RawImport      `json:"imports,omitempty"`
	Units    []UnitDescriptor `json:"units,omitempty"`
	Failed   bool             `json:"failed,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// UnitID returns the stable identity key for a unit: the file path and the
// qualified name joined with "::". The ID survives edits that keep the unit
// in place and changes only when the unit moves files or is renamed.
func UnitID(filePath, qualifiedName string) string {
	return filePath + "::" + qualifiedName
}

// BodyHash returns the change-detection hash of a unit body.
//
// The hash is whitespace-insensitive: lines are trimmed, blank lines are
// dropped, and the remainder is joined before hashing. Formatting-only
// edits therefore leave the hash unchanged.
func BodyHash(body string) string {
	lines := strings.Split(body, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		kept = append(kept, trimmed)
	}
	sum := sha256.Sum256([]byte(strings.Join(kept, "\n")))
	return hex.EncodeToString(sum[:])
}

// Hash returns the descriptor's normalized body hash.
func (u *UnitDescriptor) Hash() string {
	return BodyHash(u.Body)
}

// ID returns the unit's identity key within the given file.
func (u *UnitDescriptor) ID(filePath string) string {
	return UnitID(filePath, u.QualifiedName)
}
