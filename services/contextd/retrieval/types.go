// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval turns a query vector into an ordered, budgeted set of
// code-unit candidates by combining vector search with graph expansion.
package retrieval

import "fmt"

// Tier ranks how a candidate entered the result set. Lower tiers are more
// directly relevant and are preferred during deduplication and ordering.
type Tier int

const (
	// TierSeed is a direct vector-similarity hit.
	TierSeed Tier = iota

	// TierCaller reached the set through a reverse CALLS edge from a seed.
	TierCaller

	// TierCallee reached the set through a forward CALLS edge from a seed.
	TierCallee

	// TierTest is a test unit exercising a seed.
	TierTest

	// TierContainer is the structural container (class or file) of a seed.
	TierContainer

	// NumTiers is a sentinel for array sizing.
	NumTiers
)

var tierNames = map[Tier]string{
	TierSeed:      "seed",
	TierCaller:    "caller",
	TierCallee:    "callee",
	TierTest:      "test",
	TierContainer: "container",
}

// String returns the tier's short name.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// Candidate is one unit proposed for inclusion in the context window.
//
// Candidates carry enough location metadata for the renderer to read the
// source without another graph lookup, so a candidate list stays valid
// even after its snapshot is released.
type Candidate struct {
	UnitID        string `json:"unit_id"`
	QualifiedName string `json:"qualified_name"`
	FilePath      string `json:"file_path"`
	StartLine     int    `json:"start_line"`
	EndLine       int    `json:"end_line"`
	Kind          string `json:"kind"`
	Language      string `json:"language,omitempty"`
	Signature     string `json:"signature,omitempty"`
	Doc           string `json:"doc,omitempty"`

	// Tier is the lowest tier through which the unit entered the set.
	Tier Tier `json:"tier"`

	// SeedID is the seed unit that pulled this candidate in; equal to
	// UnitID for tier-0 candidates.
	SeedID string `json:"seed_id,omitempty"`

	// SeedScore is the cosine similarity of the originating seed.
	SeedScore float64 `json:"seed_score"`

	// Tokens is the rendered token cost, filled by the assembler before
	// allocation.
	Tokens int `json:"tokens,omitempty"`
}
