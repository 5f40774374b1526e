// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assemble

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianContext/services/contextd/retrieval"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBlockRendersSourceWithProvenance(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "auth.py", "import os\n\ndef authenticate(user):\n    return check(user)\n")
	r := NewRenderer(root, NewHeuristicCounter(), nil)

	c := retrieval.Candidate{
		UnitID:        "auth.py::authenticate",
		QualifiedName: "authenticate",
		FilePath:      "auth.py",
		StartLine:     3,
		EndLine:       4,
		Kind:          "function",
		Language:      "python",
		Tier:          retrieval.TierSeed,
		SeedScore:     0.95,
	}
	block := r.Block(&c)

	for _, want := range []string{
		"## authenticate",
		"`auth.py:3-4`",
		"def authenticate(user):",
		"return check(user)",
		"**Relevance**: 95%",
		"```python",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q:\n%s", want, block)
		}
	}
	if strings.Contains(block, "import os") {
		t.Error("block contains lines outside the unit range")
	}
}

func TestBlockFallsBackToSignature(t *testing.T) {
	r := NewRenderer(t.TempDir(), NewHeuristicCounter(), nil)
	c := retrieval.Candidate{
		UnitID:        "missing.py::ghost",
		QualifiedName: "ghost",
		FilePath:      "missing.py",
		StartLine:     1,
		EndLine:       5,
		Kind:          "function",
		Language:      "python",
		Signature:     "def ghost(x):",
		Doc:           "Does ghost things.",
		Tier:          retrieval.TierCallee,
		SeedID:        "a.py::seed",
	}
	block := r.Block(&c)

	if !strings.Contains(block, "def ghost(x):") || !strings.Contains(block, "Does ghost things.") {
		t.Errorf("fallback block missing signature/doc:\n%s", block)
	}
	if !strings.Contains(block, "**Via**: callee of `a.py::seed`") {
		t.Errorf("fallback block missing provenance:\n%s", block)
	}
}

func TestPriceAssignsPositiveTokenCosts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", strings.Repeat("x = 1\n", 50))
	r := NewRenderer(root, NewHeuristicCounter(), nil)

	candidates := []retrieval.Candidate{
		{UnitID: "a.py::f", QualifiedName: "f", FilePath: "a.py", StartLine: 1, EndLine: 40, Tier: retrieval.TierSeed},
		{UnitID: "a.py::g", QualifiedName: "g", FilePath: "a.py", StartLine: 1, EndLine: 2, Tier: retrieval.TierCallee},
	}
	r.Price(candidates)

	if candidates[0].Tokens <= candidates[1].Tokens {
		t.Errorf("larger range should cost more: %d vs %d", candidates[0].Tokens, candidates[1].Tokens)
	}
	for _, c := range candidates {
		if c.Tokens < 1 {
			t.Errorf("candidate %s has non-positive cost %d", c.UnitID, c.Tokens)
		}
	}
}

func TestRenderIncludesTruncationNotice(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def f():\n    pass\n")
	r := NewRenderer(root, NewHeuristicCounter(), nil)

	plan := &retrieval.Plan{
		Admitted: []retrieval.Candidate{
			{UnitID: "a.py::f", QualifiedName: "f", FilePath: "a.py", StartLine: 1, EndLine: 2, Tier: retrieval.TierSeed},
		},
		Skipped: []retrieval.Skip{
			{Candidate: retrieval.Candidate{UnitID: "a.py::g"}, Reason: retrieval.SkipBudgetExhausted},
		},
		Budget:    100,
		Exhausted: true,
	}
	doc := r.Render("how does f work", plan)

	if !strings.Contains(doc, "# Question: how does f work") {
		t.Error("missing question header")
	}
	if !strings.Contains(doc, "1 further candidates omitted") {
		t.Errorf("missing truncation notice:\n%s", doc)
	}
}

func TestInvalidateDropsStaleCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "old_content\n")
	r := NewRenderer(root, NewHeuristicCounter(), nil)

	c := retrieval.Candidate{
		UnitID: "a.py::f", QualifiedName: "f", FilePath: "a.py",
		StartLine: 1, EndLine: 1, Tier: retrieval.TierSeed,
	}
	if block := r.Block(&c); !strings.Contains(block, "old_content") {
		t.Fatalf("first read missing content:\n%s", block)
	}

	writeFile(t, root, "a.py", "new_content\n")
	if block := r.Block(&c); !strings.Contains(block, "old_content") {
		t.Error("cache should serve the old content until invalidated")
	}

	r.Invalidate([]string{"a.py"})
	if block := r.Block(&c); !strings.Contains(block, "new_content") {
		t.Error("invalidated file should be re-read")
	}
}
