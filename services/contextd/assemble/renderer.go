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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianContext/services/contextd/retrieval"
)

// Renderer reads candidate source ranges and formats the context document.
//
// Description:
//
//	Each candidate becomes a markdown block with a provenance header: the
//	qualified name, how it entered the set (tier), and its exact location.
//	Source files are read once and line-cached; the engine invalidates
//	cache entries when an update batch touches a file. A candidate whose
//	source cannot be read degrades to its signature and doc comment
//	instead of failing the whole assembly.
//
// Thread Safety: Safe for concurrent use.
type Renderer struct {
	root    string
	counter TokenCounter
	logger  *slog.Logger

	mu        sync.RWMutex
	fileCache map[string][]string
}

// NewRenderer creates a renderer rooted at the project directory.
func NewRenderer(root string, counter TokenCounter, logger *slog.Logger) *Renderer {
	if counter == nil {
		counter = NewHeuristicCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		root:      root,
		counter:   counter,
		logger:    logger,
		fileCache: make(map[string][]string),
	}
}

// Price fills each candidate's token cost with the cost of its rendered
// block. Must run before allocation so the allocator prices what will
// actually be emitted.
func (r *Renderer) Price(candidates []retrieval.Candidate) {
	for i := range candidates {
		candidates[i].Tokens = r.counter.Count(r.Block(&candidates[i]))
	}
}

// Block renders one candidate as a markdown section.
func (r *Renderer) Block(c *retrieval.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", c.QualifiedName)
	fmt.Fprintf(&b, "**Location**: `%s:%d-%d`\n", c.FilePath, c.StartLine, c.EndLine)
	fmt.Fprintf(&b, "**Kind**: %s | **Via**: %s", c.Kind, c.Tier)
	if c.Tier != retrieval.TierSeed && c.SeedID != "" {
		fmt.Fprintf(&b, " of `%s`", c.SeedID)
	}
	b.WriteString("\n")
	if c.Tier == retrieval.TierSeed {
		fmt.Fprintf(&b, "**Relevance**: %.0f%%\n", c.SeedScore*100)
	}

	code, err := r.sourceRange(c.FilePath, c.StartLine, c.EndLine)
	if err != nil {
		r.logger.Warn("source unavailable, emitting signature only",
			"unit", c.UnitID, "error", err)
		if c.Signature != "" {
			fmt.Fprintf(&b, "\n```%s\n%s\n```\n", c.Language, c.Signature)
		}
		if c.Doc != "" {
			fmt.Fprintf(&b, "%s\n", c.Doc)
		}
		return b.String()
	}
	fmt.Fprintf(&b, "\n```%s\n%s\n```\n", c.Language, code)
	return b.String()
}

// Render produces the full context document for an allocated plan.
func (r *Renderer) Render(question string, plan *retrieval.Plan) string {
	var b strings.Builder
	if question != "" {
		fmt.Fprintf(&b, "# Question: %s\n\n", question)
	}
	b.WriteString("# Relevant Code Context\n")
	for i := range plan.Admitted {
		b.WriteString("\n")
		b.WriteString(r.Block(&plan.Admitted[i]))
	}
	if plan.Exhausted {
		fmt.Fprintf(&b, "\n*(%d further candidates omitted: token budget %d reached)*\n",
			countBudgetSkips(plan), plan.Budget)
	}
	return b.String()
}

func countBudgetSkips(plan *retrieval.Plan) int {
	n := 0
	for _, s := range plan.Skipped {
		if s.Reason == retrieval.SkipBudgetExhausted {
			n++
		}
	}
	return n
}

// Invalidate drops cached lines for the given files. Called by the engine
// after an update batch commits.
func (r *Renderer) Invalidate(files []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range files {
		delete(r.fileCache, f)
	}
}

// sourceRange returns the 1-indexed inclusive line range of a file.
func (r *Renderer) sourceRange(file string, start, end int) (string, error) {
	lines, err := r.fileLines(file)
	if err != nil {
		return "", err
	}
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", fmt.Errorf("line range %d-%d outside file of %d lines", start, end, len(lines))
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}

func (r *Renderer) fileLines(file string) ([]string, error) {
	r.mu.RLock()
	lines, ok := r.fileCache[file]
	r.mu.RUnlock()
	if ok {
		return lines, nil
	}

	full := file
	if !filepath.IsAbs(file) {
		full = filepath.Join(r.root, file)
	}
	raw, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	lines = strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")

	r.mu.Lock()
	r.fileCache[file] = lines
	r.mu.Unlock()
	return lines, nil
}
