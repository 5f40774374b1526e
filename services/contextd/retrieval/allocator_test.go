// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import "testing"

func cand(id string, tier Tier, tokens int) Candidate {
	return Candidate{UnitID: id, QualifiedName: id, Tier: tier, Tokens: tokens}
}

func admittedIDs(plan *Plan) []string {
	out := make([]string, len(plan.Admitted))
	for i, c := range plan.Admitted {
		out[i] = c.UnitID
	}
	return out
}

func newTestAllocator() *Allocator {
	return NewAllocator(DefaultTierCeilings, nil)
}

func TestAllocateAllFitWithinBudget(t *testing.T) {
	candidates := []Candidate{
		cand("seed", TierSeed, 100),
		cand("callee1", TierCallee, 50),
		cand("callee2", TierCallee, 50),
		cand("test", TierTest, 40),
	}
	plan := newTestAllocator().Allocate(candidates, 10000)

	if len(plan.Admitted) != 4 || len(plan.Skipped) != 0 {
		t.Fatalf("admitted=%d skipped=%d, want 4/0", len(plan.Admitted), len(plan.Skipped))
	}
	if plan.TokensUsed != 240 {
		t.Errorf("TokensUsed = %d, want 240", plan.TokensUsed)
	}
	if plan.Exhausted {
		t.Error("Exhausted should be false when everything fits")
	}
}

func TestAllocateTierCeilingSkipsAndContinues(t *testing.T) {
	// Budget 100: while admitting tier-1 candidates the running total may
	// not exceed 40; tier-2 candidates may run up to 60.
	candidates := []Candidate{
		cand("c1", TierCaller, 30),
		cand("c2", TierCaller, 20), // 50 > 40 → tier_ceiling
		cand("c3", TierCallee, 25), // 55 <= 60 → admitted after a skip
	}
	plan := newTestAllocator().Allocate(candidates, 100)

	want := []string{"c1", "c3"}
	got := admittedIDs(plan)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("admitted = %v, want %v", got, want)
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0].Reason != SkipTierCeiling {
		t.Fatalf("skipped = %+v, want one tier_ceiling skip", plan.Skipped)
	}
	if plan.Skipped[0].Candidate.UnitID != "c2" {
		t.Errorf("skipped candidate = %s, want c2", plan.Skipped[0].Candidate.UnitID)
	}
	if plan.Exhausted {
		t.Error("tier-ceiling skips must not mark the plan exhausted")
	}
}

func TestAllocateBudgetExhaustionStopsThePass(t *testing.T) {
	candidates := []Candidate{
		cand("a", TierSeed, 60),
		cand("b", TierSeed, 50), // 110 > 100 → stop here
		cand("c", TierSeed, 10), // would fit, but never reordered in
	}
	plan := newTestAllocator().Allocate(candidates, 100)

	if got := admittedIDs(plan); len(got) != 1 || got[0] != "a" {
		t.Fatalf("admitted = %v, want [a]", got)
	}
	if !plan.Exhausted {
		t.Error("Exhausted should be true")
	}
	if len(plan.Skipped) != 2 {
		t.Fatalf("skipped = %d, want 2", len(plan.Skipped))
	}
	for _, s := range plan.Skipped {
		if s.Reason != SkipBudgetExhausted {
			t.Errorf("skip reason for %s = %q, want budget_exhausted", s.Candidate.UnitID, s.Reason)
		}
	}
}

func TestAllocateZeroBudget(t *testing.T) {
	candidates := []Candidate{
		cand("a", TierSeed, 10),
		cand("b", TierCallee, 10),
	}
	plan := newTestAllocator().Allocate(candidates, 0)

	if len(plan.Admitted) != 0 {
		t.Errorf("admitted = %v, want none", admittedIDs(plan))
	}
	if len(plan.Skipped) != 2 {
		t.Errorf("skipped = %d, want 2", len(plan.Skipped))
	}
	if !plan.Exhausted {
		t.Error("zero budget should report exhaustion, not an error")
	}
}

// Growing the budget must only extend the admitted prefix, never change
// or reorder what a smaller budget admitted.
func TestAllocateBudgetMonotonicity(t *testing.T) {
	candidates := []Candidate{
		cand("a", TierSeed, 35),
		cand("b", TierSeed, 25),
		cand("c", TierSeed, 40),
		cand("d", TierSeed, 15),
		cand("e", TierSeed, 30),
	}
	alloc := newTestAllocator()

	var prev []string
	for budget := 10; budget <= 200; budget += 10 {
		got := admittedIDs(alloc.Allocate(candidates, budget))
		if len(got) < len(prev) {
			t.Fatalf("budget %d admitted fewer candidates than a smaller budget", budget)
		}
		for i := range prev {
			if got[i] != prev[i] {
				t.Fatalf("budget %d: admitted[%d] = %s, breaks prefix %v", budget, i, got[i], prev)
			}
		}
		prev = got
	}
}

func TestAllocateEmptyCandidates(t *testing.T) {
	plan := newTestAllocator().Allocate(nil, 100)
	if len(plan.Admitted) != 0 || len(plan.Skipped) != 0 || plan.Exhausted {
		t.Errorf("empty input plan = %+v", plan)
	}
}
