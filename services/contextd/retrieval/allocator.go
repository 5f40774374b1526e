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

import "log/slog"

// Skip reasons reported per rejected candidate, so every exclusion from
// the context window is explainable.
const (
	SkipTierCeiling     = "tier_ceiling"
	SkipBudgetExhausted = "budget_exhausted"
)

// DefaultTierCeilings caps cumulative token spend while candidates of each
// tier are being admitted, as a fraction of the budget. Tier 0 may consume
// the whole budget; expansion tiers are throttled so seeds are never
// crowded out by their own neighborhoods.
var DefaultTierCeilings = [NumTiers]float64{
	TierSeed:      1.00,
	TierCaller:    0.40,
	TierCallee:    0.60,
	TierTest:      0.80,
	TierContainer: 0.90,
}

// Skip records one rejected candidate and why.
type Skip struct {
	Candidate Candidate `json:"candidate"`
	Reason    string    `json:"reason"`
}

// Plan is the allocator's output: the admitted prefix of the candidate
// ordering plus an explanation for everything left out.
type Plan struct {
	Admitted   []Candidate `json:"admitted"`
	Skipped    []Skip      `json:"skipped,omitempty"`
	Budget     int         `json:"budget"`
	TokensUsed int         `json:"tokens_used"`

	// Exhausted is true when the pass ended because the next candidate
	// could not fit the absolute budget. The plan is then the valid
	// partial prefix, not an error.
	Exhausted bool `json:"exhausted"`
}

// Allocator packs ordered candidates into a token budget.
//
// Description:
//
//	A single greedy pass in candidate order. A candidate is admitted only
//	if the running total stays within both the absolute budget and its
//	tier's cumulative ceiling. A tier-ceiling rejection skips just that
//	candidate; the first absolute-budget rejection ends the pass and marks
//	every remaining candidate budget_exhausted. Candidates are never
//	reordered: a cheaper, lower-priority candidate is never admitted ahead
//	of a skipped higher-priority one. Consequence: growing the budget only
//	ever extends the admitted set.
//
// Thread Safety: Safe for concurrent use.
type Allocator struct {
	ceilings [NumTiers]float64
	logger   *slog.Logger
}

// NewAllocator creates an allocator with the given per-tier ceilings; a
// zero ceiling for a tier falls back to the default.
func NewAllocator(ceilings [NumTiers]float64, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	for t := range ceilings {
		if ceilings[t] <= 0 {
			ceilings[t] = DefaultTierCeilings[t]
		}
	}
	return &Allocator{ceilings: ceilings, logger: logger}
}

// Allocate packs candidates into budget tokens.
//
// Inputs:
//
//	candidates - Already ordered by the retriever; each must carry its
//	             token cost.
//	budget - Total token budget B. Zero or negative yields an empty plan
//	         with every candidate skipped — not an error.
//
// Outputs:
//
//	*Plan - Admitted prefix and per-candidate skip reasons.
func (a *Allocator) Allocate(candidates []Candidate, budget int) *Plan {
	plan := &Plan{Budget: budget, Admitted: []Candidate{}}

	for i, c := range candidates {
		next := plan.TokensUsed + c.Tokens
		if budget <= 0 || next > budget {
			// Nothing later can be admitted without reordering; mark the
			// rest and stop.
			plan.Exhausted = true
			for _, rest := range candidates[i:] {
				plan.Skipped = append(plan.Skipped, Skip{Candidate: rest, Reason: SkipBudgetExhausted})
			}
			break
		}
		if ceiling := int(a.ceilings[c.Tier] * float64(budget)); next > ceiling {
			plan.Skipped = append(plan.Skipped, Skip{Candidate: c, Reason: SkipTierCeiling})
			continue
		}
		plan.Admitted = append(plan.Admitted, c)
		plan.TokensUsed = next
	}

	if plan.Exhausted {
		a.logger.Debug("budget exhausted",
			"admitted", len(plan.Admitted),
			"skipped", len(plan.Skipped),
			"tokens", plan.TokensUsed,
			"budget", budget)
	}
	return plan
}
