// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assemble renders retrieval candidates into the final context
// document and prices them in tokens.
package assemble

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the fallback estimate when no BPE encoding is
// available: roughly four characters per token for code.
const charsPerToken = 4

// TokenCounter prices a text in tokens.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns a cl100k_base BPE counter, falling back to a
// character heuristic when the encoding data cannot be loaded (offline
// hosts: tiktoken fetches its BPE ranks on first use unless cached).
func NewTokenCounter(logger *slog.Logger) TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, using character heuristic", "error", err)
		return heuristicCounter{}
	}
	return bpeCounter{enc: enc}
}

// NewHeuristicCounter returns the chars/4 estimator. Exposed for tests and
// for hosts that must not touch the network.
func NewHeuristicCounter() TokenCounter {
	return heuristicCounter{}
}

type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c bpeCounter) Count(text string) int {
	n := len(c.enc.Encode(text, nil, nil))
	if n < 1 {
		return 1
	}
	return n
}

type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	n := len(text) / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}
