// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embed generates text embeddings through a local Ollama instance.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned when Ollama cannot be reached or returns a
// non-200 status.
var ErrUnavailable = errors.New("embed: embedder unavailable")

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = "nomic-embed-text"

// batchConcurrency bounds parallel embed requests; Ollama serializes on
// the GPU anyway, this just keeps the HTTP pipeline full.
const batchConcurrency = 10

// Client calls the Ollama /api/embed endpoint over plain HTTP.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a client. baseURL is e.g. "http://localhost:11434"; an empty
// model selects DefaultModel. Requests are rate limited to keep a bulk
// index pass from starving interactive queries.
func New(baseURL, model string, logger *slog.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 60 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(50), 50),
		logger:  logger,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the unit-normalized embedding of one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, raw)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}
	return normalize(parsed.Embeddings[0]), nil
}

// EmbedBatch embeds many texts concurrently, preserving input order. The
// whole batch fails if any single embed fails: a partially embedded index
// is worse than a retryable error.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := c.Embed(ctx, text)
			if err != nil {
				return err
			}
			mu.Lock()
			vectors[i] = vec
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// normalize scales a vector to unit length so dot products are cosine
// similarities. Zero vectors pass through unchanged.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
