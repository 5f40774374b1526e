// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm answers questions over an assembled context document using
// any OpenAI-compatible chat completions endpoint via raw net/http.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// ErrNotConfigured is returned by Answer when no endpoint or key was
// provided. Callers treat this as "context-only mode": retrieval and
// assembly still work, generation does not.
var ErrNotConfigured = errors.New("llm: client not configured")

const (
	defaultBaseURL = "https://api.openai.com/v1/chat/completions"
	defaultModel   = "gpt-4o-mini"
)

// systemPrompt frames the model as a code assistant that must ground its
// answer in the supplied context document.
const systemPrompt = "You are a code assistant. Answer strictly from the " +
	"provided code context. Cite units by their qualified name and file " +
	"location. If the context does not contain the answer, say so."

// =============================================================================
// Wire Types
// =============================================================================

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_completion_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
	Error   *chatError   `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// =============================================================================
// Client
// =============================================================================

// Client calls an OpenAI-compatible chat completions API.
//
// Description:
//
//	Talks to the REST API directly without third-party SDKs. Works
//	against api.openai.com and against local OpenAI-compatible servers
//	(Ollama, llama.cpp, vLLM) by pointing BaseURL at them; for local
//	servers the API key may be empty.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
	logger     *slog.Logger
}

// Config is the explicit client configuration. Zero fields fall back to
// environment variables and defaults.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// New creates a chat client. Configuration precedence is explicit Config
// field, then environment (OPENAI_API_KEY, OPENAI_MODEL,
// OPENAI_BASE_URL), then default.
func New(cfg Config) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		logger:     cfg.Logger,
	}
}

// Configured reports whether the client can reach a generation endpoint.
// A custom base URL without a key counts as configured (local servers).
func (c *Client) Configured() bool {
	return c.apiKey != "" || c.baseURL != defaultBaseURL
}

// Answer generates an answer to question grounded in contextDoc.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - question: The user's question.
//   - contextDoc: The assembled markdown context document.
//
// Outputs:
//   - string: The model's answer.
//   - error: ErrNotConfigured when no endpoint is set, otherwise any
//     transport or API error.
func (c *Client) Answer(ctx context.Context, question, contextDoc string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	temp := float32(0.2)
	req := chatRequest{
		Model:       c.model,
		Temperature: &temp,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: contextDoc + "\n\n---\n\nQuestion: " + question},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: api error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: response contained no choices")
	}

	attrs := []any{"model", c.model, "duration", time.Since(start)}
	if parsed.Usage != nil {
		attrs = append(attrs, "prompt_tokens", parsed.Usage.PromptTokens,
			"completion_tokens", parsed.Usage.CompletionTokens)
	}
	c.logger.Debug("chat completion finished", attrs...)

	return parsed.Choices[0].Message.Content, nil
}
