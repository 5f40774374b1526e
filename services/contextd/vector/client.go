// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector stores and queries code-unit embeddings in Weaviate.
//
// The client wraps the Weaviate SDK with retry, exponential backoff with
// jitter, and a passive circuit breaker. An unreachable index always
// surfaces as ErrUnavailable — it is never silently reported as an empty
// result set.
package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding code-unit vectors.
const ClassName = "CodeUnit"

var (
	// ErrUnavailable is returned when the vector index cannot be reached
	// after retries, or while the circuit is open.
	ErrUnavailable = errors.New("vector: index unavailable")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("vector: client closed")
)

// unitNamespace salts the deterministic object IDs so they cannot collide
// with UUIDs from other Aleutian services sharing a Weaviate instance.
var unitNamespace = uuid.MustParse("8f8a4bd2-31a4-4e0c-9c5f-2d8f0f3a7b19")

// Config configures the client.
type Config struct {
	// Host is the Weaviate host:port.
	Host string

	// Scheme is "http" or "https".
	Scheme string

	// MaxRetries is the attempt count per operation, minimum 1.
	MaxRetries int

	// BaseBackoff is the first retry delay; each retry doubles it and adds
	// up to 25% jitter.
	BaseBackoff time.Duration

	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int

	// RecoveryInterval is how long the circuit stays open before a probe
	// request is allowed through.
	RecoveryInterval time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("vector: config missing host")
	}
	return nil
}

// UnitObject is the metadata stored alongside a unit's vector.
type UnitObject struct {
	UnitID        string
	QualifiedName string
	FilePath      string
	Language      string
	Kind          string
}

// Seed is one nearest-neighbor hit.
type Seed struct {
	// UnitID is the graph identity key stored with the vector.
	UnitID string

	// Score is cosine similarity in [-1, 1].
	Score float64
}

// Client is a resilient Weaviate client for the code-unit index.
//
// Thread Safety: Safe for concurrent use.
type Client struct {
	cfg    Config
	client *weaviate.Client

	mu        sync.Mutex
	failures  int
	openUntil time.Time
	closed    bool
}

// New creates a client. No connection is made until the first call.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	wc, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("vector: create client: %w", err)
	}
	return &Client{cfg: cfg, client: wc}, nil
}

// Close marks the client closed. Outstanding calls fail with ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Ready reports whether the index answers its readiness check.
func (c *Client) Ready(ctx context.Context) bool {
	ok, err := c.client.Misc().ReadyChecker().Do(ctx)
	return err == nil && ok
}

// EnsureSchema creates the CodeUnit class if it does not exist. The class
// carries no vectorizer: vectors are supplied by the engine's embedder.
func (c *Client) EnsureSchema(ctx context.Context) error {
	return c.execute(ctx, "ensure_schema", func(ctx context.Context) error {
		exists, err := c.client.Schema().ClassExistenceChecker().WithClassName(ClassName).Do(ctx)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		class := &models.Class{
			Class:      ClassName,
			Vectorizer: "none",
			Properties: []*models.Property{
				{Name: "unitId", DataType: []string{"text"}},
				{Name: "qualifiedName", DataType: []string{"text"}},
				{Name: "filePath", DataType: []string{"text"}},
				{Name: "language", DataType: []string{"text"}},
				{Name: "kind", DataType: []string{"text"}},
			},
		}
		return c.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	})
}

// ObjectID returns the deterministic Weaviate object ID for a unit. The
// same unit always maps to the same object, which makes upserts idempotent.
func ObjectID(unitID string) string {
	return uuid.NewSHA1(unitNamespace, []byte(unitID)).String()
}

// Upsert writes one unit's vector and metadata.
func (c *Client) Upsert(ctx context.Context, obj UnitObject, vec []float32) error {
	object := &models.Object{
		Class: ClassName,
		ID:    strfmt.UUID(ObjectID(obj.UnitID)),
		Properties: map[string]interface{}{
			"unitId":        obj.UnitID,
			"qualifiedName": obj.QualifiedName,
			"filePath":      obj.FilePath,
			"language":      obj.Language,
			"kind":          obj.Kind,
		},
		Vector: models.C11yVector(vec),
	}
	return c.execute(ctx, "upsert", func(ctx context.Context) error {
		resp, err := c.client.Batch().ObjectsBatcher().WithObjects(object).Do(ctx)
		if err != nil {
			return err
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return fmt.Errorf("batch object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
			}
		}
		return nil
	})
}

// Delete removes a unit's vector. Deleting an absent object is not an
// error.
func (c *Client) Delete(ctx context.Context, unitID string) error {
	return c.execute(ctx, "delete", func(ctx context.Context) error {
		err := c.client.Data().Deleter().
			WithClassName(ClassName).
			WithID(ObjectID(unitID)).
			Do(ctx)
		if err != nil && strings.Contains(err.Error(), "404") {
			return nil
		}
		return err
	})
}

// QueryNearest returns the k units nearest to the query vector, optionally
// filtered by language. Scores are cosine similarity.
func (c *Client) QueryNearest(ctx context.Context, vec []float32, k int, language string) ([]Seed, error) {
	fields := []graphql.Field{
		{Name: "unitId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}
	near := c.client.GraphQL().NearVectorArgBuilder().WithVector(vec)

	var seeds []Seed
	err := c.execute(ctx, "query", func(ctx context.Context) error {
		q := c.client.GraphQL().Get().
			WithClassName(ClassName).
			WithFields(fields...).
			WithNearVector(near).
			WithLimit(k)
		if language != "" {
			q = q.WithWhere(filters.Where().
				WithPath([]string{"language"}).
				WithOperator(filters.Equal).
				WithValueString(language))
		}
		resp, err := q.Do(ctx)
		if err != nil {
			return err
		}
		if len(resp.Errors) > 0 {
			return fmt.Errorf("graphql: %s", resp.Errors[0].Message)
		}
		seeds = parseSeeds(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seeds, nil
}

func parseSeeds(resp *models.GraphQLResponse) []Seed {
	get, ok := resp.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	rows, ok := get[ClassName].([]interface{})
	if !ok {
		return nil
	}
	seeds := make([]Seed, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]interface{})
		if !ok {
			continue
		}
		unitID, _ := m["unitId"].(string)
		if unitID == "" {
			continue
		}
		score := 0.0
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := add["certainty"].(float64); ok {
				// Weaviate certainty is (1+cos)/2; report plain cosine.
				score = 2*certainty - 1
			}
		}
		seeds = append(seeds, Seed{UnitID: unitID, Score: score})
	}
	return seeds
}

// execute runs an operation with retry, backoff, and the circuit breaker.
func (c *Client) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.openUntil.IsZero() && time.Now().Before(c.openUntil) {
		c.mu.Unlock()
		return fmt.Errorf("%w: circuit open for %s", ErrUnavailable, op)
	}
	c.mu.Unlock()

	var lastErr error
	backoff := c.cfg.BaseBackoff
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		c.cfg.Logger.Warn("vector operation failed, retrying",
			"op", op, "attempt", attempt, "error", err)
		if attempt < c.cfg.MaxRetries {
			if err := sleepCtx(ctx, withJitter(backoff)); err != nil {
				return err
			}
			backoff *= 2
		}
	}

	c.recordFailure(op)
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, lastErr)
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.openUntil = time.Time{}
}

func (c *Client) recordFailure(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.cfg.FailureThreshold {
		c.openUntil = time.Now().Add(c.cfg.RecoveryInterval)
		c.cfg.Logger.Error("vector circuit opened",
			"op", op, "failures", c.failures, "until", c.openUntil)
		c.failures = 0
	}
}

// isRetryable distinguishes transient transport faults from permanent
// errors. Cancellation is never retried.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503")
}

func withJitter(d time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
