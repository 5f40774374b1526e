// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the daemon configuration: YAML file first,
// environment overrides second, hardcoded defaults underneath. A missing
// config file is not an error (zero-config works out of the box).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the project root.
const FileName = "context.config.yaml"

// Config holds all daemon settings.
//
// Thread Safety: Safe for concurrent reads after construction.
type Config struct {
	// Server settings.
	Server ServerConfig `yaml:"server"`

	// Index settings control parsing and graph construction.
	Index IndexConfig `yaml:"index"`

	// Vector settings point at the Weaviate instance.
	Vector VectorConfig `yaml:"vector"`

	// Embed settings point at the embedding server.
	Embed EmbedConfig `yaml:"embed"`

	// Retrieval defaults applied when a query omits them.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Snapshot settings for the BadgerDB store.
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

type ServerConfig struct {
	// ListenAddr is the HTTP bind address. Default ":8950".
	ListenAddr string `yaml:"listen_addr"`

	// ShutdownGrace bounds graceful shutdown. Default 10s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type IndexConfig struct {
	// Extensions are the source file suffixes indexed and watched.
	Extensions []string `yaml:"extensions"`

	// WatchDebounce is the quiet window before a watch batch flushes.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

type VectorConfig struct {
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

type EmbedConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

type RetrievalConfig struct {
	// TopK is the default seed count per query.
	TopK int `yaml:"top_k"`

	// MinSimilarity is the seed admission floor (cosine).
	MinSimilarity float64 `yaml:"min_similarity"`

	// Depth bounds graph expansion from each seed.
	Depth int `yaml:"depth"`

	// Budget is the default token budget per query.
	Budget int `yaml:"budget"`
}

type SnapshotConfig struct {
	// Dir is the BadgerDB directory. Default "<projectRoot>/.contextd".
	Dir string `yaml:"dir"`
}

// Default returns the built-in configuration for a project root.
func Default(projectRoot string) Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:    ":8950",
			ShutdownGrace: 10 * time.Second,
		},
		Index: IndexConfig{
			Extensions:    []string{".py", ".go", ".js", ".ts", ".java", ".rb"},
			WatchDebounce: 250 * time.Millisecond,
		},
		Vector: VectorConfig{
			Host:   "localhost:8080",
			Scheme: "http",
		},
		Embed: EmbedConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			TopK:          5,
			MinSimilarity: 0.25,
			Depth:         1,
			Budget:        8000,
		},
		Snapshot: SnapshotConfig{
			Dir: filepath.Join(projectRoot, ".contextd"),
		},
	}
}

// Load reads <projectRoot>/context.config.yaml over the defaults, then
// applies environment overrides.
//
// Outputs:
//   - Config: The effective configuration.
//   - error: Non-nil only if the file exists but cannot be parsed, or a
//     setting is out of range.
func Load(projectRoot string) (Config, error) {
	cfg := Default(projectRoot)

	path := filepath.Join(projectRoot, FileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers CONTEXTD_* environment variables over the file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONTEXTD_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("CONTEXTD_WEAVIATE_HOST"); v != "" {
		c.Vector.Host = v
	}
	if v := os.Getenv("CONTEXTD_WEAVIATE_SCHEME"); v != "" {
		c.Vector.Scheme = v
	}
	if v := os.Getenv("CONTEXTD_EMBED_URL"); v != "" {
		c.Embed.BaseURL = v
	}
	if v := os.Getenv("CONTEXTD_EMBED_MODEL"); v != "" {
		c.Embed.Model = v
	}
	if v := os.Getenv("CONTEXTD_SNAPSHOT_DIR"); v != "" {
		c.Snapshot.Dir = v
	}
	if v := os.Getenv("CONTEXTD_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.Budget = n
		}
	}
}

func (c *Config) validate() error {
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("config: retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinSimilarity < -1 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("config: retrieval.min_similarity must be in [-1,1], got %g", c.Retrieval.MinSimilarity)
	}
	if c.Retrieval.Depth < 1 {
		return fmt.Errorf("config: retrieval.depth must be >= 1, got %d", c.Retrieval.Depth)
	}
	if c.Retrieval.Budget < 0 {
		return fmt.Errorf("config: retrieval.budget must be >= 0, got %d", c.Retrieval.Budget)
	}
	return nil
}
