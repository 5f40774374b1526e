// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8950" {
		t.Errorf("listen addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Retrieval.Budget != 8000 {
		t.Errorf("budget = %d", cfg.Retrieval.Budget)
	}
	if cfg.Snapshot.Dir != filepath.Join(root, ".contextd") {
		t.Errorf("snapshot dir = %q", cfg.Snapshot.Dir)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	yaml := `
server:
  listen_addr: ":9000"
retrieval:
  top_k: 8
  budget: 2000
vector:
  host: "weaviate:8080"
`
	if err := os.WriteFile(filepath.Join(root, FileName), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" || cfg.Retrieval.TopK != 8 || cfg.Retrieval.Budget != 2000 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Vector.Host != "weaviate:8080" {
		t.Errorf("vector host = %q", cfg.Vector.Host)
	}
	// Untouched sections keep defaults.
	if cfg.Embed.Model != "nomic-embed-text" {
		t.Errorf("embed model = %q", cfg.Embed.Model)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("vector:\n  host: from-file:8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONTEXTD_WEAVIATE_HOST", "from-env:8080")
	t.Setenv("CONTEXTD_BUDGET", "1234")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vector.Host != "from-env:8080" {
		t.Errorf("host = %q, env should win over file", cfg.Vector.Host)
	}
	if cfg.Retrieval.Budget != 1234 {
		t.Errorf("budget = %d", cfg.Retrieval.Budget)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("retrieval:\n  top_k: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil {
		t.Fatal("expected validation error for top_k = 0")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil {
		t.Fatal("expected parse error")
	}
}
