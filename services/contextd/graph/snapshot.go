// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key schema. Data and metadata are separate values so listing snapshots
// never deserializes graph payloads.
const (
	snapshotDataPrefix = "ctx:snap:data:"
	snapshotMetaPrefix = "ctx:snap:meta:"
	snapshotLatestKey  = "ctx:snap:latest:"
)

// SnapshotMetadata describes one persisted graph snapshot.
type SnapshotMetadata struct {
	ID             string `json:"id"`
	ProjectRoot    string `json:"project_root"`
	Version        uint64 `json:"version"`
	CreatedAtMilli int64  `json:"created_at_milli"`
	UnitCount      int    `json:"unit_count"`
	EdgeCount      int    `json:"edge_count"`
	SizeBytes      int    `json:"size_bytes"`

	// ContentHash is the SHA-256 of the compressed payload, verified on
	// every load.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager persists graph snapshots to BadgerDB.
//
// Description:
//
//	Snapshots are gzip-compressed deterministic JSON keyed by a short
//	content-derived ID. Each save writes the payload, its metadata, and a
//	latest pointer per project root in a single transaction, so readers
//	never observe a half-written snapshot.
//
// Thread Safety: Safe for concurrent use; Badger transactions provide
// isolation.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a manager over an open Badger database.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) *SnapshotManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotManager{db: db, logger: logger}
}

// Save persists the graph at the given version and returns its metadata.
func (m *SnapshotManager) Save(ctx context.Context, g *Graph, version uint64) (*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(g.ToSerializable())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize gzip: %w", err)
	}
	payload := buf.Bytes()

	meta := &SnapshotMetadata{
		ID:             snapshotID(g.ProjectRoot(), version),
		ProjectRoot:    g.ProjectRoot(),
		Version:        version,
		CreatedAtMilli: time.Now().UnixMilli(),
		UnitCount:      g.UnitCount(),
		EdgeCount:      g.EdgeCount(),
		SizeBytes:      len(payload),
		ContentHash:    hashBytes(payload),
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotDataPrefix+meta.ID), payload); err != nil {
			return err
		}
		if err := txn.Set([]byte(snapshotMetaPrefix+meta.ID), metaRaw); err != nil {
			return err
		}
		return txn.Set([]byte(snapshotLatestKey+hashString(meta.ProjectRoot)), []byte(meta.ID))
	})
	if err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	m.logger.Info("snapshot saved",
		"id", meta.ID,
		"version", meta.Version,
		"units", meta.UnitCount,
		"edges", meta.EdgeCount,
		"bytes", meta.SizeBytes)
	return meta, nil
}

// Load reads a snapshot by ID, verifies its integrity, and reconstructs
// the graph.
func (m *SnapshotManager) Load(ctx context.Context, id string) (*Graph, *SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	var payload []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotMetaPrefix + id))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &meta) }); err != nil {
			return err
		}
		item, err = txn.Get([]byte(snapshotDataPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			payload = append([]byte(nil), v...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot %s: %w", id, err)
	}

	if hashBytes(payload) != meta.ContentHash {
		return nil, nil, fmt.Errorf("%w: %s content hash mismatch", ErrSnapshotCorrupt, id)
	}

	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}

	var sg SerializableGraph
	if err := json.Unmarshal(raw, &sg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	g, err := FromSerializable(&sg)
	if err != nil {
		return nil, nil, err
	}
	return g, &meta, nil
}

// LoadLatest loads the most recently saved snapshot for a project root.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectRoot string) (*Graph, *SnapshotMetadata, error) {
	var id string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotLatestKey + hashString(projectRoot)))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			id = string(v)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil, fmt.Errorf("%w: no snapshots for %s", ErrSnapshotNotFound, projectRoot)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read latest pointer: %w", err)
	}
	return m.Load(ctx, id)
}

// List returns metadata for every stored snapshot of a project root,
// newest first.
func (m *SnapshotManager) List(ctx context.Context, projectRoot string) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var metas []*SnapshotMetadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotMetaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var meta SnapshotMetadata
			err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &meta) })
			if err != nil {
				return err
			}
			if projectRoot == "" || meta.ProjectRoot == projectRoot {
				metas = append(metas, &meta)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sort.Slice(metas, func(i, j int) bool {
		if metas[i].CreatedAtMilli != metas[j].CreatedAtMilli {
			return metas[i].CreatedAtMilli > metas[j].CreatedAtMilli
		}
		return metas[i].ID > metas[j].ID
	})
	return metas, nil
}

// Delete removes a snapshot's payload and metadata. Deleting the snapshot
// the latest pointer names leaves the pointer dangling; LoadLatest then
// reports ErrSnapshotNotFound.
func (m *SnapshotManager) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(snapshotMetaPrefix + id)); err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
		}
		if err := txn.Delete([]byte(snapshotDataPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(snapshotMetaPrefix + id))
	})
}

// snapshotID derives a short stable ID from the project root and version.
func snapshotID(projectRoot string, version uint64) string {
	return hashString(projectRoot + ":" + strconv.FormatUint(version, 10))[:16]
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
