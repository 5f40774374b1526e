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
	"context"
	"errors"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g, _ := build(t,
		file("core.py", fn("engine", "helper"), fn("helper")),
		file("api.py", fn("handler", "engine", "ghost")),
	)
	return g
}

func TestSnapshotRoundtrip(t *testing.T) {
	m := NewSnapshotManager(openTestDB(t), nil)
	g := sampleGraph(t)
	ctx := context.Background()

	meta, err := m.Save(ctx, g, 3)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.Version != 3 || meta.UnitCount != g.UnitCount() || meta.EdgeCount != g.EdgeCount() {
		t.Errorf("metadata = %+v, want version 3 and live counts", meta)
	}

	loaded, loadedMeta, err := m.Load(ctx, meta.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedMeta.ContentHash != meta.ContentHash {
		t.Error("metadata hash changed across roundtrip")
	}
	if serialize(t, loaded) != serialize(t, g) {
		t.Error("loaded graph differs from saved graph")
	}

	// Unresolved markers survive persistence and still drive relinking.
	if pending := loaded.TakePending("ghost"); len(pending) != 1 {
		t.Errorf("pending after load = %v, want the flagged caller", pending)
	}
}

func TestSnapshotLoadLatest(t *testing.T) {
	m := NewSnapshotManager(openTestDB(t), nil)
	g := sampleGraph(t)
	ctx := context.Background()

	if _, err := m.Save(ctx, g, 1); err != nil {
		t.Fatal(err)
	}
	meta2, err := m.Save(ctx, g, 2)
	if err != nil {
		t.Fatal(err)
	}

	_, latest, err := m.LoadLatest(ctx, "/repo")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.ID != meta2.ID {
		t.Errorf("latest = %s, want %s", latest.ID, meta2.ID)
	}

	if _, _, err := m.LoadLatest(ctx, "/other"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotListAndDelete(t *testing.T) {
	m := NewSnapshotManager(openTestDB(t), nil)
	g := sampleGraph(t)
	ctx := context.Background()

	var ids []string
	for v := uint64(1); v <= 3; v++ {
		meta, err := m.Save(ctx, g, v)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, meta.ID)
	}

	metas, err := m.List(ctx, "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 3 {
		t.Fatalf("List = %d snapshots, want 3", len(metas))
	}
	for i := 1; i < len(metas); i++ {
		if metas[i-1].CreatedAtMilli < metas[i].CreatedAtMilli {
			t.Error("List not newest-first")
		}
	}

	if err := m.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := m.Load(ctx, ids[0]); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
	if err := m.Delete(ctx, "missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Delete missing: err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotIntegrityCheck(t *testing.T) {
	db := openTestDB(t)
	m := NewSnapshotManager(db, nil)
	g := sampleGraph(t)
	ctx := context.Background()

	meta, err := m.Save(ctx, g, 1)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the payload behind the manager's back.
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapshotDataPrefix+meta.ID), []byte("garbage"))
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := m.Load(ctx, meta.ID); !errors.Is(err, ErrSnapshotCorrupt) {
		t.Errorf("err = %v, want ErrSnapshotCorrupt", err)
	}
}

func TestDiffSnapshots(t *testing.T) {
	base, _ := build(t,
		file("a.py", fn("keep"), fn("change"), fn("drop")),
	)
	changed := fn("change", "keep")
	target, _ := build(t,
		file("a.py", fn("keep"), changed, fn("fresh")),
	)

	diff, err := DiffSnapshots(base.ToSerializable(), target.ToSerializable())
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.UnitsAdded) != 1 || diff.UnitsAdded[0] != "a.py::fresh" {
		t.Errorf("UnitsAdded = %v, want [a.py::fresh]", diff.UnitsAdded)
	}
	if len(diff.UnitsRemoved) != 1 || diff.UnitsRemoved[0] != "a.py::drop" {
		t.Errorf("UnitsRemoved = %v, want [a.py::drop]", diff.UnitsRemoved)
	}
	if len(diff.UnitsModified) != 1 || diff.UnitsModified[0] != "a.py::change" {
		t.Errorf("UnitsModified = %v, want [a.py::change]", diff.UnitsModified)
	}
	if diff.Summary.TotalChanges == 0 || diff.Summary.FilesAffected != 1 {
		t.Errorf("Summary = %+v", diff.Summary)
	}
}
