// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func startWatcher(t *testing.T, root string, opts Options) chan Batch {
	t.Helper()
	batches := make(chan Batch, 10)
	w, err := New(root, func(b Batch) { batches <- b }, opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(w.Stop)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return batches
}

func waitBatch(t *testing.T, batches chan Batch) Batch {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no batch within deadline")
		return Batch{}
	}
}

func TestWatcherCoalescesWrites(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root, Options{
		Debounce:   50 * time.Millisecond,
		Extensions: []string{".py"},
	})

	target := filepath.Join(root, "svc.py")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte("pass\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	b := waitBatch(t, batches)
	if !slices.Contains(b.Changed, "svc.py") {
		t.Errorf("changed = %v, want svc.py", b.Changed)
	}
	if got := len(b.Changed); got != 1 {
		t.Errorf("repeated writes should coalesce to one entry, got %d", got)
	}
}

func TestWatcherReportsDeletes(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "gone.py")
	if err := os.WriteFile(target, []byte("pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	batches := startWatcher(t, root, Options{
		Debounce:   50 * time.Millisecond,
		Extensions: []string{".py"},
	})

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	b := waitBatch(t, batches)
	if !slices.Contains(b.Deleted, "gone.py") {
		t.Errorf("deleted = %v, want gone.py", b.Deleted)
	}
}

func TestWatcherIgnoresOtherExtensions(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root, Options{
		Debounce:   50 * time.Millisecond,
		Extensions: []string{".py"},
	})

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case b := <-batches:
		t.Errorf("unexpected batch for ignored extension: %+v", b)
	case <-time.After(300 * time.Millisecond):
	}
}
