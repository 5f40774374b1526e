// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch turns filesystem events into debounced update batches:
// a recursive fsnotify watcher collects writes, creates, and removals of
// source files and hands the collapsed set to a handler once the editor
// goes quiet.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Batch is one debounced set of filesystem changes, split the way the
// update path consumes them: paths that need re-parsing and paths that
// are gone. Paths are relative to the watched root.
type Batch struct {
	Changed []string
	Deleted []string
}

// Handler receives each flushed batch. It is called from a single
// goroutine; a slow handler delays the next flush, not event intake.
type Handler func(Batch)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long the tree must stay quiet before a flush.
	// Default 250ms.
	Debounce time.Duration

	// Extensions limits watching to these file suffixes (with dot).
	// Empty means every file.
	Extensions []string

	// IgnoreDirs are directory names pruned from the walk and skipped
	// in events. Defaults cover VCS and build output.
	IgnoreDirs []string

	// BufferSize is the event channel capacity. Default 1024.
	BufferSize int

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 250 * time.Millisecond
	}
	if o.IgnoreDirs == nil {
		o.IgnoreDirs = []string{".git", ".hg", "node_modules", "__pycache__", ".venv", "dist", "build", ".idea"}
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1024
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher watches a project tree and emits debounced change batches.
//
// Description:
//
//	Every directory under the root is registered with fsnotify;
//	directories created while watching are registered as they appear.
//	Raw events land in a buffered channel, the debounce loop collapses
//	them per path (a write followed by a remove is a delete, a remove
//	followed by a create is a change) and flushes once the debounce
//	window passes without new events.
//
// Thread Safety: Safe for concurrent use. The handler runs on the
// debounce goroutine only.
type Watcher struct {
	root    string
	fs      *fsnotify.Watcher
	handler Handler
	opts    Options

	events   chan fsnotify.Event
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher over root. Start must be called to begin
// delivery; Stop releases the inotify handles.
func New(root string, handler Handler, opts Options) (*Watcher, error) {
	opts.applyDefaults()
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		fs:      fsw,
		handler: handler,
		opts:    opts,
		events:  make(chan fsnotify.Event, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start registers the tree and launches the intake and debounce
// goroutines. They exit when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	go w.intake(ctx)
	go w.debounce(ctx)
	w.opts.Logger.Info("watching project tree",
		"root", w.root, "debounce", w.opts.Debounce)
	return nil
}

// Stop closes the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

func (w *Watcher) ignoredDir(name string) bool {
	for _, ig := range w.opts.IgnoreDirs {
		if name == ig {
			return true
		}
	}
	return false
}

func (w *Watcher) wantsFile(path string) bool {
	for _, part := range strings.Split(filepath.Dir(path), string(filepath.Separator)) {
		if w.ignoredDir(part) {
			return false
		}
	}
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range w.opts.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (w *Watcher) intake(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			// New directories join the watch set immediately so files
			// created inside them are not missed.
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if !w.ignoredDir(filepath.Base(ev.Name)) {
						_ = w.addTree(ev.Name)
					}
					continue
				}
			}
			if !w.wantsFile(ev.Name) {
				continue
			}
			select {
			case w.events <- ev:
			default:
				w.opts.Logger.Warn("event buffer full, dropping event", "path", ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) debounce(ctx context.Context) {
	// Last observed state per relative path. true = deleted.
	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		var batch Batch
		for path, deleted := range pending {
			if deleted {
				batch.Deleted = append(batch.Deleted, path)
			} else {
				batch.Changed = append(batch.Changed, path)
			}
		}
		pending = make(map[string]bool)
		if w.handler != nil {
			w.handler(batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case ev := <-w.events:
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil {
				rel = ev.Name
			}
			rel = filepath.ToSlash(rel)
			pending[rel] = ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)

			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			flush()
			timer = nil
			timerC = nil
		}
	}
}
