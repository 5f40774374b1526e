// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContext/services/contextd/parse"
	"github.com/AleutianAI/AleutianContext/services/contextd/watch"
)

// newWatchCmd wires the filesystem watcher to the update endpoint. Each
// debounced batch runs the external parser over the changed files and
// posts the resulting descriptors plus deletions.
func newWatchCmd() *cobra.Command {
	var parserCmd string
	var extensions []string
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the project tree and stream updates to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if parserCmd == "" {
				return fmt.Errorf("--parser is required (command that emits FileParse JSON for the given files)")
			}
			root, err := filepath.Abs(projectRoot)
			if err != nil {
				return err
			}
			client := newAPIClient()
			logger := slog.Default()

			handler := func(b watch.Batch) {
				files, err := runParser(parserCmd, root, b.Changed)
				if err != nil {
					logger.Error("parser failed, skipping batch", "error", err)
					return
				}
				var resp map[string]any
				err = client.postJSON("/v1/context/update", map[string]any{
					"files":         files,
					"deleted_files": b.Deleted,
				}, &resp)
				if err != nil {
					logger.Error("update failed", "error", err)
					return
				}
				logger.Info("update applied",
					"changed", len(b.Changed), "deleted", len(b.Deleted), "version", resp["version"])
			}

			w, err := watch.New(root, handler, watch.Options{
				Debounce:   debounce,
				Extensions: extensions,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			defer w.Stop()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := w.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", root)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&parserCmd, "parser", "",
		"parser command; invoked with changed file paths appended, must print a FileParse JSON array")
	cmd.Flags().StringSliceVar(&extensions, "ext", []string{".py", ".go", ".js", ".ts"}, "file extensions to watch")
	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "quiet window before a batch flushes")
	return cmd
}

// runParser executes the external parser over the changed files and
// decodes its stdout as a FileParse array.
func runParser(command, root string, files []string) ([]parse.FileParse, error) {
	if len(files) == 0 {
		return nil, nil
	}
	parts := strings.Fields(command)
	args := append(parts[1:], files...)
	cmd := exec.Command(parts[0], args...)
	cmd.Dir = root
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	var parsed []parse.FileParse
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("decode parser output: %w", err)
	}
	return parsed, nil
}
