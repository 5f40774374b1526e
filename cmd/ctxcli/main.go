// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ctxcli is the client for the contextd API.
//
// Parsing is delegated to an external parser: index and update take a
// JSON file of parse descriptors, and watch runs a configured parser
// command per change batch.
//
// Usage:
//
//	ctxcli index --parses parses.json --root /path/to/project
//	ctxcli query "how are sessions invalidated?" --budget 8000
//	ctxcli answer "where is the retry logic?"
//	ctxcli changeset --patch fix.diff
//	ctxcli watch --parser "codeparse --json" --root .
//	ctxcli snapshots list
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Shared flag values.
var (
	serverURL   string
	projectRoot string
)

func main() {
	root := &cobra.Command{
		Use:   "ctxcli",
		Short: "Client for the code context engine",
		Long: "ctxcli talks to a running contextd instance: submit parse\n" +
			"batches, query budgeted context, synthesize answers, analyze\n" +
			"diffs, and manage graph snapshots.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", envOr("CONTEXTD_URL", "http://localhost:8950"),
		"contextd base URL")
	root.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root")

	root.AddCommand(
		newIndexCmd(),
		newUpdateCmd(),
		newQueryCmd(),
		newAnswerCmd(),
		newChangesetCmd(),
		newWatchCmd(),
		newSnapshotsCmd(),
		newStatsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
