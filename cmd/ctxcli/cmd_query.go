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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type queryFlags struct {
	topK     int
	depth    int
	budget   int
	language string
	jsonOut  bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.topK, "top-k", 0, "vector seeds per query (0 = server default)")
	cmd.Flags().IntVar(&f.depth, "depth", 0, "graph expansion depth (0 = server default)")
	cmd.Flags().IntVar(&f.budget, "budget", 0, "token budget (0 = server default)")
	cmd.Flags().StringVar(&f.language, "language", "", "restrict seeds to one language")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print the full JSON response")
}

func (f *queryFlags) body(question string) map[string]any {
	return map[string]any{
		"question": question,
		"top_k":    f.topK,
		"depth":    f.depth,
		"budget":   f.budget,
		"language": f.language,
	}
}

func newQueryCmd() *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Retrieve a token-budgeted context for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			var resp struct {
				Version   uint64         `json:"version"`
				SeedCount int            `json:"seed_count"`
				Plan      map[string]any `json:"plan"`
				Context   string         `json:"context"`
			}
			if err := newAPIClient().postJSON("/v1/context/query", flags.body(question), &resp); err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(resp)
			}
			fmt.Fprintln(os.Stdout, resp.Context)
			fmt.Fprintf(os.Stderr, "\n[version %d, %d seeds]\n", resp.Version, resp.SeedCount)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newAnswerCmd() *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Retrieve context and synthesize an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			var resp struct {
				Answer string         `json:"answer"`
				Query  map[string]any `json:"query"`
			}
			if err := newAPIClient().postJSON("/v1/context/answer", flags.body(question), &resp); err != nil {
				return err
			}
			if flags.jsonOut {
				return printJSON(resp)
			}
			fmt.Fprintln(os.Stdout, resp.Answer)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newChangesetCmd() *cobra.Command {
	var patchPath string
	cmd := &cobra.Command{
		Use:   "changeset",
		Short: "Map a unified diff to impacted units",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := patchPath
			if path == "" || path == "-" {
				path = "/dev/stdin"
			}
			patch, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read patch: %w", err)
			}
			var resp map[string]any
			err = newAPIClient().postJSON("/v1/context/changeset",
				map[string]any{"patch": string(patch)}, &resp)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&patchPath, "patch", "", "patch file ('-' or empty for stdin)")
	return cmd
}
