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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianContext/services/contextd/parse"
)

// loadParses reads a JSON array of parse.FileParse from a file, or stdin
// when the path is "-".
func loadParses(path string) ([]parse.FileParse, error) {
	var raw []byte
	var err error
	if path == "-" {
		raw, err = os.ReadFile("/dev/stdin")
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read parses: %w", err)
	}
	var files []parse.FileParse
	if err := json.Unmarshal(raw, &files); err != nil {
		return nil, fmt.Errorf("decode parses: %w", err)
	}
	return files, nil
}

func newIndexCmd() *cobra.Command {
	var parsesPath string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Full rebuild from a parse descriptor file",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := loadParses(parsesPath)
			if err != nil {
				return err
			}
			root, err := filepath.Abs(projectRoot)
			if err != nil {
				return err
			}
			var resp map[string]any
			err = newAPIClient().postJSON("/v1/context/index", map[string]any{
				"project_root": root,
				"files":        files,
			}, &resp)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&parsesPath, "parses", "", "parse descriptor JSON file ('-' for stdin)")
	cmd.MarkFlagRequired("parses")
	return cmd
}

func newUpdateCmd() *cobra.Command {
	var parsesPath string
	var deleted []string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Apply an incremental change batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			var files []parse.FileParse
			if parsesPath != "" {
				var err error
				files, err = loadParses(parsesPath)
				if err != nil {
					return err
				}
			}
			if len(files) == 0 && len(deleted) == 0 {
				return fmt.Errorf("nothing to update: pass --parses and/or --deleted")
			}
			var resp map[string]any
			err := newAPIClient().postJSON("/v1/context/update", map[string]any{
				"files":         files,
				"deleted_files": deleted,
			}, &resp)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&parsesPath, "parses", "", "parse descriptor JSON file for changed files")
	cmd.Flags().StringSliceVar(&deleted, "deleted", nil, "deleted file paths")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph size counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newAPIClient().getJSON("/v1/context/stats", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}
