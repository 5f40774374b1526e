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
	"net/url"

	"github.com/spf13/cobra"
)

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage graph snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newAPIClient().getJSON("/v1/context/snapshots", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Persist the current graph version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := newAPIClient().postJSON("/v1/context/snapshots", map[string]any{}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "diff <base-id> <target-id>",
		Short: "Compare two stored snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/context/snapshots/diff?base=%s&target=%s",
				url.QueryEscape(args[0]), url.QueryEscape(args[1]))
			var resp map[string]any
			if err := newAPIClient().getJSON(path, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	})

	return cmd
}
