// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the kvauditor command-line interface: a small
// cobra command tree exposing the auditor's iteration loop (run), a
// dry-run shard-partitioning inspector (plan), and version reporting.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version identifies the binary, overridden at link time via -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "output version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kvauditor %s\n", Version)
	},
}

// New constructs the root kvauditor command tree. dialer supplies the
// connection to a live cluster for the run subcommand; callers that only
// need plan/version may pass nil.
func New(dialer Dialer) *cobra.Command {
	cobra.EnableCommandSorting = false

	root := &cobra.Command{
		Use:           "kvauditor [command] (flags)",
		Short:         "distributed consistency auditor for a sharded, replicated key-value store",
		Long:          `kvauditor cross-checks a sharded, replicated key-value store's storage replicas for data and structural consistency.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd(dialer),
		newPlanCmd(),
		versionCmd,
	)

	return root
}

// Run parses args against the root command tree and executes the matched
// subcommand.
func Run(args []string, dialer Dialer) error {
	root := New(dialer)
	root.SetArgs(args)
	return root.Execute()
}
