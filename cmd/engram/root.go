// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root engram command with all subcommands
// registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "engram",
		Short:         "Engram — memory engine for AI agents",
		Long:          "Engram ingests free-form text, derives embeddings and knowledge-graph fragments, and answers hybrid semantic + graph queries over MCP.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	root.AddCommand(
		newServeCmd(),
		newVersionCmd(),
	)

	return root
}
