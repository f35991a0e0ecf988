// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Command engram is a local-first, multi-tenant memory engine for AI
// agents, served over the Model Context Protocol on stdio.
package main

import (
	"fmt"
	"os"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, engramerr.UserMessage(err))
		os.Exit(1)
	}
}
