// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/store/sqlite"
)

// testDir creates a temp directory cleaned up with the test.
func testDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "engram-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(testDir(t), name+".db")
}

// testGraph opens a fresh graph store.
func testGraph(t *testing.T, name string) *sqlite.GraphStore {
	t.Helper()
	g, err := sqlite.NewGraphStore(testDBPath(t, name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// mustNode creates a READY node and returns it.
func mustNode(t *testing.T, g *sqlite.GraphStore, name, tenant string) *store.Node {
	t.Helper()
	n := &store.Node{Name: name, Tenant: tenant, Status: store.NodeStatusReady}
	require.NoError(t, g.CreateNode(context.Background(), n))
	return n
}

// mustEdge connects two nodes with a typed edge.
func mustEdge(t *testing.T, g *sqlite.GraphStore, src, dst *store.Node, edgeType string) *store.Edge {
	t.Helper()
	e := &store.Edge{SourceID: src.ID, TargetID: dst.ID, Type: edgeType, Tenant: src.Tenant}
	require.NoError(t, g.CreateEdge(context.Background(), e))
	return e
}
