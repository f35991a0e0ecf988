// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package memory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/memory"
	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/store/sqlite"
)

func recoveryGraph(t *testing.T) *sqlite.GraphStore {
	t.Helper()
	dir, err := os.MkdirTemp("", "engram-recovery-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	g, err := sqlite.NewGraphStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// agePending rewinds a node's updated_at by the given duration.
func agePending(t *testing.T, g *sqlite.GraphStore, name string, age time.Duration) {
	t.Helper()
	_, err := g.DB().Exec(`UPDATE nodes SET updated_at = ? WHERE name = ?`,
		time.Now().Add(-age).Unix(), name)
	require.NoError(t, err)
}

func TestSweep_MarksStalePendingFailed(t *testing.T) {
	g := recoveryGraph(t)
	ctx := context.Background()

	stale := &store.Node{Name: "mem-stale001", Tenant: "u1", Status: store.NodeStatusPending}
	require.NoError(t, g.CreateNode(ctx, stale))
	agePending(t, g, stale.Name, 11*time.Minute)

	fresh := &store.Node{Name: "mem-fresh001", Tenant: "u1", Status: store.NodeStatusPending}
	require.NoError(t, g.CreateNode(ctx, fresh))
	agePending(t, g, fresh.Name, time.Minute)

	w := memory.NewRecoveryWorker(g, time.Minute, 10*time.Minute)
	recovered, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := g.GetNode(ctx, stale.Name, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.NodeStatusFailed, got.Status)
	assert.NotEmpty(t, got.Metadata["recovery_note"])
	assert.Greater(t, got.UpdatedAt, time.Now().Add(-time.Minute).Unix())

	// The fresh node is untouched.
	untouched, err := g.GetNode(ctx, fresh.Name, "u1")
	require.NoError(t, err)
	assert.Equal(t, store.NodeStatusPending, untouched.Status)
}

func TestSweep_IgnoresReadyAndFailed(t *testing.T) {
	g := recoveryGraph(t)
	ctx := context.Background()

	ready := &store.Node{Name: "mem-ready001", Tenant: "u1", Status: store.NodeStatusReady}
	require.NoError(t, g.CreateNode(ctx, ready))
	agePending(t, g, ready.Name, time.Hour)

	w := memory.NewRecoveryWorker(g, time.Minute, 10*time.Minute)
	recovered, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}

func TestRun_FirstTickImmediate(t *testing.T) {
	g := recoveryGraph(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stale := &store.Node{Name: "mem-stale002", Tenant: "u1", Status: store.NodeStatusPending}
	require.NoError(t, g.CreateNode(ctx, stale))
	agePending(t, g, stale.Name, time.Hour)

	// A long interval proves the first sweep does not wait for a tick.
	w := memory.NewRecoveryWorker(g, time.Hour, 10*time.Minute)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		n, err := g.GetNode(context.Background(), stale.Name, "u1")
		return err == nil && n.Status == store.NodeStatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}
