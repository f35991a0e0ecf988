// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package memory

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/engram-dev/engram/internal/store/sqlite"
)

// Recovery defaults.
const (
	DefaultRecoveryInterval = 5 * time.Minute
	DefaultStaleAfter       = 10 * time.Minute
)

const recoveryNote = "background processing did not complete; marked failed by recovery sweep"

// RecoveryWorker periodically transitions abandoned PENDING nodes to
// FAILED. The background pipeline is fire-and-forget, so a crash
// between the fast path and promotion would otherwise leave nodes
// pending forever. Marked rows await manual replay; AI work is never
// re-run automatically.
type RecoveryWorker struct {
	graph      *sqlite.GraphStore
	interval   time.Duration
	staleAfter time.Duration
	running    atomic.Bool
	logger     *slog.Logger
}

// NewRecoveryWorker creates a worker with the given cadence and
// staleness cutoff (defaults: 5 min interval, 10 min cutoff).
func NewRecoveryWorker(graph *sqlite.GraphStore, interval, staleAfter time.Duration) *RecoveryWorker {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &RecoveryWorker{
		graph:      graph,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     slog.Default(),
	}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (w *RecoveryWorker) Run(ctx context.Context) {
	if _, err := w.Sweep(ctx); err != nil {
		w.logger.Error("recovery sweep failed", "error", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("recovery sweep failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep marks stale PENDING nodes FAILED and returns how many it
// transitioned. At most one sweep runs at a time; an overlapping call
// returns immediately.
func (w *RecoveryWorker) Sweep(ctx context.Context) (int, error) {
	if !w.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer w.running.Store(false)

	cutoff := time.Now().Add(-w.staleAfter).Unix()
	stale, err := w.graph.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, node := range stale {
		if err := w.graph.MarkNodeFailed(ctx, node.ID, recoveryNote); err != nil {
			w.logger.Error("failed to mark stale node",
				"node", node.Name, "tenant", node.Tenant, "error", err)
			continue
		}
		recovered++
		w.logger.Info("recovered abandoned memory",
			"node", node.Name, "tenant", node.Tenant,
			"pending_since", node.UpdatedAt)
	}
	return recovered, nil
}
