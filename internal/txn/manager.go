// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package txn provides the cross-store transaction manager: nested SQL
// transactions via named savepoints, plus an out-of-band compensation
// registry for side effects that cannot participate in SQL (vector
// upserts). Consistency between the graph and vector stores is a runtime
// property enforced here, not by the stores themselves.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Store methods accept work through this so they transparently join an
// active transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ctxKey struct{}

// state is the per-outer-transaction bookkeeping carried on the context.
type state struct {
	tx    *sql.Tx
	depth int
	comps []compensation
}

type compensation struct {
	description string
	fn          func(context.Context) error
}

// Manager serializes outer transactions over a single database and runs
// registered compensations when the outer transaction rolls back.
type Manager struct {
	db     *sql.DB
	logger *slog.Logger

	// sem is a context-aware mutex: at most one outer transaction is in
	// flight at a time. A waiter whose context expires receives the
	// concurrency error instead of blocking forever.
	sem chan struct{}
}

// NewManager creates a transaction manager over db.
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		db:     db,
		logger: slog.Default(),
		sem:    make(chan struct{}, 1),
	}
}

// QuerierFrom returns the active transaction when ctx runs inside
// Execute, and fallback otherwise.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if st, ok := ctx.Value(ctxKey{}).(*state); ok {
		return st.tx
	}
	return fallback
}

// InTransaction reports whether ctx carries an active transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(ctxKey{}).(*state)
	return ok
}

// Execute runs op transactionally. At depth 0 it acquires the manager
// lock and issues BEGIN; re-entry from within op nests via a named
// savepoint. Success commits (or releases the savepoint); failure rolls
// back (or rolls back to the savepoint). On an outer rollback every
// registered compensation is attempted exactly once, in reverse
// registration order.
func (m *Manager) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if st, ok := ctx.Value(ctxKey{}).(*state); ok {
		return m.executeNested(ctx, st, op)
	}
	return m.executeOuter(ctx, op)
}

func (m *Manager) executeOuter(ctx context.Context, op func(ctx context.Context) error) error {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return engramerr.Wrap(ctx.Err(), engramerr.CodeTxnConflict,
			"another transaction is active")
	}
	defer func() { <-m.sem }()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeTxnDatabaseFailure, "beginning transaction")
	}

	st := &state{tx: tx}
	opErr := op(context.WithValue(ctx, ctxKey{}, st))

	if opErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			m.logger.Error("transaction rollback failed", "error", rbErr)
		}
		m.runCompensations(ctx, st)
		return opErr
	}

	if err := tx.Commit(); err != nil {
		m.runCompensations(ctx, st)
		return engramerr.Wrap(err, engramerr.CodeTxnDatabaseFailure, "committing transaction")
	}

	// Commit clears the registry without running it.
	st.comps = nil
	return nil
}

func (m *Manager) executeNested(ctx context.Context, st *state, op func(ctx context.Context) error) error {
	st.depth++
	name := fmt.Sprintf("sp_%d_%d", st.depth, time.Now().UnixNano())
	defer func() { st.depth-- }()

	if _, err := st.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeTxnDatabaseFailure, "creating savepoint %s", name)
	}

	if err := op(ctx); err != nil {
		if _, rbErr := st.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			m.logger.Error("savepoint rollback failed", "savepoint", name, "error", rbErr)
		}
		return err
	}

	if _, err := st.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeTxnDatabaseFailure, "releasing savepoint %s", name)
	}
	return nil
}

// RegisterCompensation records an undo action to run if the enclosing
// outer transaction rolls back. Must be called within Execute.
func (m *Manager) RegisterCompensation(ctx context.Context, description string, fn func(context.Context) error) error {
	st, ok := ctx.Value(ctxKey{}).(*state)
	if !ok {
		return engramerr.New(engramerr.CodeTxnConflict,
			"no active transaction to register compensation against")
	}
	st.comps = append(st.comps, compensation{description: description, fn: fn})
	return nil
}

// runCompensations attempts each registered compensation once, newest
// first. A failing compensation is logged and never halts the sweep or
// masks the original error.
func (m *Manager) runCompensations(ctx context.Context, st *state) {
	for i := len(st.comps) - 1; i >= 0; i-- {
		comp := st.comps[i]
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("compensation panicked",
						"description", comp.description, "panic", r)
				}
			}()
			if err := comp.fn(ctx); err != nil {
				m.logger.Error("compensation failed",
					"description", comp.description, "error", err)
			}
		}()
	}
	st.comps = nil
}
