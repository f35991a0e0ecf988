// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package txn_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/txn"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dir, err := os.MkdirTemp("", "engram-txn-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := sql.Open("sqlite3", filepath.Join(dir, "txn.db")+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO counters (name, value) VALUES ('c', 0)`)
	require.NoError(t, err)
	return db
}

func counterValue(t *testing.T, db *sql.DB) int {
	t.Helper()
	var v int
	require.NoError(t, db.QueryRow(`SELECT value FROM counters WHERE name = 'c'`).Scan(&v))
	return v
}

func TestExecute_CommitPersists(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	err := m.Execute(ctx, func(ctx context.Context) error {
		q := txn.QuerierFrom(ctx, db)
		_, err := q.ExecContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = 'c'`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counterValue(t, db))
}

func TestExecute_RollbackDiscards(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.Execute(ctx, func(ctx context.Context) error {
		q := txn.QuerierFrom(ctx, db)
		if _, err := q.ExecContext(ctx, `UPDATE counters SET value = 99 WHERE name = 'c'`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, counterValue(t, db))
}

func TestExecute_NestedSavepointRollback(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	err := m.Execute(ctx, func(ctx context.Context) error {
		q := txn.QuerierFrom(ctx, db)
		if _, err := q.ExecContext(ctx, `UPDATE counters SET value = 1 WHERE name = 'c'`); err != nil {
			return err
		}

		// Nested failure rolls back only the savepoint.
		nestedErr := m.Execute(ctx, func(ctx context.Context) error {
			q := txn.QuerierFrom(ctx, db)
			if _, err := q.ExecContext(ctx, `UPDATE counters SET value = 50 WHERE name = 'c'`); err != nil {
				return err
			}
			return errors.New("nested boom")
		})
		if nestedErr == nil {
			return errors.New("expected nested failure")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counterValue(t, db))
}

func TestExecute_NestedCommitVisible(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	err := m.Execute(ctx, func(ctx context.Context) error {
		return m.Execute(ctx, func(ctx context.Context) error {
			q := txn.QuerierFrom(ctx, db)
			_, err := q.ExecContext(ctx, `UPDATE counters SET value = 7 WHERE name = 'c'`)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 7, counterValue(t, db))
}

func TestExecute_CompensationsRunInReverseOnRollback(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	err := m.Execute(ctx, func(ctx context.Context) error {
		require.NoError(t, m.RegisterCompensation(ctx, "first", record("first")))
		require.NoError(t, m.RegisterCompensation(ctx, "second", record("second")))
		require.NoError(t, m.RegisterCompensation(ctx, "third", record("third")))
		return errors.New("abort")
	})
	require.Error(t, err)
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestExecute_FailingCompensationDoesNotHaltSweep(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	var ran []string
	err := m.Execute(ctx, func(ctx context.Context) error {
		require.NoError(t, m.RegisterCompensation(ctx, "a", func(context.Context) error {
			ran = append(ran, "a")
			return nil
		}))
		require.NoError(t, m.RegisterCompensation(ctx, "b", func(context.Context) error {
			ran = append(ran, "b")
			return errors.New("compensation broke")
		}))
		return errors.New("abort")
	})
	require.Error(t, err)
	// Both attempted exactly once, b first.
	assert.Equal(t, []string{"b", "a"}, ran)
}

func TestExecute_CompensationsClearedOnCommit(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	ran := false
	err := m.Execute(ctx, func(ctx context.Context) error {
		return m.RegisterCompensation(ctx, "never", func(context.Context) error {
			ran = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRegisterCompensation_OutsideTransaction(t *testing.T) {
	m := txn.NewManager(testDB(t))
	err := m.RegisterCompensation(context.Background(), "orphan", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, engramerr.CodeTxnConflict, engramerr.CodeOf(err))
}

func TestExecute_ConcurrentTransactionsSerialize(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)
	ctx := context.Background()

	// Two read-sleep-write bodies must not interleave: the final counter
	// is exactly 2, not 1.
	body := func(ctx context.Context) error {
		q := txn.QuerierFrom(ctx, db)
		var v int
		if err := q.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'c'`).Scan(&v); err != nil {
			return err
		}
		time.Sleep(50 * time.Millisecond)
		_, err := q.ExecContext(ctx, `UPDATE counters SET value = ? WHERE name = 'c'`, v+1)
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Execute(ctx, body)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 2, counterValue(t, db))
}

func TestExecute_ExpiredContextWhileWaiting(t *testing.T) {
	db := testDB(t)
	m := txn.NewManager(db)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Execute(ctx, func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.Equal(t, engramerr.CodeTxnConflict, engramerr.CodeOf(err))
}
