// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/engram-dev/engram/internal/store"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
	store.RegisterVectorBackend("sqlite", func(dir string, dimensions int) (store.VectorStore, error) {
		return NewVectorStore(filepath.Join(dir, "vectors.db"), dimensions)
	})
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// searchOversample widens the raw k-NN candidate set before the tenant
// post-filter truncates back to k.
const searchOversample = 8

// VectorStore implements store.VectorStore backed by SQLite with the
// vec0 virtual table, plus a companion records table carrying text,
// tenant, timestamp, node back-reference, and serialized metadata.
type VectorStore struct {
	db         *sql.DB
	dimensions int
}

// NewVectorStore opens (or creates) the vector database at dbPath and
// initialises the vec0 table at the given dimensionality.
func NewVectorStore(dbPath string, dimensions int) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, engramerr.Errorf(engramerr.CodeVectorBackendInvalid,
			"vector dimensions must be positive (got %d)", dimensions)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "opening vector db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "pinging vector db")
	}

	if err := migrateVector(db, dimensions); err != nil {
		_ = db.Close()
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "migrating vector tables")
	}

	return &VectorStore{db: db, dimensions: dimensions}, nil
}

func migrateVector(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating vectors virtual table: %w", err)
	}

	const recDDL = `
CREATE TABLE IF NOT EXISTS vector_records (
	id        TEXT PRIMARY KEY,
	text      TEXT NOT NULL DEFAULT '',
	tenant    TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	node_name TEXT NOT NULL DEFAULT '',
	metadata  TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_vector_records_tenant ON vector_records(tenant, timestamp);
`
	if _, err := db.Exec(recDDL); err != nil {
		return fmt.Errorf("creating vector_records table: %w", err)
	}

	return nil
}

// Dimensions returns the fixed embedding width of this store.
func (v *VectorStore) Dimensions() int { return v.dimensions }

// Upsert inserts or replaces a record and its embedding.
func (v *VectorStore) Upsert(ctx context.Context, rec store.VectorRecord) error {
	if len(rec.Vector) != v.dimensions {
		return engramerr.Errorf(engramerr.CodeVectorBackendInvalid,
			"vector has %d dimensions, store expects %d", len(rec.Vector), v.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(rec.Vector)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "serializing embedding")
	}

	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().Unix()
	}
	if rec.Metadata == "" {
		rec.Metadata = "{}"
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "beginning vector transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// vec0 does not support ON CONFLICT; delete first for upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, rec.ID); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeVectorDatabaseFailure, "deleting existing vector %s", rec.ID)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vectors(id, embedding) VALUES (?, ?)`, rec.ID, blob); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeVectorDatabaseFailure, "inserting vector %s", rec.ID)
	}

	const recQ = `INSERT INTO vector_records(id, text, tenant, timestamp, node_name, metadata)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	text = excluded.text,
	tenant = excluded.tenant,
	timestamp = excluded.timestamp,
	node_name = excluded.node_name,
	metadata = excluded.metadata`
	if _, err := tx.ExecContext(ctx, recQ,
		rec.ID, rec.Text, rec.Tenant, rec.Timestamp, rec.NodeName, rec.Metadata); err != nil {
		return engramerr.Wrapf(err, engramerr.CodeVectorDatabaseFailure, "upserting vector record %s", rec.ID)
	}

	if err := tx.Commit(); err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "committing vector upsert")
	}
	return nil
}

// Search performs a k-nearest-neighbor search post-filtered by tenant
// (and timestamp window when set). The raw candidate pool is
// oversampled so the filter rarely starves the result set.
func (v *VectorStore) Search(ctx context.Context, query []float32, k int, filter store.VectorFilter) ([]store.VectorHit, error) {
	if filter.Tenant == "" {
		return nil, engramerr.New(engramerr.CodeVectorBackendInvalid, "vector search requires a tenant")
	}
	if k <= 0 {
		k = 5
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "serializing query vector")
	}

	since := filter.SinceUnix
	until := filter.UntilUnix
	if until == 0 {
		until = math.MaxInt64
	}

	const q = `
SELECT c.id, c.distance, r.text, r.tenant, r.timestamp, r.node_name, r.metadata
FROM (SELECT id, distance FROM vectors WHERE embedding MATCH ? AND k = ?) c
JOIN vector_records r ON r.id = c.id
WHERE r.tenant = ? AND r.timestamp BETWEEN ? AND ?
ORDER BY c.distance
LIMIT ?`

	rows, err := v.db.QueryContext(ctx, q, blob, k*searchOversample, filter.Tenant, since, until, k)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	var hits []store.VectorHit
	for rows.Next() {
		var h store.VectorHit
		if err := rows.Scan(&h.Record.ID, &h.Distance, &h.Record.Text, &h.Record.Tenant,
			&h.Record.Timestamp, &h.Record.NodeName, &h.Record.Metadata); err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "scanning vector hit")
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "iterating vector hits")
	}

	return hits, nil
}

// Get returns the record for an ID without its embedding (the vec0
// table is write/search-only in this store), or nil when absent.
func (v *VectorStore) Get(ctx context.Context, id string) (*store.VectorRecord, error) {
	row := v.db.QueryRowContext(ctx,
		`SELECT id, text, tenant, timestamp, node_name, metadata FROM vector_records WHERE id = ?`, id)

	var rec store.VectorRecord
	if err := row.Scan(&rec.ID, &rec.Text, &rec.Tenant, &rec.Timestamp, &rec.NodeName, &rec.Metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, engramerr.Wrapf(err, engramerr.CodeVectorDatabaseFailure, "getting vector record %s", id)
	}
	return &rec, nil
}

// Delete removes vectors and their records by ID. Missing IDs are a
// no-op, which keeps compensations idempotent.
func (v *VectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "beginning vector delete")
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "deleting vectors")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_records WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "deleting vector records")
	}

	if err := tx.Commit(); err != nil {
		return engramerr.Wrap(err, engramerr.CodeVectorDatabaseFailure, "committing vector delete")
	}
	return nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}
