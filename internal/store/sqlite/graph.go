// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package sqlite implements the engram graph and vector stores on
// SQLite (mattn/go-sqlite3, with sqlite-vec for the vector table).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/txn"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// GraphStore persists nodes, edges, and audit events. All methods join
// an active transaction when the context carries one (txn.Manager);
// otherwise they run directly against the database.
type GraphStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewGraphStore opens (or creates) the graph database at dbPath with
// WAL journaling and foreign-key enforcement, and applies the schema.
func NewGraphStore(dbPath string) (*GraphStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "opening graph db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "pinging graph db")
	}

	if err := migrateGraph(db); err != nil {
		_ = db.Close()
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "migrating graph tables")
	}

	return &GraphStore{db: db, logger: slog.Default()}, nil
}

func migrateGraph(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS nodes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'concept',
	content      TEXT NOT NULL DEFAULT '',
	tenant       TEXT NOT NULL,
	embedding_id TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL DEFAULT 'READY',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	UNIQUE(name, tenant)
);

CREATE TABLE IF NOT EXISTS edges (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id  INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	target_id  INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	type       TEXT NOT NULL DEFAULT 'related_to',
	weight     REAL NOT NULL DEFAULT 1.0,
	tenant     TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	tenant      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_tenant ON nodes(tenant);
CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_nodes_embedding ON nodes(embedding_id, tenant);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_tenant ON edges(tenant);
CREATE INDEX IF NOT EXISTS idx_events_tenant ON memory_events(tenant, created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// DB exposes the underlying handle for the transaction manager.
func (g *GraphStore) DB() *sql.DB { return g.db }

// Close closes the underlying database connection.
func (g *GraphStore) Close() error { return g.db.Close() }

func (g *GraphStore) q(ctx context.Context) txn.Querier {
	return txn.QuerierFrom(ctx, g.db)
}

func nowUnix() int64 { return time.Now().Unix() }

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func marshalMeta(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalMeta(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		slog.Warn("skipping corrupt metadata", "error", err)
		return nil
	}
	return m
}

const nodeColumns = `id, name, type, content, tenant, embedding_id, metadata, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*store.Node, error) {
	var n store.Node
	var meta string
	if err := row.Scan(&n.ID, &n.Name, &n.Type, &n.Content, &n.Tenant,
		&n.EmbeddingID, &meta, &n.Status, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	n.Metadata = unmarshalMeta(meta)
	return &n, nil
}

// CreateNode inserts a node, assigning ID and timestamps. A duplicate
// (name, tenant) surfaces as a conflict error.
func (g *GraphStore) CreateNode(ctx context.Context, n *store.Node) error {
	if n.Type == "" {
		n.Type = "concept"
	}
	if n.Status == "" {
		n.Status = store.NodeStatusReady
	}
	if !n.Status.Valid() {
		return engramerr.Errorf(engramerr.CodeValidateInputInvalid, "invalid node status %q", n.Status)
	}

	meta, err := marshalMeta(n.Metadata)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "marshalling node metadata")
	}

	now := nowUnix()
	const q = `INSERT INTO nodes (name, type, content, tenant, embedding_id, metadata, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := g.q(ctx).ExecContext(ctx, q,
		n.Name, n.Type, n.Content, n.Tenant, n.EmbeddingID, meta, n.Status, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return engramerr.Wrap(err, engramerr.CodeGraphCreateConflict,
				"node already exists", engramerr.FieldNode(n.Name), engramerr.FieldTenant(n.Tenant))
		}
		return engramerr.Wrapf(err, engramerr.CodeGraphDatabaseFailure, "inserting node %s", n.Name)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "reading node id")
	}
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now
	return nil
}

// GetNode returns the node named name within tenant.
func (g *GraphStore) GetNode(ctx context.Context, name, tenant string) (*store.Node, error) {
	row := g.q(ctx).QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE name = ? AND tenant = ?`, name, tenant)

	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engramerr.New(engramerr.CodeGraphNodeNotFound,
				"node not found", engramerr.FieldNode(name), engramerr.FieldTenant(tenant))
		}
		return nil, engramerr.Wrapf(err, engramerr.CodeGraphDatabaseFailure, "getting node %s", name)
	}
	return n, nil
}

// GetNodeByEmbeddingID resolves a graph node from a vector handle.
func (g *GraphStore) GetNodeByEmbeddingID(ctx context.Context, embeddingID, tenant string) (*store.Node, error) {
	row := g.q(ctx).QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE embedding_id = ? AND tenant = ?`, embeddingID, tenant)

	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engramerr.New(engramerr.CodeGraphNodeNotFound,
				"no node for embedding", engramerr.FieldVector(embeddingID), engramerr.FieldTenant(tenant))
		}
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "getting node by embedding id")
	}
	return n, nil
}

// GetOrCreateNode returns the existing node or creates a READY node of
// the given type. Concurrent creators race on the unique index; the
// loser treats the violation as "another task won" and retries with a
// read.
func (g *GraphStore) GetOrCreateNode(ctx context.Context, name, nodeType, tenant string) (*store.Node, error) {
	n, err := g.GetNode(ctx, name, tenant)
	if err == nil {
		return n, nil
	}
	if !engramerr.IsNotFound(err) {
		return nil, err
	}

	created := &store.Node{Name: name, Type: nodeType, Tenant: tenant, Status: store.NodeStatusReady}
	if err := g.CreateNode(ctx, created); err != nil {
		if engramerr.IsConflict(err) {
			return g.GetNode(ctx, name, tenant)
		}
		return nil, err
	}
	return created, nil
}

// SetNodeStatus transitions a node's lifecycle state and touches
// updated_at.
func (g *GraphStore) SetNodeStatus(ctx context.Context, name, tenant string, status store.NodeStatus) error {
	if !status.Valid() {
		return engramerr.Errorf(engramerr.CodeValidateInputInvalid, "invalid node status %q", status)
	}

	res, err := g.q(ctx).ExecContext(ctx,
		`UPDATE nodes SET status = ?, updated_at = ? WHERE name = ? AND tenant = ?`,
		status, nowUnix(), name, tenant)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeGraphDatabaseFailure, "updating node %s status", name)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "reading affected rows")
	}
	if affected == 0 {
		return engramerr.New(engramerr.CodeGraphNodeNotFound,
			"node not found", engramerr.FieldNode(name), engramerr.FieldTenant(tenant))
	}
	return nil
}

// ListStalePending returns PENDING nodes whose updated_at is strictly
// older than the cutoff, across all tenants. Used by the recovery sweep.
func (g *GraphStore) ListStalePending(ctx context.Context, olderThanUnix int64) ([]*store.Node, error) {
	rows, err := g.q(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE status = ? AND updated_at < ?`,
		store.NodeStatusPending, olderThanUnix)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "listing stale pending nodes")
	}
	defer func() { _ = rows.Close() }()

	var nodes []*store.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "scanning stale node")
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "iterating stale nodes")
	}
	return nodes, nil
}

// MarkNodeFailed flips a node to FAILED with a recovery note in its
// metadata and a fresh updated_at.
func (g *GraphStore) MarkNodeFailed(ctx context.Context, id int64, note string) error {
	row := g.q(ctx).QueryRowContext(ctx, `SELECT metadata FROM nodes WHERE id = ?`, id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engramerr.Errorf(engramerr.CodeGraphNodeNotFound, "node %d not found", id)
		}
		return engramerr.Wrapf(err, engramerr.CodeGraphDatabaseFailure, "reading node %d metadata", id)
	}

	meta := unmarshalMeta(raw)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["recovery_note"] = note
	encoded, err := marshalMeta(meta)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "marshalling recovery metadata")
	}

	_, err = g.q(ctx).ExecContext(ctx,
		`UPDATE nodes SET status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		store.NodeStatusFailed, encoded, nowUnix(), id)
	if err != nil {
		return engramerr.Wrapf(err, engramerr.CodeGraphDatabaseFailure, "marking node %d failed", id)
	}
	return nil
}

// CreateEdge inserts a directed edge. Self-loops are rejected, and both
// endpoints must exist in the edge's tenant (extraction races could
// otherwise pair nodes across tenants).
func (g *GraphStore) CreateEdge(ctx context.Context, e *store.Edge) error {
	if e.SourceID == e.TargetID {
		return engramerr.New(engramerr.CodeValidateInputInvalid, "edge endpoints must differ")
	}
	if e.Type == "" {
		e.Type = "related_to"
	}
	e.Type = strings.ToLower(e.Type)
	if e.Weight == 0 {
		e.Weight = 1.0
	}

	var count int
	err := g.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE id IN (?, ?) AND tenant = ?`,
		e.SourceID, e.TargetID, e.Tenant).Scan(&count)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "checking edge endpoints")
	}
	if count != 2 {
		return engramerr.New(engramerr.CodeValidateInputInvalid,
			"edge endpoints must both exist in the edge tenant", engramerr.FieldTenant(e.Tenant))
	}

	meta, err := marshalMeta(e.Metadata)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "marshalling edge metadata")
	}

	now := nowUnix()
	res, err := g.q(ctx).ExecContext(ctx,
		`INSERT INTO edges (source_id, target_id, type, weight, tenant, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.SourceID, e.TargetID, e.Type, e.Weight, e.Tenant, meta, now)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "inserting edge")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "reading edge id")
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}

// AppendEvent records an append-only audit entry.
func (g *GraphStore) AppendEvent(ctx context.Context, ev *store.MemoryEvent) error {
	meta, err := marshalMeta(ev.Metadata)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "marshalling event metadata")
	}

	now := nowUnix()
	res, err := g.q(ctx).ExecContext(ctx,
		`INSERT INTO memory_events (type, description, metadata, tenant, created_at)
VALUES (?, ?, ?, ?, ?)`,
		ev.Type, ev.Description, meta, ev.Tenant, now)
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "appending event")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "reading event id")
	}
	ev.ID = id
	ev.CreatedAt = now
	return nil
}

// ListEvents returns the newest events for a tenant.
func (g *GraphStore) ListEvents(ctx context.Context, tenant string, limit int) ([]*store.MemoryEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := g.q(ctx).QueryContext(ctx,
		`SELECT id, type, description, metadata, tenant, created_at
FROM memory_events WHERE tenant = ? ORDER BY created_at DESC, id DESC LIMIT ?`, tenant, limit)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "listing events")
	}
	defer func() { _ = rows.Close() }()

	var events []*store.MemoryEvent
	for rows.Next() {
		var ev store.MemoryEvent
		var meta string
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Description, &meta, &ev.Tenant, &ev.CreatedAt); err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "scanning event")
		}
		ev.Metadata = unmarshalMeta(meta)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "iterating events")
	}
	return events, nil
}

// PurgeTenant deletes a tenant's nodes; edges go with them via cascade.
// Audit events are retained. Returns the IDs of the tenant's vector
// handles so the caller can clean the vector side.
func (g *GraphStore) PurgeTenant(ctx context.Context, tenant string) ([]string, error) {
	rows, err := g.q(ctx).QueryContext(ctx,
		`SELECT embedding_id FROM nodes WHERE tenant = ? AND embedding_id != ''`, tenant)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "listing tenant vectors")
	}
	defer func() { _ = rows.Close() }()

	var vectorIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "scanning vector id")
		}
		vectorIDs = append(vectorIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphDatabaseFailure, "iterating vector ids")
	}

	if _, err := g.q(ctx).ExecContext(ctx, `DELETE FROM nodes WHERE tenant = ?`, tenant); err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeGraphDatabaseFailure, "purging tenant %s", tenant)
	}
	return vectorIDs, nil
}
