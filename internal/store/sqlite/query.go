// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/engram-dev/engram/internal/store"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// searchNodesCap bounds keyword-scan result sets.
const searchNodesCap = 50

// QueryEngine answers graph traversal and scan queries. Every read is
// scoped to one tenant; start names, tenants, and depths are always
// bound as parameters, never interpolated.
type QueryEngine struct {
	graph *GraphStore
}

// NewQueryEngine creates a query engine over the graph store.
func NewQueryEngine(graph *GraphStore) *QueryEngine {
	return &QueryEngine{graph: graph}
}

// Subgraph expands outgoing edges from the node named start, bounded by
// maxDepth. The visited path is kept as a comma-framed id string
// (",1,5,11,"): a candidate is admitted iff its framed id is absent.
// Raw concatenation would falsely reject id 11 when 1 was visited; the
// framing is a correctness requirement, not a style choice.
func (qe *QueryEngine) Subgraph(ctx context.Context, start, tenant string, maxDepth int) (*store.Graph, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	const q = `
WITH RECURSIVE walk(id, depth, path) AS (
	SELECT n.id, 0, ',' || n.id || ','
	FROM nodes n WHERE n.name = ? AND n.tenant = ?
	UNION ALL
	SELECT e.target_id, w.depth + 1, w.path || e.target_id || ','
	FROM walk w
	JOIN edges e ON e.source_id = w.id AND e.tenant = ?
	WHERE w.depth < ?
		AND instr(w.path, ',' || e.target_id || ',') = 0
)
SELECT DISTINCT id FROM walk`

	ids, err := qe.collectIDs(ctx, q, start, tenant, tenant, maxDepth)
	if err != nil {
		return nil, err
	}
	return qe.hydrate(ctx, tenant, ids)
}

// DeepContext is the bidirectional variant of Subgraph: edges are
// followed regardless of direction, for cases where inbound context
// matters as much as outbound.
func (qe *QueryEngine) DeepContext(ctx context.Context, start, tenant string, maxDepth int) (*store.Graph, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	const q = `
WITH RECURSIVE walk(id, depth, path) AS (
	SELECT n.id, 0, ',' || n.id || ','
	FROM nodes n WHERE n.name = ? AND n.tenant = ?
	UNION ALL
	SELECT CASE WHEN e.source_id = w.id THEN e.target_id ELSE e.source_id END,
		w.depth + 1,
		w.path || (CASE WHEN e.source_id = w.id THEN e.target_id ELSE e.source_id END) || ','
	FROM walk w
	JOIN edges e ON (e.source_id = w.id OR e.target_id = w.id) AND e.tenant = ?
	WHERE w.depth < ?
		AND instr(w.path, ',' || (CASE WHEN e.source_id = w.id THEN e.target_id ELSE e.source_id END) || ',') = 0
)
SELECT DISTINCT id FROM walk`

	ids, err := qe.collectIDs(ctx, q, start, tenant, tenant, maxDepth)
	if err != nil {
		return nil, err
	}
	return qe.hydrate(ctx, tenant, ids)
}

// FindPath returns the shallowest outgoing-edge path from start to end,
// or nil when none exists within maxDepth. The cycle check here matches
// candidate names as substrings of the rendered path, which also
// rejects names that are substrings of visited names; acceptable for
// the short paths this serves, and the id-framed traversals above are
// exact. Same start and end returns a depth-0 path.
func (qe *QueryEngine) FindPath(ctx context.Context, start, end, tenant string, maxDepth int) (*store.PathResult, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}

	const q = `
WITH RECURSIVE walk(id, name, depth, path) AS (
	SELECT n.id, n.name, 0, n.name
	FROM nodes n WHERE n.name = ? AND n.tenant = ?
	UNION ALL
	SELECT m.id, m.name, w.depth + 1, w.path || ' -> ' || m.name
	FROM walk w
	JOIN edges e ON e.source_id = w.id AND e.tenant = ?
	JOIN nodes m ON m.id = e.target_id
	WHERE w.depth < ? AND instr(w.path, m.name) = 0
)
SELECT path, depth FROM walk WHERE name = ? ORDER BY depth LIMIT 1`

	row := qe.graph.q(ctx).QueryRowContext(ctx, q, start, tenant, tenant, maxDepth, end)

	var result store.PathResult
	if err := row.Scan(&result.Path, &result.Depth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "finding path")
	}
	return &result, nil
}

// SearchNodes scans name, content, and type for the query substring,
// capped at 50 hits, with the edges connecting them. The pattern is
// bound as a parameter, so metacharacters in query are inert.
func (qe *QueryEngine) SearchNodes(ctx context.Context, query, tenant string) (*store.Graph, error) {
	pattern := "%" + query + "%"

	rows, err := qe.graph.q(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes
WHERE tenant = ? AND (name LIKE ? OR content LIKE ? OR type LIKE ?)
ORDER BY id LIMIT ?`,
		tenant, pattern, pattern, pattern, searchNodesCap)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "searching nodes")
	}
	defer func() { _ = rows.Close() }()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	edges, err := qe.edgesAmong(ctx, tenant, nodeIDs(nodes))
	if err != nil {
		return nil, err
	}
	return &store.Graph{Nodes: nodes, Edges: edges}, nil
}

// ReadGraph returns one page of a tenant's nodes with the edges whose
// endpoints both fall inside the page.
func (qe *QueryEngine) ReadGraph(ctx context.Context, tenant string, limit, offset int) (*store.Graph, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := qe.graph.q(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE tenant = ? ORDER BY id LIMIT ? OFFSET ?`,
		tenant, limit, offset)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "reading graph page")
	}
	defer func() { _ = rows.Close() }()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	edges, err := qe.edgesAmong(ctx, tenant, nodeIDs(nodes))
	if err != nil {
		return nil, err
	}
	return &store.Graph{Nodes: nodes, Edges: edges}, nil
}

// collectIDs runs a traversal query returning one id column.
func (qe *QueryEngine) collectIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := qe.graph.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "traversing graph")
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "scanning traversal id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "iterating traversal ids")
	}
	return ids, nil
}

// hydrate loads full nodes for the id set plus the edges connecting
// them.
func (qe *QueryEngine) hydrate(ctx context.Context, tenant string, ids []int64) (*store.Graph, error) {
	if len(ids) == 0 {
		return &store.Graph{}, nil
	}

	placeholders, args := idArgs(ids)
	args = append([]any{tenant}, args...)

	rows, err := qe.graph.q(ctx).QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE tenant = ? AND id IN (`+placeholders+`) ORDER BY id`,
		args...)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "hydrating subgraph nodes")
	}
	defer func() { _ = rows.Close() }()

	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}

	edges, err := qe.edgesAmong(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}
	return &store.Graph{Nodes: nodes, Edges: edges}, nil
}

// edgesAmong returns the edges whose endpoints are both in the id set.
func (qe *QueryEngine) edgesAmong(ctx context.Context, tenant string, ids []int64) ([]*store.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders, idArgsList := idArgs(ids)

	args := make([]any, 0, 1+2*len(ids))
	args = append(args, tenant)
	args = append(args, idArgsList...)
	args = append(args, idArgsList...)

	rows, err := qe.graph.q(ctx).QueryContext(ctx,
		`SELECT id, source_id, target_id, type, weight, tenant, metadata, created_at
FROM edges
WHERE tenant = ? AND source_id IN (`+placeholders+`) AND target_id IN (`+placeholders+`)
ORDER BY id`,
		args...)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "loading connecting edges")
	}
	defer func() { _ = rows.Close() }()

	var edges []*store.Edge
	for rows.Next() {
		var e store.Edge
		var meta string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type, &e.Weight,
			&e.Tenant, &meta, &e.CreatedAt); err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "scanning edge")
		}
		e.Metadata = unmarshalMeta(meta)
		edges = append(edges, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "iterating edges")
	}
	return edges, nil
}

func scanNodes(rows *sql.Rows) ([]*store.Node, error) {
	var nodes []*store.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "scanning node")
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeGraphQueryFailure, "iterating nodes")
	}
	return nodes, nil
}

func nodeIDs(nodes []*store.Node) []int64 {
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// idArgs builds a placeholder list and args for an integer IN clause.
// Only typed int64 values are ever interpolated as parameters here.
func idArgs(ids []int64) (string, []any) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return placeholders, args
}
