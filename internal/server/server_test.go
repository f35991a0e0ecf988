// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package server_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-dev/engram/internal/embed"
	"github.com/engram-dev/engram/internal/extract"
	"github.com/engram-dev/engram/internal/memory"
	"github.com/engram-dev/engram/internal/server"
	"github.com/engram-dev/engram/internal/store"
	"github.com/engram-dev/engram/internal/store/sqlite"
	"github.com/engram-dev/engram/internal/txn"
)

type noopExtractor struct{}

func (noopExtractor) Extract(context.Context, string) (*extract.Extraction, error) {
	return &extract.Extraction{}, nil
}

func newServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()

	dir, err := os.MkdirTemp("", "engram-server-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	graph, err := sqlite.NewGraphStore(filepath.Join(dir, "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = graph.Close() })

	vectors, err := sqlite.NewVectorStore(filepath.Join(dir, "vectors.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	mgr, err := memory.NewManager(memory.Deps{
		Graph:     graph,
		Queries:   sqlite.NewQueryEngine(graph),
		Vectors:   vectors,
		Embedder:  embed.NewMockEmbedder(8),
		Extractor: noopExtractor{},
		Txn:       txn.NewManager(graph.DB()),
	}, memory.Config{Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	return server.New(mgr, cfg)
}

func request(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestHandleAddMemory(t *testing.T) {
	s := newServer(t, server.Config{})
	ctx := context.Background()

	res, err := s.HandleAddMemory(ctx, request(map[string]any{
		"text":   "Alice uses TypeScript.",
		"tenant": "u1",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Regexp(t, `^mem-[0-9a-f]{8}$`, resultText(t, res))
}

func TestHandleAddMemory_InvalidMetadata(t *testing.T) {
	s := newServer(t, server.Config{})

	res, err := s.HandleAddMemory(context.Background(), request(map[string]any{
		"text":          "content",
		"tenant":        "u1",
		"metadata_json": "not json",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleAddMemory_MissingTenant(t *testing.T) {
	s := newServer(t, server.Config{})

	res, err := s.HandleAddMemory(context.Background(), request(map[string]any{
		"text": "content",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "validate.tenant.invalid_input")
}

func TestHandleReadGraph_ReturnsJSON(t *testing.T) {
	s := newServer(t, server.Config{})
	ctx := context.Background()

	_, err := s.HandleAddMemory(ctx, request(map[string]any{
		"text": "something to remember", "tenant": "u1",
	}))
	require.NoError(t, err)

	res, err := s.HandleReadGraph(ctx, request(map[string]any{
		"tenant": "u1", "limit": float64(10),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var graph store.Graph
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &graph))
	assert.Len(t, graph.Nodes, 1)
}

func TestHandleReadGraph_LimitBounds(t *testing.T) {
	s := newServer(t, server.Config{})

	res, err := s.HandleReadGraph(context.Background(), request(map[string]any{
		"tenant": "u1", "limit": float64(501),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleHybridSearch_DepthBounds(t *testing.T) {
	s := newServer(t, server.Config{})

	res, err := s.HandleHybridSearch(context.Background(), request(map[string]any{
		"query": "q", "tenant": "u1", "depth": float64(4),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestHandleSearchNodes(t *testing.T) {
	s := newServer(t, server.Config{})
	ctx := context.Background()

	_, err := s.HandleAddMemory(ctx, request(map[string]any{
		"text": "Alice uses TypeScript.", "tenant": "u1",
	}))
	require.NoError(t, err)

	res, err := s.HandleSearchNodes(ctx, request(map[string]any{
		"query": "TypeScript", "tenant": "u1",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var graph store.Graph
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &graph))
	assert.Len(t, graph.Nodes, 1)
}

func TestRateLimit_AppliedPerTenant(t *testing.T) {
	s := newServer(t, server.Config{RateLimit: 2, RateWindow: 60000})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := s.HandleSearchNodes(ctx, request(map[string]any{
			"query": "x", "tenant": "u1",
		}))
		require.NoError(t, err)
		assert.False(t, res.IsError)
	}

	res, err := s.HandleSearchNodes(ctx, request(map[string]any{
		"query": "x", "tenant": "u1",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "server.ratelimit.budget_exceeded")

	// Another tenant still passes.
	other, err := s.HandleSearchNodes(ctx, request(map[string]any{
		"query": "x", "tenant": "u2",
	}))
	require.NoError(t, err)
	assert.False(t, other.IsError)
}
