// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package server exposes the memory engine as MCP tools over stdio.
// Every call passes the per-tenant rate limiter, then validation, then
// dispatch; failures render through the user-facing error formatter.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/engram-dev/engram/internal/memory"
	engramerr "github.com/engram-dev/engram/pkg/errors"
)

// Server wires the memory manager to the MCP tool surface.
type Server struct {
	mcp     *mcpserver.MCPServer
	manager *memory.Manager
	limiter *RateLimiter
	logger  *slog.Logger
}

// Config tunes the tool surface.
type Config struct {
	Name       string
	Version    string
	RateLimit  int
	RateWindow int64 // milliseconds; zero uses the default window
}

// New creates the MCP server and registers the memory tools.
func New(manager *memory.Manager, cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "engram"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	windowLen := DefaultRateWindow
	if cfg.RateWindow > 0 {
		windowLen = time.Duration(cfg.RateWindow) * time.Millisecond
	}

	s := &Server{
		mcp: mcpserver.NewMCPServer(
			cfg.Name,
			cfg.Version,
			mcpserver.WithLogging(),
		),
		manager: manager,
		limiter: NewRateLimiter(cfg.RateLimit, windowLen),
		logger:  slog.Default(),
	}

	s.registerTools()
	return s
}

// ServeStdio blocks serving the tool protocol on stdin/stdout.
func (s *Server) ServeStdio() error {
	if err := mcpserver.ServeStdio(s.mcp); err != nil {
		return engramerr.Wrap(err, engramerr.CodeServerStartFailure, "serving stdio")
	}
	return nil
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("add_memory",
		mcp.WithDescription("Store a memory; returns the generated node name immediately while AI processing continues in the background"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Free-form text to remember (max 50000 chars)")),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant partition for the memory")),
		mcp.WithString("metadata_json", mcp.Description("Optional JSON object of string metadata")),
	), s.handleAddMemory)

	s.mcp.AddTool(mcp.NewTool("search_memory",
		mcp.WithDescription("Semantic search over stored memories with 1-hop graph context"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text (max 1000 chars)")),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant to search")),
	), s.handleSearchMemory)

	s.mcp.AddTool(mcp.NewTool("read_graph",
		mcp.WithDescription("Read a page of the tenant's knowledge graph"),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant to read")),
		mcp.WithNumber("limit", mcp.Description("Page size, 1-500 (default 100)")),
		mcp.WithNumber("offset", mcp.Description("Page offset (default 0)")),
	), s.handleReadGraph)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Keyword scan over node names, content, and types"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Substring to match")),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant to search")),
	), s.handleSearchNodes)

	s.mcp.AddTool(mcp.NewTool("hybrid_search",
		mcp.WithDescription("Semantic search with multi-hop graph expansion and an optional synthesized summary"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text (max 1000 chars)")),
		mcp.WithString("tenant", mcp.Required(), mcp.Description("Tenant to search")),
		mcp.WithNumber("depth", mcp.Description("Graph expansion depth, 1-3 (default 1)")),
	), s.handleHybridSearch)
}

// gate applies rate limiting for a tenant argument.
func (s *Server) gate(tenant string) error {
	return s.limiter.Allow(tenant)
}

func stringArg(req mcp.CallToolRequest, key string) string {
	v, _ := req.Params.Arguments[key].(string)
	return v
}

func intArg(req mcp.CallToolRequest, key string, fallback int) int {
	v, ok := req.Params.Arguments[key].(float64)
	if !ok {
		return fallback
	}
	return int(v)
}

// fail renders an error as a tool result: code, message, suggestion.
func fail(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(engramerr.UserMessage(err))
}

func (s *Server) handleAddMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := stringArg(req, "tenant")
	if err := s.gate(tenant); err != nil {
		return fail(err), nil
	}

	var metadata map[string]string
	if raw := stringArg(req, "metadata_json"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return fail(engramerr.Wrap(err, engramerr.CodeValidateInputInvalid,
				"metadata_json must be a JSON object of strings")), nil
		}
	}

	name, err := s.manager.AddMemory(ctx, stringArg(req, "text"), tenant, metadata)
	if err != nil {
		return fail(err), nil
	}

	return mcp.NewToolResultText(name), nil
}

func (s *Server) handleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := stringArg(req, "tenant")
	if err := s.gate(tenant); err != nil {
		return fail(err), nil
	}

	results, err := s.manager.Search(ctx, stringArg(req, "query"), tenant)
	if err != nil {
		return fail(err), nil
	}
	return jsonResult(results)
}

func (s *Server) handleReadGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := stringArg(req, "tenant")
	if err := s.gate(tenant); err != nil {
		return fail(err), nil
	}

	graph, err := s.manager.ReadGraph(ctx, tenant,
		intArg(req, "limit", 100), intArg(req, "offset", 0))
	if err != nil {
		return fail(err), nil
	}
	return jsonResult(graph)
}

func (s *Server) handleSearchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := stringArg(req, "tenant")
	if err := s.gate(tenant); err != nil {
		return fail(err), nil
	}

	graph, err := s.manager.SearchNodes(ctx, stringArg(req, "query"), tenant)
	if err != nil {
		return fail(err), nil
	}
	return jsonResult(graph)
}

func (s *Server) handleHybridSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenant := stringArg(req, "tenant")
	if err := s.gate(tenant); err != nil {
		return fail(err), nil
	}

	depth := intArg(req, "depth", 1)
	if depth < 1 || depth > memory.MaxHybridDepth {
		return fail(engramerr.Errorf(engramerr.CodeValidateInputInvalid,
			"depth must be in [1, %d] (got %d)", memory.MaxHybridDepth, depth)), nil
	}

	out, err := s.manager.HybridSearch(ctx, stringArg(req, "query"), tenant, depth)
	if err != nil {
		return fail(err), nil
	}
	return jsonResult(out)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return fail(engramerr.Wrap(err, engramerr.CodeInternalFailure, "encoding result")), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}
