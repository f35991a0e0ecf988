// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handler hooks for tests, which exercise the tool handlers without a
// stdio transport.
func (s *Server) HandleAddMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleAddMemory(ctx, req)
}

func (s *Server) HandleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleSearchMemory(ctx, req)
}

func (s *Server) HandleReadGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleReadGraph(ctx, req)
}

func (s *Server) HandleSearchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleSearchNodes(ctx, req)
}

func (s *Server) HandleHybridSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleHybridSearch(ctx, req)
}
