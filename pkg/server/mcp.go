// Copyright 2025 The schemaseek Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/schemaseek/schemaseek/pkg/retrieval"
	"github.com/schemaseek/schemaseek/pkg/state"
)

// mcpHandler exposes the ask pipeline and site listing as MCP tools over
// streamable HTTP.
func (s *Server) mcpHandler() http.Handler {
	srv := mcpserver.NewMCPServer(
		"schemaseek",
		s.version,
		mcpserver.WithToolCapabilities(false),
	)

	srv.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Answer a natural-language question over schema.org-annotated content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The question to answer")),
		mcp.WithString("site", mcp.Description("Site to query; omit or 'all' for every site")),
		mcp.WithString("generate_mode", mcp.Description("Response style: list, summarize, generate, or none")),
		mcp.WithString("prev", mcp.Description("Comma-separated previous queries in this conversation")),
		mcp.WithString("context_url", mcp.Description("URL of the item the question refers to")),
	), s.handleMCPAsk)

	srv.AddTool(mcp.NewTool("list_sites",
		mcp.WithDescription("List the sites this server can answer questions about."),
	), s.handleMCPListSites)

	return mcpserver.NewStreamableHTTPServer(srv, mcpserver.WithStateLess(true))
}

// handleMCPAsk runs the pipeline synchronously and returns the collected
// messages as one JSON document.
func (s *Server) handleMCPAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	mode := state.GenerateMode(request.GetString("generate_mode", string(state.ModeList)))
	switch mode {
	case state.ModeNone, state.ModeList, state.ModeSummarize, state.ModeGenerate:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid generate_mode %q", mode)), nil
	}

	req := state.Request{
		Query:        query,
		Site:         retrieval.NormalizeSite(request.GetString("site", "")),
		GenerateMode: mode,
		QueryID:      uuid.NewString(),
		ContextURL:   request.GetString("context_url", ""),
		PrevQueries:  parsePrev([]string{request.GetString("prev", "")}),
	}

	st := state.New(req)
	collector := &collectEmitter{}
	s.pipeline.Run(ctx, st, collector)

	payload, err := json.Marshal(map[string]any{
		"query_id": req.QueryID,
		"messages": collector.messages(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ask result: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleMCPListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(map[string]any{
		"sites": s.retriever.GetSites(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode site list: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}
