// Package mcpserver exposes the FAQ search tool over the Model Context
// Protocol so external assistants can query the index without the agent loop.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/faqgent/faqgent/internal/agent"
)

// Server wraps the MCP SDK server around the FAQ search tool.
type Server struct {
	mcpServer *mcp.Server
	tool      *agent.SearchTool
	logger    *slog.Logger
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Tool    *agent.SearchTool
	Logger  *slog.Logger
}

// NewServer creates an MCP server with the search_faq tool registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Tool == nil {
		return nil, fmt.Errorf("search tool is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		tool:   cfg.Tool,
		logger: cfg.Logger,
	}

	if err := s.registerSearchFAQ(); err != nil {
		return nil, fmt.Errorf("registering search_faq: %w", err)
	}

	return s, nil
}

// Run serves MCP protocol traffic on the given transport. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// SearchFAQInput defines the input schema for the search_faq tool.
type SearchFAQInput struct {
	Query string `json:"query" jsonschema:"The search query string"`
}

// registerSearchFAQ registers the search_faq tool.
// The handler builds the MCP response inline, like net/http.Handler: the
// same envelope the in-process agent sees is rendered as text content, and
// tool-level failures surface as IsError results, never transport errors.
func (s *Server) registerSearchFAQ() error {
	inputSchema, err := jsonschema.For[SearchFAQInput](nil)
	if err != nil {
		return fmt.Errorf("building input schema: %w", err)
	}

	tool := &mcp.Tool{
		Name: agent.SearchToolName,
		Description: "Search the course FAQ for questions similar to the query. " +
			"Results carry the matching FAQ excerpt, a relevance score, and a source link.",
		InputSchema: inputSchema,
	}

	mcp.AddTool(s.mcpServer, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in SearchFAQInput) (*mcp.CallToolResult, any, error) {
		res, err := s.tool.Handle(&ai.ToolContext{Context: ctx}, agent.SearchInput{Query: in.Query})
		if err != nil {
			// The handler contract keeps Go errors nil; anything else is a bug.
			return nil, nil, fmt.Errorf("system error: %w", err)
		}

		payload, err := json.Marshal(res)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding result: %w", err)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
			IsError: res.Status == agent.StatusError,
		}, nil, nil
	})

	return nil
}
