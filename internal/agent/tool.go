package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/faqgent/faqgent/internal/index"
)

// SearchToolName is the Genkit tool name for FAQ retrieval.
const SearchToolName = "search_faq"

// resultCap is the fixed number of search results handed to the model.
// Callers cannot raise it per call: more snippets past five add prompt
// tokens without improving answers.
const resultCap = 5

// SearchInput is the model-facing input schema for search_faq.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query string"`
}

// SearchTool adapts an index.Searcher for model tool calls.
// The active searcher can be swapped at runtime (index rebuild) without
// re-registering the tool.
type SearchTool struct {
	searcher atomic.Pointer[searcherBox]
	logger   *slog.Logger
}

// searcherBox wraps the interface so it fits in an atomic.Pointer.
type searcherBox struct {
	s index.Searcher
}

// NewSearchTool creates a SearchTool backed by idx.
func NewSearchTool(idx index.Searcher, logger *slog.Logger) (*SearchTool, error) {
	if idx == nil {
		return nil, errors.New("searcher is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	t := &SearchTool{logger: logger}
	t.searcher.Store(&searcherBox{s: idx})
	return t, nil
}

// Swap replaces the active searcher. Concurrent searches see the old or the
// new index, never a partial one.
func (t *SearchTool) Swap(idx index.Searcher) {
	t.searcher.Store(&searcherBox{s: idx})
}

// Search queries the active index with the fixed result cap.
func (t *SearchTool) Search(ctx context.Context, query string) ([]index.SearchResult, error) {
	return t.searcher.Load().s.Search(ctx, query, resultCap)
}

// Handle is the Genkit handler for search_faq. Failures are returned inside
// the Result envelope with a nil Go error so the model can recover.
func (t *SearchTool) Handle(ctx *ai.ToolContext, input SearchInput) (Result, error) {
	t.logger.Info("search_faq called", "query", input.Query)

	if strings.TrimSpace(input.Query) == "" {
		return Result{
			Status: StatusError,
			Error: &Error{
				Code:    ErrCodeValidation,
				Message: "query is required",
			},
		}, nil
	}

	results, err := t.Search(ctx, input.Query)
	if err != nil {
		t.logger.Warn("search_faq failed", "query", input.Query, "error", err)
		return Result{
			Status: StatusError,
			Error: &Error{
				Code:    ErrCodeExecution,
				Message: fmt.Sprintf("searching faq: %v", err),
			},
		}, nil
	}

	t.logger.Info("search_faq succeeded", "query", input.Query, "result_count", len(results))
	return Result{
		Status: StatusSuccess,
		Data: map[string]any{
			"query":        input.Query,
			"result_count": len(results),
			"results":      results,
		},
	}, nil
}

// Register registers search_faq with Genkit and returns the tool reference.
func (t *SearchTool) Register(g *genkit.Genkit) ai.Tool {
	return genkit.DefineTool(g, SearchToolName,
		"Search the course FAQ for questions similar to the user's. "+
			"Use this before answering: results carry the matching FAQ excerpt, "+
			"a relevance score, and a source link.",
		t.Handle)
}
