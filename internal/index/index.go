// Package index builds and queries the searchable FAQ index.
//
// The default backend is an immutable in-memory inverted index with
// TF-IDF scoring (see memory.go). A PostgreSQL + pgvector backend with
// the same Searcher contract lives in the pgindex subpackage.
package index

import (
	"context"
	"time"

	"github.com/faqgent/faqgent/internal/corpus"
)

// SearchResult is one scored hit.
type SearchResult struct {
	Document corpus.Document `json:"document"`
	Score    float64         `json:"score"`
	// Excerpt is a short window of the document around the best match.
	Excerpt string `json:"excerpt,omitempty"`
}

// Searcher answers relevance queries against an indexed corpus.
//
// Implementations return results ordered by non-increasing score, at
// most topK of them, and an empty slice (never an error) when nothing
// matches.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// BuildStats summarizes one index build.
type BuildStats struct {
	// Indexed is the number of documents that entered the index.
	Indexed int
	// FilteredOut is the number of documents the filter rejected.
	FilteredOut int
	// Skipped is the number of documents that failed filter evaluation
	// and were dropped without aborting the build.
	Skipped int
	// Terms is the vocabulary size of the built index.
	Terms int
	// Duration is the wall-clock build time.
	Duration time.Duration
}
