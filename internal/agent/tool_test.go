package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/index"
	"github.com/faqgent/faqgent/internal/log"
)

func searchResults(n int) []index.SearchResult {
	results := make([]index.SearchResult, n)
	for i := range results {
		results[i] = index.SearchResult{
			Document: corpus.Document{Filename: "doc.md", Content: "content"},
			Score:    1.0 / float64(i+1),
			Excerpt:  "content",
		}
	}
	return results
}

func toolCtx() *ai.ToolContext {
	return &ai.ToolContext{Context: context.Background()}
}

func TestNewSearchTool_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewSearchTool(nil, log.NewNop()); err == nil {
		t.Error("NewSearchTool(nil searcher) should fail")
	}
	if _, err := NewSearchTool(&fakeSearcher{}, nil); err == nil {
		t.Error("NewSearchTool(nil logger) should fail")
	}
}

func TestSearchTool_HandleSuccess(t *testing.T) {
	t.Parallel()

	tool, err := NewSearchTool(&fakeSearcher{results: searchResults(3)}, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	result, err := tool.Handle(toolCtx(), SearchInput{Query: "how do I use docker?"})
	if err != nil {
		t.Fatalf("Handle() error = %v, handler must never return a Go error", err)
	}

	if result.Status != StatusSuccess {
		t.Fatalf("Status = %q, want %q", result.Status, StatusSuccess)
	}
	if result.Data["result_count"] != 3 {
		t.Errorf("result_count = %v, want 3", result.Data["result_count"])
	}
	if result.Data["query"] != "how do I use docker?" {
		t.Errorf("query = %v", result.Data["query"])
	}
	if result.Error != nil {
		t.Errorf("Error = %+v, want nil on success", result.Error)
	}
}

func TestSearchTool_HandleEmptyQuery(t *testing.T) {
	t.Parallel()

	tool, err := NewSearchTool(&fakeSearcher{}, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	result, err := tool.Handle(toolCtx(), SearchInput{Query: "   "})
	if err != nil {
		t.Fatalf("Handle() error = %v, want nil", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %q, want %q", result.Status, StatusError)
	}
	if result.Error == nil || result.Error.Code != ErrCodeValidation {
		t.Errorf("Error = %+v, want code %q", result.Error, ErrCodeValidation)
	}
}

func TestSearchTool_HandleSearchFailure(t *testing.T) {
	t.Parallel()

	tool, err := NewSearchTool(&fakeSearcher{err: errors.New("index offline")}, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	result, err := tool.Handle(toolCtx(), SearchInput{Query: "docker"})
	if err != nil {
		t.Fatalf("Handle() error = %v, failures must flow through the envelope", err)
	}
	if result.Status != StatusError {
		t.Fatalf("Status = %q, want %q", result.Status, StatusError)
	}
	if result.Error == nil || result.Error.Code != ErrCodeExecution {
		t.Errorf("Error = %+v, want code %q", result.Error, ErrCodeExecution)
	}
}

func TestSearchTool_CapsResultsAtFive(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: searchResults(20)}
	tool, err := NewSearchTool(searcher, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	results, err := tool.Search(context.Background(), "docker")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if searcher.lastTopK != resultCap {
		t.Errorf("searcher received topK = %d, want %d", searcher.lastTopK, resultCap)
	}
	if len(results) != resultCap {
		t.Errorf("got %d results, want %d", len(results), resultCap)
	}
}

func TestSearchTool_SwapRepointsSearches(t *testing.T) {
	t.Parallel()

	old := &fakeSearcher{results: searchResults(1)}
	tool, err := NewSearchTool(old, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	fresh := &fakeSearcher{results: searchResults(2)}
	tool.Swap(fresh)

	results, err := tool.Search(context.Background(), "docker")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2 from the swapped index", len(results))
	}
	if fresh.lastTopK != resultCap {
		t.Error("swapped searcher was not queried")
	}
}

// staticSearcher is stateless so concurrent searches are race-free.
type staticSearcher struct {
	results []index.SearchResult
}

func (s staticSearcher) Search(context.Context, string, int) ([]index.SearchResult, error) {
	return s.results, nil
}

func TestSearchTool_SwapUnderConcurrentSearches(t *testing.T) {
	t.Parallel()

	tool, err := NewSearchTool(staticSearcher{results: searchResults(1)}, log.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	const goroutines = 20
	done := make(chan struct{})
	var wg sync.WaitGroup

	// Readers must always see a complete searcher, old or new.
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				results, err := tool.Search(context.Background(), "docker")
				if err != nil {
					t.Errorf("Search() error = %v", err)
					return
				}
				if n := len(results); n != 1 && n != 2 {
					t.Errorf("got %d results, want 1 or 2", n)
					return
				}
			}
		}()
	}

	for range 100 {
		tool.Swap(staticSearcher{results: searchResults(2)})
		tool.Swap(staticSearcher{results: searchResults(1)})
	}
	close(done)
	wg.Wait()
}
