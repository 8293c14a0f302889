package index

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/log"
)

func faqDocs() []corpus.Document {
	return []corpus.Document{
		{
			Filename: "data-engineering/docker.md",
			Content:  "How do I run PostgreSQL in Docker? Use docker run with the postgres image and map port 5432.",
		},
		{
			Filename: "data-engineering/dbt.md",
			Content:  "dbt is a tool for transforming data in your warehouse. Install dbt with pip and configure profiles.yml.",
		},
		{
			Filename: "data-engineering/airflow.md",
			Content:  "Airflow schedules pipelines. A DAG describes task dependencies.",
		},
		{
			Filename: "machine-learning/sklearn.md",
			Content:  "scikit-learn provides classical machine learning models like random forests.",
		},
	}
}

func buildTestIndex(t *testing.T, filter corpus.FilterFunc) (*Memory, BuildStats) {
	t.Helper()
	return Build(faqDocs(), filter, log.NewNop())
}

func TestBuild_AppliesFilenameFilter(t *testing.T) {
	t.Parallel()

	idx, stats := buildTestIndex(t, corpus.FilenameContains("data-engineering"))

	if stats.Indexed != 3 {
		t.Errorf("Indexed = %d, want 3", stats.Indexed)
	}
	if stats.FilteredOut != 1 {
		t.Errorf("FilteredOut = %d, want 1", stats.FilteredOut)
	}
	if stats.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0", stats.Skipped)
	}

	// The machine-learning document must be unreachable.
	results, err := idx.Search(context.Background(), "machine learning random forests", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results {
		if r.Document.Filename == "machine-learning/sklearn.md" {
			t.Error("filtered-out document appeared in results")
		}
	}
}

func TestBuild_FilterErrorSkipsDocument(t *testing.T) {
	t.Parallel()

	boom := errors.New("metadata corrupt")
	filter := func(doc corpus.Document) (bool, error) {
		if doc.Filename == "data-engineering/dbt.md" {
			return false, boom
		}
		return true, nil
	}

	idx, stats := buildTestIndex(t, filter)

	if stats.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", stats.Skipped)
	}
	if stats.Indexed != 3 {
		t.Errorf("Indexed = %d, want 3 (build must not abort)", stats.Indexed)
	}

	results, err := idx.Search(context.Background(), "dbt warehouse", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results {
		if r.Document.Filename == "data-engineering/dbt.md" {
			t.Error("skipped document appeared in results")
		}
	}
}

func TestSearch_RankedAndCapped(t *testing.T) {
	t.Parallel()

	idx, _ := buildTestIndex(t, nil)

	results, err := idx.Search(context.Background(), "dbt transforming data warehouse", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(results) == 0 {
		t.Fatal("Search() returned no results")
	}
	if len(results) > 2 {
		t.Fatalf("Search() returned %d results, want <= 2", len(results))
	}
	if results[0].Document.Filename != "data-engineering/dbt.md" {
		t.Errorf("top result = %q, want dbt.md", results[0].Document.Filename)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not ordered by score: %f > %f at %d", results[i].Score, results[i-1].Score, i)
		}
	}
	if results[0].Excerpt == "" {
		t.Error("top result has no excerpt")
	}
}

func TestSearch_NoMatchesIsEmptyNotError(t *testing.T) {
	t.Parallel()

	idx, _ := buildTestIndex(t, nil)

	results, err := idx.Search(context.Background(), "kubernetes helm charts", 5)
	if err != nil {
		t.Fatalf("Search() error = %v, want nil", err)
	}
	if results == nil {
		t.Fatal("Search() returned nil, want empty slice")
	}
	if len(results) != 0 {
		t.Fatalf("Search() = %d results, want 0", len(results))
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()

	idx, _ := buildTestIndex(t, nil)

	results, err := idx.Search(context.Background(), "   ", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search(blank) = %d results, want 0", len(results))
	}
}

func TestSearch_CancelledContext(t *testing.T) {
	t.Parallel()

	idx, _ := buildTestIndex(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := idx.Search(ctx, "docker", 5); err == nil {
		t.Fatal("Search() with cancelled context = nil, want error")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()

	a, _ := buildTestIndex(t, corpus.FilenameContains("data-engineering"))
	b, _ := buildTestIndex(t, corpus.FilenameContains("data-engineering"))

	queries := []string{"docker postgres", "dbt", "airflow dag", "pipelines"}
	for _, q := range queries {
		ra, err := a.Search(context.Background(), q, 5)
		if err != nil {
			t.Fatalf("Search(%q) error = %v", q, err)
		}
		rb, err := b.Search(context.Background(), q, 5)
		if err != nil {
			t.Fatalf("Search(%q) error = %v", q, err)
		}
		if !reflect.DeepEqual(ra, rb) {
			t.Errorf("Search(%q) differs between identical builds", q)
		}
	}
}

func TestBuild_EmptyCorpus(t *testing.T) {
	t.Parallel()

	idx, stats := Build(nil, nil, log.NewNop())

	if stats.Indexed != 0 {
		t.Errorf("Indexed = %d, want 0", stats.Indexed)
	}
	results, err := idx.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search() on empty index = %d results, want 0", len(results))
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	got := tokenize("How do I install dbt-core, version 1.7?")
	want := []string{"do", "install", "dbt", "core", "version", "1", "7"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tokenize() = %v, want %v", got, want)
	}

	if out := tokenize("THE AND OR"); len(out) != 0 {
		t.Errorf("tokenize(stopwords) = %v, want empty", out)
	}
}
