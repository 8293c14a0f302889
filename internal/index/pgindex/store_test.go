package pgindex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/log"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	returnEmpty bool
	dims        int
	callCount   int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(r api.Registry) {}

func (m *mockEmbedder) Embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{}, nil
	}

	dims := m.dims
	if dims == 0 {
		dims = VectorDimension
	}
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = 0.5
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: vec}},
	}, nil
}

// fakeDB records Exec calls; Query is unreachable in these tests.
type fakeDB struct {
	execErr   error
	execCount int
	lastSQL   string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execCount++
	f.lastSQL = sql
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("query not supported in fake")
}

func TestIndex_UpsertsEachDocument(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	embedder := &mockEmbedder{}
	store := New(db, embedder, log.NewNop())

	docs := []corpus.Document{
		{Filename: "a.md", Content: "first"},
		{Filename: "b.md", Content: "second"},
	}

	if err := store.Index(context.Background(), docs); err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if db.execCount != 2 {
		t.Errorf("Exec called %d times, want 2", db.execCount)
	}
	if embedder.callCount != 2 {
		t.Errorf("Embed called %d times, want 2", embedder.callCount)
	}
	if !strings.Contains(db.lastSQL, "ON CONFLICT (filename) DO UPDATE") {
		t.Errorf("Index() did not upsert: %s", db.lastSQL)
	}
}

func TestIndex_EmbedFailureAborts(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	store := New(db, &mockEmbedder{embedErr: errors.New("quota exceeded")}, log.NewNop())

	err := store.Index(context.Background(), []corpus.Document{{Filename: "a.md"}})
	if err == nil {
		t.Fatal("Index() = nil, want error")
	}
	if db.execCount != 0 {
		t.Errorf("Exec called %d times after embed failure, want 0", db.execCount)
	}
}

func TestSearch_EmbedFailure(t *testing.T) {
	t.Parallel()

	store := New(&fakeDB{}, &mockEmbedder{embedErr: errors.New("backend down")}, log.NewNop())

	if _, err := store.Search(context.Background(), "query", 5); err == nil {
		t.Fatal("Search() = nil, want error")
	}
}

func TestSearch_EmptyEmbedding(t *testing.T) {
	t.Parallel()

	store := New(&fakeDB{}, &mockEmbedder{returnEmpty: true}, log.NewNop())

	if _, err := store.Search(context.Background(), "query", 5); err == nil {
		t.Fatal("Search() with empty embedding = nil, want error")
	}
}

func TestSearch_NonPositiveTopK(t *testing.T) {
	t.Parallel()

	store := New(&fakeDB{}, &mockEmbedder{}, log.NewNop())

	results, err := store.Search(context.Background(), "query", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search(topK=0) = %d results, want 0", len(results))
	}
}

func TestEmbed_TruncatesToSchemaDimension(t *testing.T) {
	t.Parallel()

	store := New(&fakeDB{}, &mockEmbedder{dims: 3072}, log.NewNop())

	vec, err := store.embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("embed() error = %v", err)
	}
	if got := len(vec.Slice()); got != VectorDimension {
		t.Errorf("embed() dimension = %d, want %d", got, VectorDimension)
	}
}

func TestExcerpt(t *testing.T) {
	t.Parallel()

	short := "short content"
	if got := excerpt(short); got != short {
		t.Errorf("excerpt(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("word ", 100)
	got := excerpt(long)
	if len(got) > excerptLen+len("…") {
		t.Errorf("excerpt too long: %d bytes", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("excerpt(long) = %q, want ellipsis suffix", got)
	}
}
