// Package pgindex implements the index.Searcher contract on top of
// PostgreSQL + pgvector with embeddings from a genkit ai.Embedder.
//
// Selected with index_backend = "postgres". The schema lives in
// db/migrations and is applied with golang-migrate before the store is
// used.
package pgindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/index"
	"github.com/faqgent/faqgent/internal/log"
)

// VectorDimension is the embedding dimension of the faq_documents
// schema. gemini-embedding-001 supports truncation to 768 dimensions
// via OutputDimensionality (Matryoshka Representation Learning).
const VectorDimension = 768

// searchTimeout bounds a single vector search, embedding included.
const searchTimeout = 10 * time.Second

// excerptLen is the excerpt size returned with each hit.
const excerptLen = 160

// DB is the slice of pgxpool.Pool the store needs.
// Consumer-defined so unit tests can fake the database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store indexes and searches FAQ documents in PostgreSQL.
// Safe for concurrent use; all state lives in the database.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   log.Logger
}

var _ index.Searcher = (*Store)(nil)

// New creates a Store. The embedder generates both document and query
// vectors, so they must share a model.
func New(db DB, embedder ai.Embedder, logger log.Logger) *Store {
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger,
	}
}

// Index embeds and upserts the given documents, keyed by filename.
// A single failed document aborts the call: partial rebuilds would
// leave the table inconsistent with the corpus.
func (s *Store) Index(ctx context.Context, docs []corpus.Document) error {
	for _, doc := range docs {
		vec, err := s.embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embedding %q: %w", doc.Filename, err)
		}

		metadata, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", doc.Filename, err)
		}

		_, err = s.db.Exec(ctx, `
			INSERT INTO faq_documents (filename, content, metadata, embedding, indexed_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (filename) DO UPDATE
			SET content = EXCLUDED.content,
			    metadata = EXCLUDED.metadata,
			    embedding = EXCLUDED.embedding,
			    indexed_at = now()`,
			doc.Filename, doc.Content, metadata, vec)
		if err != nil {
			return fmt.Errorf("upsert %q: %w", doc.Filename, err)
		}
	}

	s.logger.Info("documents indexed", "count", len(docs))
	return nil
}

// Reset removes all indexed documents. Used before a full rebuild so
// documents deleted from the corpus do not linger.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE faq_documents`); err != nil {
		return fmt.Errorf("truncate faq_documents: %w", err)
	}
	return nil
}

// Search embeds the query and returns the topK nearest documents by
// cosine similarity, best first. No matches yields an empty slice.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]index.SearchResult, error) {
	results := []index.SearchResult{}
	if topK <= 0 {
		return results, nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	vec, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("query embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.db.Query(queryCtx, `
		SELECT filename, content, metadata, 1 - (embedding <=> $1) AS score
		FROM faq_documents
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vec, topK)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			filename, content string
			metadataJSON      []byte
			score             float64
		)
		if err := rows.Scan(&filename, &content, &metadataJSON, &score); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}

		var metadata map[string]string
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
				s.logger.Warn("dropping unreadable metadata", "filename", filename, "error", err)
				metadata = nil
			}
		}

		results = append(results, index.SearchResult{
			Document: corpus.Document{
				Filename: filename,
				Content:  content,
				Metadata: metadata,
			},
			Score:   score,
			Excerpt: excerpt(content),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}

	return results, nil
}

// embed generates one vector for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned no embedding")
	}

	emb := resp.Embeddings[0].Embedding
	if len(emb) > VectorDimension {
		emb = emb[:VectorDimension]
	}
	return pgvector.NewVector(emb), nil
}

// excerpt returns the leading slice of content, trimmed to a word.
func excerpt(content string) string {
	if len(content) <= excerptLen {
		return content
	}
	cut := content[:excerptLen]
	for i := len(cut) - 1; i > 0; i-- {
		if cut[i] == ' ' || cut[i] == '\n' {
			return cut[:i] + "…"
		}
	}
	return cut + "…"
}
