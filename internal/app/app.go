// Package app wires configuration, the model runtime, the corpus index
// and the agent into one runnable application.
//
// Setup initializes everything in dependency order and returns an App;
// Close releases resources in reverse order. The index backend is
// chosen by config: the in-memory index is built from a fresh corpus
// load at startup, the PostgreSQL backend serves whatever a previous
// reindex persisted.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faqgent/faqgent/internal/agent"
	"github.com/faqgent/faqgent/internal/config"
	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/index"
	"github.com/faqgent/faqgent/internal/index/pgindex"
	"github.com/faqgent/faqgent/internal/log"
	"github.com/faqgent/faqgent/internal/translog"
)

// App holds every initialized component. Build one with Setup and
// release it with Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit       *genkit.Genkit
	Agent        *agent.Agent
	Tool         *agent.SearchTool
	Interactions *translog.Logger

	loader *corpus.Loader
	filter corpus.FilterFunc

	// Current in-memory index. Rebuild swaps the whole pointer so
	// concurrent searches see either the old or the new index, never
	// a partially built one. Nil when the backend is PostgreSQL.
	memIndex atomic.Pointer[index.Memory]
	pgStore  *pgindex.Store

	pool        *pgxpool.Pool
	otelCleanup func()

	rebuildMu sync.Mutex
}

// Close releases resources in reverse initialization order.
// Safe to call on a partially initialized App.
func (a *App) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// Index returns the current in-memory index, or nil when the
// PostgreSQL backend is active.
func (a *App) Index() *index.Memory {
	return a.memIndex.Load()
}

// Rebuild reloads the corpus, applies the filename filter and replaces
// the index. Searches keep hitting the old index until the swap, so a
// failed rebuild leaves the previous index serving.
func (a *App) Rebuild(ctx context.Context) (index.BuildStats, error) {
	a.rebuildMu.Lock()
	defer a.rebuildMu.Unlock()

	docs, err := a.loader.Load(ctx, a.Config.GitHubOwner, a.Config.GitHubRepo)
	if err != nil {
		return index.BuildStats{}, fmt.Errorf("loading corpus: %w", err)
	}

	if a.pgStore != nil {
		return a.reindexStore(ctx, docs)
	}

	idx, stats := index.Build(docs, a.filter, a.Logger)
	a.memIndex.Store(idx)
	a.Tool.Swap(idx)
	return stats, nil
}

// reindexStore replays the whole filtered corpus into the PostgreSQL
// store. Filter semantics match index.Build: rejected documents are
// counted, documents whose filter evaluation fails are skipped with a
// warning instead of aborting the rebuild.
func (a *App) reindexStore(ctx context.Context, docs []corpus.Document) (index.BuildStats, error) {
	start := time.Now()
	stats := index.BuildStats{}

	kept := make([]corpus.Document, 0, len(docs))
	for _, doc := range docs {
		if a.filter != nil {
			keep, err := a.filter(doc)
			if err != nil {
				stats.Skipped++
				a.Logger.Warn("skipping document, filter failed",
					"filename", doc.Filename,
					"error", err)
				continue
			}
			if !keep {
				stats.FilteredOut++
				continue
			}
		}
		kept = append(kept, doc)
	}

	if err := a.pgStore.Reset(ctx); err != nil {
		return stats, fmt.Errorf("resetting index store: %w", err)
	}
	if err := a.pgStore.Index(ctx, kept); err != nil {
		return stats, fmt.Errorf("indexing documents: %w", err)
	}

	stats.Indexed = len(kept)
	stats.Duration = time.Since(start)
	return stats, nil
}
