package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/faqgent/faqgent/db"
	"github.com/faqgent/faqgent/internal/agent"
	"github.com/faqgent/faqgent/internal/config"
	"github.com/faqgent/faqgent/internal/corpus"
	"github.com/faqgent/faqgent/internal/index"
	"github.com/faqgent/faqgent/internal/index/pgindex"
	"github.com/faqgent/faqgent/internal/log"
	"github.com/faqgent/faqgent/internal/observability"
	"github.com/faqgent/faqgent/internal/translog"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.loader = corpus.NewLoader(ctx, corpus.LoaderConfig{
		Token:        cfg.GitHubToken,
		Ref:          cfg.GitHubRef,
		MaxFileBytes: cfg.MaxFileBytes,
		Logger:       logger,
	})
	if cfg.FilenameFilter != "" {
		a.filter = corpus.FilenameContains(cfg.FilenameFilter)
	}

	searcher, err := provideSearcher(ctx, a, g)
	if err != nil {
		return nil, err
	}

	tool, err := agent.NewSearchTool(searcher, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search tool: %w", err)
	}
	a.Tool = tool

	if cfg.LogEnabled {
		a.Interactions = translog.New(cfg.LogDir, logger)
	}

	ag, err := agent.New(agent.Config{
		Genkit:         g,
		Tool:           tool,
		Logger:         logger,
		ModelName:      cfg.FullModelName(),
		SystemPrompt:   systemPrompt(cfg.GitHubOwner, cfg.GitHubRepo),
		MaxToolCalls:   cfg.MaxToolCalls,
		Interactions:   a.Interactions,
		CorpusOwner:    cfg.GitHubOwner,
		CorpusName:     cfg.GitHubRepo,
		StreamDebounce: time.Duration(cfg.StreamDebounceMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	a.Agent = ag

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization so Genkit's TracerProvider is ready when the first
// span is recorded. Export problems degrade to no tracing.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	shutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		ServiceName: cfg.Telemetry.ServiceName,
	}, logger)
	if err != nil {
		logger.Warn("setting up trace export, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
// Call ordering in Setup ensures tracing is set up first.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var opts []genkit.GenkitOption
	if cfg.PromptDir != "" {
		opts = append(opts, genkit.WithPromptDir(cfg.PromptDir))
	}

	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, append(opts, genkit.WithPlugins(ollamaPlugin))...)
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, append(opts, genkit.WithPlugins(&openai.OpenAI{}))...)
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		g = genkit.Init(ctx, append(opts, genkit.WithPlugins(&googlegenai.GoogleAI{}))...)
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideSearcher builds the configured index backend.
//
// The in-memory index is rebuilt from a fresh corpus load on every
// startup, matching the corpus it just fetched. The PostgreSQL store
// serves rows persisted by an earlier `faqgent reindex`, so startup
// skips the corpus fetch entirely.
func provideSearcher(ctx context.Context, a *App, g *genkit.Genkit) (index.Searcher, error) {
	cfg := a.Config

	if cfg.IndexBackend == config.IndexBackendPostgres {
		pool, err := provideDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool

		embedder := provideEmbedder(g, cfg)
		if embedder == nil {
			return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
		}

		a.pgStore = pgindex.New(pool, embedder, a.Logger)
		return a.pgStore, nil
	}

	docs, err := a.loader.Load(ctx, cfg.GitHubOwner, cfg.GitHubRepo)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	idx, _ := index.Build(docs, a.filter, a.Logger)
	a.memIndex.Store(idx)
	return idx, nil
}

// provideEmbedder looks up the embedder registered by the AI provider
// plugin. Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // "gemini"
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideDBPool creates a PostgreSQL connection pool and runs
// migrations. Pool limits stay modest; the store issues one query per
// search and batches upserts during reindex.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
