package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/faqgent/faqgent/internal/app"
	"github.com/faqgent/faqgent/internal/config"
	"github.com/faqgent/faqgent/internal/log"
)

// newLogger builds the process logger. Output goes to stderr so stdout
// stays clean for answers (and for JSON-RPC in MCP mode).
func newLogger() log.Logger {
	cfg := log.Config{}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

// setup loads configuration and initializes the application.
// The caller owns the returned App and must Close it.
func setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

// requestTimeout returns the per-request deadline from configuration.
func requestTimeout(cfg *config.Config) time.Duration {
	if cfg.RequestTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(cfg.RequestTimeoutSec) * time.Second
}
