// Package observability wires OpenTelemetry trace export into Genkit.
//
// Traces are shipped over OTLP/HTTP to a local collector agent (Datadog
// Agent, Grafana Alloy, or the upstream otel-collector all speak it).
// Export is disabled unless an endpoint is configured; the assistant is a
// CLI first and must not fail to start because no agent is listening.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the collector's OTLP HTTP host:port. Empty disables export.
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// ServiceName is the service name shown in the APM backend.
	ServiceName string
}

// noopShutdown is returned when tracing is disabled or degraded.
func noopShutdown(context.Context) error { return nil }

// Setup registers an OTLP exporter with Genkit's TracerProvider and returns
// a shutdown function that flushes pending spans.
//
// Degrades gracefully: exporter construction failures log a warning and
// return a no-op shutdown rather than an error.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	if cfg.Endpoint == "" {
		logger.Debug("trace export disabled, no collector endpoint configured")
		return noopShutdown, nil
	}

	// Genkit's TracerProvider reads the service identity from the
	// environment when it builds its resource.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	// The local agent handles authentication and forwarding, so the app
	// never carries backend credentials.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // localhost agent, no TLS
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return noopShutdown, nil
	}

	tracing.TracerProvider().RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))

	logger.Debug("trace export enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown, nil
}
