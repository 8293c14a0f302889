// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.faqgent/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: Provider, model selection, temperature, max tokens, tool loop cap
//   - Corpus: GitHub repository holding the FAQ documents
//   - Index: in-memory (default) or PostgreSQL + pgvector backend
//   - Storage: PostgreSQL connection (see storage.go)
//   - Telemetry: OTLP trace export (see telemetry.go)
//
// Security: Sensitive data (tokens, passwords) are never logged; config
// directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxToolCalls indicates the tool loop cap is out of range.
	ErrInvalidMaxToolCalls = errors.New("invalid max tool calls")

	// ErrInvalidRepo indicates the corpus repository settings are incomplete.
	ErrInvalidRepo = errors.New("invalid corpus repository")

	// ErrInvalidIndexBackend indicates an unknown index backend.
	ErrInvalidIndexBackend = errors.New("invalid index backend")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidLogDir indicates the interaction log directory is invalid.
	ErrInvalidLogDir = errors.New("invalid log directory")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Index backend identifiers used in Config.IndexBackend.
const (
	IndexBackendMemory   = "memory"
	IndexBackendPostgres = "postgres"
)

// DefaultGeminiEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 outputs 3072 dimensions by default, but supports
// truncation to 768 via OutputDimensionality. Our pgvector schema uses
// 768 dimensions; see pgindex.VectorDimension.
const DefaultGeminiEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "ollama", "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // Model identifier (e.g., "gemini-2.5-flash", "llama3.3", "gpt-4o")
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	PromptDir   string  `mapstructure:"prompt_dir" json:"prompt_dir"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Agent run configuration
	MaxToolCalls      int `mapstructure:"max_tool_calls" json:"max_tool_calls"`
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" json:"request_timeout_sec"`
	StreamDebounceMs  int `mapstructure:"stream_debounce_ms" json:"stream_debounce_ms"`

	// Corpus source: the GitHub repository holding the FAQ documents
	GitHubOwner    string `mapstructure:"github_owner" json:"github_owner"`
	GitHubRepo     string `mapstructure:"github_repo" json:"github_repo"`
	GitHubRef      string `mapstructure:"github_ref" json:"github_ref"`
	GitHubToken    string `mapstructure:"github_token" json:"github_token"` // SENSITIVE: masked in MarshalJSON
	FilenameFilter string `mapstructure:"filename_filter" json:"filename_filter"`
	MaxFileBytes   int64  `mapstructure:"max_file_bytes" json:"max_file_bytes"`

	// Index configuration
	IndexBackend  string `mapstructure:"index_backend" json:"index_backend"` // "memory" (default), "postgres"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Interaction log configuration
	LogEnabled bool   `mapstructure:"log_enabled" json:"log_enabled"`
	LogDir     string `mapstructure:"log_dir" json:"log_dir"`

	// Telemetry configuration (see telemetry.go for type definition)
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.faqgent/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".faqgent")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults(configDir)
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// Parse DATABASE_URL if set (highest priority for PostgreSQL config)
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(configDir string) {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Agent run defaults
	viper.SetDefault("max_tool_calls", 5)
	viper.SetDefault("request_timeout_sec", 120)
	viper.SetDefault("stream_debounce_ms", 25)

	// Corpus defaults (the DataTalksClub FAQ repository)
	viper.SetDefault("github_owner", "DataTalksClub")
	viper.SetDefault("github_repo", "faq")
	viper.SetDefault("github_ref", "main")
	viper.SetDefault("filename_filter", "data-engineering")
	viper.SetDefault("max_file_bytes", 1<<20)

	// Index defaults
	viper.SetDefault("index_backend", IndexBackendMemory)
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)

	// PostgreSQL defaults (matching the local development database)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "faqgent")
	viper.SetDefault("postgres_password", "faqgent_dev_password")
	viper.SetDefault("postgres_db_name", "faqgent")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Interaction log defaults
	viper.SetDefault("log_enabled", true)
	viper.SetDefault("log_dir", filepath.Join(configDir, "logs"))

	// Telemetry defaults
	viper.SetDefault("telemetry.otlp_endpoint", "")
	viper.SetDefault("telemetry.environment", "dev")
	viper.SetDefault("telemetry.service_name", "faqgent")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// Secrets are not read through Viper where a library reads them natively:
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by Genkit plugins;
// Validate() checks their presence based on the selected provider.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// AI provider and model overrides
	mustBind("provider", "FAQGENT_PROVIDER")
	mustBind("model_name", "FAQGENT_MODEL_NAME")
	mustBind("ollama_host", "FAQGENT_OLLAMA_HOST")

	// Corpus overrides
	mustBind("github_owner", "FAQGENT_GITHUB_OWNER")
	mustBind("github_repo", "FAQGENT_GITHUB_REPO")
	mustBind("github_ref", "FAQGENT_GITHUB_REF")
	mustBind("github_token", "GITHUB_TOKEN")
	mustBind("filename_filter", "FAQGENT_FILENAME_FILTER")

	// Index backend override
	mustBind("index_backend", "FAQGENT_INDEX_BACKEND")

	// Interaction log overrides
	mustBind("log_enabled", "FAQGENT_LOG_ENABLED")
	mustBind("log_dir", "FAQGENT_LOG_DIR")

	// Telemetry overrides
	mustBind("telemetry.otlp_endpoint", "FAQGENT_OTLP_ENDPOINT")
	mustBind("telemetry.environment", "FAQGENT_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching
// Previous attempts:
// - "****" failed: passwords with "*" leaked
// - "[REDACTED]" failed: passwords with "A", "D", "E", etc. leaked
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
// For longer secrets, shows partial chars with unique separator.
//
// THREAT MODEL: This defends against accidental logging of real secrets.
// It is NOT cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Fully mask short secrets to prevent substring matching attacks
	// Example attack: input "00***" → output "00******" contains "00***"
	if len(s) <= 8 {
		return maskedValue
	}
	// For longer secrets, show first/last 2 chars for debug utility
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - GitHubToken
//   - PostgresPassword
//
// When adding new sensitive fields, update this method or the nested struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.GitHubToken = maskSecret(a.GitHubToken)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
