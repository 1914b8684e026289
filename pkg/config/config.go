package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for schema-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (DSNs, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Target database: the relational source whose schema is introspected
	// and served to the NL->SQL pipeline.
	Target TargetConfig `yaml:"target"`

	// Engine database: owns the query history table and the chunk/vector
	// tables. May point at the same server as the target.
	Engine EngineConfig `yaml:"engine"`

	// Embedding endpoint configuration (OpenAI-compatible).
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval tuning.
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// TargetConfig holds the introspected database connection settings.
type TargetConfig struct {
	URL string `yaml:"-" env:"TARGET_DATABASE_URL"` // Secret - not in YAML
	// StatementTimeoutSeconds bounds each introspection query.
	StatementTimeoutSeconds int `yaml:"statement_timeout_seconds" env:"TARGET_STATEMENT_TIMEOUT_SECONDS" env-default:"30"`
}

// EngineConfig holds the engine database connection settings.
type EngineConfig struct {
	URL            string `yaml:"-" env:"ENGINE_DATABASE_URL"` // Secret - not in YAML
	MaxConnections int32  `yaml:"max_connections" env:"ENGINE_MAX_CONNECTIONS" env-default:"10"`
	MigrationsPath string `yaml:"migrations_path" env:"ENGINE_MIGRATIONS_PATH" env-default:"migrations"`
}

// EmbeddingConfig holds embedding model endpoint settings.
type EmbeddingConfig struct {
	Endpoint   string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey     string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
}

// RetrievalConfig holds collection names and ranking parameters.
type RetrievalConfig struct {
	SchemaCollection  string `yaml:"schema_collection" env:"SCHEMA_COLLECTION" env-default:"pg_schema"`
	HistoryCollection string `yaml:"history_collection" env:"HISTORY_COLLECTION" env-default:"query_history"`

	// SchemaTopK is the chunk count fetched per schema resolution.
	SchemaTopK int `yaml:"schema_top_k" env:"SCHEMA_TOP_K" env-default:"30"`
	// HistoryTopK is the default result count for history search.
	HistoryTopK int `yaml:"history_top_k" env:"HISTORY_TOP_K" env-default:"5"`
	// HistoryPrefetchK is how many candidates are over-fetched before
	// re-ranking on table overlap.
	HistoryPrefetchK int `yaml:"history_prefetch_k" env:"HISTORY_PREFETCH_K" env-default:"30"`
	// TableBoost scales the table-overlap bonus added to vector similarity.
	TableBoost float64 `yaml:"table_boost" env:"TABLE_BOOST" env-default:"0.15"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml does not exist, configuration comes from the
// environment alone. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks required settings that have no sensible default.
func (c *Config) validate() error {
	if c.Target.URL == "" {
		return fmt.Errorf("TARGET_DATABASE_URL is required")
	}
	if c.Engine.URL == "" {
		return fmt.Errorf("ENGINE_DATABASE_URL is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}
