package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all configuration for finsql-engine.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (API keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Store      StoreConfig      `yaml:"store"`
	LLM        LLMConfig        `yaml:"llm"`
	Routing    RoutingConfig    `yaml:"routing"`
	Validation ValidationConfig `yaml:"validation"`
	Formatter  FormatterConfig  `yaml:"formatter"`
	Cache      CacheConfig      `yaml:"cache"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Templates  TemplatesConfig  `yaml:"templates"`
}

// StoreConfig selects and tunes the analytical store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" env:"STORE_DRIVER" env-default:"sqlite"`

	// SQLite
	Path string `yaml:"path" env:"STORE_PATH" env-default:"data/finsql.db"`

	// PostgreSQL
	Host         string `yaml:"host" env:"STORE_HOST" env-default:"localhost"`
	PgPort       int    `yaml:"port" env:"STORE_PORT" env-default:"5432"`
	User         string `yaml:"user" env:"STORE_USER" env-default:"finsql"`
	Password     string `yaml:"-" env:"STORE_PASSWORD"` // Secret - not in YAML
	Database     string `yaml:"database" env:"STORE_DATABASE" env-default:"finsql"`
	SSLMode      string `yaml:"ssl_mode" env:"STORE_SSLMODE" env-default:"disable"`
	PoolMaxConns int32  `yaml:"pool_max_conns" env:"STORE_POOL_MAX_CONNS" env-default:"10"`

	// Budgets
	MaxRows      int           `yaml:"max_rows" env:"STORE_MAX_ROWS" env-default:"1000"`
	QueryTimeout time.Duration `yaml:"query_timeout" env:"STORE_QUERY_TIMEOUT" env-default:"15s"`
}

// DatasourceMap returns the store settings in the shape the datasource adapters expect.
func (c *StoreConfig) DatasourceMap() map[string]any {
	switch c.Driver {
	case "postgres":
		return map[string]any{
			"host":           ResolveHostForDocker(c.Host),
			"port":           c.PgPort,
			"user":           c.User,
			"password":       c.Password,
			"database":       c.Database,
			"ssl_mode":       c.SSLMode,
			"pool_max_conns": int(c.PoolMaxConns),
		}
	default:
		return map[string]any{"path": c.Path}
	}
}

// LLMConfig configures the language model gateway.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint), "azure" or "anthropic".
	// An empty Endpoint with provider openai disables the gateway.
	Provider   string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint   string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model      string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIVersion string `yaml:"api_version" env:"LLM_API_VERSION" env-default:""`
	APIKey     string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	EmbeddingEndpoint string `yaml:"embedding_endpoint" env:"LLM_EMBEDDING_ENDPOINT" env-default:""`
	EmbeddingModel    string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:""`

	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
	Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"20s"`
	MaxRetries  int           `yaml:"max_retries" env:"LLM_MAX_RETRIES" env-default:"2"`

	BreakerThreshold  int           `yaml:"breaker_threshold" env:"LLM_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"LLM_BREAKER_RESET_AFTER" env-default:"30s"`
}

// IsConfigured reports whether enough is set to build a chat client.
func (c *LLMConfig) IsConfigured() bool {
	if c.Provider == "anthropic" {
		return c.APIKey != ""
	}
	return c.Endpoint != "" && c.Model != ""
}

// RoutingConfig holds the router's confidence tiers.
type RoutingConfig struct {
	HighThreshold        float64 `yaml:"high_threshold" env:"ROUTING_HIGH_THRESHOLD" env-default:"0.8"`
	LowThreshold         float64 `yaml:"low_threshold" env:"ROUTING_LOW_THRESHOLD" env-default:"0.5"`
	MaxConfirmCandidates int     `yaml:"max_confirm_candidates" env:"ROUTING_MAX_CONFIRM_CANDIDATES" env-default:"3"`
	UseEmbeddings        bool    `yaml:"use_embeddings" env:"ROUTING_USE_EMBEDDINGS" env-default:"false"`
	MinSimilarity        float64 `yaml:"min_similarity" env:"ROUTING_MIN_SIMILARITY" env-default:"0.75"`
}

// ValidationConfig controls the semantic pass and its retry budget.
type ValidationConfig struct {
	SemanticThreshold float64 `yaml:"semantic_threshold" env:"VALIDATION_SEMANTIC_THRESHOLD" env-default:"0.7"`
	RetryBudget       int     `yaml:"retry_budget" env:"VALIDATION_RETRY_BUDGET" env-default:"3"`
	ValidateTemplates bool    `yaml:"validate_templates" env:"VALIDATION_VALIDATE_TEMPLATES" env-default:"false"`
}

// FormatterConfig controls enriched answers.
type FormatterConfig struct {
	Enriched   bool `yaml:"enriched" env:"FORMATTER_ENRICHED" env-default:"false"`
	SampleRows int  `yaml:"sample_rows" env:"FORMATTER_SAMPLE_ROWS" env-default:"20"`
}

// CacheConfig configures the Redis result cache. The cache is off when Host is empty.
type CacheConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"5m"`
}

// Enabled reports whether a cache host is configured.
func (c *CacheConfig) Enabled() bool {
	return c.Host != ""
}

// TelemetryConfig controls request reports and metrics.
type TelemetryConfig struct {
	LogReports     bool `yaml:"log_reports" env:"TELEMETRY_LOG_REPORTS" env-default:"true"`
	MetricsEnabled bool `yaml:"metrics_enabled" env:"TELEMETRY_METRICS_ENABLED" env-default:"true"`
}

// TemplatesConfig points at an external template catalog. Empty uses the built-in one.
type TemplatesConfig struct {
	Path string `yaml:"path" env:"TEMPLATES_PATH" env-default:""`
}

// Load reads configuration from path with environment variable overrides.
// A .env file in the working directory is applied to the environment first.
// When path does not exist, configuration comes from the environment alone.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	loadDotEnv(".env")

	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv applies a .env file without overriding variables already set.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Store.Host == "" || c.Store.Database == "" {
			errs = append(errs, fmt.Errorf("store.host and store.database are required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Store.MaxRows <= 0 {
		errs = append(errs, fmt.Errorf("store.max_rows must be positive"))
	}
	if c.Store.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("store.query_timeout must be positive"))
	}

	switch c.LLM.Provider {
	case "openai", "azure", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max_retries must not be negative"))
	}
	if c.LLM.BreakerThreshold <= 0 {
		errs = append(errs, fmt.Errorf("llm.breaker_threshold must be positive"))
	}

	r := c.Routing
	if r.LowThreshold < 0 || r.HighThreshold > 1 || r.LowThreshold > r.HighThreshold {
		errs = append(errs, fmt.Errorf("routing thresholds must satisfy 0 <= low (%.2f) <= high (%.2f) <= 1",
			r.LowThreshold, r.HighThreshold))
	}
	if r.MaxConfirmCandidates <= 0 {
		errs = append(errs, fmt.Errorf("routing.max_confirm_candidates must be positive"))
	}

	if c.Validation.RetryBudget <= 0 {
		errs = append(errs, fmt.Errorf("validation.retry_budget must be positive"))
	}
	if c.Validation.SemanticThreshold < 0 || c.Validation.SemanticThreshold > 1 {
		errs = append(errs, fmt.Errorf("validation.semantic_threshold must be within [0, 1]"))
	}

	if err := c.validateTLS(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}
