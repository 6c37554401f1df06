package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Admin     AdminConfig     `yaml:"admin" mapstructure:"admin"`
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Quote     QuoteConfig     `yaml:"quote" mapstructure:"quote"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AdminConfig configures the admin endpoints. An empty token disables them.
type AdminConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// LimitsConfig holds the admission limits.
type LimitsConfig struct {
	RateMax             int           `yaml:"rate_max" mapstructure:"rate_max"`
	RateWindow          time.Duration `yaml:"rate_window" mapstructure:"rate_window"`
	CacheSize           int           `yaml:"cache_size" mapstructure:"cache_size"`
	MaxBodyBytes        int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	MaxImages           int           `yaml:"max_images" mapstructure:"max_images"`
	MaxFileBytes        int64         `yaml:"max_file_bytes" mapstructure:"max_file_bytes"`
	MaxBatchBytes       int64         `yaml:"max_batch_bytes" mapstructure:"max_batch_bytes"`
	MaxBatchFiles       int           `yaml:"max_batch_files" mapstructure:"max_batch_files"`
	BatchTTL            time.Duration `yaml:"batch_ttl" mapstructure:"batch_ttl"`
	AllowedContentTypes []string      `yaml:"allowed_content_types" mapstructure:"allowed_content_types"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string        `yaml:"key" mapstructure:"key"`
	Model             string        `yaml:"model" mapstructure:"model"`
	MaxTokens         int64         `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL          string        `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
}

// RetryConfig controls retries of transient model errors.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig controls the model circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// StoreConfig configures the blob store backend.
type StoreConfig struct {
	Driver        string        `yaml:"driver" mapstructure:"driver"`
	Bucket        string        `yaml:"bucket" mapstructure:"bucket"`
	Region        string        `yaml:"region" mapstructure:"region"`
	Endpoint      string        `yaml:"endpoint" mapstructure:"endpoint"`
	PublicBaseURL string        `yaml:"public_base_url" mapstructure:"public_base_url"`
	PresignTTL    time.Duration `yaml:"presign_ttl" mapstructure:"presign_ttl"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	DatabaseURL   string        `yaml:"database_url" mapstructure:"database_url"`
}

// QuoteConfig holds the business context and customer-facing text.
type QuoteConfig struct {
	FallbackMessage string   `yaml:"fallback_message" mapstructure:"fallback_message"`
	ServiceArea     []string `yaml:"service_area" mapstructure:"service_area"`
	BusinessName    string   `yaml:"business_name" mapstructure:"business_name"`
	PricingNotes    string   `yaml:"pricing_notes" mapstructure:"pricing_notes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ESTIMATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("admin.token", "")
	v.SetDefault("limits.rate_max", 5)
	v.SetDefault("limits.rate_window", 10*time.Minute)
	v.SetDefault("limits.cache_size", 10000)
	v.SetDefault("limits.max_body_bytes", 1<<20)
	v.SetDefault("limits.max_images", 8)
	v.SetDefault("limits.max_file_bytes", 10<<20)
	v.SetDefault("limits.max_batch_bytes", 60<<20)
	v.SetDefault("limits.max_batch_files", 8)
	v.SetDefault("limits.batch_ttl", 10*time.Minute)
	v.SetDefault("limits.allowed_content_types", []string{"image/jpeg", "image/png", "image/webp"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout", 60*time.Second)
	v.SetDefault("anthropic.cache_ttl", "")
	v.SetDefault("anthropic.requests_per_second", 2.0)
	v.SetDefault("anthropic.burst", 4)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "s3")
	v.SetDefault("store.bucket", "")
	v.SetDefault("store.region", "us-east-1")
	v.SetDefault("store.endpoint", "")
	v.SetDefault("store.public_base_url", "")
	v.SetDefault("store.presign_ttl", 10*time.Minute)
	v.SetDefault("store.timeout", 15*time.Second)
	v.SetDefault("store.database_url", "")
	v.SetDefault("quote.fallback_message", "Thanks! We couldn't generate an instant estimate right now. Please try again, or contact us and we'll follow up.")
	v.SetDefault("quote.service_area", []string{})
	v.SetDefault("quote.business_name", "")
	v.SetDefault("quote.pricing_notes", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Quote.ServiceArea = splitList(cfg.Quote.ServiceArea)
	cfg.Limits.AllowedContentTypes = splitList(cfg.Limits.AllowedContentTypes)

	return &cfg, nil
}

// splitList flattens comma-separated entries. Lists set through the
// environment arrive as a single "a,b" element.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the settings required by mode. "store" covers commands
// that only touch the blob store; "serve" adds the model and HTTP settings.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store":
		errs = append(errs, c.validateStore()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
		if c.Limits.RateMax < 1 {
			errs = append(errs, "limits.rate_max must be >= 1")
		}
		if c.Limits.RateWindow <= 0 {
			errs = append(errs, "limits.rate_window must be > 0")
		}
		if c.Limits.MaxFileBytes <= 0 || c.Limits.MaxBatchBytes < c.Limits.MaxFileBytes {
			errs = append(errs, "limits.max_batch_bytes must be >= limits.max_file_bytes > 0")
		}
		if c.Limits.MaxBatchFiles < 1 {
			errs = append(errs, "limits.max_batch_files must be >= 1")
		}
		if slices.Contains(c.Server.AllowedOrigins, "*") && len(c.Server.AllowedOrigins) > 1 {
			errs = append(errs, `server.allowed_origins: "*" must be the only entry`)
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "s3":
		if c.Store.Bucket == "" {
			errs = append(errs, "store.bucket is required for the s3 driver")
		}
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of s3, sqlite, postgres", c.Store.Driver))
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
