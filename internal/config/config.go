// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"7000"`

	// Gemini credentials: GEMINI_API_KEYS takes precedence; GEMINI_API_KEY is
	// the single-key fallback kept for backward compatibility.
	GeminiAPIKeys []string `env:"GEMINI_API_KEYS" envSeparator:","`
	GeminiAPIKey  string   `env:"GEMINI_API_KEY"`
	GeminiBaseURL string   `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiModel   string   `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash-lite"`

	// KeyCooldownDefault applies when the provider rate-limits without a
	// Retry-After hint.
	KeyCooldownDefault time.Duration `env:"KEY_COOLDOWN_DEFAULT" envDefault:"60s"`
	// StreamSuccessMinChunks: how many chunks must have been delivered before
	// a cancelled stream still counts as a successful (billable) call for
	// credential accounting.
	StreamSuccessMinChunks int `env:"STREAM_SUCCESS_MIN_CHUNKS" envDefault:"1"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisUsername string `env:"REDIS_USERNAME"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	// CacheTTL for résumé profile entries; 0 disables caching.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"24h"`

	DatoCMSAPIToken string `env:"DATOCMS_API_TOKEN"`
	DatoCMSBaseURL  string `env:"DATOCMS_BASE_URL" envDefault:"https://graphql.datocms.com"`

	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// AI Backoff Configuration (transient provider errors only)
	AIBackoffMaxElapsedTime  time.Duration `env:"AI_BACKOFF_MAX_ELAPSED_TIME" envDefault:"60s"`
	AIBackoffInitialInterval time.Duration `env:"AI_BACKOFF_INITIAL_INTERVAL" envDefault:"1s"`
	AIBackoffMaxInterval     time.Duration `env:"AI_BACKOFF_MAX_INTERVAL" envDefault:"10s"`
	AIBackoffMultiplier      float64       `env:"AI_BACKOFF_MULTIPLIER" envDefault:"1.5"`

	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"knowme-ai"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// APIKeys returns the configured Gemini keys, falling back to the single-key
// variable when the list is empty. Blank entries are dropped.
func (c Config) APIKeys() []string {
	keys := make([]string, 0, len(c.GeminiAPIKeys))
	for _, k := range c.GeminiAPIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 && strings.TrimSpace(c.GeminiAPIKey) != "" {
		keys = append(keys, strings.TrimSpace(c.GeminiAPIKey))
	}
	return keys
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// GetAIBackoffConfig returns backoff configuration appropriate for the current
// environment. Test environments use much shorter timeouts.
func (c Config) GetAIBackoffConfig() (maxElapsedTime, initialInterval, maxInterval time.Duration, multiplier float64) {
	if c.IsTest() {
		return 2 * time.Second, 50 * time.Millisecond, 500 * time.Millisecond, 2.0
	}
	return c.AIBackoffMaxElapsedTime, c.AIBackoffInitialInterval, c.AIBackoffMaxInterval, c.AIBackoffMultiplier
}
