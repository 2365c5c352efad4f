package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	BaseURL     string `env:"BASE_URL" env-default:"http://localhost:8080"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string `env:"LOG_FORMAT" env-default:"json"`

	// Auth
	SupabaseJWTSecret string `env:"SUPABASE_JWT_SECRET"`
	AuthEnabled       bool   `env:"AUTH_ENABLED" env-default:"true"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Supabase
	SupabaseURL           string `env:"SUPABASE_URL"`
	SupabaseServiceKey    string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseStorageBucket string `env:"SUPABASE_STORAGE_BUCKET" env-default:"project-images"`

	// Redis holds locks and dedup keys. Empty keeps them in process, which is
	// only correct for a single instance.
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// NATS is optional. Without it notifications stay on this instance.
	NATSURL string `env:"NATS_URL"`

	// Vision
	VisionProvider  string `env:"VISION_PROVIDER" env-default:"openai"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`
	OpenAIModel     string `env:"OPENAI_MODEL" env-default:"gpt-4o"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" env-default:"claude-sonnet-4-5-20250929"`

	// Leonardo
	LeonardoAPIKey          string        `env:"LEONARDO_API_KEY"`
	LeonardoBaseURL         string        `env:"LEONARDO_BASE_URL" env-default:"https://cloud.leonardo.ai/api/rest/v1"`
	LeonardoModelID         string        `env:"LEONARDO_MODEL_ID" env-default:"aa77f04e-3eec-4034-9c07-d0f619684628"`
	LeonardoPollInterval    time.Duration `env:"LEONARDO_POLL_INTERVAL" env-default:"3s"`
	LeonardoMaxPollAttempts int           `env:"LEONARDO_MAX_POLL_ATTEMPTS" env-default:"40"`
	LeonardoRatePerSecond   int           `env:"LEONARDO_RATE_PER_SECOND" env-default:"5"`

	// Geocoder
	GeocoderBaseURL   string `env:"GEOCODER_BASE_URL" env-default:"https://nominatim.openstreetmap.org"`
	GeocoderUserAgent string `env:"GEOCODER_USER_AGENT" env-default:"parkbeat-backend/1.0"`

	// Pipeline
	MaxSuggestions      int           `env:"MAX_SUGGESTIONS" env-default:"3"`
	SuggestionLockTTL   time.Duration `env:"SUGGESTION_LOCK_TTL" env-default:"5m"`
	ExecutionMarkerTTL  time.Duration `env:"EXECUTION_MARKER_TTL" env-default:"30m"`
	DedupWindow         time.Duration `env:"DEDUP_WINDOW" env-default:"10s"`
	MinUpscaleDimension int           `env:"MIN_UPSCALE_DIMENSION" env-default:"1024"`
	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY" env-default:"4"`

	// WebSocket inbound message limit per connection
	WSMessagesPerSecond float64 `env:"WS_MESSAGES_PER_SECOND" env-default:"5"`
	WSBurst             int     `env:"WS_BURST" env-default:"10"`

	// Sentry
	SentryDSN string `env:"SENTRY_DSN"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.AuthEnabled && c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required when AUTH_ENABLED is true")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.LeonardoAPIKey == "" {
		return fmt.Errorf("LEONARDO_API_KEY is required")
	}
	switch c.VisionProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai vision provider")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic vision provider")
		}
	default:
		return fmt.Errorf("unknown VISION_PROVIDER %q", c.VisionProvider)
	}
	if c.NATSURL != "" && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when NATS_URL is set")
	}
	if c.MaxSuggestions < 1 {
		return fmt.Errorf("MAX_SUGGESTIONS must be at least 1")
	}
	if c.SuggestionLockTTL <= 0 {
		return fmt.Errorf("SUGGESTION_LOCK_TTL must be positive")
	}
	return nil
}
