package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"parkbeat-backend/internal/config"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/parkbeat")
	t.Setenv("SUPABASE_JWT_SECRET", "secret")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_KEY", "service-key")
	t.Setenv("LEONARDO_API_KEY", "leo-key")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "openai", cfg.VisionProvider)
	assert.Equal(t, 5*time.Minute, cfg.SuggestionLockTTL)
	assert.Equal(t, 30*time.Minute, cfg.ExecutionMarkerTTL)
	assert.Equal(t, 1024, cfg.MinUpscaleDimension)
	assert.Equal(t, 3*time.Second, cfg.LeonardoPollInterval)
	assert.Equal(t, 40, cfg.LeonardoMaxPollAttempts)
	assert.True(t, cfg.AuthEnabled)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestValidate_AnthropicProviderNeedsKey(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:        "postgres://localhost/parkbeat",
		AuthEnabled:        false,
		SupabaseURL:        "https://example.supabase.co",
		SupabaseServiceKey: "key",
		LeonardoAPIKey:     "leo",
		VisionProvider:     "anthropic",
		MaxSuggestions:     3,
		SuggestionLockTTL:  time.Minute,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	cfg.AnthropicAPIKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:        "postgres://localhost/parkbeat",
		SupabaseURL:        "https://example.supabase.co",
		SupabaseServiceKey: "key",
		LeonardoAPIKey:     "leo",
		VisionProvider:     "gemini",
		MaxSuggestions:     3,
		SuggestionLockTTL:  time.Minute,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown VISION_PROVIDER")
}

func TestValidate_MultiInstanceNeedsRedis(t *testing.T) {
	setRequired(t)
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("REDIS_ADDR", "")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR is required when NATS_URL is set")

	t.Setenv("REDIS_ADDR", "localhost:6379")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}
