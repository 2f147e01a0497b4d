package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "NATS_URL", "DEFAULT_MODELS", "MAX_CONCURRENT_STREAMS", "RATE_LIMIT_WINDOW", "SUBMIT_RATE_LIMIT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Empty(t, cfg.NATSURL)
	assert.Nil(t, cfg.DefaultModels)
	assert.Equal(t, 0, cfg.MaxConcurrentStreams)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 20, cfg.SubmitRateLimit)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("DEFAULT_MODELS", "gpt-4o, claude-3-5-sonnet-latest,,")
	t.Setenv("MAX_CONCURRENT_STREAMS", "8")
	t.Setenv("SSE_HEARTBEAT", "5s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "nats://nats:4222", cfg.NATSURL)
	assert.Equal(t, []string{"gpt-4o", "claude-3-5-sonnet-latest"}, cfg.DefaultModels)
	assert.Equal(t, 8, cfg.MaxConcurrentStreams)
	assert.Equal(t, 5*time.Second, cfg.SSEHeartbeat)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_TOKENS", "lots")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")
	t.Setenv("TRACING_ENABLED", "maybe")
	t.Setenv("DEFAULT_MODELS", " , ")

	cfg := Load()
	assert.Equal(t, 4096, cfg.MaxTokens)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.False(t, cfg.TracingEnabled)
	assert.Nil(t, cfg.DefaultModels)
}
