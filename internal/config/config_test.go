package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unsetEnv clears key for the duration of the test.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DB_PATH", "ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT", "THREAD_TTL",
		"DEFAULT_PLATFORM", "SIMULATOR_MODE", "SIMULATOR_TIMEOUT", "GENERATION_MAX_RETRIES",
		"OPENAI_API_KEY", "COMPLETION_ADDR", "CLASSIFIER_LLM_THRESHOLD", "LLM_TIMEOUT",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "MAX_REQUEST_BODY_BYTES",
	} {
		unsetEnv(t, key)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.ThreadTTL)
	assert.Equal(t, 120*time.Second, cfg.Simulator.Timeout)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.GenerationMaxRetries)
	assert.InDelta(t, 0.7, cfg.Classifier.LLMThreshold, 1e-9)
	assert.False(t, cfg.LLMEnabled())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://lab.example.com, https://ops.example.com")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("THREAD_TTL", "2h")
	t.Setenv("DEFAULT_PLATFORM", "Flex")
	t.Setenv("SIMULATOR_MODE", "local")
	t.Setenv("SIMULATOR_BINARY", "/opt/ot/bin/opentrons_simulate")
	t.Setenv("SIMULATOR_TIMEOUT", "45s")
	t.Setenv("GENERATION_MAX_RETRIES", "5")
	t.Setenv("CLASSIFIER_LLM_THRESHOLD", "0.5")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RATE_LIMIT_RPS", "0.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, []string{"https://lab.example.com", "https://ops.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 2*time.Hour, cfg.ThreadTTL)
	assert.Equal(t, "flex", cfg.DefaultPlatform)
	assert.Equal(t, SimulatorLocal, cfg.Simulator.Mode)
	assert.Equal(t, 45*time.Second, cfg.Simulator.Timeout)
	assert.Equal(t, 5, cfg.GenerationMaxRetries)
	assert.InDelta(t, 0.5, cfg.Classifier.LLMThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.RateLimitRPS, 1e-9)
	assert.True(t, cfg.LLMEnabled())
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("THREAD_TTL", "forever")
	t.Setenv("GENERATION_MAX_RETRIES", "many")
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.ThreadTTL)
	assert.Equal(t, 3, cfg.GenerationMaxRetries)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"empty port", map[string]string{"PORT": ""}},
		{"bad simulator mode", map[string]string{"SIMULATOR_MODE": "kubernetes"}},
		{"bad platform", map[string]string{"DEFAULT_PLATFORM": "ot3"}},
		{"negative retries", map[string]string{"GENERATION_MAX_RETRIES": "-1"}},
		{"threshold above one", map[string]string{"CLASSIFIER_LLM_THRESHOLD": "1.5"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
		{"zero simulator timeout", map[string]string{"SIMULATOR_TIMEOUT": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}
