package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/catalyze/internal/config"
	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/llm"
	"github.com/ashureev/catalyze/internal/router"
	"github.com/ashureev/catalyze/internal/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                 "0",
		DBPath:               filepath.Join(t.TempDir(), "catalyze.db"),
		AllowedOrigins:       []string{"*"},
		LogLevel:             slog.LevelInfo,
		LogFormat:            "json",
		ThreadTTL:            time.Hour,
		DefaultPlatform:      "ot2",
		MaxRequestBytes:      1 << 20,
		RateLimitRPS:         2,
		RateLimitBurst:       5,
		LLM:                  config.LLMConfig{Timeout: time.Second},
		Simulator:            config.SimulatorConfig{Mode: config.SimulatorDisabled, Timeout: time.Second},
		GenerationMaxRetries: 1,
	}
}

func TestNewRoutesEndToEndWithoutBackends(t *testing.T) {
	cfg := offlineConfig(t)
	ctx := context.Background()

	a, err := New(ctx, cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(ctx)) })

	refused := a.Router.Process(ctx, domain.Query{
		Text:    "What's a good recipe for pasta",
		Context: domain.QueryContext{ThreadID: "thread-1"},
	})
	assert.False(t, refused.Success)
	assert.Equal(t, router.RefusalResponse, refused.Response)

	automated := a.Router.Process(ctx, domain.Query{
		Text:    "Generate opentrons code for transferring 100uL from A1 to B1",
		Context: domain.QueryContext{ThreadID: "thread-1"},
	})
	assert.Equal(t, string(domain.IntentAutomate), automated.Intent)
	assert.False(t, automated.Success)
	assert.Equal(t, 2, automated.Attempts)
	assert.Contains(t, automated.Code, "def run(")
	require.NotEmpty(t, automated.SessionID)

	saved, err := a.Repo.GetGenerationSession(ctx, automated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, saved.Status)
	assert.Len(t, saved.Attempts, 2)

	tc, err := a.Memory.Context(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, tc.History, 4)
}

func TestNewFailsOnBadRulesFile(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Classifier.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load classifier rules")
}

func TestNewCompleterWithoutBackend(t *testing.T) {
	t.Parallel()

	c, closeFn := NewCompleter(offlineConfig(t), slog.Default())
	assert.IsType(t, llm.Disabled{}, c)
	assert.NoError(t, closeFn(context.Background()))
}

func TestNewCompleterOpenAI(t *testing.T) {
	t.Parallel()

	cfg := offlineConfig(t)
	cfg.LLM.OpenAIAPIKey = "sk-test"
	cfg.LLM.OpenAIModel = "gpt-4o-mini"

	c, closeFn := NewCompleter(cfg, slog.Default())
	assert.IsType(t, &llm.TimeoutCompleter{}, c)
	assert.NoError(t, closeFn(context.Background()))
}

func TestNewSimulatorFallsBackToDisabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.SimulatorConfig
	}{
		{"disabled", config.SimulatorConfig{Mode: config.SimulatorDisabled}},
		{"local binary missing", config.SimulatorConfig{Mode: config.SimulatorLocal, Binary: "catalyze-no-such-simulator"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sim, closeFn := NewSimulator(context.Background(), tt.cfg, slog.Default())
			assert.IsType(t, simulator.Disabled{}, sim)
			assert.NoError(t, closeFn(context.Background()))
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	cfg := offlineConfig(t)
	cfg.LogFormat = "text"
	cfg.LogLevel = slog.LevelWarn

	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown key=value")
}
