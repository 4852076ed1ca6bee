// Package app wires configuration into the running service components.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/catalyze/internal/classifier"
	"github.com/ashureev/catalyze/internal/config"
	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/ashureev/catalyze/internal/guardrail"
	"github.com/ashureev/catalyze/internal/llm"
	"github.com/ashureev/catalyze/internal/router"
	"github.com/ashureev/catalyze/internal/simulator"
	"github.com/ashureev/catalyze/internal/store"
)

// App holds the long-lived components shared by every request.
type App struct {
	Config     *config.Config
	Repo       *store.SQLiteStore
	Memory     *store.ConversationStore
	Completer  llm.Completer
	Classifier *classifier.Classifier
	Pipeline   *generation.Pipeline
	Router     *router.Router

	closers []func(context.Context) error
}

// New builds the full service stack. Handlers are constructed here, once.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.Repo = repo
	a.closers = append(a.closers, func(context.Context) error { return repo.Close() })
	if err := repo.Ping(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("database health check: %w", err)
	}
	a.Memory = store.NewConversationStore(repo, 0)

	completer, closeLLM := NewCompleter(cfg, logger)
	a.Completer = completer
	a.closers = append(a.closers, closeLLM)

	a.Classifier, err = NewClassifier(cfg, completer, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	sim, closeSim := NewSimulator(ctx, cfg.Simulator, logger)
	a.closers = append(a.closers, closeSim)
	a.Pipeline = NewPipeline(cfg, completer, sim, repo, logger)

	platform := domain.ParsePlatform(cfg.DefaultPlatform)
	a.Router, err = router.New(a.Classifier, router.DefaultHandlers(completer, a.Pipeline, platform, logger), a.Memory, logger)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("initialize router: %w", err)
	}
	logger.Info("All handlers initialized", "llm_enabled", cfg.LLMEnabled(), "simulator_mode", cfg.Simulator.Mode)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewCompleter selects the completion backend: the gRPC backend when
// COMPLETION_ADDR is set, otherwise OpenAI when a key is present, otherwise
// llm.Disabled. A backend that fails to initialize degrades to Disabled.
func NewCompleter(cfg *config.Config, logger *slog.Logger) (llm.Completer, func(context.Context) error) {
	noop := func(context.Context) error { return nil }

	var backend llm.Completer
	closeFn := noop
	switch {
	case cfg.LLM.CompletionAddr != "":
		c, err := llm.NewGrpcCompleter(llm.DefaultGrpcConfig(cfg.LLM.CompletionAddr), logger)
		if err != nil {
			logger.Warn("Failed to connect to completion backend, LLM features will be degraded", "error", err)
			return llm.Disabled{}, noop
		}
		healthCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.Health(healthCtx); err != nil {
			logger.Warn("Completion backend health check failed", "address", cfg.LLM.CompletionAddr, "error", err)
		}
		cancel()
		backend = c
		closeFn = func(context.Context) error { c.Close(); return nil }
	case cfg.LLM.OpenAIAPIKey != "":
		c, err := llm.NewOpenAICompleter(llm.OpenAIConfig{
			APIKey:      cfg.LLM.OpenAIAPIKey,
			Model:       cfg.LLM.OpenAIModel,
			BaseURL:     cfg.LLM.OpenAIBaseURL,
			Temperature: float32(cfg.LLM.Temperature),
		}, logger)
		if err != nil {
			logger.Warn("Failed to initialize OpenAI completer, LLM features will be degraded", "error", err)
			return llm.Disabled{}, noop
		}
		backend = c
	default:
		logger.Info("No completion backend configured (COMPLETION_ADDR and OPENAI_API_KEY unset)")
		return llm.Disabled{}, noop
	}
	return llm.WithTimeout(backend, cfg.LLM.Timeout, logger), closeFn
}

// NewClassifier loads the rule set and builds the hybrid classifier. The
// LLM fallback is only attached when a backend is configured.
func NewClassifier(cfg *config.Config, completer llm.Completer, logger *slog.Logger) (*classifier.Classifier, error) {
	rs, err := classifier.DefaultRuleSet()
	if cfg.Classifier.RulesPath != "" {
		rs, err = classifier.LoadRuleSet(cfg.Classifier.RulesPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load classifier rules: %w", err)
	}
	rules, err := classifier.NewRuleClassifier(rs)
	if err != nil {
		return nil, fmt.Errorf("compile classifier rules: %w", err)
	}
	var fallback *classifier.LLMClassifier
	if cfg.LLMEnabled() {
		fallback = classifier.NewLLMClassifier(completer, logger)
	}
	return classifier.New(guardrail.New(rs.GuardrailLists()), rules, fallback,
		classifier.Config{LLMThreshold: cfg.Classifier.LLMThreshold}, logger), nil
}

// NewSimulator selects the simulator for cfg.Mode. An unreachable Docker
// daemon or a missing local binary degrades to simulator.Disabled, which
// fails every attempt as an infrastructure error.
func NewSimulator(ctx context.Context, cfg config.SimulatorConfig, logger *slog.Logger) (simulator.Simulator, func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	switch cfg.Mode {
	case config.SimulatorDocker:
		sim, err := simulator.NewDockerSimulator(simulator.DockerConfig{
			Image:   cfg.Image,
			Binary:  cfg.Binary,
			Runtime: cfg.Runtime,
		}, logger)
		if err != nil {
			logger.Warn("Docker simulator unavailable, simulation disabled", "error", err)
			return simulator.Disabled{}, noop
		}
		if err := sim.Ping(ctx); err != nil {
			logger.Warn("Docker daemon not reachable, simulation disabled", "error", err)
			return simulator.Disabled{}, sim.Close
		}
		return sim, sim.Close
	case config.SimulatorLocal:
		sim := simulator.NewLocalSimulator(cfg.Binary, logger)
		if !sim.Available() {
			logger.Warn("Simulator binary not found, simulation disabled", "binary", cfg.Binary)
			return simulator.Disabled{}, noop
		}
		return sim, noop
	default:
		logger.Info("Simulation disabled by configuration")
		return simulator.Disabled{}, noop
	}
}

// NewPipeline builds the generation pipeline. ledger may be nil.
func NewPipeline(cfg *config.Config, completer llm.Completer, sim simulator.Simulator, ledger generation.Ledger, logger *slog.Logger) *generation.Pipeline {
	validator := generation.NewValidator(sim, generation.ValidatorConfig{Timeout: cfg.Simulator.Timeout}, logger)
	gen := generation.NewLLMGenerator(completer, generation.EmbeddedDocs{}, logger)
	return generation.NewPipeline(gen, validator, generation.PipelineConfig{
		MaxRetries: cfg.GenerationMaxRetries,
		Ledger:     ledger,
	}, logger)
}
