package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/metrics"
	"github.com/ashureev/catalyze/internal/simulator"
)

// DefaultSimulationTimeout bounds a single simulator invocation.
const DefaultSimulationTimeout = 120 * time.Second

// Outcome names how a validation ended.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomePrecheckFailed   Outcome = "precheck_failed"
	OutcomeSimulationFailed Outcome = "simulation_failed"
	OutcomeInfrastructure   Outcome = "infrastructure_error"
)

// ValidatorConfig configures a Validator.
type ValidatorConfig struct {
	// Timeout defaults to DefaultSimulationTimeout.
	Timeout time.Duration
	// ScratchDir is where protocol files are written; empty means os.TempDir.
	ScratchDir string
}

// Validator checks candidate protocols: deck-slot precheck first, then a
// simulator run over a private scratch file.
type Validator struct {
	sim        simulator.Simulator
	timeout    time.Duration
	scratchDir string
	logger     *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(sim simulator.Simulator, cfg ValidatorConfig, logger *slog.Logger) *Validator {
	if sim == nil {
		sim = simulator.Disabled{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSimulationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{sim: sim, timeout: cfg.Timeout, scratchDir: cfg.ScratchDir, logger: logger}
}

// ValidateCode returns the verdict for code on platform. The error is
// non-nil only when ctx is done; simulator failures are reported in the
// result.
func (v *Validator) ValidateCode(ctx context.Context, code string, platform domain.Platform) (domain.ValidationResult, error) {
	res, _, err := v.Check(ctx, code, platform)
	return res, err
}

// Check is ValidateCode that also reports which stage decided the outcome.
func (v *Validator) Check(ctx context.Context, code string, platform domain.Platform) (domain.ValidationResult, Outcome, error) {
	static := CheckScript(code)

	if errs := PrecheckDeckSlots(code, platform); len(errs) > 0 {
		res := domain.NewValidationResult(errs, static.Warnings, append(Suggest(errs, nil), static.Suggestions...))
		v.logger.Info("Deck slot precheck failed", "platform", platform, "errors", len(errs))
		return res, OutcomePrecheckFailed, nil
	}

	start := time.Now()
	entries, err := v.simulate(ctx, code)
	elapsed := time.Since(start)
	metrics.SimulationDuration.Observe(elapsed.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return domain.ValidationResult{}, "", ctx.Err()
		}
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = fmt.Sprintf("simulation timed out after %s", v.timeout)
		}
		v.logger.Error("Opentrons validation failed", "error", err)
		res := domain.NewValidationResult([]string{msg}, static.Warnings, append(ErrorSuggestions(msg), static.Suggestions...))
		res.SimulationTime = elapsed
		return res, OutcomeInfrastructure, nil
	}

	errs, warnings := ClassifyLog(entries)
	res := domain.NewValidationResult(errs, append(warnings, static.Warnings...), append(Suggest(errs, warnings), static.Suggestions...))
	res.Simulated = true
	res.SimulationTime = elapsed
	res.RawLog = entries

	v.logger.Info("Opentrons validation completed",
		"duration", elapsed.Round(time.Millisecond),
		"errors", len(res.Errors),
		"warnings", len(res.Warnings),
	)
	if res.Success {
		return res, OutcomeSuccess, nil
	}
	return res, OutcomeSimulationFailed, nil
}

// simulate writes code to a scratch file owned by this call, runs the
// simulator under the configured timeout, and removes the file on return.
func (v *Validator) simulate(ctx context.Context, code string) ([]domain.LogEntry, error) {
	f, err := os.CreateTemp(v.scratchDir, "protocol-*.py")
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			v.logger.Warn("Failed to remove scratch protocol", "path", path, "error", err)
		}
	}()

	if _, err := f.WriteString(code); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	simCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.sim.Simulate(simCtx, path)
}
