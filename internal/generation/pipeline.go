// Package generation turns automation requests into validated Opentrons
// protocols through a bounded generate, precheck, and simulate loop.
package generation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxRetries is the number of retries after the first attempt.
const DefaultMaxRetries = 3

// Ledger persists finished sessions.
type Ledger interface {
	SaveGenerationSession(ctx context.Context, s *domain.GenerationSession) error
}

// Request describes one generation run.
type Request struct {
	Instructions string
	Platform     domain.Platform
	// MaxRetries below zero selects the pipeline default.
	MaxRetries int
	Context    domain.QueryContext
}

// Observer is called after each attempt is recorded.
type Observer func(domain.GenerationAttempt)

// Pipeline runs generation sessions. It holds no per-session state and is
// safe for concurrent use.
type Pipeline struct {
	generator  Generator
	validator  *Validator
	ledger     Ledger
	maxRetries int
	logger     *slog.Logger
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	MaxRetries int
	// Ledger may be nil.
	Ledger Ledger
}

// NewPipeline creates a Pipeline.
func NewPipeline(gen Generator, validator *Validator, cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Pipeline{
		generator:  gen,
		validator:  validator,
		ledger:     cfg.Ledger,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// MaxRetries returns the default retry budget.
func (p *Pipeline) MaxRetries() int {
	return p.maxRetries
}

// Run executes a session. It makes at most MaxRetries+1 attempts and always
// returns a finished session. The error is non-nil only when ctx ended the
// run; the in-flight attempt is then discarded and the session is FAILED.
func (p *Pipeline) Run(ctx context.Context, req Request, observe Observer) (*domain.GenerationSession, error) {
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = p.maxRetries
	}
	s := domain.NewGenerationSession(uuid.NewString(), req.Instructions, req.Platform, maxRetries)
	s.ThreadID = req.Context.ThreadID

	ctx, span := otel.Tracer("generation").Start(ctx, "generation.Run",
		trace.WithAttributes(
			attribute.String("session_id", s.ID),
			attribute.String("platform", string(req.Platform)),
			attribute.Int("max_retries", maxRetries),
		),
	)
	defer span.End()

	p.logger.Info("Starting Opentrons code generation", "session_id", s.ID, "max_retries", maxRetries, "platform", req.Platform)

	for i := 0; i < s.MaxAttempts(); i++ {
		instructions := s.OriginalInstructions
		if last, ok := s.Last(); ok {
			instructions = ImproveInstructions(s.OriginalInstructions, last.Validation.Errors, last.Validation.Suggestions)
		}

		attempt, outcome, err := p.attempt(ctx, instructions, req, i)
		if err != nil {
			p.finish(ctx, s, domain.StatusFailed, fmt.Sprintf("cancelled: %v", err))
			span.SetStatus(codes.Error, "cancelled")
			return s, err
		}
		if err := s.Append(attempt); err != nil {
			return s, fmt.Errorf("record attempt: %w", err)
		}
		recorded := s.Attempts[len(s.Attempts)-1]
		metrics.GenerationAttempts.WithLabelValues(string(outcome)).Inc()
		if observe != nil {
			observe(recorded)
		}

		if recorded.Validation.Success {
			p.logger.Info("Opentrons code generated successfully", "session_id", s.ID, "attempt", i+1)
			p.finish(ctx, s, domain.StatusSuccess, "")
			span.SetAttributes(attribute.Int("attempts", len(s.Attempts)))
			return s, nil
		}
		p.logger.Warn("Validation failed", "session_id", s.ID, "attempt", i+1, "outcome", outcome, "errors", recorded.Validation.Errors)
	}

	p.finish(ctx, s, domain.StatusFailed, "Max retries exceeded")
	span.SetAttributes(attribute.Int("attempts", len(s.Attempts)))
	span.SetStatus(codes.Error, "max retries exceeded")
	return s, nil
}

// attempt runs one generate and validate cycle. Generator failures become a
// failed attempt; only context cancellation is returned as an error.
func (p *Pipeline) attempt(ctx context.Context, instructions string, req Request, index int) (domain.GenerationAttempt, Outcome, error) {
	start := time.Now()
	a := domain.GenerationAttempt{InstructionsUsed: instructions}

	code, err := p.generator.Generate(ctx, instructions, req.Context, index, req.Platform)
	if ctx.Err() != nil {
		return a, "", ctx.Err()
	}
	if err != nil {
		msg := fmt.Sprintf("code generation failed: %v", err)
		a.Validation = domain.NewValidationResult([]string{msg}, nil, ErrorSuggestions(msg))
		a.Duration = time.Since(start)
		return a, OutcomeInfrastructure, nil
	}
	a.Code = code

	res, outcome, err := p.validator.Check(ctx, code, req.Platform)
	if err != nil {
		return a, "", err
	}
	a.Validation = res
	a.Prechecked = outcome == OutcomePrecheckFailed
	a.Duration = time.Since(start)
	return a, outcome, nil
}

func (p *Pipeline) finish(ctx context.Context, s *domain.GenerationSession, status domain.SessionStatus, reason string) {
	if err := s.Finish(status, reason); err != nil {
		p.logger.Error("Failed to finish generation session", "session_id", s.ID, "error", err)
		return
	}
	metrics.GenerationSessions.WithLabelValues(string(status)).Inc()
	if p.ledger == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.ledger.SaveGenerationSession(saveCtx, s); err != nil {
		p.logger.Error("Failed to persist generation session", "session_id", s.ID, "error", err)
	}
}
