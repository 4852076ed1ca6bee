package domain

import (
	"errors"
	"time"
)

// SessionStatus is the lifecycle state of a GenerationSession.
type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusSuccess SessionStatus = "success"
	StatusFailed  SessionStatus = "failed"
)

var (
	// ErrSessionFinished is returned when a terminated session is mutated.
	ErrSessionFinished = errors.New("generation session already finished")
	// ErrAttemptLimit is returned when appending past max_retries+1 attempts.
	ErrAttemptLimit = errors.New("generation attempt limit reached")
)

// GenerationAttempt is one immutable candidate-code cycle.
type GenerationAttempt struct {
	Index            int              `json:"index"`
	Code             string           `json:"code"`
	Validation       ValidationResult `json:"validation_result"`
	InstructionsUsed string           `json:"instructions_used"`
	Prechecked       bool             `json:"prechecked"`
	Duration         time.Duration    `json:"duration"`
}

// GenerationSession is the bounded sequence of attempts for one request.
// It is owned by the request that created it and is not safe for concurrent use.
type GenerationSession struct {
	ID                   string              `json:"id"`
	ThreadID             string              `json:"thread_id,omitempty"`
	OriginalInstructions string              `json:"original_instructions"`
	Platform             Platform            `json:"platform"`
	MaxRetries           int                 `json:"max_retries"`
	Attempts             []GenerationAttempt `json:"attempts"`
	Status               SessionStatus       `json:"status"`
	FailureReason        string              `json:"failure_reason,omitempty"`
	StartedAt            time.Time           `json:"started_at"`
	FinishedAt           time.Time           `json:"finished_at,omitempty"`
}

// NewGenerationSession starts a running session.
func NewGenerationSession(id, instructions string, platform Platform, maxRetries int) *GenerationSession {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &GenerationSession{
		ID:                   id,
		OriginalInstructions: instructions,
		Platform:             platform,
		MaxRetries:           maxRetries,
		Attempts:             make([]GenerationAttempt, 0, maxRetries+1),
		Status:               StatusRunning,
		StartedAt:            time.Now(),
	}
}

// MaxAttempts is the hard upper bound on attempts.
func (s *GenerationSession) MaxAttempts() int {
	return s.MaxRetries + 1
}

// Append records a finished attempt.
func (s *GenerationSession) Append(a GenerationAttempt) error {
	if s.Status != StatusRunning {
		return ErrSessionFinished
	}
	if len(s.Attempts) >= s.MaxAttempts() {
		return ErrAttemptLimit
	}
	a.Index = len(s.Attempts)
	s.Attempts = append(s.Attempts, a)
	return nil
}

// Finish terminates the session exactly once.
func (s *GenerationSession) Finish(status SessionStatus, reason string) error {
	if s.Status != StatusRunning {
		return ErrSessionFinished
	}
	s.Status = status
	s.FailureReason = reason
	s.FinishedAt = time.Now()
	return nil
}

// Last returns the most recent attempt, if any.
func (s *GenerationSession) Last() (GenerationAttempt, bool) {
	if len(s.Attempts) == 0 {
		return GenerationAttempt{}, false
	}
	return s.Attempts[len(s.Attempts)-1], true
}
