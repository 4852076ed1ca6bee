// Package llm provides the text-completion capability used by the classifier,
// the request handlers, and the protocol generator.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrEmptyCompletion is returned when the backend answers with no text.
	ErrEmptyCompletion = errors.New("completion returned no content")
	// ErrNotConfigured is returned by Disabled.
	ErrNotConfigured = errors.New("completion backend not configured")
)

// Completer turns a prompt (and optional system instruction) into text.
type Completer interface {
	Complete(ctx context.Context, prompt, system string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt, system string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt, system string) (string, error) {
	return f(ctx, prompt, system)
}

// Disabled is used when no backend is configured. Every call fails with
// ErrNotConfigured so callers take their degraded path.
type Disabled struct{}

// Complete always fails.
func (Disabled) Complete(context.Context, string, string) (string, error) {
	return "", ErrNotConfigured
}
