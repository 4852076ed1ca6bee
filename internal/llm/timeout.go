package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// TimeoutCompleter bounds each call and retries exactly once when the
// per-call deadline (not the caller's) expires.
type TimeoutCompleter struct {
	next    Completer
	timeout time.Duration
	logger  *slog.Logger
}

// WithTimeout wraps next. A non-positive timeout disables the bound.
func WithTimeout(next Completer, timeout time.Duration, logger *slog.Logger) *TimeoutCompleter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutCompleter{next: next, timeout: timeout, logger: logger}
}

// Complete implements Completer.
func (t *TimeoutCompleter) Complete(ctx context.Context, prompt, system string) (string, error) {
	if t.timeout <= 0 {
		return t.next.Complete(ctx, prompt, system)
	}

	out, timedOut, err := t.once(ctx, prompt, system)
	if err == nil || !timedOut {
		return out, err
	}

	t.logger.Warn("completion timed out, retrying once", "timeout", t.timeout, "error", err)
	out, _, err = t.once(ctx, prompt, system)
	return out, err
}

// once reports timedOut when the per-call deadline expired while ctx was
// still live. Backends wrap deadline errors differently (gRPC returns a
// status error), so the returned error is not inspected.
func (t *TimeoutCompleter) once(ctx context.Context, prompt, system string) (string, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.next.Complete(callCtx, prompt, system)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	return out, timedOut, err
}
