package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/ashureev/catalyze/internal/identity"
)

// maxStreamRetries caps the retry budget a client may request.
const maxStreamRetries = 10

// GenerateRequest is the body of POST /api/generate/stream.
type GenerateRequest struct {
	Instructions string `json:"instructions"`
	Platform     string `json:"platform,omitempty"`
	// MaxRetries defaults to the pipeline setting when omitted.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// HandleGenerateStream handles POST /api/generate/stream. Each attempt is
// streamed as an "attempt" event and the finished session as a "result"
// event.
func (h *Handler) HandleGenerateStream(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Instructions = strings.TrimSpace(req.Instructions)
	if req.Instructions == "" {
		Error(w, http.StatusBadRequest, "instructions are required")
		return
	}
	maxRetries := -1
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 || *req.MaxRetries > maxStreamRetries {
			Error(w, http.StatusBadRequest, fmt.Sprintf("max_retries must be between 0 and %d", maxStreamRetries))
			return
		}
		maxRetries = *req.MaxRetries
	}
	platform := domain.DetectPlatform(req.Platform, req.Instructions, h.defaultPlatform)

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	threadID := identity.ThreadIDFromContext(r.Context())
	h.logger.Info("Generation stream started", "thread_id", threadID, "platform", platform, "max_retries", maxRetries)

	// The observer runs on this goroutine, so writes need no locking.
	writeFailed := false
	observe := func(a domain.GenerationAttempt) {
		if writeFailed {
			return
		}
		if err := writeEvent(w, "attempt", a); err != nil {
			h.logger.Warn("failed to write SSE attempt event", "error", err)
			writeFailed = true
			return
		}
		flusher.Flush()
	}

	s, err := h.pipeline.Run(r.Context(), generation.Request{
		Instructions: req.Instructions,
		Platform:     platform,
		MaxRetries:   maxRetries,
		Context:      domain.QueryContext{ThreadID: threadID, PlatformHint: req.Platform},
	}, observe)
	if err != nil {
		h.logger.Info("Generation stream cancelled", "thread_id", threadID, "error", err)
		return
	}
	if writeFailed {
		return
	}
	if err := writeEvent(w, "result", s); err != nil {
		h.logger.Warn("failed to write SSE result event", "error", err)
		return
	}
	flusher.Flush()
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return writeSSE(w, event, string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
