package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/identity"
	"github.com/ashureev/catalyze/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// allow applies the per-client rate limit and writes the 429 itself.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil || h.limiter.Allow(identity.IPFromRequest(r)) {
		return true
	}
	Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

// decode reads a size-limited JSON body into v and writes the error response
// itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// HandleChat handles POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var q domain.Query
	if !h.decode(w, r, &q) {
		return
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		Error(w, http.StatusBadRequest, "query is required")
		return
	}
	if q.Context.ThreadID == "" {
		q.Context.ThreadID = identity.ThreadIDFromContext(r.Context())
	}

	h.logger.Info("Chat request",
		"thread_id", q.Context.ThreadID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"query_length", len(q.Text),
	)
	JSON(w, http.StatusOK, h.router.Process(r.Context(), q))
}

// HandleStatus handles GET /api/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.router.Status())
}

// HandleGetGeneration handles GET /api/generations/{id}.
func (h *Handler) HandleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := h.sessions.GetGenerationSession(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, "generation session not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load generation session", "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load generation session")
		return
	}
	JSON(w, http.StatusOK, s)
}

// HandleDeleteThread handles DELETE /api/threads/{id}.
func (h *Handler) HandleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !identity.ValidThreadID(id) {
		Error(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	err := h.threads.Clear(r.Context(), id)
	if errors.Is(err, store.ErrThreadNotFound) {
		Error(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to clear thread", "thread_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear thread")
		return
	}
	h.logger.Info("Thread cleared", "thread_id", id)
	JSON(w, http.StatusOK, map[string]string{"status": "cleared", "thread_id": id})
}
