// Package api provides HTTP handlers for the Catalyze API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/ashureev/catalyze/internal/router"
	"github.com/go-chi/chi/v5"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// Router answers chat queries.
type Router interface {
	Process(ctx context.Context, q domain.Query) domain.RouterResult
	Status() router.Status
}

// Pipeline runs generation sessions for the streaming endpoint.
type Pipeline interface {
	Run(ctx context.Context, req generation.Request, observe generation.Observer) (*domain.GenerationSession, error)
	MaxRetries() int
}

// Sessions loads persisted generation sessions.
type Sessions interface {
	GetGenerationSession(ctx context.Context, id string) (*domain.GenerationSession, error)
}

// Threads clears conversation threads.
type Threads interface {
	Clear(ctx context.Context, threadID string) error
}

// Options configures a Handler.
type Options struct {
	Router          Router
	Pipeline        Pipeline
	Sessions        Sessions
	Threads         Threads
	Limiter         *RateLimiter
	DefaultPlatform domain.Platform
	MaxBodyBytes    int64
	// AllowedOrigins is used for websocket origin checks.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Handler serves the chat, generation, and thread endpoints.
type Handler struct {
	router          Router
	pipeline        Pipeline
	sessions        Sessions
	threads         Threads
	limiter         *RateLimiter
	defaultPlatform domain.Platform
	maxBody         int64
	allowedOrigins  []string
	logger          *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxRequestBodySize
	}
	if opts.DefaultPlatform == "" {
		opts.DefaultPlatform = domain.PlatformOT2
	}
	return &Handler{
		router:          opts.Router,
		pipeline:        opts.Pipeline,
		sessions:        opts.Sessions,
		threads:         opts.Threads,
		limiter:         opts.Limiter,
		defaultPlatform: opts.DefaultPlatform,
		maxBody:         opts.MaxBodyBytes,
		allowedOrigins:  opts.AllowedOrigins,
		logger:          opts.Logger,
	}
}

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/generate/stream", h.HandleGenerateStream)
		r.Get("/generations/{id}", h.HandleGetGeneration)
		r.Delete("/threads/{id}", h.HandleDeleteThread)
		r.Get("/status", h.HandleStatus)
	})
	r.Get("/ws/chat", h.HandleWebSocket)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
