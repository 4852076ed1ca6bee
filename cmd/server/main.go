// Catalyze - chemistry and lab automation assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/catalyze/internal/api"
	"github.com/ashureev/catalyze/internal/app"
	"github.com/ashureev/catalyze/internal/config"
	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/identity"
	"github.com/ashureev/catalyze/internal/middleware"
	"github.com/ashureev/catalyze/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if closeErr := svc.Close(closeCtx); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()
	slog.Info("Database connected", "path", cfg.DBPath)

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)
	defer limiter.Close()

	handler := api.NewHandler(api.Options{
		Router:          svc.Router,
		Pipeline:        svc.Pipeline,
		Sessions:        svc.Repo,
		Threads:         svc.Memory,
		Limiter:         limiter,
		DefaultPlatform: domain.ParsePlatform(cfg.DefaultPlatform),
		MaxBodyBytes:    cfg.MaxRequestBytes,
		AllowedOrigins:  cfg.AllowedOrigins,
		Logger:          logger,
	})

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(r)

	// Generation streams run for minutes; no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	retentionDone := store.StartRetentionWorker(ctx, svc.Repo, cfg.ThreadTTL, store.DefaultRetentionInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-retentionDone

	slog.Info("Server stopped successfully")
}
