package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRetentionInterval is how often idle threads are swept.
const DefaultRetentionInterval = 5 * time.Minute

// StartRetentionWorker periodically purges threads idle for longer than ttl.
// The returned channel is closed once the worker has stopped after ctx ends.
func StartRetentionWorker(ctx context.Context, repo Repository, ttl, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				purgeIdleThreads(ctx, repo, ttl)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func purgeIdleThreads(ctx context.Context, repo Repository, ttl time.Duration) {
	purged, err := repo.PurgeIdleThreads(ctx, ttl)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during purge", "error", err)
			return
		}
		slog.Error("Retention worker failed to purge idle threads", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("Retention worker purged idle threads", "count", purged)
	}
}
