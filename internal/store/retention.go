package store

import (
	"context"
	"log/slog"
	"time"
)

// InteractionCleaner deletes audit rows older than a cutoff.
type InteractionCleaner interface {
	CleanupInteractions(ctx context.Context, maxAge time.Duration) (int64, error)
}

// StartRetentionWorker prunes the interaction audit table every interval until
// ctx is cancelled. One pass runs immediately.
func StartRetentionWorker(ctx context.Context, c InteractionCleaner, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prune(ctx, c, maxAge)
		for {
			select {
			case <-ticker.C:
				prune(ctx, c, maxAge)
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func prune(ctx context.Context, c InteractionCleaner, maxAge time.Duration) {
	deleted, err := c.CleanupInteractions(ctx, maxAge)
	if err != nil {
		slog.Error("Failed to prune interactions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Pruned interactions", "deleted", deleted, "max_age", maxAge)
	}
}
