package session

import (
	"context"
	"log/slog"
	"time"
)

// StartSweeper runs a background goroutine that periodically drops sessions
// idle for longer than ttl. It stops when ctx is cancelled.
func StartSweeper(ctx context.Context, m *Manager, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case now := <-ticker.C:
				if removed := m.Sweep(now, ttl); removed > 0 {
					slog.Info("Session sweeper removed idle sessions", "count", removed, "remaining", m.Len())
				}
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}
