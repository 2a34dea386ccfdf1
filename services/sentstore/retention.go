package sentstore

import (
	"context"
	"log/slog"
	"time"
)

// RunRetention deletes sent records older than maxAge every interval
// until the context is cancelled. Blocks; run it in a goroutine.
func RunRetention(ctx context.Context, store Store, interval, maxAge time.Duration) {
	slog.InfoContext(
		ctx, "start daemon",
		"task", "delete aged sent records",
		"interval", interval,
		"max_age", maxAge,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deleted, err := store.Purge(ctx, time.Now().Add(-maxAge))
			if err != nil {
				slog.WarnContext(ctx, "failed to purge aged sent records", "err", err)
				continue
			}
			if deleted > 0 {
				slog.InfoContext(ctx, "purged aged sent records", "count", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}
