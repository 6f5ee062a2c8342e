package queue

import (
	"context"
	"log/slog"
	"time"
)

// StartRetentionRoutine trims the outcome stream to exactly maxLen entries on
// every tick until ctx ends. Publish only caps approximately.
func (r *RedisBus) StartRetentionRoutine(ctx context.Context, interval time.Duration, maxLen int64) {
	if interval <= 0 || maxLen <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Starting Redis retention routine", "stream", r.stream, "interval", interval, "maxLen", maxLen)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Trim(ctx, maxLen); err != nil && ctx.Err() == nil {
				slog.Error("Retention routine failed", "error", err)
			}
		}
	}
}

// Trim removes the oldest entries so at most maxLen remain and reports how many
// were removed.
func (r *RedisBus) Trim(ctx context.Context, maxLen int64) (int64, error) {
	removed, err := r.client.XTrimMaxLen(ctx, r.stream, maxLen).Result()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Info("Trimmed outcome stream", "stream", r.stream, "removed", removed)
	}
	return removed, nil
}
