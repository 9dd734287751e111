package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// RunJanitor - purges idle rooms every interval until ctx is done.
func RunJanitor(ctx context.Context, logger *slog.Logger, clock clockwork.Clock, purger Purger, interval time.Duration) {
	log := logger.With("component", "janitor")

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			purged, err := purger.PurgeExpired(ctx)
			if err != nil {
				log.Warn("failed to purge idle rooms", "error", err)
				continue
			}

			if purged > 0 {
				log.Info("purged idle rooms", "count", purged)
			}
		}
	}
}
