package postgres

import (
	"context"
	"time"

	"github.com/tokenscout/analytics-service/internal/domain"
	"github.com/tokenscout/analytics-service/internal/pkg/logger"
)

// StartRetentionPurge starts a background goroutine that periodically deletes
// events past the retention horizon to keep the event tables bounded.
func (r *EventRepo) StartRetentionPurge(ctx context.Context, every time.Duration) {
	go func() {
		log := logger.Logger.With().Str("component", "retention_purge").Logger()
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		// Run once immediately on startup
		r.purge(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				r.purge(ctx)
			}
		}
	}()
}

func (r *EventRepo) purge(ctx context.Context) {
	deleted, err := r.PurgeOlderThan(ctx, domain.EventRetention)
	if err != nil {
		logger.Logger.Warn().Err(err).Msg("retention purge failed")
		return
	}
	if deleted > 0 {
		logger.Logger.Info().Int64("deleted", deleted).Msg("expired events purged")
	}
}
