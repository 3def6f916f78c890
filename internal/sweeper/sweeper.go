// Package sweeper enforces ephemeral retention: once a conversation's
// configured duration elapses, its envelopes are deleted whether or not
// they were read. Expiry applies from each envelope's createdAt.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sealchat/internal/metrics"
)

// PurgeStore deletes expired envelopes and reports how many went.
type PurgeStore interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	store    PurgeStore
	interval time.Duration
	logger   zerolog.Logger
}

func New(store PurgeStore, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run purges on a fixed cadence until ctx is cancelled. Failures are
// logged and retried on the next tick; a broken sweep must not crash the
// server.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	purged, err := s.store.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("ephemeral sweep failed")
		return
	}
	if purged > 0 {
		metrics.EnvelopesPurged.Add(float64(purged))
		s.logger.Info().Int64("purged", purged).Msg("ephemeral envelopes expired")
	}
}
