package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper closes attempts whose time or exam window has run out.
type Sweeper interface {
	EnqueueOverdue(ctx context.Context, limit int) (int, error)
	ExpireUnstarted(ctx context.Context) (int, error)
}

// sweepLimit caps how many overdue attempts one tick queues.
const sweepLimit = 500

// ExpiryWorker periodically queues overdue attempts for auto-submission and
// expires attempts that were never started.
type ExpiryWorker struct {
	sweeper  Sweeper
	interval time.Duration
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(sweeper Sweeper, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ExpiryWorker{
		sweeper:  sweeper,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	queued, err := w.sweeper.EnqueueOverdue(ctx, sweepLimit)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Overdue sweep failed")
	}
	expired, err := w.sweeper.ExpireUnstarted(ctx)
	if err != nil && ctx.Err() == nil {
		w.log.Error().Err(err).Msg("Expire sweep failed")
	}
	if queued > 0 || expired > 0 {
		w.log.Info().Int("auto_submit_queued", queued).Int("expired", expired).Msg("Sweep done")
	}
}
