package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
)

// EventStore persists proctoring events and session counters.
type EventStore interface {
	CopyEvents(ctx context.Context, events []model.ProctoringEvent) (int64, error)
	InsertEvent(ctx context.Context, e model.ProctoringEvent) error
	SyncCounters(ctx context.Context, attemptID uuid.UUID, c model.ProctoringCounters) error
}

// CounterSource reads the live counters of an attempt.
type CounterSource interface {
	ProctorCounters(ctx context.Context, attemptID uuid.UUID) (model.ProctoringCounters, error)
}

// ProctoringWorker consumes the persist proctoring queue, copies events to
// PostgreSQL in batches and mirrors the live counters onto the sessions.
type ProctoringWorker struct {
	store    EventStore
	counters CounterSource
	loop     *batchLoop[model.ProctoringEvent]
	log      zerolog.Logger
}

// NewProctoringWorker creates a new ProctoringWorker.
func NewProctoringWorker(store EventStore, counters CounterSource, rdb *redis.Client, log zerolog.Logger) *ProctoringWorker {
	w := &ProctoringWorker{
		store:    store,
		counters: counters,
		log:      log.With().Str("component", "proctoring_worker").Logger(),
	}
	w.loop = newBatchLoop(rdb, config.WorkerKey.PersistProctoringQueue, w.persist, w.log)
	return w
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *ProctoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	w.loop.run(ctx)
	w.log.Info().Msg("Worker stopped")
}

func (w *ProctoringWorker) persist(ctx context.Context, batch []model.ProctoringEvent) []model.ProctoringEvent {
	var failed []model.ProctoringEvent
	if _, err := w.store.CopyEvents(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Copy failed, inserting row by row")
		for _, e := range batch {
			if err := w.store.InsertEvent(ctx, e); err != nil {
				if isDataError(err) {
					w.log.Error().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Dropping event rejected by the database")
					continue
				}
				failed = append(failed, e)
			}
		}
	}

	w.syncCounters(ctx, batch)
	return failed
}

// syncCounters copies the Redis counters of every attempt in the batch onto
// its session row. Failures are logged only; the next batch or the final
// close of the session writes them again.
func (w *ProctoringWorker) syncCounters(ctx context.Context, batch []model.ProctoringEvent) {
	seen := make(map[uuid.UUID]struct{}, len(batch))
	for _, e := range batch {
		if _, ok := seen[e.AttemptID]; ok {
			continue
		}
		seen[e.AttemptID] = struct{}{}

		c, err := w.counters.ProctorCounters(ctx, e.AttemptID)
		if err != nil {
			w.log.Warn().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Counters unavailable")
			continue
		}
		if c.TotalEvents == 0 {
			// The attempt was finalized and its live keys cleared.
			continue
		}
		if err := w.store.SyncCounters(ctx, e.AttemptID, c); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Counter sync failed")
		}
	}
}
