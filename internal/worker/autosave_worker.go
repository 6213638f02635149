package worker

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
)

// AnswerStore persists autosaved answers.
type AnswerStore interface {
	BulkUpsertAutosave(ctx context.Context, batch []model.AutosavePayload) error
	UpsertAutosave(ctx context.Context, p model.AutosavePayload) error
}

// AutosaveWorker consumes the persist answers queue and upserts answers to
// PostgreSQL in batches.
type AutosaveWorker struct {
	store AnswerStore
	loop  *batchLoop[model.AutosavePayload]
	log   zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AnswerStore, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	w := &AutosaveWorker{
		store: store,
		log:   log.With().Str("component", "autosave_worker").Logger(),
	}
	w.loop = newBatchLoop(rdb, config.WorkerKey.PersistAnswersQueue, w.persist, w.log)
	return w
}

// Start runs until ctx is cancelled. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	w.loop.run(ctx)
	w.log.Info().Msg("Worker stopped")
}

// persist tries one bulk upsert and falls back to row-by-row so a single
// bad row cannot block the batch. Rows that still fail are retried.
func (w *AutosaveWorker) persist(ctx context.Context, batch []model.AutosavePayload) []model.AutosavePayload {
	err := w.store.BulkUpsertAutosave(ctx, batch)
	if err == nil {
		w.log.Debug().Int("count", len(batch)).Msg("Answers persisted")
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk upsert failed, retrying row by row")

	var failed []model.AutosavePayload
	for _, p := range batch {
		if err := w.store.UpsertAutosave(ctx, p); err != nil {
			if isDataError(err) {
				w.log.Error().Err(err).
					Str("attempt_id", p.AttemptID.String()).
					Str("question_id", p.QuestionID.String()).
					Msg("Dropping answer rejected by the database")
				continue
			}
			failed = append(failed, p)
		}
	}
	return failed
}
