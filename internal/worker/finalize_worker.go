package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/service"
)

// Finalizer ends an attempt. It must be idempotent for attempts that are
// already terminal.
type Finalizer interface {
	Finalize(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, reason string) (*model.ExamAttempt, error)
}

// FinalizeWorker consumes finalize jobs queued by the expiry sweep and the
// proctoring policy.
type FinalizeWorker struct {
	finalizer   Finalizer
	rdb         *redis.Client
	log         zerolog.Logger
	concurrency int
	maxTries    uint64
}

// NewFinalizeWorker creates a new FinalizeWorker running concurrency consumers.
func NewFinalizeWorker(finalizer Finalizer, rdb *redis.Client, concurrency int, log zerolog.Logger) *FinalizeWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &FinalizeWorker{
		finalizer:   finalizer,
		rdb:         rdb,
		log:         log.With().Str("component", "finalize_worker").Logger(),
		concurrency: concurrency,
		maxTries:    3,
	}
}

// Start runs until ctx is cancelled and waits for in-flight jobs. Call in a goroutine.
func (w *FinalizeWorker) Start(ctx context.Context) {
	w.log.Info().Int("consumers", w.concurrency).Msg("Worker started")

	var wg sync.WaitGroup
	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}
	wg.Wait()
	w.log.Info().Msg("Worker stopped")
}

func (w *FinalizeWorker) consume(ctx context.Context) {
	for ctx.Err() == nil {
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.FinalizeAttemptsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}
		w.handle(ctx, result[1])
	}
}

// handle runs one job. A job that keeps failing goes back to the queue so
// the next sweep or restart picks it up.
func (w *FinalizeWorker) handle(ctx context.Context, raw string) {
	var job service.FinalizeJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed job")
		return
	}

	// The attempt must be finalized even if shutdown starts mid-job.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	run := func() error {
		_, err := w.finalizer.Finalize(jobCtx, job.AttemptID, job.Status, job.Reason)
		if skippable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), w.maxTries), jobCtx)

	err := backoff.Retry(run, policy)
	switch {
	case err == nil:
		w.log.Debug().Str("attempt_id", job.AttemptID.String()).Str("status", string(job.Status)).Msg("Job done")
	case skippable(err):
		w.log.Info().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Job skipped")
	default:
		w.log.Error().Err(err).Str("attempt_id", job.AttemptID.String()).Msg("Finalize failed, requeueing")
		if err := w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.FinalizeAttemptsQueue, raw).Err(); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: failed to requeue job")
		}
		sleep(ctx, 2*time.Second)
	}
}

// skippable reports whether a job error means there is nothing left to do:
// the attempt is gone, already closed, or was given more time.
func skippable(err error) bool {
	return errors.Is(err, service.ErrNotFound) ||
		errors.Is(err, service.ErrAttemptNotActive) ||
		errors.Is(err, service.ErrAttemptNotOverdue)
}
