package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Redis rejects BLPOP timeouts under 1s
)

// flushFunc persists a batch and returns the items that must be retried.
type flushFunc[T any] func(ctx context.Context, batch []T) []T

// batchLoop drains a Redis list into batches. A batch is flushed when it is
// full or BatchTimeout has passed since the last flush. Items the flush
// could not persist are pushed back to the queue.
type batchLoop[T any] struct {
	rdb     *redis.Client
	queue   string
	flush   flushFunc[T]
	log     zerolog.Logger
	size    int
	timeout time.Duration
	poll    time.Duration
	// pause is consulted after a Redis error or a requeue.
	pause backoff.BackOff
}

func newBatchLoop[T any](rdb *redis.Client, queue string, flush flushFunc[T], log zerolog.Logger) *batchLoop[T] {
	pause := backoff.NewExponentialBackOff()
	pause.InitialInterval = 500 * time.Millisecond
	pause.MaxInterval = 10 * time.Second
	pause.MaxElapsedTime = 0
	return &batchLoop[T]{
		rdb:     rdb,
		queue:   queue,
		flush:   flush,
		log:     log,
		size:    BatchSize,
		timeout: BatchTimeout,
		poll:    PollTimeout,
		pause:   pause,
	}
}

func (l *batchLoop[T]) run(ctx context.Context) {
	buffer := make([]T, 0, l.size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= l.size || time.Since(lastFlush) >= l.timeout) {
			l.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			l.shutdown(buffer)
			return
		default:
		}

		result, err := l.rdb.BLPop(ctx, l.poll, l.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				l.shutdown(buffer)
				return
			}
			wait := l.pause.NextBackOff()
			l.log.Error().Err(err).Dur("retry_in", wait).Msg("Redis error")
			sleep(ctx, wait)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			l.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed payload")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (l *batchLoop[T]) flushSafe(ctx context.Context, batch []T) {
	failed := l.flush(ctx, batch)
	if len(failed) == 0 {
		l.pause.Reset()
		return
	}
	l.requeue(ctx, failed)
}

func (l *batchLoop[T]) requeue(ctx context.Context, items []T) {
	if err := l.push(ctx, items); err != nil {
		return
	}
	wait := l.pause.NextBackOff()
	l.log.Warn().Int("count", len(items)).Dur("retry_in", wait).Msg("Requeued failed items")
	sleep(ctx, wait)
}

// shutdown flushes what is buffered with a fresh deadline. Items that still
// fail go back to the queue for the next start.
func (l *batchLoop[T]) shutdown(buffer []T) {
	if len(buffer) == 0 {
		return
	}
	l.log.Info().Int("count", len(buffer)).Msg("Flushing buffer before stop")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if failed := l.flush(ctx, buffer); len(failed) > 0 {
		_ = l.push(ctx, failed)
	}
}

func (l *batchLoop[T]) push(ctx context.Context, items []T) error {
	pipe := l.rdb.Pipeline()
	for _, it := range items {
		if data, err := json.Marshal(it); err == nil {
			pipe.RPush(ctx, l.queue, data)
		}
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		l.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue items, data lost")
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
