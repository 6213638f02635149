package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
)

var (
	// errMetaNotCached signals a cache miss on the attempt meta hash.
	errMetaNotCached = errors.New("attempt meta not cached")
	// errAttemptClosing is returned while a finalize holds the attempt.
	errAttemptClosing = errors.New("attempt is being finalized")
)

// metaStatusClosing marks an attempt whose finalize has started. It lives
// only in Redis and is never a persisted status.
const metaStatusClosing = "closing"

// setMetaScript writes the meta hash but never reopens a closing attempt.
var setMetaScript = redis.NewScript(`
local status = ARGV[3]
if redis.call('HGET', KEYS[1], 'status') == ARGV[6] then
	status = ARGV[6]
end
redis.call('HSET', KEYS[1], 'exam_id', ARGV[1], 'student_id', ARGV[2], 'status', status,
	'expires_at', ARGV[4], 'proctoring', ARGV[5])
redis.call('EXPIREAT', KEYS[1], ARGV[7])
return 1
`)

// bufferAnswerScript stores and queues an answer unless the attempt is
// closing. The check and the write are one atomic step.
var bufferAnswerScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == ARGV[4] then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('EXPIREAT', KEYS[2], ARGV[5])
redis.call('RPUSH', KEYS[3], ARGV[3])
return 1
`)

// markClosingScript flags the meta hash as closing, creating it when the
// meta was never cached.
var markClosingScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'status', ARGV[1])
if redis.call('TTL', KEYS[1]) < 0 then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// attemptKeyTTL bounds how long live attempt keys outlive the attempt deadline
// if finalize never clears them.
const attemptKeyTTL = 24 * time.Hour

// AttemptMeta is the hot-path view of an attempt kept in Redis.
type AttemptMeta struct {
	AttemptID  uuid.UUID
	ExamID     uuid.UUID
	StudentID  int
	Status     model.AttemptStatus
	ExpiresAt  time.Time
	Proctoring bool
}

func metaFromAttempt(a *model.ExamAttempt, proctoring bool) AttemptMeta {
	m := AttemptMeta{
		AttemptID:  a.ID,
		ExamID:     a.ExamID,
		StudentID:  a.StudentID,
		Status:     a.Status,
		Proctoring: proctoring,
	}
	if a.ExpiresAt != nil {
		m.ExpiresAt = *a.ExpiresAt
	}
	return m
}

// AttemptCache holds the live state of running attempts: meta, buffered
// answers, proctoring counters and presence.
type AttemptCache struct {
	rdb *redis.Client
}

// NewAttemptCache creates a new AttemptCache.
func NewAttemptCache(rdb *redis.Client) *AttemptCache {
	return &AttemptCache{rdb: rdb}
}

// SetMeta caches m until its deadline plus attemptKeyTTL. A closing
// attempt stays closing.
func (c *AttemptCache) SetMeta(ctx context.Context, m AttemptMeta) error {
	key := config.CacheKey.AttemptMetaKey(m.AttemptID.String())
	return setMetaScript.Run(ctx, c.rdb, []string{key},
		m.ExamID.String(),
		m.StudentID,
		string(m.Status),
		m.ExpiresAt.Unix(),
		strconv.FormatBool(m.Proctoring),
		metaStatusClosing,
		keyDeadline(m.ExpiresAt).Unix(),
	).Err()
}

// MarkClosing stops the attempt from taking new answers. Every answer
// accepted before it returns is in the buffer.
func (c *AttemptCache) MarkClosing(ctx context.Context, attemptID uuid.UUID) error {
	key := config.CacheKey.AttemptMetaKey(attemptID.String())
	return markClosingScript.Run(ctx, c.rdb, []string{key}, metaStatusClosing, int(attemptKeyTTL.Seconds())).Err()
}

// Forget drops the cached meta so the next read reloads it from PostgreSQL.
func (c *AttemptCache) Forget(ctx context.Context, attemptID uuid.UUID) error {
	return c.rdb.Del(ctx, config.CacheKey.AttemptMetaKey(attemptID.String())).Err()
}

// Meta reads the cached meta of an attempt.
func (c *AttemptCache) Meta(ctx context.Context, attemptID uuid.UUID) (*AttemptMeta, error) {
	h, err := c.rdb.HGetAll(ctx, config.CacheKey.AttemptMetaKey(attemptID.String())).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, errMetaNotCached
	}
	if h["status"] == metaStatusClosing {
		return nil, errAttemptClosing
	}

	examID, err := uuid.Parse(h["exam_id"])
	if err != nil {
		return nil, fmt.Errorf("decode meta exam_id: %w", err)
	}
	studentID, err := strconv.Atoi(h["student_id"])
	if err != nil {
		return nil, fmt.Errorf("decode meta student_id: %w", err)
	}
	expires, err := strconv.ParseInt(h["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode meta expires_at: %w", err)
	}
	proctoring, _ := strconv.ParseBool(h["proctoring"])

	return &AttemptMeta{
		AttemptID:  attemptID,
		ExamID:     examID,
		StudentID:  studentID,
		Status:     model.AttemptStatus(h["status"]),
		ExpiresAt:  time.Unix(expires, 0),
		Proctoring: proctoring,
	}, nil
}

// BufferAnswer stores the latest answer in the attempt hash and queues it
// for persistence in one round trip. It returns errAttemptClosing once a
// finalize has started.
func (c *AttemptCache) BufferAnswer(ctx context.Context, m *AttemptMeta, p model.AutosavePayload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal autosave: %w", err)
	}
	id := p.AttemptID.String()
	keys := []string{
		config.CacheKey.AttemptMetaKey(id),
		config.CacheKey.AttemptAnswersKey(id),
		config.WorkerKey.PersistAnswersQueue,
	}

	stored, err := bufferAnswerScript.Run(ctx, c.rdb, keys,
		p.QuestionID.String(), p.Answer, raw, metaStatusClosing, keyDeadline(m.ExpiresAt).Unix(),
	).Int()
	if err != nil {
		return err
	}
	if stored == 0 {
		return errAttemptClosing
	}
	return nil
}

// Answers returns the buffered answers by question ID.
func (c *AttemptCache) Answers(ctx context.Context, attemptID uuid.UUID) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
}

// ProctorCounters returns the live proctoring counters.
func (c *AttemptCache) ProctorCounters(ctx context.Context, attemptID uuid.UUID) (model.ProctoringCounters, error) {
	h, err := c.rdb.HGetAll(ctx, config.CacheKey.AttemptProctorKey(attemptID.String())).Result()
	if err != nil {
		return model.ProctoringCounters{}, err
	}
	return repository.CountersFromHash(h), nil
}

// Clear drops every live key of a finished attempt.
func (c *AttemptCache) Clear(ctx context.Context, attemptID uuid.UUID) error {
	id := attemptID.String()
	return c.rdb.Del(ctx,
		config.CacheKey.AttemptMetaKey(id),
		config.CacheKey.AttemptAnswersKey(id),
		config.CacheKey.AttemptProctorKey(id),
		config.CacheKey.AttemptPresenceKey(id),
	).Err()
}

// Publish sends ev to the exam monitor channel.
func (c *AttemptCache) Publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), raw).Err()
}

// EnqueueFinalize asks the finalize worker to close an attempt.
func (c *AttemptCache) EnqueueFinalize(ctx context.Context, job FinalizeJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.rdb.RPush(ctx, config.WorkerKey.FinalizeAttemptsQueue, raw).Err()
}

// FinalizeJob is a queued request to finalize an attempt.
type FinalizeJob struct {
	AttemptID uuid.UUID           `json:"attempt_id"`
	Status    model.AttemptStatus `json:"status"`
	Reason    string              `json:"reason,omitempty"`
}

func keyDeadline(expires time.Time) time.Time {
	if expires.IsZero() {
		return time.Now().Add(attemptKeyTTL)
	}
	return expires.Add(attemptKeyTTL)
}

func jsonRaw(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
