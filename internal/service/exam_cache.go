package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
)

// ErrExamNotCached is returned when a published exam has no cached payload.
var ErrExamNotCached = errors.New("exam payload not cached")

// ExamCache keeps the student payload and answer key of published exams in Redis.
type ExamCache struct {
	rdb *redis.Client
}

// NewExamCache creates a new ExamCache.
func NewExamCache(rdb *redis.Client) *ExamCache {
	return &ExamCache{rdb: rdb}
}

// Warm writes the payload and answer key of exam in one pipeline.
func (c *ExamCache) Warm(ctx context.Context, exam *model.Exam, questions []model.Question) error {
	studentQuestions := make([]model.QuestionForStudent, len(questions))
	keys := make(map[string]any, len(questions))
	for i := range questions {
		studentQuestions[i] = questions[i].ForStudent()
		raw, err := json.Marshal(questions[i].Key())
		if err != nil {
			return fmt.Errorf("marshal answer key: %w", err)
		}
		keys[questions[i].ID.String()] = raw
	}

	payloadJSON, err := json.Marshal(model.ExamPayload{
		ExamID:            exam.ID,
		Title:             exam.Title,
		Duration:          exam.DurationMinutes,
		RequireFullscreen: exam.Enabled && exam.RequireFullscreen,
		Questions:         studentQuestions,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	id := exam.ID.String()
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(id), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamAnswerKey(id))
	if len(keys) > 0 {
		pipe.HSet(ctx, config.CacheKey.ExamAnswerKey(id), keys)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}
	return nil
}

// Evict drops the cached payload and answer key.
func (c *ExamCache) Evict(ctx context.Context, examID uuid.UUID) error {
	id := examID.String()
	return c.rdb.Del(ctx, config.CacheKey.ExamPayloadKey(id), config.CacheKey.ExamAnswerKey(id)).Err()
}

// Payload returns the cached student payload.
func (c *ExamCache) Payload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrExamNotCached
		}
		return nil, fmt.Errorf("get payload: %w", err)
	}

	var payload model.ExamPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &payload, nil
}

// AnswerKeys returns the cached scoring keys by question ID.
func (c *ExamCache) AnswerKeys(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]model.AnswerKey, error) {
	raw, err := c.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get answer key: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrExamNotCached
	}

	keys := make(map[uuid.UUID]model.AnswerKey, len(raw))
	for field, v := range raw {
		var k model.AnswerKey
		if err := json.Unmarshal([]byte(v), &k); err != nil {
			return nil, fmt.Errorf("unmarshal answer key %s: %w", field, err)
		}
		keys[k.QuestionID] = k
	}
	return keys, nil
}

// HasQuestion reports whether questionID belongs to the cached exam.
func (c *ExamCache) HasQuestion(ctx context.Context, examID, questionID uuid.UUID) (bool, error) {
	return c.rdb.HExists(ctx, config.CacheKey.ExamAnswerKey(examID.String()), questionID.String()).Result()
}

// QuestionKey returns the cached key of one question.
func (c *ExamCache) QuestionKey(ctx context.Context, examID, questionID uuid.UUID) (*model.AnswerKey, error) {
	v, err := c.rdb.HGet(ctx, config.CacheKey.ExamAnswerKey(examID.String()), questionID.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var k model.AnswerKey
	if err := json.Unmarshal(v, &k); err != nil {
		return nil, fmt.Errorf("unmarshal answer key: %w", err)
	}
	return &k, nil
}
