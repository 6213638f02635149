package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
)

// ErrProctoringDisabled is returned for integrity events on an exam without proctoring.
var ErrProctoringDisabled = errors.New("proctoring is disabled for this exam")

// PresenceTTL is how long a heartbeat keeps an attempt marked online.
const PresenceTTL = 45 * time.Second

// ProctoringService records integrity events and applies the exam's
// termination policy.
type ProctoringService struct {
	attempts    *AttemptService
	exams       *ExamService
	proctorRepo *repository.ProctoringRepository
	live        *AttemptCache
	rdb         *redis.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewProctoringService creates a new ProctoringService.
func NewProctoringService(
	attempts *AttemptService,
	exams *ExamService,
	proctorRepo *repository.ProctoringRepository,
	live *AttemptCache,
	rdb *redis.Client,
	log zerolog.Logger,
) *ProctoringService {
	return &ProctoringService{
		attempts:    attempts,
		exams:       exams,
		proctorRepo: proctorRepo,
		live:        live,
		rdb:         rdb,
		log:         log.With().Str("component", "proctoring_service").Logger(),
		now:         time.Now,
	}
}

// RecordEvent counts one event from the exam client. Heartbeats only refresh
// presence; every other event is counted in Redis, queued for persistence and
// forwarded to the monitor. When the exam auto-terminates and a limit is
// exceeded the attempt is queued for termination.
func (s *ProctoringService) RecordEvent(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.RecordEventRequest) (*model.ProctoringVerdict, error) {
	eventType := model.ProctoringEventType(req.EventType)
	if !eventType.Valid() {
		return nil, fmt.Errorf("unknown event type %q", req.EventType)
	}

	meta, err := s.attempts.LiveMeta(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if meta.StudentID != studentID {
		return nil, ErrNotFound
	}
	if meta.Status != model.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	presenceKey := config.CacheKey.AttemptPresenceKey(attemptID.String())
	counterKey := config.CacheKey.AttemptProctorKey(attemptID.String())

	if eventType == model.EventHeartbeat {
		pipe := s.rdb.Pipeline()
		pipe.Set(ctx, presenceKey, s.now().Unix(), PresenceTTL)
		counts := pipe.HGetAll(ctx, counterKey)
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("record heartbeat: %w", err)
		}
		return &model.ProctoringVerdict{ProctoringCounters: repository.CountersFromHash(counts.Val())}, nil
	}

	if !meta.Proctoring {
		return nil, ErrProctoringDisabled
	}

	occurred := s.now().UTC()
	if req.OccurredAt != nil && !req.OccurredAt.After(occurred) {
		occurred = req.OccurredAt.UTC()
	}
	event := model.ProctoringEvent{
		AttemptID:  attemptID,
		ExamID:     meta.ExamID,
		StudentID:  studentID,
		EventType:  eventType,
		Detail:     req.Detail,
		OccurredAt: occurred,
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, counterKey, string(eventType), 1)
	pipe.HIncrBy(ctx, counterKey, repository.ProctorTotalField, 1)
	pipe.ExpireAt(ctx, counterKey, keyDeadline(meta.ExpiresAt))
	pipe.Set(ctx, presenceKey, occurred.Unix(), PresenceTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistProctoringQueue, raw)
	counts := pipe.HGetAll(ctx, counterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	counters := repository.CountersFromHash(counts.Val())

	exam, err := s.exams.GetByID(ctx, meta.ExamID)
	if err != nil {
		return nil, err
	}
	verdict, reason := evaluatePolicy(exam.ProctoringSettings, counters)

	s.publish(ctx, meta, event, counters)

	if reason != "" {
		if err := s.proctorRepo.Flag(ctx, attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to flag proctoring session")
		}
		if err := s.live.EnqueueFinalize(ctx, FinalizeJob{
			AttemptID: attemptID,
			Status:    model.AttemptTerminated,
			Reason:    reason,
		}); err != nil {
			return nil, fmt.Errorf("queue termination: %w", err)
		}
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Int("student_id", studentID).
			Int("tab_switches", counters.TabSwitches).
			Int("fullscreen_exits", counters.FullscreenExits).
			Str("reason", reason).
			Msg("Attempt queued for termination")
	}
	return verdict, nil
}

// evaluatePolicy computes the remaining allowance and whether the attempt
// must end. A zero limit is never enforced. The returned reason is empty
// unless the attempt is to be terminated.
func evaluatePolicy(p model.ProctoringSettings, c model.ProctoringCounters) (*model.ProctoringVerdict, string) {
	v := &model.ProctoringVerdict{ProctoringCounters: c}

	left := func(limit, used int) *int {
		if limit <= 0 {
			return nil
		}
		n := limit - used
		if n < 0 {
			n = 0
		}
		return &n
	}
	v.TabSwitchesLeft = left(p.MaxTabSwitches, c.TabSwitches)
	v.FullscreenExitsLeft = left(p.MaxFullscreenExits, c.FullscreenExits)

	if !p.AutoTerminate {
		return v, ""
	}
	var reason string
	switch {
	case p.MaxTabSwitches > 0 && c.TabSwitches > p.MaxTabSwitches:
		reason = fmt.Sprintf("tab switch limit exceeded (%d/%d)", c.TabSwitches, p.MaxTabSwitches)
	case p.MaxFullscreenExits > 0 && c.FullscreenExits > p.MaxFullscreenExits:
		reason = fmt.Sprintf("fullscreen exit limit exceeded (%d/%d)", c.FullscreenExits, p.MaxFullscreenExits)
	}
	v.Terminated = reason != ""
	return v, reason
}

func (s *ProctoringService) publish(ctx context.Context, meta *AttemptMeta, e model.ProctoringEvent, c model.ProctoringCounters) {
	data, err := json.Marshal(map[string]any{
		"event_type": e.EventType,
		"counters":   c,
	})
	if err != nil {
		return
	}
	ev := model.MonitorEvent{
		Type:      "proctoring_event",
		AttemptID: meta.AttemptID,
		StudentID: meta.StudentID,
		Data:      data,
		At:        e.OccurredAt,
	}
	if err := s.live.Publish(ctx, meta.ExamID, ev); err != nil {
		s.log.Debug().Err(err).Msg("Monitor publish failed")
	}
}

// Events lists the persisted events of an attempt.
func (s *ProctoringService) Events(ctx context.Context, attemptID uuid.UUID) ([]model.ProctoringEvent, error) {
	return s.proctorRepo.ListEvents(ctx, attemptID)
}

// Session returns the proctoring session of an attempt, overlaid with the
// live counters while it is active.
func (s *ProctoringService) Session(ctx context.Context, attemptID uuid.UUID) (*model.ProctoringSession, error) {
	sess, err := s.proctorRepo.GetSession(ctx, attemptID)
	if err != nil {
		return nil, notFound(err)
	}
	if sess.Status != model.ProctoringActive {
		return sess, nil
	}
	live, err := s.live.ProctorCounters(ctx, attemptID)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Live counters unavailable")
		return sess, nil
	}
	sess.TabSwitches = max(sess.TabSwitches, live.TabSwitches)
	sess.FullscreenExits = max(sess.FullscreenExits, live.FullscreenExits)
	sess.TotalEvents = max(sess.TotalEvents, live.TotalEvents)
	return sess, nil
}
