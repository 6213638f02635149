package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"golang.org/x/sync/errgroup"
)

// MonitorService builds the live supervisor view of an exam.
type MonitorService struct {
	exams       *ExamService
	monitorRepo *repository.MonitorRepository
	rdb         *redis.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(exams *ExamService, monitorRepo *repository.MonitorRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		exams:       exams,
		monitorRepo: monitorRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "monitor_service").Logger(),
		now:         time.Now,
	}
}

// Snapshot returns every attempt of the exam with its live progress.
// Rows come from PostgreSQL first; the Redis overlays are then fetched in
// parallel. Overlays are best-effort: a Redis failure leaves the persisted
// values in place.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*model.MonitorSnapshot, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}

	var (
		rows      []model.MonitorRow
		questions int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = s.monitorRepo.ListRows(gctx, examID)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = s.monitorRepo.CountQuestions(gctx, examID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	live := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		if r.Status == model.AttemptInProgress {
			live = append(live, r.AttemptID)
		}
	}

	var (
		answered map[uuid.UUID]int
		counters map[uuid.UUID]model.ProctoringCounters
		online   map[uuid.UUID]bool
	)
	if len(live) > 0 {
		og, octx := errgroup.WithContext(ctx)
		og.Go(func() error {
			var err error
			answered, err = s.monitorRepo.LiveAnswerCounts(octx, live)
			return err
		})
		og.Go(func() error {
			var err error
			counters, err = s.monitorRepo.LiveProctorCounts(octx, live)
			return err
		})
		og.Go(func() error {
			var err error
			online, err = s.monitorRepo.Presence(octx, live)
			return err
		})
		if err := og.Wait(); err != nil {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Live overlay unavailable")
		}
	}

	return buildSnapshot(examID, questions, rows, answered, counters, online, s.now()), nil
}

// buildSnapshot merges live overlays into the persisted rows and computes totals.
func buildSnapshot(
	examID uuid.UUID,
	questions int,
	rows []model.MonitorRow,
	answered map[uuid.UUID]int,
	counters map[uuid.UUID]model.ProctoringCounters,
	online map[uuid.UUID]bool,
	now time.Time,
) *model.MonitorSnapshot {
	snap := &model.MonitorSnapshot{
		ExamID:        examID,
		QuestionCount: questions,
		Totals:        make(map[model.AttemptStatus]int),
		Rows:          rows,
		GeneratedAt:   now.UTC(),
	}
	for i := range rows {
		r := &rows[i]
		snap.Totals[r.Status]++

		if n, ok := answered[r.AttemptID]; ok {
			r.AnsweredCount = n
		}
		if c, ok := counters[r.AttemptID]; ok {
			r.TabSwitches = max(r.TabSwitches, c.TabSwitches)
			r.FullscreenExits = max(r.FullscreenExits, c.FullscreenExits)
		}
		if online[r.AttemptID] {
			r.Online = true
			snap.Online++
		}
		if r.Status == model.AttemptInProgress && r.ExpiresAt != nil {
			r.RemainingSeconds = max(0, int(r.ExpiresAt.Sub(now).Seconds()))
		}
	}
	return snap
}

// Subscribe opens a subscription to the exam monitor channel. The caller
// must close it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
