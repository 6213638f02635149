package service

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/model"
	"golang.org/x/sync/errgroup"
)

const dashboardListLimit = 5

// DashboardSource is satisfied by *repository.DashboardRepository.
type DashboardSource interface {
	Counts(ctx context.Context) (model.DashboardCounts, error)
	ExamStatusCounts(ctx context.Context) (map[model.ExamStatus]int, error)
	UpcomingExams(ctx context.Context, limit int) ([]model.UpcomingExam, error)
	RecentResults(ctx context.Context, limit int) ([]model.RecentExamResult, error)
}

// DashboardService assembles the admin landing page.
type DashboardService struct {
	repo DashboardSource
	log  zerolog.Logger
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(repo DashboardSource, log zerolog.Logger) *DashboardService {
	return &DashboardService{
		repo: repo,
		log:  log.With().Str("component", "dashboard_service").Logger(),
	}
}

// Get fetches every dashboard section in parallel. Any failing section fails
// the whole request.
func (s *DashboardService) Get(ctx context.Context) (*model.Dashboard, error) {
	d := &model.Dashboard{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		d.DashboardCounts, err = s.repo.Counts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.ExamStatusCounts, err = s.repo.ExamStatusCounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		d.UpcomingExams, err = s.repo.UpcomingExams(gctx, dashboardListLimit)
		return err
	})
	g.Go(func() error {
		var err error
		d.RecentResults, err = s.repo.RecentResults(gctx, dashboardListLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if d.UpcomingExams == nil {
		d.UpcomingExams = []model.UpcomingExam{}
	}
	if d.RecentResults == nil {
		d.RecentResults = []model.RecentExamResult{}
	}
	// Statuses without exams still show up as zero.
	if d.ExamStatusCounts == nil {
		d.ExamStatusCounts = make(map[model.ExamStatus]int)
	}
	for _, st := range []model.ExamStatus{model.ExamStatusDraft, model.ExamStatusPublished, model.ExamStatusArchived} {
		if _, ok := d.ExamStatusCounts[st]; !ok {
			d.ExamStatusCounts[st] = 0
		}
	}
	return d, nil
}
