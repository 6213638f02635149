package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// DashboardRepository handles admin dashboard data access.
type DashboardRepository struct {
	pool *pgxpool.Pool
}

// NewDashboardRepository creates a new DashboardRepository.
func NewDashboardRepository(pool *pgxpool.Pool) *DashboardRepository {
	return &DashboardRepository{pool: pool}
}

// Counts retrieves the stat card figures in one round trip.
func (r *DashboardRepository) Counts(ctx context.Context) (model.DashboardCounts, error) {
	var c model.DashboardCounts
	err := r.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM exams),
			(SELECT COUNT(*) FROM questions),
			(SELECT COUNT(*) FROM exam_attempts WHERE status = $1),
			(SELECT COUNT(*) FROM exam_answers WHERE needs_manual AND score IS NULL)`,
		model.AttemptInProgress,
	).Scan(&c.Students, &c.Exams, &c.Questions, &c.ActiveAttempts, &c.PendingGrading)
	return c, err
}

// ExamStatusCounts retrieves the distribution of exams by status.
func (r *DashboardRepository) ExamStatusCounts(ctx context.Context) (map[model.ExamStatus]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM exams GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.ExamStatus]int)
	for rows.Next() {
		var status model.ExamStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// UpcomingExams retrieves the next published exams by start time.
func (r *DashboardRepository) UpcomingExams(ctx context.Context, limit int) ([]model.UpcomingExam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, start_at, duration_minutes
		 FROM exams
		 WHERE status = $1 AND start_at > NOW()
		 ORDER BY start_at ASC
		 LIMIT $2`,
		model.ExamStatusPublished, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.UpcomingExam])
}

// RecentResults retrieves the most recently closed exams with aggregates
// over their finalized attempts. An exam is closed once archived or past
// its end_at.
func (r *DashboardRepository) RecentResults(ctx context.Context, limit int) ([]model.RecentExamResult, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title,
			COALESCE(e.end_at, e.updated_at) AS ended_at,
			COUNT(a.id),
			AVG(a.percentage) FILTER (WHERE a.grading_status = $3),
			COUNT(a.id) FILTER (WHERE a.passed),
			COUNT(a.id) FILTER (WHERE a.grading_status = $4)
		 FROM exams e
		 LEFT JOIN exam_attempts a ON a.exam_id = e.id AND a.status NOT IN ($5, $6)
		 WHERE e.status = $1 OR (e.status = $2 AND e.end_at < NOW())
		 GROUP BY e.id, e.title, ended_at
		 ORDER BY ended_at DESC
		 LIMIT $7`,
		model.ExamStatusArchived, model.ExamStatusPublished,
		model.GradingCompleted, model.GradingAwaitingManual,
		model.AttemptNotStarted, model.AttemptInProgress,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[model.RecentExamResult])
}
