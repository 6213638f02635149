package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `e.id, e.title, e.description, e.author_id, e.duration_minutes,
	e.start_at, e.end_at, e.entry_token, e.status, e.passing_score, e.max_attempts,
	e.shuffle_questions, e.show_result, e.negative_marking, e.partial_credit,
	e.proctoring_enabled, e.require_fullscreen, e.max_tab_switches,
	e.max_fullscreen_exits, e.auto_terminate,
	(SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id),
	e.created_at, e.updated_at`

func scanExam(row pgx.Row) (*model.Exam, error) {
	e := &model.Exam{}
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.AuthorID, &e.DurationMinutes,
		&e.StartAt, &e.EndAt, &e.EntryToken, &e.Status, &e.PassingScore, &e.MaxAttempts,
		&e.ShuffleQuestions, &e.ShowResult, &e.NegativeMarking, &e.PartialCredit,
		&e.Enabled, &e.RequireFullscreen, &e.MaxTabSwitches,
		&e.MaxFullscreenExits, &e.AutoTerminate,
		&e.QuestionCount,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx, `SELECT `+examColumns+` FROM exams e WHERE e.id = $1`, id))
}

// ExamFilter narrows exam listings. Zero values mean no filter.
type ExamFilter struct {
	AuthorID int
	Status   model.ExamStatus
	Search   string
}

// ListPaginated retrieves exams matching f, newest first.
func (r *ExamRepository) ListPaginated(ctx context.Context, f ExamFilter, page, perPage int) ([]model.Exam, int, error) {
	where := ` WHERE 1=1`
	var args []any
	if f.AuthorID > 0 {
		args = append(args, f.AuthorID)
		where += fmt.Sprintf(" AND e.author_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND e.status = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where += fmt.Sprintf(" AND e.title ILIKE $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM exams e`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, perPage, offset(page, perPage))
	query := `SELECT ` + examColumns + ` FROM exams e` + where +
		fmt.Sprintf(" ORDER BY e.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	exams := []model.Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, 0, err
		}
		exams = append(exams, *e)
	}
	return exams, total, rows.Err()
}

// Create inserts a new draft exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, description, author_id, duration_minutes, start_at, end_at,
		                    entry_token, passing_score, max_attempts, shuffle_questions, show_result,
		                    negative_marking, partial_credit, proctoring_enabled, require_fullscreen,
		                    max_tab_switches, max_fullscreen_exits, auto_terminate, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 'draft')
		 RETURNING id, status, created_at, updated_at`,
		e.Title, e.Description, e.AuthorID, e.DurationMinutes, e.StartAt, e.EndAt,
		e.EntryToken, e.PassingScore, e.MaxAttempts, e.ShuffleQuestions, e.ShowResult,
		e.NegativeMarking, e.PartialCredit, e.Enabled, e.RequireFullscreen,
		e.MaxTabSwitches, e.MaxFullscreenExits, e.AutoTerminate,
	).Scan(&e.ID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
}

// Update overwrites the editable fields of a draft exam. It returns
// pgx.ErrNoRows when the exam is missing or no longer a draft.
func (r *ExamRepository) Update(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`UPDATE exams SET
		    title = $2, description = $3, duration_minutes = $4, start_at = $5, end_at = $6,
		    entry_token = $7, passing_score = $8, max_attempts = $9, shuffle_questions = $10,
		    show_result = $11, negative_marking = $12, partial_credit = $13,
		    proctoring_enabled = $14, require_fullscreen = $15, max_tab_switches = $16,
		    max_fullscreen_exits = $17, auto_terminate = $18, updated_at = NOW()
		 WHERE id = $1 AND status = 'draft'
		 RETURNING updated_at`,
		e.ID, e.Title, e.Description, e.DurationMinutes, e.StartAt, e.EndAt,
		e.EntryToken, e.PassingScore, e.MaxAttempts, e.ShuffleQuestions,
		e.ShowResult, e.NegativeMarking, e.PartialCredit,
		e.Enabled, e.RequireFullscreen, e.MaxTabSwitches,
		e.MaxFullscreenExits, e.AutoTerminate,
	).Scan(&e.UpdatedAt)
}

// Delete removes a draft exam. Returns false when nothing was deleted.
func (r *ExamRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TransitionStatus moves an exam from one status to another. Returns false
// when the exam was not in the expected status.
func (r *ExamRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.ExamStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`,
		id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListPublished retrieves all published exams, used for cache warm-up and the lobby.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams e
		 WHERE e.status = 'published'
		 ORDER BY e.start_at NULLS FIRST, e.created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}

// ListEndedWithOpenAttempts returns published or archived exams whose window
// closed before now and that still have not_started attempts.
func (r *ExamRepository) ListEndedWithOpenAttempts(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT e.id
		 FROM exams e
		 JOIN exam_attempts a ON a.exam_id = e.id AND a.status = 'not_started'
		 WHERE e.end_at IS NOT NULL AND e.end_at <= NOW()`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
