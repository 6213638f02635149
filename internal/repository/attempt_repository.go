package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `a.id, a.exam_id, a.student_id, a.attempt_number, a.status, a.grading_status,
	a.question_order, a.started_at, a.expires_at, a.submitted_at, a.score, a.max_score,
	a.percentage, a.passed, a.termination_reason, a.created_at, a.updated_at`

func attemptDest(a *model.ExamAttempt) []any {
	return []any{&a.ID, &a.ExamID, &a.StudentID, &a.AttemptNumber, &a.Status, &a.GradingStatus,
		&a.QuestionOrder, &a.StartedAt, &a.ExpiresAt, &a.SubmittedAt, &a.Score, &a.MaxScore,
		&a.Percentage, &a.Passed, &a.TerminationReason, &a.CreatedAt, &a.UpdatedAt}
}

func scanAttempt(row pgx.Row) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	if err := row.Scan(attemptDest(a)...); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByID retrieves an attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM exam_attempts a WHERE a.id = $1`, id))
}

// LockByID retrieves an attempt with a row lock held until tx ends.
func (r *AttemptRepository) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.ExamAttempt, error) {
	return scanAttempt(tx.QueryRow(ctx, `SELECT `+attemptColumns+` FROM exam_attempts a WHERE a.id = $1 FOR UPDATE`, id))
}

// GetOpen returns the student's not_started or in_progress attempt at the exam.
func (r *AttemptRepository) GetOpen(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts a
		 WHERE a.exam_id = $1 AND a.student_id = $2 AND a.status IN ('not_started', 'in_progress')`,
		examID, studentID))
}

// CreateNext inserts a not_started attempt numbered after the student's
// previous attempts, refusing once maxAttempts is reached. It returns
// pgx.ErrNoRows when the limit is hit. The open-attempt unique index
// rejects a concurrent second join.
func (r *AttemptRepository) CreateNext(ctx context.Context, tx pgx.Tx, a *model.ExamAttempt, maxAttempts int) error {
	// Serialize joins of the same student to the same exam.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), $2)`, a.ExamID.String(), a.StudentID); err != nil {
		return err
	}

	var used int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`,
		a.ExamID, a.StudentID).Scan(&used); err != nil {
		return err
	}
	if used >= maxAttempts {
		return pgx.ErrNoRows
	}

	a.AttemptNumber = used + 1
	return tx.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, attempt_number, status, grading_status)
		 VALUES ($1, $2, $3, 'not_started', 'pending')
		 RETURNING id, status, grading_status, created_at, updated_at`,
		a.ExamID, a.StudentID, a.AttemptNumber,
	).Scan(&a.ID, &a.Status, &a.GradingStatus, &a.CreatedAt, &a.UpdatedAt)
}

// CountByExamAndStudent returns how many attempts the student has used.
func (r *AttemptRepository) CountByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_attempts WHERE exam_id = $1 AND student_id = $2`,
		examID, studentID).Scan(&n)
	return n, err
}

// MarkStarted moves a not_started attempt to in_progress. Returns
// pgx.ErrNoRows when the attempt was not in not_started.
func (r *AttemptRepository) MarkStarted(ctx context.Context, a *model.ExamAttempt) error {
	return r.pool.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = 'in_progress', started_at = $2, expires_at = $3, question_order = $4, updated_at = NOW()
		 WHERE id = $1 AND status = 'not_started'
		 RETURNING status, updated_at`,
		a.ID, a.StartedAt, a.ExpiresAt, nonNilUUIDs(a.QuestionOrder),
	).Scan(&a.Status, &a.UpdatedAt)
}

// ExtendExpiry pushes expires_at of an in_progress attempt.
func (r *AttemptRepository) ExtendExpiry(ctx context.Context, id uuid.UUID, by time.Duration) (time.Time, error) {
	var expires time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET expires_at = expires_at + make_interval(secs => $2), updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'
		 RETURNING expires_at`,
		id, by.Seconds(),
	).Scan(&expires)
	return expires, err
}

// SaveFinal persists the terminal state and aggregate of an attempt inside tx.
func (r *AttemptRepository) SaveFinal(ctx context.Context, tx pgx.Tx, a *model.ExamAttempt) error {
	_, err := tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $2, grading_status = $3, submitted_at = $4, score = $5, max_score = $6,
		     percentage = $7, passed = $8, termination_reason = $9, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.Status, a.GradingStatus, a.SubmittedAt, a.Score, a.MaxScore,
		a.Percentage, a.Passed, a.TerminationReason,
	)
	return err
}

// SaveAggregate updates the score columns after manual grading.
func (r *AttemptRepository) SaveAggregate(ctx context.Context, tx pgx.Tx, a *model.ExamAttempt) error {
	_, err := tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET grading_status = $2, score = $3, max_score = $4, percentage = $5, passed = $6, updated_at = NOW()
		 WHERE id = $1`,
		a.ID, a.GradingStatus, a.Score, a.MaxScore, a.Percentage, a.Passed,
	)
	return err
}

// ListOverdue returns in_progress attempts whose expiry passed before cutoff.
func (r *AttemptRepository) ListOverdue(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return r.collectIDs(ctx,
		`SELECT id FROM exam_attempts
		 WHERE status = 'in_progress' AND expires_at < $1
		 ORDER BY expires_at
		 LIMIT $2`, cutoff, limit)
}

// ExpireNotStarted marks every not_started attempt of the exam as expired and
// returns the affected IDs.
func (r *AttemptRepository) ExpireNotStarted(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	return r.collectIDs(ctx,
		`UPDATE exam_attempts
		 SET status = 'expired', updated_at = NOW()
		 WHERE exam_id = $1 AND status = 'not_started'
		 RETURNING id`, examID)
}

func (r *AttemptRepository) collectIDs(ctx context.Context, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
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

// ListByStudent retrieves all attempts of a student, newest first.
func (r *AttemptRepository) ListByStudent(ctx context.Context, studentID int) ([]model.ExamAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts a
		 WHERE a.student_id = $1
		 ORDER BY a.created_at DESC`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []model.ExamAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// ListByExam retrieves attempts of an exam joined with student identity.
// A perPage of 0 returns every row, which the exports use.
func (r *AttemptRepository) ListByExam(ctx context.Context, examID uuid.UUID, status model.AttemptStatus, page, perPage int) ([]model.AttemptSummary, int, error) {
	base := `
		FROM exam_attempts a
		JOIN students s ON s.id = a.student_id
		WHERE a.exam_id = $1`
	args := []any{examID}
	if status != "" {
		args = append(args, status)
		base += fmt.Sprintf(" AND a.status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) "+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + attemptColumns + `, s.name, s.nisn, s.class_name ` + base +
		` ORDER BY s.class_name, s.name, a.attempt_number`
	if perPage > 0 {
		args = append(args, perPage, offset(page, perPage))
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results := []model.AttemptSummary{}
	for rows.Next() {
		var s model.AttemptSummary
		dest := append(attemptDest(&s.ExamAttempt), &s.StudentName, &s.StudentNISN, &s.ClassName)
		if err := rows.Scan(dest...); err != nil {
			return nil, 0, err
		}
		results = append(results, s)
	}
	return results, total, rows.Err()
}

// GetSummary retrieves one attempt joined with student identity.
func (r *AttemptRepository) GetSummary(ctx context.Context, id uuid.UUID) (*model.AttemptSummary, error) {
	var s model.AttemptSummary
	dest := append(attemptDest(&s.ExamAttempt), &s.StudentName, &s.StudentNISN, &s.ClassName)
	err := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`, s.name, s.nisn, s.class_name
		 FROM exam_attempts a
		 JOIN students s ON s.id = a.student_id
		 WHERE a.id = $1`, id).Scan(dest...)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Lobby lists published exams with the student's attempt usage and latest attempt.
func (r *AttemptRepository) Lobby(ctx context.Context, studentID int) ([]model.LobbyExam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title, e.description, e.duration_minutes, e.start_at, e.end_at, e.max_attempts,
		        (SELECT COUNT(*) FROM exam_attempts c WHERE c.exam_id = e.id AND c.student_id = $1),
		        la.id, la.status,
		        (SELECT COUNT(*) FROM questions q WHERE q.exam_id = e.id)
		 FROM exams e
		 LEFT JOIN LATERAL (
		     SELECT a.id, a.status FROM exam_attempts a
		     WHERE a.exam_id = e.id AND a.student_id = $1
		     ORDER BY a.attempt_number DESC
		     LIMIT 1
		 ) la ON TRUE
		 WHERE e.status = 'published'
		 ORDER BY e.start_at NULLS FIRST, e.title`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exams := []model.LobbyExam{}
	for rows.Next() {
		var l model.LobbyExam
		if err := rows.Scan(&l.ID, &l.Title, &l.Description, &l.DurationMinutes, &l.StartAt, &l.EndAt,
			&l.MaxAttempts, &l.AttemptsUsed, &l.LatestAttemptID, &l.LatestStatus, &l.QuestionCount); err != nil {
			return nil, err
		}
		exams = append(exams, l)
	}
	return exams, rows.Err()
}

func nonNilUUIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
