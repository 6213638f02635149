package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// AnswerRepository handles exam answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Autosave writes are dropped once the attempt leaves in_progress so a late
// queue item cannot overwrite the answers a finalize already scored.
const upsertAutosaveSQL = `
	INSERT INTO exam_answers (attempt_id, question_id, answer, updated_at)
	SELECT t.attempt_id, t.question_id, t.answer, t.saved_at
	FROM UNNEST($1::uuid[], $2::uuid[], $3::text[], $4::timestamptz[])
	     AS t (attempt_id, question_id, answer, saved_at)
	WHERE EXISTS (SELECT 1 FROM exam_attempts a WHERE a.id = t.attempt_id AND a.status = 'in_progress')
	ON CONFLICT (attempt_id, question_id) DO UPDATE
	SET answer = EXCLUDED.answer, updated_at = EXCLUDED.updated_at
	WHERE exam_answers.updated_at <= EXCLUDED.updated_at
	  AND EXISTS (SELECT 1 FROM exam_attempts x WHERE x.id = exam_answers.attempt_id AND x.status = 'in_progress')`

// BulkUpsertAutosave persists a batch of autosaved answers in one statement.
// Later duplicates of the same (attempt, question) in the batch win.
func (r *AnswerRepository) BulkUpsertAutosave(ctx context.Context, batch []model.AutosavePayload) error {
	latest := make(map[[2]uuid.UUID]model.AutosavePayload, len(batch))
	for _, p := range batch {
		k := [2]uuid.UUID{p.AttemptID, p.QuestionID}
		if prev, ok := latest[k]; !ok || !p.SavedAt.Before(prev.SavedAt) {
			latest[k] = p
		}
	}

	n := len(latest)
	attemptIDs := make([]uuid.UUID, 0, n)
	questionIDs := make([]uuid.UUID, 0, n)
	answers := make([]string, 0, n)
	savedAts := make([]time.Time, 0, n)
	for _, p := range latest {
		attemptIDs = append(attemptIDs, p.AttemptID)
		questionIDs = append(questionIDs, p.QuestionID)
		answers = append(answers, p.Answer)
		savedAts = append(savedAts, p.SavedAt)
	}

	_, err := r.pool.Exec(ctx, upsertAutosaveSQL, attemptIDs, questionIDs, answers, savedAts)
	return err
}

// UpsertAutosave persists a single autosaved answer.
func (r *AnswerRepository) UpsertAutosave(ctx context.Context, p model.AutosavePayload) error {
	_, err := r.pool.Exec(ctx, upsertAutosaveSQL,
		[]uuid.UUID{p.AttemptID}, []uuid.UUID{p.QuestionID}, []string{p.Answer}, []time.Time{p.SavedAt})
	return err
}

// ListByAttempt retrieves the persisted answers of an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, db Querier, attemptID uuid.UUID) ([]model.ExamAnswer, error) {
	if db == nil {
		db = r.pool
	}
	rows, err := db.Query(ctx,
		`SELECT id, attempt_id, question_id, answer, score, is_correct, needs_manual, score_reason, graded_at, updated_at
		 FROM exam_answers WHERE attempt_id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.ExamAnswer
	for rows.Next() {
		var a model.ExamAnswer
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.Answer, &a.Score, &a.IsCorrect,
			&a.NeedsManual, &a.ScoreReason, &a.GradedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// GetByID retrieves one answer.
func (r *AnswerRepository) GetByID(ctx context.Context, db Querier, id uuid.UUID) (*model.ExamAnswer, error) {
	if db == nil {
		db = r.pool
	}
	var a model.ExamAnswer
	err := db.QueryRow(ctx,
		`SELECT id, attempt_id, question_id, answer, score, is_correct, needs_manual, score_reason, graded_at, updated_at
		 FROM exam_answers WHERE id = $1`, id,
	).Scan(&a.ID, &a.AttemptID, &a.QuestionID, &a.Answer, &a.Score, &a.IsCorrect,
		&a.NeedsManual, &a.ScoreReason, &a.GradedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// WriteScored writes one row per question with its final score inside tx.
// Manual answers keep a NULL score until graded.
func (r *AnswerRepository) WriteScored(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, scored []model.ScoredAnswer) error {
	if len(scored) == 0 {
		return nil
	}

	n := len(scored)
	questionIDs := make([]uuid.UUID, n)
	answers := make([]string, n)
	scores := make([]*float64, n)
	corrects := make([]*bool, n)
	manuals := make([]bool, n)
	reasons := make([]string, n)
	for i, s := range scored {
		questionIDs[i] = s.QuestionID
		answers[i] = s.Answer
		if !s.NeedsManual {
			v := s.Score
			scores[i] = &v
		}
		corrects[i] = s.IsCorrect
		manuals[i] = s.NeedsManual
		reasons[i] = s.Reason
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO exam_answers (attempt_id, question_id, answer, score, is_correct, needs_manual, score_reason, updated_at)
		 SELECT $1, t.question_id, t.answer, t.score, t.is_correct, t.needs_manual, t.score_reason, NOW()
		 FROM UNNEST($2::uuid[], $3::text[], $4::float8[], $5::bool[], $6::bool[], $7::text[])
		      AS t (question_id, answer, score, is_correct, needs_manual, score_reason)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer,
		     score = EXCLUDED.score,
		     is_correct = EXCLUDED.is_correct,
		     needs_manual = EXCLUDED.needs_manual,
		     score_reason = EXCLUDED.score_reason,
		     updated_at = NOW()`,
		attemptID, questionIDs, answers, scores, corrects, manuals, reasons,
	)
	return err
}

// SetGradedScore stores the points of a manually graded answer inside tx.
func (r *AnswerRepository) SetGradedScore(ctx context.Context, tx pgx.Tx, answerID uuid.UUID, points float64, full bool) error {
	_, err := tx.Exec(ctx,
		`UPDATE exam_answers SET score = $2, is_correct = $3, graded_at = NOW(), updated_at = NOW()
		 WHERE id = $1`, answerID, points, full)
	return err
}

// ScoreRow is the minimal per-question data used to re-aggregate an attempt.
type ScoreRow struct {
	QuestionID  uuid.UUID
	Points      float64
	Score       *float64
	NeedsManual bool
	Graded      bool
}

// ScoreRows returns every question of the attempt's exam with the attempt's
// answer score, if any, inside tx.
func (r *AnswerRepository) ScoreRows(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) ([]ScoreRow, error) {
	rows, err := tx.Query(ctx,
		`SELECT q.id, q.points, ans.score, COALESCE(ans.needs_manual, FALSE), ans.graded_at IS NOT NULL
		 FROM exam_attempts a
		 JOIN questions q ON q.exam_id = a.exam_id
		 LEFT JOIN exam_answers ans ON ans.attempt_id = a.id AND ans.question_id = q.id
		 WHERE a.id = $1`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var s ScoreRow
		if err := rows.Scan(&s.QuestionID, &s.Points, &s.Score, &s.NeedsManual, &s.Graded); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PendingManual lists manual answers of finalized attempts without a grade.
func (r *AnswerRepository) PendingManual(ctx context.Context, examID uuid.UUID) ([]model.PendingAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ans.id, ans.attempt_id, q.id, q.question_type, q.question_text, q.points, q.rubric_id,
		        ans.answer, s.name, s.nisn
		 FROM exam_answers ans
		 JOIN exam_attempts a ON a.id = ans.attempt_id
		 JOIN questions q ON q.id = ans.question_id
		 JOIN students s ON s.id = a.student_id
		 LEFT JOIN answer_grades g ON g.answer_id = ans.id
		 WHERE a.exam_id = $1
		   AND ans.needs_manual
		   AND g.id IS NULL
		   AND a.status IN ('submitted', 'auto_submitted', 'terminated')
		 ORDER BY a.submitted_at, q.order_num`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := []model.PendingAnswer{}
	for rows.Next() {
		var p model.PendingAnswer
		if err := rows.Scan(&p.AnswerID, &p.AttemptID, &p.QuestionID, &p.QuestionType, &p.QuestionText,
			&p.Points, &p.RubricID, &p.Answer, &p.StudentName, &p.StudentNISN); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// ListForReview returns the attempt's answers with question data and grades.
func (r *AnswerRepository) ListForReview(ctx context.Context, attemptID uuid.UUID) ([]model.ReviewedAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ans.id, ans.attempt_id, ans.question_id, ans.answer, ans.score, ans.is_correct,
		        ans.needs_manual, ans.score_reason, ans.graded_at, ans.updated_at,
		        q.question_type, q.question_text, q.points, q.order_num,
		        g.id, g.grader_id, g.criterion_scores, g.points, g.feedback, g.graded_at
		 FROM exam_answers ans
		 JOIN questions q ON q.id = ans.question_id
		 LEFT JOIN answer_grades g ON g.answer_id = ans.id
		 WHERE ans.attempt_id = $1
		 ORDER BY q.order_num, q.id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ReviewedAnswer{}
	for rows.Next() {
		var (
			ra       model.ReviewedAnswer
			gradeID  *uuid.UUID
			graderID *int
			criteria []model.CriterionScore
			points   *float64
			feedback *string
			gradedAt *time.Time
		)
		if err := rows.Scan(&ra.ID, &ra.AttemptID, &ra.QuestionID, &ra.Answer, &ra.Score, &ra.IsCorrect,
			&ra.NeedsManual, &ra.ScoreReason, &ra.GradedAt, &ra.UpdatedAt,
			&ra.QuestionType, &ra.QuestionText, &ra.Points, &ra.OrderNum,
			&gradeID, &graderID, &criteria, &points, &feedback, &gradedAt); err != nil {
			return nil, err
		}
		if gradeID != nil {
			ra.Grade = &model.AnswerGrade{
				ID:              *gradeID,
				AnswerID:        ra.ID,
				GraderID:        *graderID,
				CriterionScores: criteria,
				Points:          *points,
				Feedback:        *feedback,
				GradedAt:        *gradedAt,
			}
		}
		out = append(out, ra)
	}
	return out, rows.Err()
}

// CountByAttempt returns how many non-empty answers each attempt has persisted.
func (r *AnswerRepository) CountByAttempt(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, COUNT(*) FROM exam_answers
		 WHERE attempt_id = ANY($1) AND answer <> ''
		 GROUP BY attempt_id`, attemptIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int, len(attemptIDs))
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
