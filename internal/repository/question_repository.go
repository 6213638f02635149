package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// QuestionRepository handles question data access.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

const questionColumns = `id, exam_id, question_type, question_text, options, correct_answers,
	points, order_num, rubric_id, media_url`

func scanQuestion(row pgx.Row) (*model.Question, error) {
	q := &model.Question{}
	if err := row.Scan(&q.ID, &q.ExamID, &q.QuestionType, &q.QuestionText, &q.Options,
		&q.CorrectAnswers, &q.Points, &q.OrderNum, &q.RubricID, &q.MediaURL); err != nil {
		return nil, err
	}
	return q, nil
}

// ListByExam retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE exam_id = $1
		 ORDER BY order_num, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	questions := []model.Question{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

// GetByID retrieves a question by ID.
func (r *QuestionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Question, error) {
	return scanQuestion(r.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return insertQuestion(ctx, r.pool, q)
}

func insertQuestion(ctx context.Context, db Querier, q *model.Question) error {
	return db.QueryRow(ctx,
		`INSERT INTO questions (exam_id, question_type, question_text, options, correct_answers,
		                        points, order_num, rubric_id, media_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		q.ExamID, q.QuestionType, q.QuestionText, nonNilOptions(q.Options), nonNilStrings(q.CorrectAnswers),
		q.Points, q.OrderNum, q.RubricID, q.MediaURL,
	).Scan(&q.ID)
}

// Update overwrites a question.
func (r *QuestionRepository) Update(ctx context.Context, q *model.Question) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE questions
		 SET question_type = $2, question_text = $3, options = $4, correct_answers = $5,
		     points = $6, order_num = $7, rubric_id = $8, media_url = $9
		 WHERE id = $1`,
		q.ID, q.QuestionType, q.QuestionText, nonNilOptions(q.Options), nonNilStrings(q.CorrectAnswers),
		q.Points, q.OrderNum, q.RubricID, q.MediaURL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Delete removes a question.
func (r *QuestionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ReplaceAll deletes every question of the exam and inserts qs inside tx.
func (r *QuestionRepository) ReplaceAll(ctx context.Context, tx pgx.Tx, examID uuid.UUID, qs []model.Question) error {
	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1`, examID); err != nil {
		return err
	}
	for i := range qs {
		qs[i].ExamID = examID
		if err := insertQuestion(ctx, tx, &qs[i]); err != nil {
			return err
		}
	}
	return nil
}

func nonNilOptions(o []model.Option) []model.Option {
	if o == nil {
		return []model.Option{}
	}
	return o
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
