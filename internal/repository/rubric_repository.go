package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// RubricRepository handles grading rubric and criterion data access.
type RubricRepository struct {
	pool *pgxpool.Pool
}

// NewRubricRepository creates a new RubricRepository.
func NewRubricRepository(pool *pgxpool.Pool) *RubricRepository {
	return &RubricRepository{pool: pool}
}

// Create inserts a rubric with its criteria inside tx.
func (r *RubricRepository) Create(ctx context.Context, tx pgx.Tx, rb *model.GradingRubric) error {
	if err := tx.QueryRow(ctx,
		`INSERT INTO grading_rubrics (exam_id, name) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		rb.ExamID, rb.Name,
	).Scan(&rb.ID, &rb.CreatedAt, &rb.UpdatedAt); err != nil {
		return err
	}
	return r.insertCriteria(ctx, tx, rb)
}

// Replace renames a rubric and swaps its criteria inside tx.
func (r *RubricRepository) Replace(ctx context.Context, tx pgx.Tx, rb *model.GradingRubric) error {
	if err := tx.QueryRow(ctx,
		`UPDATE grading_rubrics SET name = $2, updated_at = NOW() WHERE id = $1
		 RETURNING exam_id, created_at, updated_at`,
		rb.ID, rb.Name,
	).Scan(&rb.ExamID, &rb.CreatedAt, &rb.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rubric_criteria WHERE rubric_id = $1`, rb.ID); err != nil {
		return err
	}
	return r.insertCriteria(ctx, tx, rb)
}

func (r *RubricRepository) insertCriteria(ctx context.Context, tx pgx.Tx, rb *model.GradingRubric) error {
	batch := &pgx.Batch{}
	for i := range rb.Criteria {
		c := &rb.Criteria[i]
		c.RubricID = rb.ID
		c.OrderNum = i
		batch.Queue(
			`INSERT INTO rubric_criteria (rubric_id, title, description, max_points, order_num)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			c.RubricID, c.Title, c.Description, c.MaxPoints, c.OrderNum,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&c.ID)
		})
	}
	return tx.SendBatch(ctx, batch).Close()
}

// GetByID retrieves a rubric with its criteria.
func (r *RubricRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.GradingRubric, error) {
	rb := &model.GradingRubric{}
	if err := r.pool.QueryRow(ctx,
		`SELECT id, exam_id, name, created_at, updated_at FROM grading_rubrics WHERE id = $1`, id,
	).Scan(&rb.ID, &rb.ExamID, &rb.Name, &rb.CreatedAt, &rb.UpdatedAt); err != nil {
		return nil, err
	}
	criteria, err := r.criteria(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	rb.Criteria = criteria[id]
	return rb, nil
}

// ListByExam retrieves the rubrics of an exam with their criteria.
func (r *RubricRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.GradingRubric, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, name, created_at, updated_at FROM grading_rubrics
		 WHERE exam_id = $1 ORDER BY created_at`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rubrics := []model.GradingRubric{}
	var ids []uuid.UUID
	for rows.Next() {
		var rb model.GradingRubric
		if err := rows.Scan(&rb.ID, &rb.ExamID, &rb.Name, &rb.CreatedAt, &rb.UpdatedAt); err != nil {
			return nil, err
		}
		rubrics = append(rubrics, rb)
		ids = append(ids, rb.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return rubrics, nil
	}

	criteria, err := r.criteria(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rubrics {
		rubrics[i].Criteria = criteria[rubrics[i].ID]
	}
	return rubrics, nil
}

func (r *RubricRepository) criteria(ctx context.Context, rubricIDs []uuid.UUID) (map[uuid.UUID][]model.RubricCriterion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, rubric_id, title, description, max_points, order_num
		 FROM rubric_criteria WHERE rubric_id = ANY($1)
		 ORDER BY rubric_id, order_num`, rubricIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.RubricCriterion, len(rubricIDs))
	for rows.Next() {
		var c model.RubricCriterion
		if err := rows.Scan(&c.ID, &c.RubricID, &c.Title, &c.Description, &c.MaxPoints, &c.OrderNum); err != nil {
			return nil, err
		}
		out[c.RubricID] = append(out[c.RubricID], c)
	}
	return out, rows.Err()
}

// Delete removes a rubric. Questions referencing it fall back to direct points.
func (r *RubricRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM grading_rubrics WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpsertGrade stores a grade for an answer, replacing any previous one, inside tx.
func (r *RubricRepository) UpsertGrade(ctx context.Context, tx pgx.Tx, g *model.AnswerGrade) error {
	scores := g.CriterionScores
	if scores == nil {
		scores = []model.CriterionScore{}
	}
	return tx.QueryRow(ctx,
		`INSERT INTO answer_grades (answer_id, grader_id, criterion_scores, points, feedback, graded_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (answer_id) DO UPDATE
		 SET grader_id = EXCLUDED.grader_id,
		     criterion_scores = EXCLUDED.criterion_scores,
		     points = EXCLUDED.points,
		     feedback = EXCLUDED.feedback,
		     graded_at = NOW()
		 RETURNING id, graded_at`,
		g.AnswerID, g.GraderID, scores, g.Points, g.Feedback,
	).Scan(&g.ID, &g.GradedAt)
}
