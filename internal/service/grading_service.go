package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/scoring"
)

// Grading errors.
var (
	ErrNotManualAnswer = errors.New("answer does not need manual grading")
	ErrInvalidGrade    = errors.New("invalid grade")
	ErrInvalidRubric   = errors.New("invalid rubric")
)

// GradingService manages rubrics and the manual grading of essay and
// open short answers.
type GradingService struct {
	exams        *ExamService
	rubricRepo   *repository.RubricRepository
	answerRepo   *repository.AnswerRepository
	attemptRepo  *repository.AttemptRepository
	questionRepo *repository.QuestionRepository
	tx           *repository.TxRunner
	log          zerolog.Logger
}

// NewGradingService creates a new GradingService.
func NewGradingService(
	exams *ExamService,
	rubricRepo *repository.RubricRepository,
	answerRepo *repository.AnswerRepository,
	attemptRepo *repository.AttemptRepository,
	questionRepo *repository.QuestionRepository,
	tx *repository.TxRunner,
	log zerolog.Logger,
) *GradingService {
	return &GradingService{
		exams:        exams,
		rubricRepo:   rubricRepo,
		answerRepo:   answerRepo,
		attemptRepo:  attemptRepo,
		questionRepo: questionRepo,
		tx:           tx,
		log:          log.With().Str("component", "grading_service").Logger(),
	}
}

// ─── Rubrics ───────────────────────────────────────────────────────────────

// ListRubrics returns the rubrics of an exam.
func (s *GradingService) ListRubrics(ctx context.Context, examID uuid.UUID) ([]model.GradingRubric, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.rubricRepo.ListByExam(ctx, examID)
}

// GetRubric returns one rubric of an exam.
func (s *GradingService) GetRubric(ctx context.Context, examID, rubricID uuid.UUID) (*model.GradingRubric, error) {
	rb, err := s.rubricRepo.GetByID(ctx, rubricID)
	if err != nil {
		return nil, notFound(err)
	}
	if rb.ExamID != examID {
		return nil, ErrNotFound
	}
	return rb, nil
}

// CreateRubric adds a rubric to an exam the caller authors.
func (s *GradingService) CreateRubric(ctx context.Context, examID uuid.UUID, authorID int, req *model.RubricRequest) (*model.GradingRubric, error) {
	if err := s.authorOf(ctx, examID, authorID); err != nil {
		return nil, err
	}
	rb, err := rubricFromRequest(req)
	if err != nil {
		return nil, err
	}
	rb.ExamID = examID

	if err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		return s.rubricRepo.Create(ctx, tx, rb)
	}); err != nil {
		return nil, err
	}
	return rb, nil
}

// ReplaceRubric renames a rubric and replaces its criteria. Existing grades
// keep the points they were given.
func (s *GradingService) ReplaceRubric(ctx context.Context, examID, rubricID uuid.UUID, authorID int, req *model.RubricRequest) (*model.GradingRubric, error) {
	if err := s.authorOf(ctx, examID, authorID); err != nil {
		return nil, err
	}
	if _, err := s.GetRubric(ctx, examID, rubricID); err != nil {
		return nil, err
	}
	rb, err := rubricFromRequest(req)
	if err != nil {
		return nil, err
	}
	rb.ID = rubricID

	if err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		return s.rubricRepo.Replace(ctx, tx, rb)
	}); err != nil {
		return nil, notFound(err)
	}
	return rb, nil
}

// DeleteRubric removes a rubric of an exam.
func (s *GradingService) DeleteRubric(ctx context.Context, examID, rubricID uuid.UUID, authorID int) error {
	if err := s.authorOf(ctx, examID, authorID); err != nil {
		return err
	}
	if _, err := s.GetRubric(ctx, examID, rubricID); err != nil {
		return err
	}
	return notFound(s.rubricRepo.Delete(ctx, rubricID))
}

func (s *GradingService) authorOf(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	return checkAuthor(exam, authorID)
}

// checkAuthor allows authorID 0 (staff with exams:write_all) or the exam author.
func checkAuthor(exam *model.Exam, authorID int) error {
	if authorID != 0 && exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	return nil
}

func rubricFromRequest(req *model.RubricRequest) (*model.GradingRubric, error) {
	if len(req.Criteria) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRubric, scoring.ErrEmptyRubric)
	}
	rb := &model.GradingRubric{Name: req.Name, Criteria: make([]model.RubricCriterion, len(req.Criteria))}
	for i, c := range req.Criteria {
		if c.MaxPoints <= 0 {
			return nil, fmt.Errorf("%w: criterion %q needs positive max_points", ErrInvalidRubric, c.Title)
		}
		rb.Criteria[i] = model.RubricCriterion{
			Title:       c.Title,
			Description: c.Description,
			MaxPoints:   c.MaxPoints,
		}
	}
	return rb, nil
}

// ─── Grading ───────────────────────────────────────────────────────────────

// PendingAnswers lists manual answers of finalized attempts still waiting for a grade.
func (s *GradingService) PendingAnswers(ctx context.Context, examID uuid.UUID) ([]model.PendingAnswer, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.answerRepo.PendingManual(ctx, examID)
}

// AttemptGrades returns every answer of an attempt with its question and grade.
func (s *GradingService) AttemptGrades(ctx context.Context, attemptID uuid.UUID) ([]model.ReviewedAnswer, error) {
	if _, err := s.attemptRepo.GetByID(ctx, attemptID); err != nil {
		return nil, notFound(err)
	}
	return s.answerRepo.ListForReview(ctx, attemptID)
}

// GradeAnswer records a grade for a manual answer, replacing any earlier
// grade, and re-aggregates the attempt. Only the exam author, or staff
// scoped with authorID 0, may grade. The attempt row stays locked while its
// score is recomputed so concurrent graders cannot lose updates.
func (s *GradingService) GradeAnswer(ctx context.Context, answerID uuid.UUID, graderID, authorID int, req *model.GradeAnswerRequest) (*model.AnswerGrade, *model.ExamAttempt, error) {
	answer, err := s.answerRepo.GetByID(ctx, nil, answerID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	if !answer.NeedsManual {
		return nil, nil, ErrNotManualAnswer
	}

	q, err := s.questionRepo.GetByID(ctx, answer.QuestionID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	points, err := s.gradePoints(ctx, q, req)
	if err != nil {
		return nil, nil, err
	}

	grade := &model.AnswerGrade{
		AnswerID:        answerID,
		GraderID:        graderID,
		CriterionScores: req.CriterionScores,
		Points:          points,
		Feedback:        req.Feedback,
	}

	var attempt *model.ExamAttempt
	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		a, err := s.attemptRepo.LockByID(ctx, tx, answer.AttemptID)
		if err != nil {
			return err
		}
		if !a.Status.Terminal() {
			return ErrAttemptNotFinalized
		}
		exam, err := s.exams.GetByID(ctx, a.ExamID)
		if err != nil {
			return err
		}
		if err := checkAuthor(exam, authorID); err != nil {
			return err
		}

		if err := s.rubricRepo.UpsertGrade(ctx, tx, grade); err != nil {
			return fmt.Errorf("save grade: %w", err)
		}
		if err := s.answerRepo.SetGradedScore(ctx, tx, answerID, points, points >= q.Points); err != nil {
			return fmt.Errorf("save answer score: %w", err)
		}

		rows, err := s.answerRepo.ScoreRows(ctx, tx, a.ID)
		if err != nil {
			return fmt.Errorf("load score rows: %w", err)
		}
		applySummary(a, reaggregate(rows, exam.PassingScore))
		if err := s.attemptRepo.SaveAggregate(ctx, tx, a); err != nil {
			return fmt.Errorf("save aggregate: %w", err)
		}
		attempt = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.Info().
		Str("answer_id", answerID.String()).
		Str("attempt_id", attempt.ID.String()).
		Int("grader_id", graderID).
		Float64("points", points).
		Str("grading_status", string(attempt.GradingStatus)).
		Msg("Answer graded")
	return grade, attempt, nil
}

// gradePoints converts the request into question points, by rubric when the
// question has one and by direct points otherwise.
func (s *GradingService) gradePoints(ctx context.Context, q *model.Question, req *model.GradeAnswerRequest) (float64, error) {
	if q.RubricID != nil {
		rb, err := s.rubricRepo.GetByID(ctx, *q.RubricID)
		if err == nil {
			pts, err := scoring.RubricPoints(rb.Criteria, req.CriterionScores, q.Points)
			if err != nil {
				return 0, fmt.Errorf("%w: %w", ErrInvalidGrade, err)
			}
			return pts, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, err
		}
		// The rubric was deleted; grade with plain points.
	}
	if req.Points == nil {
		return 0, fmt.Errorf("%w: points are required", ErrInvalidGrade)
	}
	pts, err := scoring.DirectPoints(*req.Points, q.Points)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidGrade, err)
	}
	return pts, nil
}

// reaggregate rebuilds the attempt summary from per-question score rows.
// Ungraded manual answers count as pending and contribute nothing yet.
func reaggregate(rows []repository.ScoreRow, passingScore float64) scoring.Summary {
	results := make([]scoring.Result, len(rows))
	for i, r := range rows {
		res := scoring.Result{QuestionID: r.QuestionID, Max: r.Points}
		if r.Score != nil {
			res.Earned = *r.Score
		}
		res.NeedsManual = r.NeedsManual && !r.Graded
		results[i] = res
	}
	return scoring.Aggregate(results, passingScore)
}
