package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
)

// ErrInvalidQuestion wraps every question shape violation.
var ErrInvalidQuestion = errors.New("invalid question")

// QuestionService handles question business logic. Questions can only be
// changed while their exam is a draft.
type QuestionService struct {
	exams        *ExamService
	questionRepo *repository.QuestionRepository
	rubricRepo   *repository.RubricRepository
	tx           *repository.TxRunner
}

// NewQuestionService creates a new QuestionService.
func NewQuestionService(
	exams *ExamService,
	questionRepo *repository.QuestionRepository,
	rubricRepo *repository.RubricRepository,
	tx *repository.TxRunner,
) *QuestionService {
	return &QuestionService{
		exams:        exams,
		questionRepo: questionRepo,
		rubricRepo:   rubricRepo,
		tx:           tx,
	}
}

// List retrieves all questions of an exam, answer keys included.
func (s *QuestionService) List(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	if _, err := s.exams.GetByID(ctx, examID); err != nil {
		return nil, err
	}
	return s.questionRepo.ListByExam(ctx, examID)
}

// Add validates and appends a question to a draft exam.
func (s *QuestionService) Add(ctx context.Context, examID uuid.UUID, authorID int, req *model.AddQuestionRequest) (*model.Question, error) {
	if _, err := s.exams.editable(ctx, examID, authorID); err != nil {
		return nil, err
	}
	q := req.ToQuestion(examID)
	if err := s.check(ctx, &q); err != nil {
		return nil, err
	}
	if err := s.questionRepo.Create(ctx, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Update replaces one question of a draft exam.
func (s *QuestionService) Update(ctx context.Context, examID, questionID uuid.UUID, authorID int, req *model.AddQuestionRequest) (*model.Question, error) {
	if _, err := s.owned(ctx, examID, questionID, authorID); err != nil {
		return nil, err
	}
	q := req.ToQuestion(examID)
	q.ID = questionID
	if err := s.check(ctx, &q); err != nil {
		return nil, err
	}
	if err := s.questionRepo.Update(ctx, &q); err != nil {
		return nil, notFound(err)
	}
	return &q, nil
}

// Delete removes one question of a draft exam.
func (s *QuestionService) Delete(ctx context.Context, examID, questionID uuid.UUID, authorID int) error {
	if _, err := s.owned(ctx, examID, questionID, authorID); err != nil {
		return err
	}
	return notFound(s.questionRepo.Delete(ctx, questionID))
}

// ReplaceAll swaps the full question set of a draft exam in one transaction.
// Nothing is written if any question is invalid.
func (s *QuestionService) ReplaceAll(ctx context.Context, examID uuid.UUID, authorID int, reqs []model.AddQuestionRequest) ([]model.Question, error) {
	if _, err := s.exams.editable(ctx, examID, authorID); err != nil {
		return nil, err
	}

	qs := make([]model.Question, len(reqs))
	for i := range reqs {
		qs[i] = reqs[i].ToQuestion(examID)
		if qs[i].OrderNum == 0 {
			qs[i].OrderNum = i + 1
		}
		if err := s.check(ctx, &qs[i]); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
	}

	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		return s.questionRepo.ReplaceAll(ctx, tx, examID, qs)
	})
	if err != nil {
		return nil, err
	}
	return qs, nil
}

func (s *QuestionService) owned(ctx context.Context, examID, questionID uuid.UUID, authorID int) (*model.Question, error) {
	if _, err := s.exams.editable(ctx, examID, authorID); err != nil {
		return nil, err
	}
	q, err := s.questionRepo.GetByID(ctx, questionID)
	if err != nil {
		return nil, notFound(err)
	}
	if q.ExamID != examID {
		return nil, ErrNotFound
	}
	return q, nil
}

// check validates the question shape and that its rubric belongs to the same exam.
func (s *QuestionService) check(ctx context.Context, q *model.Question) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuestion, err)
	}
	if q.RubricID == nil {
		return nil
	}
	if !q.NeedsManualGrading() {
		return fmt.Errorf("%w: rubrics only apply to manually graded questions", ErrInvalidQuestion)
	}
	rb, err := s.rubricRepo.GetByID(ctx, *q.RubricID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: rubric not found", ErrInvalidQuestion)
		}
		return err
	}
	if rb.ExamID != q.ExamID {
		return fmt.Errorf("%w: rubric belongs to another exam", ErrInvalidQuestion)
	}
	return nil
}
