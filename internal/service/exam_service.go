package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/response"
)

// Domain Errors
var (
	ErrNotExamAuthor    = errors.New("not the author of this exam")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish")
	ErrExamNotDraft     = errors.New("exam status is not draft")
	ErrExamNotPublished = errors.New("exam status is not published")
	ErrInvalidWindow    = errors.New("end_at must be after start_at")
)

// ExamService handles exam business logic and Redis caching.
//
// Methods taking an authorID skip the ownership check when it is 0, which
// handlers pass for staff holding exams:write_all.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	cache        *ExamCache
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	cache *ExamCache,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		cache:        cache,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	return exam, notFound(err)
}

// List retrieves exams, restricted to authorID's own exams unless it is 0.
func (s *ExamService) List(ctx context.Context, authorID int, status model.ExamStatus, search string, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	page, perPage = pageBounds(page, perPage, 100)

	exams, total, err := s.examRepo.ListPaginated(ctx, repository.ExamFilter{
		AuthorID: authorID,
		Status:   status,
		Search:   search,
	}, page, perPage)
	if err != nil {
		return nil, nil, err
	}
	return exams, response.NewPagination(page, perPage, total), nil
}

// Create inserts a new exam as draft.
func (s *ExamService) Create(ctx context.Context, exam *model.Exam) error {
	if err := checkWindow(exam); err != nil {
		return err
	}
	if exam.MaxAttempts < 1 {
		exam.MaxAttempts = 1
	}
	exam.Status = model.ExamStatusDraft
	if err := s.examRepo.Create(ctx, exam); err != nil {
		return err
	}
	s.log.Info().Str("exam_id", exam.ID.String()).Int("author_id", exam.AuthorID).Msg("Exam created")
	return nil
}

// Update applies req to a draft exam.
func (s *ExamService) Update(ctx context.Context, id uuid.UUID, authorID int, req *model.UpdateExamRequest) (*model.Exam, error) {
	exam, err := s.editable(ctx, id, authorID)
	if err != nil {
		return nil, err
	}
	req.Apply(exam)
	if err := checkWindow(exam); err != nil {
		return nil, err
	}
	if err := s.examRepo.Update(ctx, exam); err != nil {
		// The exam left draft between the read and the write.
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, ErrExamNotDraft
		}
		return nil, err
	}
	return exam, nil
}

// Delete removes a draft exam.
func (s *ExamService) Delete(ctx context.Context, id uuid.UUID, authorID int) error {
	if _, err := s.editable(ctx, id, authorID); err != nil {
		return err
	}
	deleted, err := s.examRepo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrExamNotDraft
	}
	return nil
}

// editable loads an exam and checks that authorID may change it while it is a draft.
func (s *ExamService) editable(ctx context.Context, id uuid.UUID, authorID int) (*model.Exam, error) {
	exam, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if authorID != 0 && exam.AuthorID != authorID {
		return nil, ErrNotExamAuthor
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}
	return exam, nil
}

// Publish changes exam status to published and caches the payload + answer key in Redis.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID, authorID int) (*model.Exam, error) {
	exam, err := s.editable(ctx, examID, authorID)
	if err != nil {
		return nil, err
	}

	// Warm before flipping the status so no student can join an uncached exam.
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return nil, err
	}

	ok, err := s.examRepo.TransitionStatus(ctx, examID, model.ExamStatusDraft, model.ExamStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !ok {
		return nil, ErrExamNotDraft
	}
	exam.Status = model.ExamStatusPublished

	s.log.Info().Str("exam_id", examID.String()).Int("questions", exam.QuestionCount).Msg("Exam published")
	return exam, nil
}

// Archive closes a published exam to new joins and evicts its cache.
// Attempts already in progress keep running against the database copy.
func (s *ExamService) Archive(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if authorID != 0 && exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}

	ok, err := s.examRepo.TransitionStatus(ctx, examID, model.ExamStatusPublished, model.ExamStatusArchived)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if !ok {
		return ErrExamNotPublished
	}

	if err := s.cache.Evict(ctx, examID); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to evict exam cache")
	}
	s.log.Info().Str("exam_id", examID.String()).Msg("Exam archived")
	return nil
}

// RefreshCache re-caches the payload + answer key for a published exam.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}

	if authorID != 0 && exam.AuthorID != authorID {
		return ErrNotExamAuthor
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Cache refreshed")
	return nil
}

// WarmExamCache loads an exam's questions from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}
	exam.QuestionCount = len(questions)

	if err := s.cache.Warm(ctx, exam, questions); err != nil {
		return err
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

func checkWindow(e *model.Exam) error {
	if e.StartAt != nil && e.EndAt != nil && !e.EndAt.After(*e.StartAt) {
		return ErrInvalidWindow
	}
	return nil
}
