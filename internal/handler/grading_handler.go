package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/middleware"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
	"github.com/stemsi/cbt-backend/internal/validator"
)

// GradingHandler handles rubrics and manual grading.
type GradingHandler struct {
	gradingService *service.GradingService
	log            zerolog.Logger
}

// NewGradingHandler creates a new GradingHandler.
func NewGradingHandler(gradingService *service.GradingService, log zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		gradingService: gradingService,
		log:            log.With().Str("component", "grading_handler").Logger(),
	}
}

// ─── Rubrics ───────────────────────────────────────────────────────────────

// ListRubrics godoc
// GET /api/v1/admin/exams/:exam_id/rubrics
func (h *GradingHandler) ListRubrics(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	rubrics, err := h.gradingService.ListRubrics(c.Request.Context(), examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if rubrics == nil {
		rubrics = []model.GradingRubric{}
	}
	response.Success(c, http.StatusOK, gin.H{"rubrics": rubrics})
}

// GetRubric godoc
// GET /api/v1/admin/exams/:exam_id/rubrics/:rubric_id
func (h *GradingHandler) GetRubric(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	rubricID, ok := paramUUID(c, "rubric_id")
	if !ok {
		return
	}

	rubric, err := h.gradingService.GetRubric(c.Request.Context(), examID, rubricID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rubric": rubric})
}

// CreateRubric godoc
// POST /api/v1/admin/exams/:exam_id/rubrics
func (h *GradingHandler) CreateRubric(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.RubricRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	rubric, err := h.gradingService.CreateRubric(c.Request.Context(), examID, middleware.AuthorScope(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"rubric": rubric})
}

// ReplaceRubric godoc
// PUT /api/v1/admin/exams/:exam_id/rubrics/:rubric_id
func (h *GradingHandler) ReplaceRubric(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	rubricID, ok := paramUUID(c, "rubric_id")
	if !ok {
		return
	}

	var req model.RubricRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	rubric, err := h.gradingService.ReplaceRubric(c.Request.Context(), examID, rubricID, middleware.AuthorScope(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rubric": rubric})
}

// DeleteRubric godoc
// DELETE /api/v1/admin/exams/:exam_id/rubrics/:rubric_id
func (h *GradingHandler) DeleteRubric(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	rubricID, ok := paramUUID(c, "rubric_id")
	if !ok {
		return
	}

	if err := h.gradingService.DeleteRubric(c.Request.Context(), examID, rubricID, middleware.AuthorScope(c)); err != nil {
		failWith(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── Manual grading ────────────────────────────────────────────────────────

// PendingAnswers godoc
// GET /api/v1/admin/exams/:exam_id/grading/pending
// Lists manual answers of finalized attempts that have no grade yet.
func (h *GradingHandler) PendingAnswers(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	pending, err := h.gradingService.PendingAnswers(c.Request.Context(), examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if pending == nil {
		pending = []model.PendingAnswer{}
	}
	response.Success(c, http.StatusOK, gin.H{"answers": pending})
}

// AttemptGrades godoc
// GET /api/v1/admin/attempts/:attempt_id/answers
func (h *GradingHandler) AttemptGrades(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	answers, err := h.gradingService.AttemptGrades(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if answers == nil {
		answers = []model.ReviewedAnswer{}
	}
	response.Success(c, http.StatusOK, gin.H{"answers": answers})
}

// GradeAnswer godoc
// PUT /api/v1/admin/answers/:answer_id/grade
// Grades or re-grades one manual answer and re-aggregates its attempt.
func (h *GradingHandler) GradeAnswer(c *gin.Context) {
	answerID, ok := paramUUID(c, "answer_id")
	if !ok {
		return
	}

	var req model.GradeAnswerRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	grade, attempt, err := h.gradingService.GradeAnswer(c.Request.Context(), answerID, middleware.GetClaims(c).UserID, middleware.AuthorScope(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"grade": grade, "attempt": attempt})
}

func (h *GradingHandler) fail(c *gin.Context, err error) {
	for _, target := range []error{service.ErrInvalidGrade, service.ErrInvalidRubric} {
		if errors.Is(err, target) {
			status, code := lookupError(target)
			response.FailWithFields(c, status, code, map[string]string{"grade": err.Error()})
			return
		}
	}
	failWith(c, h.log, err)
}
