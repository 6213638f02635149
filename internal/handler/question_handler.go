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

// QuestionHandler handles question management endpoints.
type QuestionHandler struct {
	questionService *service.QuestionService
	log             zerolog.Logger
}

// NewQuestionHandler creates a new QuestionHandler.
func NewQuestionHandler(questionService *service.QuestionService, log zerolog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questionService: questionService,
		log:             log.With().Str("component", "question_handler").Logger(),
	}
}

// ListQuestions godoc
// GET /api/v1/admin/exams/:exam_id/questions
// Lists all questions for an exam, answer keys included.
func (h *QuestionHandler) ListQuestions(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	questions, err := h.questionService.List(c.Request.Context(), examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// AddQuestion godoc
// POST /api/v1/admin/exams/:exam_id/questions
func (h *QuestionHandler) AddQuestion(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.AddQuestionRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	q, err := h.questionService.Add(c.Request.Context(), examID, middleware.AuthorScope(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// UpdateQuestion godoc
// PUT /api/v1/admin/exams/:exam_id/questions/:question_id
func (h *QuestionHandler) UpdateQuestion(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	var req model.AddQuestionRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	q, err := h.questionService.Update(c.Request.Context(), examID, questionID, middleware.AuthorScope(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// DeleteQuestion godoc
// DELETE /api/v1/admin/exams/:exam_id/questions/:question_id
func (h *QuestionHandler) DeleteQuestion(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}
	questionID, ok := paramUUID(c, "question_id")
	if !ok {
		return
	}

	if err := h.questionService.Delete(c.Request.Context(), examID, questionID, middleware.AuthorScope(c)); err != nil {
		failWith(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReplaceQuestions godoc
// PUT /api/v1/admin/exams/:exam_id/questions
// Replaces the whole question set at once. Nothing is saved if any question
// is invalid.
func (h *QuestionHandler) ReplaceQuestions(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.ReplaceQuestionsRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	qs, err := h.questionService.ReplaceAll(c.Request.Context(), examID, middleware.AuthorScope(c), req.Questions)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"questions": qs})
}

// fail reports question shape errors with their detail so authors can fix them.
func (h *QuestionHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidQuestion) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidQuestion, map[string]string{
			"question": err.Error(),
		})
		return
	}
	failWith(c, h.log, err)
}
