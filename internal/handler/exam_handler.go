package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/middleware"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
	"github.com/stemsi/cbt-backend/internal/validator"
)

// ExamHandler handles exam management endpoints.
type ExamHandler struct {
	examService *service.ExamService
	log         zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService: examService,
		log:         log.With().Str("component", "exam_handler").Logger(),
	}
}

type examListQuery struct {
	Status  string `form:"status" binding:"omitempty,oneof=draft published archived"`
	Search  string `form:"search" binding:"omitempty,max=100"`
	Mine    bool   `form:"mine"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// ListExams godoc
// GET /api/v1/admin/exams
// Lists exams with pagination. Staff with exams:write_all see every exam,
// teachers only their own.
func (h *ExamHandler) ListExams(c *gin.Context) {
	var q examListQuery
	if bindFailed(c, validator.BindQuery(c, &q)) {
		return
	}

	author := 0
	claims := middleware.GetClaims(c)
	if q.Mine || (claims.HasPermission(model.PermissionExamsWriteOwn) && !claims.HasPermission(model.PermissionExamsWriteAll)) {
		author = claims.UserID
	}

	exams, pagination, err := h.examService.List(c.Request.Context(), author, model.ExamStatus(q.Status), q.Search, q.Page, q.PerPage)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// GetExam godoc
// GET /api/v1/admin/exams/:exam_id
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// CreateExam godoc
// POST /api/v1/admin/exams
// Creates a new draft exam owned by the caller.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	var req model.CreateExamRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	showResult := true
	if req.ShowResult != nil {
		showResult = *req.ShowResult
	}
	exam := &model.Exam{
		Title:              req.Title,
		Description:        req.Description,
		AuthorID:           middleware.GetClaims(c).UserID,
		DurationMinutes:    req.DurationMinutes,
		StartAt:            req.StartAt,
		EndAt:              req.EndAt,
		EntryToken:         req.EntryToken,
		PassingScore:       req.PassingScore,
		MaxAttempts:        req.MaxAttempts,
		ShuffleQuestions:   req.ShuffleQuestions,
		ShowResult:         showResult,
		NegativeMarking:    req.NegativeMarking,
		PartialCredit:      req.PartialCredit,
		ProctoringSettings: req.ProctoringSettings,
	}

	if err := h.examService.Create(c.Request.Context(), exam); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// UpdateExam godoc
// PATCH /api/v1/admin/exams/:exam_id
// Updates a draft exam. Omitted fields keep their values.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.UpdateExamRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), examID, middleware.AuthorScope(c), &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// DeleteExam godoc
// DELETE /api/v1/admin/exams/:exam_id
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), examID, middleware.AuthorScope(c)); err != nil {
		failWith(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PublishExam godoc
// POST /api/v1/admin/exams/:exam_id/publish
// Publishes an exam: caches payload + answer key to Redis, changes status.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.examService.Publish(c.Request.Context(), examID, middleware.AuthorScope(c))
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// ArchiveExam godoc
// POST /api/v1/admin/exams/:exam_id/archive
// Closes a published exam to new joins and evicts its cache.
func (h *ExamHandler) ArchiveExam(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	if err := h.examService.Archive(c.Request.Context(), examID, middleware.AuthorScope(c)); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// RefreshExamCache godoc
// POST /api/v1/admin/exams/:exam_id/refresh-cache
// Re-caches the exam payload + answer key to Redis.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	if err := h.examService.RefreshCache(c.Request.Context(), examID, middleware.AuthorScope(c)); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}
