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

// AttemptHandler serves staff views of attempts and supervisor controls.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// ListResults godoc
// GET /api/v1/admin/exams/:exam_id/results
// Lists attempts of an exam with scores, optionally filtered by status.
func (h *AttemptHandler) ListResults(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var f model.ResultFilter
	if bindFailed(c, validator.BindQuery(c, &f)) {
		return
	}

	rows, pagination, err := h.attemptService.Results(c.Request.Context(), examID, f)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if rows == nil {
		rows = []model.AttemptSummary{}
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": rows}, pagination)
}

// GetAttempt godoc
// GET /api/v1/admin/attempts/:attempt_id
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	sum, err := h.attemptService.Summary(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": sum})
}

// ExtendTime godoc
// POST /api/v1/admin/attempts/:attempt_id/extend
func (h *AttemptHandler) ExtendTime(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.ExtendTimeRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	a, err := h.attemptService.ExtendTime(c.Request.Context(), attemptID, req.Minutes)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	h.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("minutes", req.Minutes).
		Int("by", middleware.GetClaims(c).UserID).
		Msg("Time extended by supervisor")
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}

// Terminate godoc
// POST /api/v1/admin/attempts/:attempt_id/terminate
func (h *AttemptHandler) Terminate(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.TerminateAttemptRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	a, err := h.attemptService.Terminate(c.Request.Context(), attemptID, req.Reason)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	h.log.Warn().
		Str("attempt_id", attemptID.String()).
		Int("by", middleware.GetClaims(c).UserID).
		Str("reason", req.Reason).
		Msg("Attempt terminated by supervisor")
	response.Success(c, http.StatusOK, gin.H{"attempt": a})
}
