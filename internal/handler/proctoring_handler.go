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

// ProctoringHandler receives integrity events from exam clients and serves
// them to supervisors.
type ProctoringHandler struct {
	proctoringService *service.ProctoringService
	log               zerolog.Logger
}

// NewProctoringHandler creates a new ProctoringHandler.
func NewProctoringHandler(proctoringService *service.ProctoringService, log zerolog.Logger) *ProctoringHandler {
	return &ProctoringHandler{
		proctoringService: proctoringService,
		log:               log.With().Str("component", "proctoring_handler").Logger(),
	}
}

// RecordEvent godoc
// POST /api/v1/student/attempts/:attempt_id/events
// Records one event. The response tells the client how much allowance is
// left and whether the attempt is being terminated.
func (h *ProctoringHandler) RecordEvent(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.RecordEventRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	verdict, err := h.proctoringService.RecordEvent(c.Request.Context(), attemptID, claims.UserID, &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, verdict)
}

// ListEvents godoc
// GET /api/v1/admin/attempts/:attempt_id/proctoring/events
func (h *ProctoringHandler) ListEvents(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	events, err := h.proctoringService.Events(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if events == nil {
		events = []model.ProctoringEvent{}
	}
	response.Success(c, http.StatusOK, gin.H{"events": events})
}

// GetSession godoc
// GET /api/v1/admin/attempts/:attempt_id/proctoring
func (h *ProctoringHandler) GetSession(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	sess, err := h.proctoringService.Session(c.Request.Context(), attemptID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, sess)
}
