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

// StudentPortalHandler handles student-facing endpoints (lobby, exam taking).
type StudentPortalHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(attemptService *service.AttemptService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "student_portal").Logger(),
	}
}

// GetLobby godoc
// GET /api/v1/student/lobby
// Returns published exams with the student's latest attempt on each.
func (h *StudentPortalHandler) GetLobby(c *gin.Context) {
	claims := middleware.GetClaims(c)

	lobby, err := h.attemptService.Lobby(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if lobby == nil {
		lobby = []model.LobbyExam{}
	}
	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// JoinExam godoc
// POST /api/v1/student/exams/:exam_id/join
// Validates the entry token and creates a not_started attempt. An open
// attempt is returned as is.
func (h *StudentPortalHandler) JoinExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	var req model.JoinExamRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	attempt, err := h.attemptService.Join(c.Request.Context(), examID, claims.UserID, req.EntryToken)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// StartAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/start
// Starts the clock on a joined attempt.
func (h *StudentPortalHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	attempt, err := h.attemptService.Start(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GetPaper godoc
// GET /api/v1/student/attempts/:attempt_id/paper
// Returns the questions in the attempt's order, without answer keys.
func (h *StudentPortalHandler) GetPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	paper, err := h.attemptService.Paper(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers
// Autosaves one answer. Polling clients use this instead of the WebSocket.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	savedAt, err := h.attemptService.SaveAnswer(c.Request.Context(), attemptID, claims.UserID, &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": req.QuestionID, "saved_at": savedAt})
}

// GetState godoc
// GET /api/v1/student/attempts/:attempt_id/state
// Returns saved answers and remaining time so a reloaded page can resume.
func (h *StudentPortalHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// SubmitAttempt godoc
// POST /api/v1/student/attempts/:attempt_id/submit
func (h *StudentPortalHandler) SubmitAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	attempt, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id/result
// Scores are withheld unless the exam shows results and grading is complete.
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	result, err := h.attemptService.Result(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		if errors.Is(err, service.ErrAttemptNotFinalized) {
			response.Fail(c, http.StatusConflict, response.ErrResultNotAvailable)
			return
		}
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}
