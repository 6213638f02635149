package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

type errMapping struct {
	err    error
	status int
	code   response.ErrCode
}

// serviceErrors maps domain errors to HTTP responses. The first match wins,
// so wrapped errors must follow the errors they wrap.
var serviceErrors = []errMapping{
	{service.ErrNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrHasDependents, http.StatusConflict, response.ErrDependencyExists},
	{service.ErrDuplicateNISN, http.StatusConflict, response.ErrConflict},
	{service.ErrDuplicateEmail, http.StatusConflict, response.ErrConflict},

	{service.ErrNotExamAuthor, http.StatusForbidden, response.ErrNotExamAuthor},
	{service.ErrNoQuestions, http.StatusUnprocessableEntity, response.ErrNoQuestions},
	{service.ErrExamNotDraft, http.StatusConflict, response.ErrExamNotDraft},
	{service.ErrExamNotPublished, http.StatusConflict, response.ErrExamNotPublished},
	{service.ErrInvalidWindow, http.StatusBadRequest, response.ErrValidation},
	{service.ErrInvalidQuestion, http.StatusBadRequest, response.ErrInvalidQuestion},

	{service.ErrExamNotAvailable, http.StatusForbidden, response.ErrExamNotAvailable},
	{service.ErrInvalidEntryToken, http.StatusForbidden, response.ErrInvalidEntryToken},
	{service.ErrMaxAttemptsReached, http.StatusConflict, response.ErrMaxAttemptsReached},
	{service.ErrAttemptNotActive, http.StatusConflict, response.ErrAttemptNotActive},
	{service.ErrAttemptNotOverdue, http.StatusConflict, response.ErrAttemptNotActive},
	{service.ErrAttemptExpired, http.StatusConflict, response.ErrAttemptExpired},
	{service.ErrAttemptNotFinalized, http.StatusConflict, response.ErrAttemptNotFinalized},
	{service.ErrQuestionNotInExam, http.StatusBadRequest, response.ErrQuestionNotInExam},
	{service.ErrInvalidAnswer, http.StatusBadRequest, response.ErrInvalidAnswer},
	{model.ErrInvalidTransition, http.StatusConflict, response.ErrInvalidTransition},
	{service.ErrProctoringDisabled, http.StatusConflict, response.ErrProctoringDisabled},

	{service.ErrNotManualAnswer, http.StatusConflict, response.ErrNotManualAnswer},
	{service.ErrInvalidGrade, http.StatusBadRequest, response.ErrInvalidGrade},
	{service.ErrInvalidRubric, http.StatusBadRequest, response.ErrInvalidRubric},

	{service.ErrUnsupportedFileType, http.StatusUnsupportedMediaType, response.ErrUnsupportedFile},
	{service.ErrFileTooLarge, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge},

	{service.ErrSessionAlreadyActive, http.StatusConflict, response.ErrSessionActive},
	{service.ErrInvalidCredentials, http.StatusUnauthorized, response.ErrInvalidCredentials},
	{service.ErrUnknownRole, http.StatusBadRequest, response.ErrValidation},
}

// lookupError returns the response for a domain error. Unknown errors map to 500.
func lookupError(err error) (int, response.ErrCode) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the error response for err. Unexpected errors are logged
// with the request ID so the client-facing code stays generic.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	status, code := lookupError(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", response.RequestID(c)).
			Str("route", c.FullPath()).
			Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// paramUUID parses a UUID path parameter, failing the request when malformed.
func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func bindFailed(c *gin.Context, fields map[string]string) bool {
	if fields == nil {
		return false
	}
	response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
	return true
}
