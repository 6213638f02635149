package response

import (
	"github.com/gin-gonic/gin"

	"github.com/stemsi/cbt-backend/internal/i18n"
)

// ErrCode is a typed error code enum for consistent API error identification.
// Each code doubles as the message ID in the locale files.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionActive      ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrConflict         ErrCode = "CONFLICT"
	ErrDependencyExists ErrCode = "DEPENDENCY_EXISTS"
	ErrActionForbidden  ErrCode = "ACTION_FORBIDDEN"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrExamNotPublished  ErrCode = "EXAM_NOT_PUBLISHED"
	ErrNotExamAuthor     ErrCode = "NOT_EXAM_AUTHOR"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"
	ErrExamNotDraft      ErrCode = "EXAM_NOT_DRAFT"
	ErrInvalidQuestion   ErrCode = "INVALID_QUESTION"

	// ─── Attempts ──────────────────────────────────────────────────────
	ErrMaxAttemptsReached  ErrCode = "MAX_ATTEMPTS_REACHED"
	ErrAttemptNotActive    ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrAttemptExpired      ErrCode = "ATTEMPT_EXPIRED"
	ErrAttemptNotFinalized ErrCode = "ATTEMPT_NOT_FINALIZED"
	ErrInvalidTransition   ErrCode = "INVALID_STATUS_TRANSITION"
	ErrQuestionNotInExam   ErrCode = "QUESTION_NOT_IN_EXAM"
	ErrInvalidAnswer       ErrCode = "INVALID_ANSWER"
	ErrResultNotAvailable  ErrCode = "RESULT_NOT_AVAILABLE"
	ErrProctoringDisabled  ErrCode = "PROCTORING_DISABLED"

	// ─── Grading ───────────────────────────────────────────────────────
	ErrNotManualAnswer ErrCode = "NOT_MANUAL_ANSWER"
	ErrInvalidGrade    ErrCode = "INVALID_GRADE"
	ErrInvalidRubric   ErrCode = "INVALID_RUBRIC"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"

	errUnknown ErrCode = "UNKNOWN_ERROR"
)

// GetMessage returns the localized message for code in the request's locale.
func GetMessage(c *gin.Context, code ErrCode) string {
	msg := i18n.T(c, string(code))
	if msg == string(code) {
		return i18n.T(c, string(errUnknown))
	}
	return msg
}
