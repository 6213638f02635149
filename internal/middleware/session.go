package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

// CheckSingleDeviceSession validates the JWT's JTI against the active session in Redis.
// A mismatch means a supervisor reset the session or the student logged out.
func CheckSingleDeviceSession(authService *service.AuthService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrSessionInvalidated):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			log.Error().Err(err).Int("student_id", claims.UserID).Msg("Session check failed")
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		}
	}
}
