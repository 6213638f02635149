package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

// ContextKeyClaims is the Gin context key for JWT claims.
const ContextKeyClaims = "claims"

var errTokenMissing = errors.New("authorization header or token query required")

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, response.ErrStudentAccessOnly)
}

// RequireAdminJWT validates a staff JWT from the Authorization header.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeAdmin, response.ErrAdminAccessOnly)
}

func requireToken(authService *service.AuthService, want service.TokenType, wrongType response.ErrCode) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := extractAndValidateClaims(c, authService)
		if err != nil {
			abortTokenError(c, err)
			return
		}
		if claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, wrongType)
			return
		}
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Browsers cannot set headers on WebSocket upgrades. The single-device
// session is checked here because the socket outlives the request chain.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := c.Query("token")
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.ValidateToken(tokenStr)
		if err != nil {
			abortTokenError(c, err)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			response.AbortFail(c, http.StatusForbidden, response.ErrStudentAccessOnly)
			return
		}
		if err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, _ := val.(*service.Claims)
	return claims
}

func extractAndValidateClaims(c *gin.Context, authService *service.AuthService) (*service.Claims, error) {
	tokenStr := ""
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			tokenStr = strings.TrimSpace(token)
		}
	}

	// EventSource (SSE) cannot send headers.
	if tokenStr == "" {
		tokenStr = c.Query("token")
	}
	if tokenStr == "" {
		return nil, errTokenMissing
	}
	return authService.ValidateToken(tokenStr)
}

func abortTokenError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errTokenMissing):
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
	case errors.Is(err, jwt.ErrTokenExpired):
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
	default:
		response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
	}
}
