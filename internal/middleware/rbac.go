package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
)

// RequirePermission checks that the staff JWT grants the permission.
func RequirePermission(perm model.Permission) gin.HandlerFunc {
	return RequireAnyPermission(perm)
}

// RequireAnyPermission checks that the staff JWT grants at least one of perms.
func RequireAnyPermission(perms ...model.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		for _, p := range perms {
			if claims.HasPermission(p) {
				c.Next()
				return
			}
		}
		response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
	}
}

// AuthorScope returns the author filter for exam-scoped actions: 0 when the
// caller may act on every exam, the caller's ID otherwise.
func AuthorScope(c *gin.Context) int {
	claims := GetClaims(c)
	if claims == nil {
		return -1
	}
	if claims.HasPermission(model.PermissionExamsWriteAll) {
		return 0
	}
	return claims.UserID
}
