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

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService    *service.AuthService
	studentService *service.StudentService
	adminService   *service.AdminService
	log            zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService *service.AuthService,
	studentService *service.StudentService,
	adminService *service.AdminService,
	log zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		studentService: studentService,
		adminService:   adminService,
		log:            log.With().Str("component", "auth_handler").Logger(),
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates NISN + password, rejects a second device, returns JWT.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	student, err := h.studentService.GetByNISN(c.Request.Context(), req.NISN)
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			failWith(c, h.log, err)
			return
		}
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}
	if err := h.authService.CheckPassword(student.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateStudentToken(c.Request.Context(), student.ID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	h.log.Info().Int("student_id", student.ID).Str("ip", c.ClientIP()).Msg("Student logged in")
	response.Success(c, http.StatusOK, model.StudentLoginResponse{Token: token, Student: *student})
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Releases the student's single-device session.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if err := h.authService.ResetStudentSession(c.Request.Context(), claims.UserID); err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	student, err := h.studentService.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Validates email + password, returns JWT with the role's permissions.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	admin, err := h.adminService.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, service.ErrNotFound) {
			failWith(c, h.log, err)
			return
		}
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}
	if err := h.authService.CheckPassword(admin.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, permissions, err := h.authService.GenerateAdminToken(admin.ID, admin.Role)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	h.log.Info().Int("admin_id", admin.ID).Str("role", string(admin.Role)).Msg("Staff logged in")
	response.Success(c, http.StatusOK, model.AdminLoginResponse{Token: token, Admin: *admin, Permissions: permissions})
}

// GetAdminProfile godoc
// GET /api/v1/auth/admin/me
func (h *AuthHandler) GetAdminProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	admin, err := h.adminService.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"admin":       admin,
		"permissions": claims.Permissions,
	})
}
