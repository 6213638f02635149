package handler

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/middleware"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
	"github.com/stemsi/cbt-backend/internal/validator"
)

// StudentManagementHandler handles admin-facing student management (CRUD, import, session reset).
type StudentManagementHandler struct {
	studentService *service.StudentService
	authService    *service.AuthService
	log            zerolog.Logger
}

// NewStudentManagementHandler creates a new StudentManagementHandler.
func NewStudentManagementHandler(
	studentService *service.StudentService,
	authService *service.AuthService,
	log zerolog.Logger,
) *StudentManagementHandler {
	return &StudentManagementHandler{
		studentService: studentService,
		authService:    authService,
		log:            log.With().Str("component", "student_management").Logger(),
	}
}

// ListStudents godoc
// GET /api/v1/admin/students
// Lists students with pagination, optionally filtered by class or a name/NISN search.
func (h *StudentManagementHandler) ListStudents(c *gin.Context) {
	var f model.StudentFilter
	if bindFailed(c, validator.BindQuery(c, &f)) {
		return
	}

	students, pagination, err := h.studentService.List(c.Request.Context(), f)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if students == nil {
		students = []model.Student{}
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"students": students}, pagination)
}

// GetStudent godoc
// GET /api/v1/admin/students/:id
func (h *StudentManagementHandler) GetStudent(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	student, err := h.studentService.GetByID(c.Request.Context(), id)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// CreateStudent godoc
// POST /api/v1/admin/students
func (h *StudentManagementHandler) CreateStudent(c *gin.Context) {
	var req model.CreateStudentRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	student, err := h.studentService.Create(c.Request.Context(), &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"student": student})
}

// UpdateStudent godoc
// PUT /api/v1/admin/students/:id
// An empty password keeps the current one.
func (h *StudentManagementHandler) UpdateStudent(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req model.UpdateStudentRequest
	if bindFailed(c, validator.Bind(c, &req)) {
		return
	}

	student, err := h.studentService.Update(c.Request.Context(), id, &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"student": student})
}

// DeleteStudent godoc
// DELETE /api/v1/admin/students/:id
// Students with attempts cannot be deleted.
func (h *StudentManagementHandler) DeleteStudent(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	if err := h.studentService.Delete(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}
	// A deleted student must not keep a live token.
	if err := h.authService.ResetStudentSession(c.Request.Context(), id); err != nil {
		h.log.Warn().Err(err).Int("student_id", id).Msg("Failed to clear session of deleted student")
	}
	c.Status(http.StatusNoContent)
}

// ImportStudents godoc
// POST /api/v1/admin/students/import
// Creates or updates students from a CSV upload (nisn,name,class_name,password).
func (h *StudentManagementHandler) ImportStudents(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	result, err := h.studentService.ImportCSV(c.Request.Context(), file)
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, map[string]string{"file": err.Error()})
			return
		}
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ResetStudentSession godoc
// POST /api/v1/admin/students/:id/reset-session
// Lets a supervisor release a student stuck on another device.
func (h *StudentManagementHandler) ResetStudentSession(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	if _, err := h.studentService.GetByID(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}
	if err := h.authService.ResetStudentSession(c.Request.Context(), id); err != nil {
		failWith(c, h.log, err)
		return
	}

	h.log.Info().Int("student_id", id).Int("by", middleware.GetClaims(c).UserID).Msg("Student session reset")
	response.Success(c, http.StatusOK, gin.H{})
}

func paramID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}
