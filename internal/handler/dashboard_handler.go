package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/service"
)

// DashboardHandler handles admin dashboard endpoints.
type DashboardHandler struct {
	dashboardService *service.DashboardService
	log              zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler.
func NewDashboardHandler(dashboardService *service.DashboardService, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
		log:              log.With().Str("component", "dashboard_handler").Logger(),
	}
}

// GetDashboard godoc
// GET /api/v1/admin/dashboard
// Returns stat cards, exam status distribution, upcoming exams and recent results.
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	data, err := h.dashboardService.Get(c.Request.Context())
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, data)
}
