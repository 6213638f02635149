package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/i18n"
	"github.com/stemsi/cbt-backend/internal/service"
)

const (
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePDF  = "application/pdf"
)

// ReportHandler serves downloadable result documents.
type ReportHandler struct {
	reportService *service.ReportService
	log           zerolog.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reportService *service.ReportService, log zerolog.Logger) *ReportHandler {
	return &ReportHandler{
		reportService: reportService,
		log:           log.With().Str("component", "report_handler").Logger(),
	}
}

// ExportResults godoc
// GET /api/v1/admin/exams/:exam_id/results/export
// Downloads the exam results as an XLSX workbook in the request's language.
func (h *ReportHandler) ExportResults(c *gin.Context) {
	examID, ok := paramUUID(c, "exam_id")
	if !ok {
		return
	}

	// Rendered into memory so a failure can still produce a JSON error.
	var buf bytes.Buffer
	exam, err := h.reportService.ExportResultsXLSX(c.Request.Context(), examID, requestLang(c), &buf)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	name := fmt.Sprintf("results-%s.xlsx", fileSlug(exam.Title))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, mimeXLSX, buf.Bytes())
}

// AttemptSlip godoc
// GET /api/v1/admin/attempts/:attempt_id/slip
// Downloads a one-page PDF result slip for a finalized attempt.
func (h *ReportHandler) AttemptSlip(c *gin.Context) {
	attemptID, ok := paramUUID(c, "attempt_id")
	if !ok {
		return
	}

	var buf bytes.Buffer
	sum, err := h.reportService.AttemptSlipPDF(c.Request.Context(), attemptID, requestLang(c), &buf)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	name := fmt.Sprintf("slip-%s-%d.pdf", sum.StudentNISN, sum.AttemptNumber)
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, name))
	c.Data(http.StatusOK, mimePDF, buf.Bytes())
}

func requestLang(c *gin.Context) string {
	return i18n.Match(c.GetHeader("Accept-Language"))
}

// fileSlug keeps letters and digits of s, joining runs of anything else with '-'.
func fileSlug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "exam"
	}
	if len(out) > 60 {
		out = strings.TrimSuffix(out[:60], "-")
	}
	return out
}
