package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"
	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/i18n"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/xuri/excelize/v2"
)

const reportTimeLayout = "2006-01-02 15:04"

// ReportService renders exam results as spreadsheets and printable slips.
type ReportService struct {
	exams       *ExamService
	attemptRepo *repository.AttemptRepository
	answerRepo  *repository.AnswerRepository
	log         zerolog.Logger
}

// NewReportService creates a new ReportService.
func NewReportService(exams *ExamService, attemptRepo *repository.AttemptRepository, answerRepo *repository.AnswerRepository, log zerolog.Logger) *ReportService {
	return &ReportService{
		exams:       exams,
		attemptRepo: attemptRepo,
		answerRepo:  answerRepo,
		log:         log.With().Str("component", "report_service").Logger(),
	}
}

// ExportResultsXLSX writes one row per attempt of the exam to w, with
// column headers in lang.
func (s *ReportService) ExportResultsXLSX(ctx context.Context, examID uuid.UUID, lang string, w io.Writer) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	rows, _, err := s.attemptRepo.ListByExam(ctx, examID, "", 1, 0)
	if err != nil {
		return nil, err
	}

	f, err := resultsWorkbook(i18n.NewLocalizer(lang), rows)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	s.log.Info().Str("exam_id", examID.String()).Int("rows", len(rows)).Msg("Results exported")
	return exam, nil
}

var resultColumns = []string{
	"ColStudent", "ColNISN", "ColClass", "ColAttempt", "ColStatus", "ColGrading",
	"ColScore", "ColMaxScore", "ColPercentage", "ColPassed", "ColStartedAt", "ColSubmittedAt",
}

func resultsWorkbook(loc *goi18n.Localizer, rows []model.AttemptSummary) (*excelize.File, error) {
	tr := func(id string) string { return i18n.Translate(loc, id, nil) }

	f := excelize.NewFile()
	sheet := tr("SheetResults")
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, err
	}

	header := make([]any, len(resultColumns))
	for i, id := range resultColumns {
		header[i] = tr(id)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(resultColumns), 1)
		_ = f.SetCellStyle(sheet, "A1", last, bold)
	}

	for i, r := range rows {
		passed := ""
		if r.Passed != nil {
			passed = tr("No")
			if *r.Passed {
				passed = tr("Yes")
			}
		}
		values := []any{
			r.StudentName, r.StudentNISN, r.ClassName, r.AttemptNumber,
			string(r.Status), string(r.GradingStatus),
			floatCell(r.Score), floatCell(r.MaxScore), floatCell(r.Percentage),
			passed, timeCell(r.StartedAt), timeCell(r.SubmittedAt),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 30)
	_ = f.SetColWidth(sheet, "K", "L", 18)
	return f, nil
}

func floatCell(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format(reportTimeLayout)
}

// AttemptSlipPDF writes a one-page result slip for a finalized attempt.
func (s *ReportService) AttemptSlipPDF(ctx context.Context, attemptID uuid.UUID, lang string, w io.Writer) (*model.AttemptSummary, error) {
	sum, err := s.attemptRepo.GetSummary(ctx, attemptID)
	if err != nil {
		return nil, notFound(err)
	}
	if !sum.Status.Terminal() {
		return nil, ErrAttemptNotFinalized
	}
	exam, err := s.exams.GetByID(ctx, sum.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := s.answerRepo.ListForReview(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	pdf := slipDocument(i18n.NewLocalizer(lang), exam, sum, answers)
	if err := pdf.Output(w); err != nil {
		return nil, fmt.Errorf("render slip: %w", err)
	}
	return sum, nil
}

func slipDocument(loc *goi18n.Localizer, exam *model.Exam, a *model.AttemptSummary, answers []model.ReviewedAnswer) *gofpdf.Fpdf {
	tr := func(id string) string { return i18n.Translate(loc, id, nil) }

	pdf := gofpdf.New("P", "mm", "A4", "")
	utf := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, utf(tr("SlipTitle")), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	field := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(45, 7, utf(label), "", 0, "", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 7, utf(value), "", 1, "", false, 0, "")
	}
	field(tr("SlipStudent"), a.StudentName)
	field(tr("SlipNISN"), a.StudentNISN)
	field(tr("SlipClass"), a.ClassName)
	field(tr("SlipExam"), exam.Title)
	field(tr("SlipAttempt"), strconv.Itoa(a.AttemptNumber))
	field(tr("SlipStatus"), string(a.Status))
	field(tr("SlipSubmittedAt"), timeCell(a.SubmittedAt))

	if a.GradingStatus == model.GradingCompleted && a.Score != nil && a.MaxScore != nil {
		field(tr("SlipScore"), fmt.Sprintf("%.2f / %.2f", *a.Score, *a.MaxScore))
		if a.Percentage != nil {
			field(tr("SlipPercentage"), fmt.Sprintf("%.2f%%", *a.Percentage))
		}
		if a.Passed != nil {
			verdict := tr("SlipFailed")
			if *a.Passed {
				verdict = tr("SlipPassed")
			}
			field(tr("SlipStatus"), verdict)
		}
	} else if a.GradingStatus == model.GradingAwaitingManual {
		field(tr("SlipScore"), tr("SlipPending"))
	}

	if len(answers) == 0 {
		return pdf
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(20, 7, utf(tr("SlipQuestion")), "1", 0, "C", true, 0, "")
	pdf.CellFormat(110, 7, "", "1", 0, "", true, 0, "")
	pdf.CellFormat(0, 7, utf(tr("SlipEarned")), "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	for _, ans := range answers {
		earned := "-"
		if ans.Score != nil {
			earned = fmt.Sprintf("%.2f / %.2f", *ans.Score, ans.Points)
		} else if ans.NeedsManual {
			earned = "?"
		}
		pdf.CellFormat(20, 7, strconv.Itoa(ans.OrderNum), "1", 0, "C", false, 0, "")
		pdf.CellFormat(110, 7, utf(truncate(ans.QuestionText, 60)), "1", 0, "", false, 0, "")
		pdf.CellFormat(0, 7, earned, "1", 1, "C", false, 0, "")
	}
	return pdf
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
