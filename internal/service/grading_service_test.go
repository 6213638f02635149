package service

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
)

func TestReaggregate(t *testing.T) {
	tests := []struct {
		name        string
		rows        []repository.ScoreRow
		passing     float64
		wantTotal   float64
		wantPending int
		wantPassed  bool
	}{
		{
			name: "one essay still ungraded",
			rows: []repository.ScoreRow{
				{QuestionID: uuid.New(), Points: 2, Score: fptr(2)},
				{QuestionID: uuid.New(), Points: 8, NeedsManual: true},
			},
			wantTotal:   2,
			wantPending: 1,
		},
		{
			name: "all graded",
			rows: []repository.ScoreRow{
				{QuestionID: uuid.New(), Points: 2, Score: fptr(2)},
				{QuestionID: uuid.New(), Points: 8, Score: fptr(6), NeedsManual: true, Graded: true},
			},
			passing:    70,
			wantTotal:  8,
			wantPassed: true,
		},
		{
			name: "unanswered question adds to max only",
			rows: []repository.ScoreRow{
				{QuestionID: uuid.New(), Points: 5, Score: fptr(-1)},
				{QuestionID: uuid.New(), Points: 5},
			},
			passing:   10,
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := reaggregate(tt.rows, tt.passing)
			if sum.Total != tt.wantTotal {
				t.Errorf("total = %v, want %v", sum.Total, tt.wantTotal)
			}
			if sum.ManualPending != tt.wantPending {
				t.Errorf("pending = %d, want %d", sum.ManualPending, tt.wantPending)
			}
			if tt.wantPending == 0 && sum.Passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", sum.Passed, tt.wantPassed)
			}
		})
	}
}

func TestRubricFromRequest(t *testing.T) {
	rb, err := rubricFromRequest(&model.RubricRequest{
		Name: "Esai",
		Criteria: []model.RubricCriterionInput{
			{Title: "Isi", MaxPoints: 6},
			{Title: "Bahasa", MaxPoints: 4},
		},
	})
	if err != nil {
		t.Fatalf("rubricFromRequest: %v", err)
	}
	if len(rb.Criteria) != 2 || rb.MaxPoints() != 10 {
		t.Errorf("rubric = %+v", rb)
	}

	if _, err := rubricFromRequest(&model.RubricRequest{Name: "Kosong"}); !errors.Is(err, ErrInvalidRubric) {
		t.Errorf("empty criteria = %v, want ErrInvalidRubric", err)
	}
	if _, err := rubricFromRequest(&model.RubricRequest{
		Name:     "Nol",
		Criteria: []model.RubricCriterionInput{{Title: "Isi", MaxPoints: 0}},
	}); !errors.Is(err, ErrInvalidRubric) {
		t.Errorf("zero max_points = %v, want ErrInvalidRubric", err)
	}
}

func TestCheckAuthor(t *testing.T) {
	exam := &model.Exam{AuthorID: 12}
	tests := []struct {
		name     string
		authorID int
		want     error
	}{
		{"author", 12, nil},
		{"write_all scope", 0, nil},
		{"other teacher", 13, ErrNotExamAuthor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := checkAuthor(exam, tt.authorID); !errors.Is(err, tt.want) {
				t.Errorf("checkAuthor(%d) = %v, want %v", tt.authorID, err, tt.want)
			}
		})
	}
}
