package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func ptrTime(t time.Time) *time.Time { return &t }

func TestExam_WindowOpen(t *testing.T) {
	start := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	tests := []struct {
		name string
		exam Exam
		now  time.Time
		want bool
	}{
		{"no window", Exam{}, start, true},
		{"before start", Exam{StartAt: &start, EndAt: &end}, start.Add(-time.Minute), false},
		{"at start", Exam{StartAt: &start, EndAt: &end}, start, true},
		{"inside", Exam{StartAt: &start, EndAt: &end}, start.Add(time.Hour), true},
		{"at end", Exam{StartAt: &start, EndAt: &end}, end, false},
		{"open ended", Exam{StartAt: &start}, end.Add(24 * time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.exam.WindowOpen(tt.now); got != tt.want {
				t.Errorf("WindowOpen = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExam_Deadline(t *testing.T) {
	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	e := Exam{DurationMinutes: 60}
	if got := e.Deadline(started); !got.Equal(started.Add(time.Hour)) {
		t.Errorf("Deadline without end = %s", got)
	}

	e.EndAt = ptrTime(started.Add(30 * time.Minute))
	if got := e.Deadline(started); !got.Equal(*e.EndAt) {
		t.Errorf("Deadline capped by end_at = %s, want %s", got, e.EndAt)
	}
}

func TestUpdateExamRequest_Apply(t *testing.T) {
	e := Exam{Title: "Old", DurationMinutes: 30, MaxAttempts: 1}
	title := "New"
	attempts := 3
	req := UpdateExamRequest{Title: &title, MaxAttempts: &attempts}

	req.Apply(&e)

	if e.Title != "New" || e.MaxAttempts != 3 {
		t.Errorf("fields not applied: %+v", e)
	}
	if e.DurationMinutes != 30 {
		t.Errorf("untouched field changed: %d", e.DurationMinutes)
	}
}

func TestExamPayload_Reorder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	p := ExamPayload{Questions: []QuestionForStudent{{ID: a}, {ID: b}, {ID: c}}}

	got := p.Reorder([]uuid.UUID{c, a})
	want := []uuid.UUID{c, a, b}
	for i, q := range got.Questions {
		if q.ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, q.ID, want[i])
		}
	}
	if p.Questions[0].ID != a {
		t.Error("Reorder mutated the source payload")
	}

	if same := p.Reorder(nil); len(same.Questions) != 3 || same.Questions[0].ID != a {
		t.Error("empty order should keep the original order")
	}
}
