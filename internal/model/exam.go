package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "draft"
	ExamStatusPublished ExamStatus = "published"
	ExamStatusArchived  ExamStatus = "archived"
)

// ProctoringSettings controls integrity monitoring for an exam.
// A zero Max* value means the counter is recorded but never enforced.
type ProctoringSettings struct {
	Enabled            bool `json:"proctoring_enabled"`
	RequireFullscreen  bool `json:"require_fullscreen"`
	MaxTabSwitches     int  `json:"max_tab_switches" binding:"min=0,max=1000"`
	MaxFullscreenExits int  `json:"max_fullscreen_exits" binding:"min=0,max=1000"`
	AutoTerminate      bool `json:"auto_terminate"`
}

// Exam represents an exam entity.
type Exam struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	AuthorID         int        `json:"author_id"`
	DurationMinutes  int        `json:"duration_minutes"`
	StartAt          *time.Time `json:"start_at,omitempty"`
	EndAt            *time.Time `json:"end_at,omitempty"`
	EntryToken       string     `json:"entry_token,omitempty"`
	Status           ExamStatus `json:"status"`
	PassingScore     float64    `json:"passing_score"`
	MaxAttempts      int        `json:"max_attempts"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
	ShowResult       bool       `json:"show_result"`
	NegativeMarking  float64    `json:"negative_marking"`
	PartialCredit    bool       `json:"partial_credit"`
	ProctoringSettings
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WindowOpen reports whether now falls inside the exam's availability window.
func (e *Exam) WindowOpen(now time.Time) bool {
	if e.StartAt != nil && now.Before(*e.StartAt) {
		return false
	}
	if e.EndAt != nil && !now.Before(*e.EndAt) {
		return false
	}
	return true
}

// Deadline is the moment an attempt started at startedAt must end:
// the earlier of the duration limit and the exam window close.
func (e *Exam) Deadline(startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.EndAt != nil && e.EndAt.Before(deadline) {
		return *e.EndAt
	}
	return deadline
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title            string     `json:"title" binding:"required,min=3,max=255"`
	Description      string     `json:"description" binding:"omitempty,max=5000"`
	DurationMinutes  int        `json:"duration_minutes" binding:"required,min=1,max=480"`
	StartAt          *time.Time `json:"start_at" binding:"omitempty"`
	EndAt            *time.Time `json:"end_at" binding:"omitempty"`
	EntryToken       string     `json:"entry_token" binding:"omitempty,min=4,max=20"`
	PassingScore     float64    `json:"passing_score" binding:"min=0,max=100"`
	MaxAttempts      int        `json:"max_attempts" binding:"omitempty,min=1,max=20"`
	ShuffleQuestions bool       `json:"shuffle_questions"`
	ShowResult       *bool      `json:"show_result"`
	NegativeMarking  float64    `json:"negative_marking" binding:"min=0,max=1"`
	PartialCredit    bool       `json:"partial_credit"`
	ProctoringSettings
}

// UpdateExamRequest is the payload for updating a draft exam. Nil fields are left unchanged.
type UpdateExamRequest struct {
	Title              *string             `json:"title" binding:"omitempty,min=3,max=255"`
	Description        *string             `json:"description" binding:"omitempty,max=5000"`
	DurationMinutes    *int                `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	StartAt            *time.Time          `json:"start_at" binding:"omitempty"`
	EndAt              *time.Time          `json:"end_at" binding:"omitempty"`
	EntryToken         *string             `json:"entry_token" binding:"omitempty,min=4,max=20"`
	PassingScore       *float64            `json:"passing_score" binding:"omitempty,min=0,max=100"`
	MaxAttempts        *int                `json:"max_attempts" binding:"omitempty,min=1,max=20"`
	ShuffleQuestions   *bool               `json:"shuffle_questions"`
	ShowResult         *bool               `json:"show_result"`
	NegativeMarking    *float64            `json:"negative_marking" binding:"omitempty,min=0,max=1"`
	PartialCredit      *bool               `json:"partial_credit"`
	ProctoringSettings *ProctoringSettings `json:"proctoring"`
}

// Apply copies the non-nil fields of the request onto e.
func (r *UpdateExamRequest) Apply(e *Exam) {
	if r.Title != nil {
		e.Title = *r.Title
	}
	if r.Description != nil {
		e.Description = *r.Description
	}
	if r.DurationMinutes != nil {
		e.DurationMinutes = *r.DurationMinutes
	}
	if r.StartAt != nil {
		e.StartAt = r.StartAt
	}
	if r.EndAt != nil {
		e.EndAt = r.EndAt
	}
	if r.EntryToken != nil {
		e.EntryToken = *r.EntryToken
	}
	if r.PassingScore != nil {
		e.PassingScore = *r.PassingScore
	}
	if r.MaxAttempts != nil {
		e.MaxAttempts = *r.MaxAttempts
	}
	if r.ShuffleQuestions != nil {
		e.ShuffleQuestions = *r.ShuffleQuestions
	}
	if r.ShowResult != nil {
		e.ShowResult = *r.ShowResult
	}
	if r.NegativeMarking != nil {
		e.NegativeMarking = *r.NegativeMarking
	}
	if r.PartialCredit != nil {
		e.PartialCredit = *r.PartialCredit
	}
	if r.ProctoringSettings != nil {
		e.ProctoringSettings = *r.ProctoringSettings
	}
}

// ExamPayload is the Redis-cached payload sent to students (no correct answers).
type ExamPayload struct {
	ExamID            uuid.UUID            `json:"exam_id"`
	Title             string               `json:"title"`
	Duration          int                  `json:"duration_minutes"`
	RequireFullscreen bool                 `json:"require_fullscreen"`
	Questions         []QuestionForStudent `json:"questions"`
}

// Reorder returns a copy of the payload with questions arranged by order.
// Question IDs missing from order keep their original relative position at the end.
func (p *ExamPayload) Reorder(order []uuid.UUID) ExamPayload {
	if len(order) == 0 {
		return *p
	}
	byID := make(map[uuid.UUID]QuestionForStudent, len(p.Questions))
	for _, q := range p.Questions {
		byID[q.ID] = q
	}

	out := *p
	out.Questions = make([]QuestionForStudent, 0, len(p.Questions))
	for _, id := range order {
		if q, ok := byID[id]; ok {
			out.Questions = append(out.Questions, q)
			delete(byID, id)
		}
	}
	for _, q := range p.Questions {
		if _, left := byID[q.ID]; left {
			out.Questions = append(out.Questions, q)
		}
	}
	return out
}
