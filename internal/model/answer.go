package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamAnswer is a student's persisted answer to one question of an attempt.
// Score and IsCorrect stay nil until the attempt is finalized or the answer graded.
type ExamAnswer struct {
	ID          uuid.UUID  `json:"id"`
	AttemptID   uuid.UUID  `json:"attempt_id"`
	QuestionID  uuid.UUID  `json:"question_id"`
	Answer      string     `json:"answer"`
	Score       *float64   `json:"score,omitempty"`
	IsCorrect   *bool      `json:"is_correct,omitempty"`
	NeedsManual bool       `json:"needs_manual"`
	ScoreReason string     `json:"score_reason,omitempty"`
	GradedAt    *time.Time `json:"graded_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AutosavePayload is the unit queued for background persistence of answers.
type AutosavePayload struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Answer     string    `json:"answer"`
	SavedAt    time.Time `json:"saved_at"`
}

// ScoredAnswer is the row written for each question when an attempt is finalized.
type ScoredAnswer struct {
	QuestionID  uuid.UUID
	Answer      string
	Score       float64
	IsCorrect   *bool
	NeedsManual bool
	// Reason is how the automatic scorer reached Score: correct, partial,
	// wrong, unanswered, manual or malformed.
	Reason string
}
