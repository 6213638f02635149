package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the lifecycle states of an exam attempt.
type AttemptStatus string

const (
	AttemptNotStarted    AttemptStatus = "not_started"
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitted     AttemptStatus = "submitted"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
	AttemptTerminated    AttemptStatus = "terminated"
	AttemptExpired       AttemptStatus = "expired"
)

var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptNotStarted: {AttemptInProgress, AttemptExpired, AttemptTerminated},
	AttemptInProgress: {AttemptSubmitted, AttemptAutoSubmitted, AttemptTerminated},
}

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid attempt status transition")

// CanTransition reports whether an attempt may move from s to next.
func (s AttemptStatus) CanTransition(next AttemptStatus) bool {
	for _, allowed := range attemptTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s AttemptStatus) Terminal() bool {
	return len(attemptTransitions[s]) == 0
}

// Open reports whether the attempt still blocks a new join.
func (s AttemptStatus) Open() bool {
	return s == AttemptNotStarted || s == AttemptInProgress
}

// GradingStatus tracks how far scoring of an attempt has progressed.
type GradingStatus string

const (
	GradingPending        GradingStatus = "pending"
	GradingAwaitingManual GradingStatus = "awaiting_manual"
	GradingCompleted      GradingStatus = "completed"
)

// ExamAttempt is one try of a student at an exam.
type ExamAttempt struct {
	ID                uuid.UUID     `json:"id"`
	ExamID            uuid.UUID     `json:"exam_id"`
	StudentID         int           `json:"student_id"`
	AttemptNumber     int           `json:"attempt_number"`
	Status            AttemptStatus `json:"status"`
	GradingStatus     GradingStatus `json:"grading_status"`
	QuestionOrder     []uuid.UUID   `json:"-"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	ExpiresAt         *time.Time    `json:"expires_at,omitempty"`
	SubmittedAt       *time.Time    `json:"submitted_at,omitempty"`
	Score             *float64      `json:"score,omitempty"`
	MaxScore          *float64      `json:"max_score,omitempty"`
	Percentage        *float64      `json:"percentage,omitempty"`
	Passed            *bool         `json:"passed,omitempty"`
	TerminationReason string        `json:"termination_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Transition moves the attempt to next or returns ErrInvalidTransition.
func (a *ExamAttempt) Transition(next AttemptStatus) error {
	if !a.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, next)
	}
	a.Status = next
	return nil
}

// RemainingSeconds is the time left before expiry, never negative.
// Attempts that have not started report 0.
func (a *ExamAttempt) RemainingSeconds(now time.Time) int {
	if a.ExpiresAt == nil || a.Status != AttemptInProgress {
		return 0
	}
	left := a.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left.Seconds())
}

// AcceptsAnswers reports whether an answer saved at now is still on time,
// allowing grace after expiry for requests already in flight.
func (a *ExamAttempt) AcceptsAnswers(now time.Time, grace time.Duration) bool {
	if a.Status != AttemptInProgress || a.ExpiresAt == nil {
		return false
	}
	return !now.After(a.ExpiresAt.Add(grace))
}

// AttemptSummary is an attempt row joined with student identity, used in
// result listings and exports.
type AttemptSummary struct {
	ExamAttempt
	StudentName string `json:"student_name"`
	StudentNISN string `json:"student_nisn"`
	ClassName   string `json:"class_name"`
}

// LobbyExam is a published exam as seen in the student lobby.
type LobbyExam struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DurationMinutes int            `json:"duration_minutes"`
	StartAt         *time.Time     `json:"start_at,omitempty"`
	EndAt           *time.Time     `json:"end_at,omitempty"`
	MaxAttempts     int            `json:"max_attempts"`
	AttemptsUsed    int            `json:"attempts_used"`
	LatestAttemptID *uuid.UUID     `json:"latest_attempt_id,omitempty"`
	LatestStatus    *AttemptStatus `json:"latest_status,omitempty"`
	QuestionCount   int            `json:"question_count"`
}

// AttemptState is the student-facing snapshot used to resume an attempt.
type AttemptState struct {
	AttemptID        uuid.UUID         `json:"attempt_id"`
	Status           AttemptStatus     `json:"status"`
	RemainingSeconds int               `json:"remaining_seconds"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	Answers          map[string]string `json:"answers"`
}

// AttemptResult is what a student or staff member sees after finalization.
// Score fields are omitted when the result is withheld.
type AttemptResult struct {
	AttemptID     uuid.UUID     `json:"attempt_id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	Status        AttemptStatus `json:"status"`
	GradingStatus GradingStatus `json:"grading_status"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	Score         *float64      `json:"score,omitempty"`
	MaxScore      *float64      `json:"max_score,omitempty"`
	Percentage    *float64      `json:"percentage,omitempty"`
	Passed        *bool         `json:"passed,omitempty"`
	Withheld      bool          `json:"withheld"`
}

// JoinExamRequest is the payload for a student joining an exam.
type JoinExamRequest struct {
	EntryToken string `json:"entry_token" binding:"omitempty,max=20"`
}

// SaveAnswerRequest is the payload for saving one answer.
type SaveAnswerRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	Answer     string    `json:"answer" binding:"max=20000"`
}

// ExtendTimeRequest is the payload for granting extra time.
type ExtendTimeRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1,max=240"`
}

// TerminateAttemptRequest is the payload for a supervisor termination.
type TerminateAttemptRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// ResultFilter narrows per-exam result listings.
type ResultFilter struct {
	Status  string `form:"status" binding:"omitempty,oneof=not_started in_progress submitted auto_submitted terminated expired"`
	Page    int    `form:"page" binding:"omitempty,min=1"`
	PerPage int    `form:"per_page" binding:"omitempty,min=1,max=200"`
}
