package model

import (
	"time"

	"github.com/google/uuid"
)

// DashboardCounts are the stat cards of the admin dashboard.
type DashboardCounts struct {
	Students       int `json:"students"`
	Exams          int `json:"exams"`
	Questions      int `json:"questions"`
	ActiveAttempts int `json:"active_attempts"`
	PendingGrading int `json:"pending_grading"`
}

// UpcomingExam is a published exam whose window has not opened yet.
type UpcomingExam struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	StartAt         time.Time `json:"start_at"`
	DurationMinutes int       `json:"duration_minutes"`
}

// RecentExamResult summarizes the finalized attempts of a closed exam.
type RecentExamResult struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	EndedAt       *time.Time `json:"ended_at"`
	Participants  int        `json:"participants"`
	AveragePct    *float64   `json:"average_percentage"`
	PassedCount   int        `json:"passed_count"`
	AwaitingGrade int        `json:"awaiting_grade"`
}

// Dashboard is the admin landing page payload.
type Dashboard struct {
	DashboardCounts
	ExamStatusCounts map[ExamStatus]int `json:"exam_status_counts"`
	UpcomingExams    []UpcomingExam     `json:"upcoming_exams"`
	RecentResults    []RecentExamResult `json:"recent_results"`
}
