package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProctoringEventType classifies an integrity signal sent by the exam client.
type ProctoringEventType string

const (
	EventTabSwitch      ProctoringEventType = "tab_switch"
	EventFullscreenExit ProctoringEventType = "fullscreen_exit"
	EventWindowBlur     ProctoringEventType = "window_blur"
	EventCopyPaste      ProctoringEventType = "copy_paste"
	EventContextMenu    ProctoringEventType = "context_menu"
	EventDevtoolsOpen   ProctoringEventType = "devtools_open"
	EventHeartbeat      ProctoringEventType = "heartbeat"
)

// Valid reports whether t is a known event type.
func (t ProctoringEventType) Valid() bool {
	switch t {
	case EventTabSwitch, EventFullscreenExit, EventWindowBlur, EventCopyPaste,
		EventContextMenu, EventDevtoolsOpen, EventHeartbeat:
		return true
	}
	return false
}

// ProctoringSessionStatus enumerates the states of a proctoring session.
type ProctoringSessionStatus string

const (
	ProctoringActive  ProctoringSessionStatus = "active"
	ProctoringEnded   ProctoringSessionStatus = "ended"
	ProctoringFlagged ProctoringSessionStatus = "flagged"
)

// ProctoringSession aggregates the integrity counters of one attempt.
type ProctoringSession struct {
	ID              uuid.UUID               `json:"id"`
	AttemptID       uuid.UUID               `json:"attempt_id"`
	Status          ProctoringSessionStatus `json:"status"`
	TabSwitches     int                     `json:"tab_switches"`
	FullscreenExits int                     `json:"fullscreen_exits"`
	TotalEvents     int                     `json:"total_events"`
	StartedAt       time.Time               `json:"started_at"`
	EndedAt         *time.Time              `json:"ended_at,omitempty"`
}

// ProctoringEvent is one recorded integrity signal.
type ProctoringEvent struct {
	ID         int64               `json:"id,omitempty"`
	AttemptID  uuid.UUID           `json:"attempt_id"`
	ExamID     uuid.UUID           `json:"exam_id"`
	StudentID  int                 `json:"student_id"`
	EventType  ProctoringEventType `json:"event_type"`
	Detail     json.RawMessage     `json:"detail,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// ProctoringCounters are the live per-attempt counts kept in Redis.
type ProctoringCounters struct {
	TabSwitches     int `json:"tab_switches"`
	FullscreenExits int `json:"fullscreen_exits"`
	TotalEvents     int `json:"total_events"`
}

// ProctoringVerdict is returned to the client after an event is recorded.
// A nil remaining value means the counter is not limited.
type ProctoringVerdict struct {
	ProctoringCounters
	TabSwitchesLeft     *int `json:"tab_switches_left,omitempty"`
	FullscreenExitsLeft *int `json:"fullscreen_exits_left,omitempty"`
	Terminated          bool `json:"terminated"`
}

// RecordEventRequest is the payload of a proctoring event.
type RecordEventRequest struct {
	EventType  string          `json:"event_type" binding:"required,oneof=tab_switch fullscreen_exit window_blur copy_paste context_menu devtools_open heartbeat"`
	Detail     json.RawMessage `json:"detail"`
	OccurredAt *time.Time      `json:"occurred_at"`
}

// MonitorRow is one attempt line of the live exam monitor.
type MonitorRow struct {
	AttemptID        uuid.UUID     `json:"attempt_id"`
	StudentID        int           `json:"student_id"`
	StudentName      string        `json:"student_name"`
	StudentNISN      string        `json:"student_nisn"`
	ClassName        string        `json:"class_name"`
	AttemptNumber    int           `json:"attempt_number"`
	Status           AttemptStatus `json:"status"`
	AnsweredCount    int           `json:"answered_count"`
	TabSwitches      int           `json:"tab_switches"`
	FullscreenExits  int           `json:"fullscreen_exits"`
	Online           bool          `json:"online"`
	RemainingSeconds int           `json:"remaining_seconds"`
	ExpiresAt        *time.Time    `json:"-"`
}

// MonitorSnapshot is the full monitor view of an exam.
type MonitorSnapshot struct {
	ExamID        uuid.UUID             `json:"exam_id"`
	QuestionCount int                   `json:"question_count"`
	Totals        map[AttemptStatus]int `json:"totals"`
	Online        int                   `json:"online"`
	Rows          []MonitorRow          `json:"rows"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

// MonitorEvent is published on the exam monitor channel.
type MonitorEvent struct {
	Type      string          `json:"type"`
	AttemptID uuid.UUID       `json:"attempt_id"`
	StudentID int             `json:"student_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	At        time.Time       `json:"at"`
}
