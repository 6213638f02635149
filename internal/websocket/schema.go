package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionProctor  Action = "proctor"
	ActionPing     Action = "ping"
)

// Request is one client message. Fields an action does not use are ignored.
// Seq is echoed back on the reply so clients can match acknowledgements.
type Request struct {
	Action     Action          `json:"action"`
	Seq        int64           `json:"seq,omitempty"`
	QuestionID string          `json:"question_id,omitempty"`
	Answer     string          `json:"answer,omitempty"`
	EventType  string          `json:"event_type,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventSaved      Event = "saved"
	EventSubmitted  Event = "submitted"
	EventProctoring Event = "proctoring"
	EventPong       Event = "pong"

	// Pushed without a request when a supervisor or the system acts on the attempt.
	EventTimeExtended Event = "time_extended"
	EventFinalized    Event = "finalized"
)

// Response is every server message.
type Response struct {
	Event Event      `json:"event"`
	Seq   int64      `json:"seq,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody mirrors the REST error codes.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SavedData struct {
	QuestionID string `json:"question_id"`
	SavedAt    string `json:"saved_at"`
}
