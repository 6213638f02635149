package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/cbt-backend/internal/model"
)

// ProctoringRepository handles proctoring session and event data access.
type ProctoringRepository struct {
	pool *pgxpool.Pool
}

// NewProctoringRepository creates a new ProctoringRepository.
func NewProctoringRepository(pool *pgxpool.Pool) *ProctoringRepository {
	return &ProctoringRepository{pool: pool}
}

// OpenSession creates the proctoring session of an attempt if absent.
func (r *ProctoringRepository) OpenSession(ctx context.Context, attemptID uuid.UUID, startedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_sessions (attempt_id, status, started_at)
		 VALUES ($1, 'active', $2)
		 ON CONFLICT (attempt_id) DO NOTHING`,
		attemptID, startedAt)
	return err
}

// CloseSession stores the final counters and ends the session inside tx.
// A flagged session keeps its flag.
func (r *ProctoringRepository) CloseSession(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID, c model.ProctoringCounters, flagged bool) error {
	status := model.ProctoringEnded
	if flagged {
		status = model.ProctoringFlagged
	}
	_, err := tx.Exec(ctx,
		`UPDATE proctoring_sessions
		 SET tab_switches = GREATEST(tab_switches, $2),
		     fullscreen_exits = GREATEST(fullscreen_exits, $3),
		     total_events = GREATEST(total_events, $4),
		     status = CASE WHEN status = 'flagged' THEN 'flagged' ELSE $5 END,
		     ended_at = COALESCE(ended_at, NOW())
		 WHERE attempt_id = $1`,
		attemptID, c.TabSwitches, c.FullscreenExits, c.TotalEvents, string(status))
	return err
}

// SyncCounters copies live counters into the session row.
func (r *ProctoringRepository) SyncCounters(ctx context.Context, attemptID uuid.UUID, c model.ProctoringCounters) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE proctoring_sessions
		 SET tab_switches = GREATEST(tab_switches, $2),
		     fullscreen_exits = GREATEST(fullscreen_exits, $3),
		     total_events = GREATEST(total_events, $4)
		 WHERE attempt_id = $1 AND status = 'active'`,
		attemptID, c.TabSwitches, c.FullscreenExits, c.TotalEvents)
	return err
}

// Flag marks a session as flagged.
func (r *ProctoringRepository) Flag(ctx context.Context, attemptID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE proctoring_sessions SET status = 'flagged' WHERE attempt_id = $1`, attemptID)
	return err
}

// GetSession retrieves the proctoring session of an attempt.
func (r *ProctoringRepository) GetSession(ctx context.Context, attemptID uuid.UUID) (*model.ProctoringSession, error) {
	s := &model.ProctoringSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, attempt_id, status, tab_switches, fullscreen_exits, total_events, started_at, ended_at
		 FROM proctoring_sessions WHERE attempt_id = $1`, attemptID,
	).Scan(&s.ID, &s.AttemptID, &s.Status, &s.TabSwitches, &s.FullscreenExits, &s.TotalEvents,
		&s.StartedAt, &s.EndedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CopyEvents bulk inserts events with the COPY protocol.
func (r *ProctoringRepository) CopyEvents(ctx context.Context, events []model.ProctoringEvent) (int64, error) {
	rows := make([][]any, len(events))
	for i, e := range events {
		detail := e.Detail
		if len(detail) == 0 {
			detail = []byte("{}")
		}
		rows[i] = []any{e.AttemptID, e.ExamID, e.StudentID, string(e.EventType), detail, e.OccurredAt}
	}
	return r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_events"},
		[]string{"attempt_id", "exam_id", "student_id", "event_type", "detail", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
}

// InsertEvent inserts a single event, used when a batch copy fails.
func (r *ProctoringRepository) InsertEvent(ctx context.Context, e model.ProctoringEvent) error {
	detail := e.Detail
	if len(detail) == 0 {
		detail = []byte("{}")
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_events (attempt_id, exam_id, student_id, event_type, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.AttemptID, e.ExamID, e.StudentID, e.EventType, detail, e.OccurredAt)
	return err
}

// ListEvents retrieves the events of an attempt in time order.
func (r *ProctoringRepository) ListEvents(ctx context.Context, attemptID uuid.UUID) ([]model.ProctoringEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, exam_id, student_id, event_type, detail, occurred_at
		 FROM proctoring_events WHERE attempt_id = $1
		 ORDER BY occurred_at, id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.ProctoringEvent{}
	for rows.Next() {
		var e model.ProctoringEvent
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.ExamID, &e.StudentID, &e.EventType, &e.Detail, &e.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
