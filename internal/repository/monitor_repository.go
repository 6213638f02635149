package repository

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
)

// MonitorRepository provides data access for the live exam monitoring feature.
// It combines PostgreSQL (attempt state) and Redis (live answers, counters, presence).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListRows returns one row per attempt at the exam with student identity and
// the persisted proctoring counters.
func (r *MonitorRepository) ListRows(ctx context.Context, examID uuid.UUID) ([]model.MonitorRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, s.id, s.name, s.nisn, s.class_name, a.attempt_number, a.status, a.expires_at,
		        COALESCE(ps.tab_switches, 0), COALESCE(ps.fullscreen_exits, 0)
		 FROM exam_attempts a
		 JOIN students s ON s.id = a.student_id
		 LEFT JOIN proctoring_sessions ps ON ps.attempt_id = a.id
		 WHERE a.exam_id = $1
		 ORDER BY s.class_name, s.name, a.attempt_number`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.MonitorRow{}
	for rows.Next() {
		var m model.MonitorRow
		if err := rows.Scan(&m.AttemptID, &m.StudentID, &m.StudentName, &m.StudentNISN, &m.ClassName,
			&m.AttemptNumber, &m.Status, &m.ExpiresAt, &m.TabSwitches, &m.FullscreenExits); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountQuestions returns the number of questions of the exam.
func (r *MonitorRepository) CountQuestions(ctx context.Context, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM questions WHERE exam_id = $1`, examID).Scan(&n)
	return n, err
}

// LiveAnswerCounts returns the number of non-empty answers buffered in Redis
// per attempt. A cleared answer stays in the hash as an empty value so it
// still overrides the persisted one, and is not counted.
func (r *MonitorRepository) LiveAnswerCounts(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	pipe := r.rdb.Pipeline()
	cmds := make(map[uuid.UUID]*redis.StringSliceCmd, len(attemptIDs))
	for _, id := range attemptIDs {
		cmds[id] = pipe.HVals(ctx, config.CacheKey.AttemptAnswersKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[uuid.UUID]int, len(cmds))
	for id, cmd := range cmds {
		n := 0
		for _, v := range cmd.Val() {
			if v != "" {
				n++
			}
		}
		out[id] = n
	}
	return out, nil
}

// LiveProctorCounts returns the Redis proctoring counters per attempt.
func (r *MonitorRepository) LiveProctorCounts(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]model.ProctoringCounters, error) {
	pipe := r.rdb.Pipeline()
	cmds := make(map[uuid.UUID]*redis.MapStringStringCmd, len(attemptIDs))
	for _, id := range attemptIDs {
		cmds[id] = pipe.HGetAll(ctx, config.CacheKey.AttemptProctorKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[uuid.UUID]model.ProctoringCounters, len(cmds))
	for id, cmd := range cmds {
		out[id] = CountersFromHash(cmd.Val())
	}
	return out, nil
}

// Presence reports which attempts sent a heartbeat recently.
func (r *MonitorRepository) Presence(ctx context.Context, attemptIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	pipe := r.rdb.Pipeline()
	cmds := make(map[uuid.UUID]*redis.IntCmd, len(attemptIDs))
	for _, id := range attemptIDs {
		cmds[id] = pipe.Exists(ctx, config.CacheKey.AttemptPresenceKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	out := make(map[uuid.UUID]bool, len(cmds))
	for id, cmd := range cmds {
		out[id] = cmd.Val() > 0
	}
	return out, nil
}

// CountersFromHash decodes the proctor counter hash kept in Redis.
func CountersFromHash(h map[string]string) model.ProctoringCounters {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(h[k])
		return n
	}
	return model.ProctoringCounters{
		TabSwitches:     atoi(string(model.EventTabSwitch)),
		FullscreenExits: atoi(string(model.EventFullscreenExit)),
		TotalEvents:     atoi(ProctorTotalField),
	}
}

// ProctorTotalField is the hash field counting every non-heartbeat event.
const ProctorTotalField = "total"
