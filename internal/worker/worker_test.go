package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/service"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

var errDown = errors.New("connection refused")

// ─── batch loop ────────────────────────────────────────────────────────────

func TestBatchLoop_RunFlushesAndStops(t *testing.T) {
	_, rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []int
	)
	flush := func(_ context.Context, batch []int) []int {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, batch...)
		return nil
	}
	l := newBatchLoop(rdb, "q", flush, zerolog.Nop())
	l.size = 2
	l.timeout = 10 * time.Millisecond

	for i := 1; i <= 3; i++ {
		rdb.RPush(ctx, "q", i)
	}
	rdb.RPush(ctx, "q", "not json")

	done := make(chan struct{})
	go func() {
		l.run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flushed %d items, want 3", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestBatchLoop_FlushSafeRequeuesFailures(t *testing.T) {
	mr, rdb := newTestRedis(t)
	flush := func(_ context.Context, batch []int) []int {
		return batch[1:]
	}
	l := newBatchLoop(rdb, "q", flush, zerolog.Nop())
	l.pause = &backoff.ZeroBackOff{}

	l.flushSafe(context.Background(), []int{1, 2, 3})

	items, err := mr.List("q")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0] != "2" || items[1] != "3" {
		t.Errorf("queue = %v, want [2 3]", items)
	}
}

func TestBatchLoop_ShutdownFlushesBuffer(t *testing.T) {
	mr, rdb := newTestRedis(t)
	var flushed []int
	flush := func(_ context.Context, batch []int) []int {
		flushed = append(flushed, batch...)
		return []int{batch[0]}
	}
	l := newBatchLoop(rdb, "q", flush, zerolog.Nop())

	l.shutdown([]int{7, 8})
	if len(flushed) != 2 {
		t.Errorf("flushed = %v, want both items", flushed)
	}
	if items, _ := mr.List("q"); len(items) != 1 || items[0] != "7" {
		t.Errorf("queue = %v, want the failed item back", items)
	}
}

// ─── autosave ──────────────────────────────────────────────────────────────

type fakeAnswerStore struct {
	bulkErr error
	rowErr  map[uuid.UUID]error
	rows    []model.AutosavePayload
}

func (f *fakeAnswerStore) BulkUpsertAutosave(_ context.Context, batch []model.AutosavePayload) error {
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.rows = append(f.rows, batch...)
	return nil
}

func (f *fakeAnswerStore) UpsertAutosave(_ context.Context, p model.AutosavePayload) error {
	if err := f.rowErr[p.QuestionID]; err != nil {
		return err
	}
	f.rows = append(f.rows, p)
	return nil
}

func TestAutosaveWorker_Persist(t *testing.T) {
	_, rdb := newTestRedis(t)
	good, bad, flaky := uuid.New(), uuid.New(), uuid.New()
	batch := []model.AutosavePayload{
		{AttemptID: uuid.New(), QuestionID: good, Answer: "a"},
		{AttemptID: uuid.New(), QuestionID: bad, Answer: "b"},
		{AttemptID: uuid.New(), QuestionID: flaky, Answer: "c"},
	}

	t.Run("bulk path", func(t *testing.T) {
		store := &fakeAnswerStore{}
		w := NewAutosaveWorker(store, rdb, zerolog.Nop())
		if failed := w.persist(context.Background(), batch); len(failed) != 0 {
			t.Errorf("failed = %v", failed)
		}
		if len(store.rows) != 3 {
			t.Errorf("persisted %d rows, want 3", len(store.rows))
		}
	})

	t.Run("row fallback drops data errors and retries the rest", func(t *testing.T) {
		store := &fakeAnswerStore{
			bulkErr: errDown,
			rowErr: map[uuid.UUID]error{
				bad:   &pgconn.PgError{Code: "23503"},
				flaky: errDown,
			},
		}
		w := NewAutosaveWorker(store, rdb, zerolog.Nop())
		failed := w.persist(context.Background(), batch)
		if len(failed) != 1 || failed[0].QuestionID != flaky {
			t.Errorf("failed = %+v, want only the flaky row", failed)
		}
		if len(store.rows) != 1 || store.rows[0].QuestionID != good {
			t.Errorf("rows = %+v, want only the good row", store.rows)
		}
	})
}

func TestIsDataError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "23505"}, true},
		{&pgconn.PgError{Code: "22P02"}, true},
		{&pgconn.PgError{Code: "57P01"}, false},
		{errDown, false},
	}
	for _, tt := range tests {
		if got := isDataError(tt.err); got != tt.want {
			t.Errorf("isDataError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ─── proctoring ────────────────────────────────────────────────────────────

type fakeEventStore struct {
	copyErr error
	events  []model.ProctoringEvent
	synced  map[uuid.UUID]model.ProctoringCounters
}

func (f *fakeEventStore) CopyEvents(_ context.Context, events []model.ProctoringEvent) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	f.events = append(f.events, events...)
	return int64(len(events)), nil
}

func (f *fakeEventStore) InsertEvent(_ context.Context, e model.ProctoringEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeEventStore) SyncCounters(_ context.Context, id uuid.UUID, c model.ProctoringCounters) error {
	f.synced[id] = c
	return nil
}

func TestProctoringWorker_PersistSyncsCounters(t *testing.T) {
	_, rdb := newTestRedis(t)
	live := service.NewAttemptCache(rdb)
	ctx := context.Background()

	active, finished := uuid.New(), uuid.New()
	rdb.HSet(ctx, config.CacheKey.AttemptProctorKey(active.String()), "tab_switch", 2, "total", 3)

	batch := []model.ProctoringEvent{
		{AttemptID: active, EventType: model.EventTabSwitch},
		{AttemptID: active, EventType: model.EventTabSwitch},
		{AttemptID: finished, EventType: model.EventWindowBlur},
	}

	store := &fakeEventStore{copyErr: errDown, synced: map[uuid.UUID]model.ProctoringCounters{}}
	w := NewProctoringWorker(store, live, rdb, zerolog.Nop())
	if failed := w.persist(ctx, batch); len(failed) != 0 {
		t.Errorf("failed = %v", failed)
	}
	if len(store.events) != 3 {
		t.Errorf("events = %d, want 3 via fallback", len(store.events))
	}
	if c := store.synced[active]; c.TabSwitches != 2 || c.TotalEvents != 3 {
		t.Errorf("synced = %+v", c)
	}
	if _, ok := store.synced[finished]; ok {
		t.Error("counters synced for an attempt without live keys")
	}
}

// ─── finalize ──────────────────────────────────────────────────────────────

type fakeFinalizer struct {
	mu    sync.Mutex
	calls int
	errs  []error
	jobs  []service.FinalizeJob
}

func (f *fakeFinalizer) Finalize(_ context.Context, id uuid.UUID, status model.AttemptStatus, reason string) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, service.FinalizeJob{AttemptID: id, Status: status, Reason: reason})
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	return &model.ExamAttempt{ID: id, Status: status}, err
}

func jobJSON(t *testing.T, job service.FinalizeJob) string {
	t.Helper()
	b, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestFinalizeWorker_Handle(t *testing.T) {
	job := service.FinalizeJob{AttemptID: uuid.New(), Status: model.AttemptAutoSubmitted, Reason: "time limit reached"}

	t.Run("retries transient errors", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		f := &fakeFinalizer{errs: []error{errDown}}
		w := NewFinalizeWorker(f, rdb, 1, zerolog.Nop())
		w.handle(context.Background(), jobJSON(t, job))
		if f.calls != 2 || f.jobs[1] != job {
			t.Errorf("calls = %d, jobs = %+v", f.calls, f.jobs)
		}
		if mr.Exists(config.WorkerKey.FinalizeAttemptsQueue) {
			t.Error("successful job was requeued")
		}
	})

	for _, skip := range []error{service.ErrAttemptNotActive, service.ErrNotFound, service.ErrAttemptNotOverdue} {
		t.Run("skips on "+skip.Error(), func(t *testing.T) {
			mr, rdb := newTestRedis(t)
			f := &fakeFinalizer{errs: []error{fmt.Errorf("finalize: %w", skip)}}
			w := NewFinalizeWorker(f, rdb, 1, zerolog.Nop())
			w.handle(context.Background(), jobJSON(t, job))
			if f.calls != 1 {
				t.Errorf("calls = %d, want 1", f.calls)
			}
			if mr.Exists(config.WorkerKey.FinalizeAttemptsQueue) {
				t.Error("skipped job was requeued")
			}
		})
	}

	t.Run("requeues after exhausting retries", func(t *testing.T) {
		mr, rdb := newTestRedis(t)
		f := &fakeFinalizer{errs: []error{errDown, errDown, errDown, errDown}}
		w := NewFinalizeWorker(f, rdb, 1, zerolog.Nop())
		w.maxTries = 1
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		w.handle(ctx, jobJSON(t, job))
		items, _ := mr.List(config.WorkerKey.FinalizeAttemptsQueue)
		if len(items) != 1 {
			t.Fatalf("queue = %v, want the job back", items)
		}
	})
}

// ─── expiry ────────────────────────────────────────────────────────────────

type fakeSweeper struct {
	overdue, expired int
	limit            int
}

func (f *fakeSweeper) EnqueueOverdue(_ context.Context, limit int) (int, error) {
	f.limit = limit
	f.overdue++
	return 2, nil
}

func (f *fakeSweeper) ExpireUnstarted(context.Context) (int, error) {
	f.expired++
	return 0, errDown
}

func TestExpiryWorker_Sweep(t *testing.T) {
	f := &fakeSweeper{}
	w := NewExpiryWorker(f, 0, zerolog.Nop())
	if w.interval != 15*time.Second {
		t.Errorf("default interval = %v", w.interval)
	}
	w.sweep(context.Background())
	if f.overdue != 1 || f.expired != 1 || f.limit != sweepLimit {
		t.Errorf("sweeper = %+v", f)
	}
}
