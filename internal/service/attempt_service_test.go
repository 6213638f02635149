package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
)

func fptr(f float64) *float64 { return &f }

func TestGradeAttempt(t *testing.T) {
	mc := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectAnswers: []string{"b"}, Points: 2}
	ms := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeMultipleSelect, CorrectAnswers: []string{"a", "c"}, Points: 4}
	essay := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeEssay, Points: 4}
	keys := []model.AnswerKey{mc, ms, essay}

	tests := []struct {
		name        string
		exam        model.Exam
		answers     map[uuid.UUID]string
		wantTotal   float64
		wantMax     float64
		wantPending int
	}{
		{
			name:      "all objective correct, essay blank",
			exam:      model.Exam{PassingScore: 50},
			answers:   map[uuid.UUID]string{mc.QuestionID: "b", ms.QuestionID: `["c","a"]`},
			wantTotal: 6,
			wantMax:   10,
		},
		{
			name:        "essay answered waits for manual grading",
			exam:        model.Exam{PassingScore: 50},
			answers:     map[uuid.UUID]string{mc.QuestionID: "b", essay.QuestionID: "Photosynthesis is..."},
			wantTotal:   2,
			wantMax:     10,
			wantPending: 1,
		},
		{
			name:      "negative marking floors at zero",
			exam:      model.Exam{NegativeMarking: 1},
			answers:   map[uuid.UUID]string{mc.QuestionID: "a", ms.QuestionID: `["b"]`},
			wantTotal: 0,
			wantMax:   10,
		},
		{
			name:      "partial credit on multiple select",
			exam:      model.Exam{PartialCredit: true},
			answers:   map[uuid.UUID]string{ms.QuestionID: `["a"]`},
			wantTotal: 2,
			wantMax:   10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scored, sum := gradeAttempt(keys, tt.answers, &tt.exam)
			if len(scored) != len(keys) {
				t.Fatalf("scored %d rows, want one per question (%d)", len(scored), len(keys))
			}
			if sum.Total != tt.wantTotal || sum.Max != tt.wantMax {
				t.Errorf("total/max = %v/%v, want %v/%v", sum.Total, sum.Max, tt.wantTotal, tt.wantMax)
			}
			if sum.ManualPending != tt.wantPending {
				t.Errorf("manual pending = %d, want %d", sum.ManualPending, tt.wantPending)
			}
		})
	}
}

func TestGradeAttempt_KeepsReasons(t *testing.T) {
	mc := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeMultipleChoice, CorrectAnswers: []string{"b"}, Points: 2}
	partial := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeMultipleSelect, CorrectAnswers: []string{"a", "c"}, Points: 4}
	malformed := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeMultipleSelect, CorrectAnswers: []string{"a"}, Points: 4}
	essay := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeEssay, Points: 4}
	blank := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeTrueFalse, CorrectAnswers: []string{"true"}, Points: 1}

	answers := map[uuid.UUID]string{
		mc.QuestionID:        "a",
		partial.QuestionID:   `["a"]`,
		malformed.QuestionID: "a,c",
		essay.QuestionID:     "Because the light reactions...",
	}
	scored, _ := gradeAttempt([]model.AnswerKey{mc, partial, malformed, essay, blank}, answers, &model.Exam{PartialCredit: true})

	want := map[uuid.UUID]string{
		mc.QuestionID:        "wrong",
		partial.QuestionID:   "partial",
		malformed.QuestionID: "malformed",
		essay.QuestionID:     "manual",
		blank.QuestionID:     "unanswered",
	}
	for _, sa := range scored {
		if sa.Reason != want[sa.QuestionID] {
			t.Errorf("question %s reason = %q, want %q", sa.QuestionID, sa.Reason, want[sa.QuestionID])
		}
	}
}

func TestApplySummary(t *testing.T) {
	t.Run("awaiting manual leaves passed unset", func(t *testing.T) {
		a := &model.ExamAttempt{}
		_, sum := gradeAttempt([]model.AnswerKey{{QuestionID: uuid.New(), QuestionType: model.QuestionTypeEssay, Points: 5}},
			map[uuid.UUID]string{}, &model.Exam{})
		sum.ManualPending = 1
		applySummary(a, sum)
		if a.GradingStatus != model.GradingAwaitingManual {
			t.Errorf("grading status = %s, want awaiting_manual", a.GradingStatus)
		}
		if a.Passed != nil {
			t.Errorf("passed = %v, want nil", *a.Passed)
		}
	})

	t.Run("completed sets passed", func(t *testing.T) {
		a := &model.ExamAttempt{}
		k := model.AnswerKey{QuestionID: uuid.New(), QuestionType: model.QuestionTypeTrueFalse, CorrectAnswers: []string{"true"}, Points: 1}
		_, sum := gradeAttempt([]model.AnswerKey{k}, map[uuid.UUID]string{k.QuestionID: "true"}, &model.Exam{PassingScore: 75})
		applySummary(a, sum)
		if a.GradingStatus != model.GradingCompleted || a.Passed == nil || !*a.Passed {
			t.Errorf("attempt = %+v, want completed and passed", a)
		}
		if *a.Percentage != 100 {
			t.Errorf("percentage = %v, want 100", *a.Percentage)
		}
	})
}

func TestOverlayAnswers(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	persisted := []model.ExamAnswer{{QuestionID: q1, Answer: "a"}, {QuestionID: q2, Answer: "old"}}
	buffered := map[string]string{q2.String(): "new", "not-a-uuid": "x"}

	got := overlayAnswers(persisted, buffered)
	if got[q1] != "a" || got[q2] != "new" {
		t.Errorf("overlay = %v", got)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2 (bad field ignored)", len(got))
	}
}

func TestResultView(t *testing.T) {
	a := &model.ExamAttempt{
		ID:            uuid.New(),
		Status:        model.AttemptSubmitted,
		GradingStatus: model.GradingCompleted,
		Score:         fptr(8),
		MaxScore:      fptr(10),
		Percentage:    fptr(80),
	}

	if r := resultView(a, false); !r.Withheld || r.Score != nil {
		t.Errorf("show_result=false: %+v, want withheld", r)
	}
	if r := resultView(a, true); r.Withheld || r.Score == nil || *r.Score != 8 {
		t.Errorf("show_result=true: %+v, want visible score", r)
	}

	a.GradingStatus = model.GradingAwaitingManual
	if r := resultView(a, true); !r.Withheld {
		t.Errorf("awaiting manual: %+v, want withheld", r)
	}
}

func TestShuffledOrder_IsPermutation(t *testing.T) {
	qs := make([]model.QuestionForStudent, 20)
	seen := make(map[uuid.UUID]bool, len(qs))
	for i := range qs {
		qs[i].ID = uuid.New()
		seen[qs[i].ID] = false
	}

	order := shuffledOrder(qs)
	if len(order) != len(qs) {
		t.Fatalf("len = %d, want %d", len(order), len(qs))
	}
	for _, id := range order {
		done, ok := seen[id]
		if !ok || done {
			t.Fatalf("id %s unknown or repeated", id)
		}
		seen[id] = true
	}
}

func TestAttemptCache_MetaRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewAttemptCache(rdb)
	ctx := context.Background()

	id := uuid.New()
	if _, err := c.Meta(ctx, id); !errors.Is(err, errMetaNotCached) {
		t.Fatalf("Meta on empty cache = %v, want errMetaNotCached", err)
	}

	expires := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	in := AttemptMeta{AttemptID: id, ExamID: uuid.New(), StudentID: 9, Status: model.AttemptInProgress, ExpiresAt: expires, Proctoring: true}
	if err := c.SetMeta(ctx, in); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}

	got, err := c.Meta(ctx, id)
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}
	if got.ExamID != in.ExamID || got.StudentID != 9 || got.Status != model.AttemptInProgress || !got.Proctoring {
		t.Errorf("meta = %+v, want %+v", got, in)
	}
	if !got.ExpiresAt.Equal(expires) {
		t.Errorf("expires = %v, want %v", got.ExpiresAt, expires)
	}
	if ttl := mr.TTL(config.CacheKey.AttemptMetaKey(id.String())); ttl <= 0 {
		t.Errorf("meta key has no ttl")
	}
}

func TestAttemptCache_BufferAnswerAndClear(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewAttemptCache(rdb)
	ctx := context.Background()

	meta := &AttemptMeta{AttemptID: uuid.New(), ExpiresAt: time.Now().Add(time.Hour)}
	q := uuid.New()
	for _, ans := range []string{"a", "c"} {
		p := model.AutosavePayload{AttemptID: meta.AttemptID, QuestionID: q, Answer: ans, SavedAt: time.Now()}
		if err := c.BufferAnswer(ctx, meta, p); err != nil {
			t.Fatalf("BufferAnswer: %v", err)
		}
	}

	answers, err := c.Answers(ctx, meta.AttemptID)
	if err != nil {
		t.Fatal(err)
	}
	if answers[q.String()] != "c" {
		t.Errorf("latest answer = %q, want c", answers[q.String()])
	}

	queued, err := mr.List(config.WorkerKey.PersistAnswersQueue)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Fatalf("queued %d payloads, want 2", len(queued))
	}
	var p model.AutosavePayload
	if err := json.Unmarshal([]byte(queued[1]), &p); err != nil || p.Answer != "c" {
		t.Errorf("queued payload = %s (%v)", queued[1], err)
	}

	mr.HSet(config.CacheKey.AttemptProctorKey(meta.AttemptID.String()), "tab_switch", "2")
	counters, err := c.ProctorCounters(ctx, meta.AttemptID)
	if err != nil || counters.TabSwitches != 2 {
		t.Errorf("counters = %+v (%v), want 2 tab switches", counters, err)
	}

	if err := c.Clear(ctx, meta.AttemptID); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(config.CacheKey.AttemptAnswersKey(meta.AttemptID.String())) ||
		mr.Exists(config.CacheKey.AttemptProctorKey(meta.AttemptID.String())) {
		t.Error("Clear left live keys behind")
	}
}

func TestAttemptCache_EnqueueFinalize(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewAttemptCache(rdb)

	job := FinalizeJob{AttemptID: uuid.New(), Status: model.AttemptAutoSubmitted, Reason: "time limit reached"}
	if err := c.EnqueueFinalize(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	items, _ := mr.List(config.WorkerKey.FinalizeAttemptsQueue)
	if len(items) != 1 {
		t.Fatalf("queue len = %d, want 1", len(items))
	}
	var got FinalizeJob
	if err := json.Unmarshal([]byte(items[0]), &got); err != nil || got != job {
		t.Errorf("job = %+v (%v), want %+v", got, err, job)
	}
}

func TestOverdue(t *testing.T) {
	now := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := now.Add(d); return &v }
	grace := 30 * time.Second

	tests := []struct {
		name    string
		expires *time.Time
		want    bool
	}{
		{"long past", at(-10 * time.Minute), true},
		{"inside grace", at(-10 * time.Second), false},
		{"extended after the sweep", at(9 * time.Minute), false},
		{"no deadline", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := overdue(&model.ExamAttempt{ExpiresAt: tt.expires}, now, grace); got != tt.want {
				t.Errorf("overdue = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttemptCache_ClosingRefusesAnswers(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewAttemptCache(rdb)
	ctx := context.Background()

	meta := AttemptMeta{AttemptID: uuid.New(), ExamID: uuid.New(), StudentID: 4, Status: model.AttemptInProgress, ExpiresAt: time.Now().Add(time.Hour)}
	if err := c.SetMeta(ctx, meta); err != nil {
		t.Fatal(err)
	}
	q := uuid.New()
	save := func(answer string) error {
		return c.BufferAnswer(ctx, &meta, model.AutosavePayload{AttemptID: meta.AttemptID, QuestionID: q, Answer: answer, SavedAt: time.Now()})
	}
	if err := save("a"); err != nil {
		t.Fatalf("save before closing: %v", err)
	}

	if err := c.MarkClosing(ctx, meta.AttemptID); err != nil {
		t.Fatal(err)
	}
	// A writer that read the meta before closing must still be refused.
	if err := save("b"); !errors.Is(err, errAttemptClosing) {
		t.Fatalf("save after closing = %v, want errAttemptClosing", err)
	}
	answers, _ := c.Answers(ctx, meta.AttemptID)
	if answers[q.String()] != "a" {
		t.Errorf("buffered answer = %q, want a", answers[q.String()])
	}
	if queued, _ := mr.List(config.WorkerKey.PersistAnswersQueue); len(queued) != 1 {
		t.Errorf("queued %d payloads, want 1", len(queued))
	}

	if _, err := c.Meta(ctx, meta.AttemptID); !errors.Is(err, errAttemptClosing) {
		t.Errorf("Meta while closing = %v, want errAttemptClosing", err)
	}
	// Re-caching from PostgreSQL or a time extension cannot reopen it.
	if err := c.SetMeta(ctx, meta); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Meta(ctx, meta.AttemptID); !errors.Is(err, errAttemptClosing) {
		t.Errorf("Meta after SetMeta = %v, want errAttemptClosing", err)
	}

	if err := c.Forget(ctx, meta.AttemptID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Meta(ctx, meta.AttemptID); !errors.Is(err, errMetaNotCached) {
		t.Errorf("Meta after Forget = %v, want errMetaNotCached", err)
	}
}

func TestAttemptCache_MarkClosingUncached(t *testing.T) {
	mr, rdb := newTestRedis(t)
	c := NewAttemptCache(rdb)
	id := uuid.New()

	if err := c.MarkClosing(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	key := config.CacheKey.AttemptMetaKey(id.String())
	if mr.HGet(key, "status") != metaStatusClosing {
		t.Errorf("status = %q, want %q", mr.HGet(key, "status"), metaStatusClosing)
	}
	if mr.TTL(key) <= 0 {
		t.Error("closing marker has no ttl")
	}
}

func TestAttemptService_SaveAnswerWhileClosing(t *testing.T) {
	_, rdb := newTestRedis(t)
	live := NewAttemptCache(rdb)
	svc := NewAttemptService(&config.Config{SubmitGrace: 30 * time.Second}, nil, nil, nil, nil, nil, nil,
		NewExamCache(rdb), live, zerolog.Nop())
	ctx := context.Background()

	meta := AttemptMeta{AttemptID: uuid.New(), ExamID: uuid.New(), StudentID: 4, Status: model.AttemptInProgress, ExpiresAt: time.Now().Add(time.Hour)}
	if err := live.SetMeta(ctx, meta); err != nil {
		t.Fatal(err)
	}
	if err := live.MarkClosing(ctx, meta.AttemptID); err != nil {
		t.Fatal(err)
	}

	_, err := svc.SaveAnswer(ctx, meta.AttemptID, 4, &model.SaveAnswerRequest{QuestionID: uuid.New(), Answer: "a"})
	if !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("SaveAnswer = %v, want ErrAttemptNotActive", err)
	}
	if _, err := svc.LiveMeta(ctx, meta.AttemptID); !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("LiveMeta = %v, want ErrAttemptNotActive", err)
	}
}
