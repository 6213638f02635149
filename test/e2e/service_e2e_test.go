//go:build e2e

package e2e

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/database"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/service"
	"github.com/stemsi/cbt-backend/internal/worker"
)

// serviceEnv wires the real services against the e2e PostgreSQL and Redis.
type serviceEnv struct {
	pool     *pgxpool.Pool
	rdb      *redis.Client
	attempts *service.AttemptService
	exams    *service.ExamService
	question *service.QuestionService
	grading  *service.GradingService
	proctor  *service.ProctoringService
	repo     *repository.AttemptRepository
	answers  *repository.AnswerRepository
	students *repository.StudentRepository
	authorID int
	otherID  int
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	ctx := context.Background()
	log := zerolog.Nop()

	cfg := config.Load()
	cfg.DatabaseURL = dbURL
	cfg.DBConnRetries = 1

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	proctorRepo := repository.NewProctoringRepository(pool)
	rubricRepo := repository.NewRubricRepository(pool)
	tx := repository.NewTxRunner(pool)
	examCache := service.NewExamCache(rdb)
	attemptCache := service.NewAttemptCache(rdb)

	exams := service.NewExamService(examRepo, questionRepo, examCache, log)
	attempts := service.NewAttemptService(cfg, examRepo, questionRepo, attemptRepo, answerRepo, proctorRepo, tx, examCache, attemptCache, log)

	env := &serviceEnv{
		pool:     pool,
		rdb:      rdb,
		attempts: attempts,
		exams:    exams,
		question: service.NewQuestionService(exams, questionRepo, rubricRepo, tx),
		grading:  service.NewGradingService(exams, rubricRepo, answerRepo, attemptRepo, questionRepo, tx, log),
		proctor:  service.NewProctoringService(attempts, exams, proctorRepo, attemptCache, rdb, log),
		repo:     attemptRepo,
		answers:  answerRepo,
		students: repository.NewStudentRepository(pool),
	}
	env.authorID = env.teacher(t, "svc_author@example.com")
	env.otherID = env.teacher(t, "svc_other@example.com")
	return env
}

func (e *serviceEnv) teacher(t *testing.T, email string) int {
	t.Helper()
	var id int
	err := e.pool.QueryRow(context.Background(),
		`INSERT INTO admins (name, email, password_hash, role) VALUES ('Service Teacher', $1, 'x', 'teacher')
		 ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, email).Scan(&id)
	if err != nil {
		t.Fatalf("insert teacher: %v", err)
	}
	return id
}

func (e *serviceEnv) student(t *testing.T, nisn string) int {
	t.Helper()
	s := &model.Student{NISN: nisn, Name: "Service Student " + nisn, ClassName: "XII", PasswordHash: "x"}
	if err := e.students.Create(context.Background(), s); err != nil {
		t.Fatalf("insert student %s: %v", nisn, err)
	}
	return s.ID
}

type examFixture struct {
	exam     *model.Exam
	choiceID uuid.UUID
	essayID  uuid.UUID
}

// publishExam creates and publishes an exam with one 2-point multiple choice
// question keyed "a" and one 3-point essay.
func (e *serviceEnv) publishExam(t *testing.T, title string, tweak func(*model.Exam)) examFixture {
	t.Helper()
	ctx := context.Background()
	start := time.Now().Add(-time.Minute)
	end := start.Add(2 * time.Hour)
	exam := &model.Exam{
		Title:           title,
		AuthorID:        e.authorID,
		DurationMinutes: 60,
		StartAt:         &start,
		EndAt:           &end,
		PassingScore:    50,
		MaxAttempts:     1,
		ShowResult:      true,
	}
	if tweak != nil {
		tweak(exam)
	}
	if err := e.exams.Create(ctx, exam); err != nil {
		t.Fatalf("create exam: %v", err)
	}

	choice, err := e.question.Add(ctx, exam.ID, e.authorID, &model.AddQuestionRequest{
		QuestionText:   "Pick a",
		QuestionType:   string(model.QuestionTypeMultipleChoice),
		Options:        []model.Option{{Key: "a", Text: "A"}, {Key: "b", Text: "B"}},
		CorrectAnswers: []string{"a"},
		Points:         2,
		OrderNum:       1,
	})
	if err != nil {
		t.Fatalf("add choice question: %v", err)
	}
	essay, err := e.question.Add(ctx, exam.ID, e.authorID, &model.AddQuestionRequest{
		QuestionText: "Explain",
		QuestionType: string(model.QuestionTypeEssay),
		Points:       3,
		OrderNum:     2,
	})
	if err != nil {
		t.Fatalf("add essay question: %v", err)
	}

	published, err := e.exams.Publish(ctx, exam.ID, e.authorID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return examFixture{exam: published, choiceID: choice.ID, essayID: essay.ID}
}

func (e *serviceEnv) startAttempt(t *testing.T, examID uuid.UUID, studentID int) *model.ExamAttempt {
	t.Helper()
	ctx := context.Background()
	a, err := e.attempts.Join(ctx, examID, studentID, "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	a, err = e.attempts.Start(ctx, a.ID, studentID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return a
}

func (e *serviceEnv) attempt(t *testing.T, id uuid.UUID) *model.ExamAttempt {
	t.Helper()
	a, err := e.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	return a
}

// near compares deadlines across PostgreSQL microsecond and Redis second
// precision.
func near(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Second && d < time.Second
}

func TestServiceFlows(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	t.Run("JoinReturnsOpenAttemptAndEnforcesMaxAttempts", func(t *testing.T) {
		fx := env.publishExam(t, "Join limits", nil)
		sid := env.student(t, "svc00001")

		first, err := env.attempts.Join(ctx, fx.exam.ID, sid, "")
		if err != nil {
			t.Fatal(err)
		}
		again, err := env.attempts.Join(ctx, fx.exam.ID, sid, "")
		if err != nil {
			t.Fatal(err)
		}
		if again.ID != first.ID {
			t.Fatalf("second join created attempt %s, want open attempt %s", again.ID, first.ID)
		}

		if _, err := env.attempts.Start(ctx, first.ID, sid); err != nil {
			t.Fatal(err)
		}
		if _, err := env.attempts.Submit(ctx, first.ID, sid); err != nil {
			t.Fatal(err)
		}
		if _, err := env.attempts.Join(ctx, fx.exam.ID, sid, ""); !errors.Is(err, service.ErrMaxAttemptsReached) {
			t.Fatalf("join after last attempt = %v, want ErrMaxAttemptsReached", err)
		}
	})

	t.Run("StartIsIdempotent", func(t *testing.T) {
		fx := env.publishExam(t, "Start twice", nil)
		sid := env.student(t, "svc00002")

		a := env.startAttempt(t, fx.exam.ID, sid)
		again, err := env.attempts.Start(ctx, a.ID, sid)
		if err != nil {
			t.Fatal(err)
		}
		if again.Status != model.AttemptInProgress || !near(*again.ExpiresAt, *a.ExpiresAt) {
			t.Errorf("second start = %s expiring %v, want in_progress expiring %v", again.Status, again.ExpiresAt, a.ExpiresAt)
		}
	})

	t.Run("FinalizeScoresBufferedAnswersOnce", func(t *testing.T) {
		fx := env.publishExam(t, "Finalize twice", nil)
		sid := env.student(t, "svc00003")
		a := env.startAttempt(t, fx.exam.ID, sid)

		// Saved just before submit, so it may still be only in Redis.
		if _, err := env.attempts.SaveAnswer(ctx, a.ID, sid, &model.SaveAnswerRequest{QuestionID: fx.choiceID, Answer: "a"}); err != nil {
			t.Fatal(err)
		}
		first, err := env.attempts.Finalize(ctx, a.ID, model.AttemptSubmitted, "")
		if err != nil {
			t.Fatal(err)
		}
		if first.Score == nil || *first.Score != 2 {
			t.Fatalf("score = %v, want 2", first.Score)
		}

		second, err := env.attempts.Finalize(ctx, a.ID, model.AttemptTerminated, "late")
		if err != nil {
			t.Fatalf("second finalize: %v", err)
		}
		if second.Status != model.AttemptSubmitted || *second.Score != 2 || second.TerminationReason != "" {
			t.Errorf("second finalize changed the attempt: %s score %v reason %q", second.Status, *second.Score, second.TerminationReason)
		}

		if _, err := env.attempts.SaveAnswer(ctx, a.ID, sid, &model.SaveAnswerRequest{QuestionID: fx.choiceID, Answer: "b"}); !errors.Is(err, service.ErrAttemptNotActive) {
			t.Errorf("save after finalize = %v, want ErrAttemptNotActive", err)
		}

		answers, err := env.answers.ListByAttempt(ctx, nil, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		reasons := map[uuid.UUID]string{}
		for _, ans := range answers {
			reasons[ans.QuestionID] = ans.ScoreReason
		}
		if reasons[fx.choiceID] != "correct" || reasons[fx.essayID] != "unanswered" {
			t.Errorf("score reasons = %v", reasons)
		}
	})

	t.Run("TerminateNotStarted", func(t *testing.T) {
		fx := env.publishExam(t, "Terminate early", nil)
		sid := env.student(t, "svc00004")
		a, err := env.attempts.Join(ctx, fx.exam.ID, sid, "")
		if err != nil {
			t.Fatal(err)
		}

		got, err := env.attempts.Terminate(ctx, a.ID, "seat change")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.AttemptTerminated || got.Score != nil || got.GradingStatus != model.GradingPending {
			t.Errorf("terminated = %s score %v grading %s", got.Status, got.Score, got.GradingStatus)
		}
		if got.TerminationReason != "seat change" {
			t.Errorf("reason = %q", got.TerminationReason)
		}
	})

	t.Run("ExtendTime", func(t *testing.T) {
		fx := env.publishExam(t, "Extend", nil)
		sid := env.student(t, "svc00005")
		a := env.startAttempt(t, fx.exam.ID, sid)

		got, err := env.attempts.ExtendTime(ctx, a.ID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if want := a.ExpiresAt.Add(10 * time.Minute); !near(*got.ExpiresAt, want) {
			t.Errorf("expires_at = %v, want %v", got.ExpiresAt, want)
		}
		meta, err := env.attempts.LiveMeta(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !near(meta.ExpiresAt, *got.ExpiresAt) {
			t.Errorf("cached deadline = %v, want %v", meta.ExpiresAt, got.ExpiresAt)
		}

		if _, err := env.attempts.Submit(ctx, a.ID, sid); err != nil {
			t.Fatal(err)
		}
		if _, err := env.attempts.ExtendTime(ctx, a.ID, 5); !errors.Is(err, service.ErrAttemptNotActive) {
			t.Errorf("extend finalized = %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("StaleAutoSubmitAfterExtension", func(t *testing.T) {
		fx := env.publishExam(t, "Stale auto submit", nil)
		sid := env.student(t, "svc00006")
		a := env.startAttempt(t, fx.exam.ID, sid)

		if _, err := env.attempts.ExtendTime(ctx, a.ID, 10); err != nil {
			t.Fatal(err)
		}
		// The job was queued before the extension and runs after it.
		_, err := env.attempts.Finalize(ctx, a.ID, model.AttemptAutoSubmitted, "time limit reached")
		if !errors.Is(err, service.ErrAttemptNotOverdue) {
			t.Fatalf("stale auto-submit = %v, want ErrAttemptNotOverdue", err)
		}
		if got := env.attempt(t, a.ID); got.Status != model.AttemptInProgress {
			t.Fatalf("status = %s, want in_progress", got.Status)
		}
		// The refused finalize reopens the attempt to answers.
		if _, err := env.attempts.SaveAnswer(ctx, a.ID, sid, &model.SaveAnswerRequest{QuestionID: fx.choiceID, Answer: "a"}); err != nil {
			t.Fatalf("save after refused auto-submit: %v", err)
		}
	})

	t.Run("OverdueAutoSubmit", func(t *testing.T) {
		fx := env.publishExam(t, "Overdue", nil)
		sid := env.student(t, "svc00007")
		a := env.startAttempt(t, fx.exam.ID, sid)

		if _, err := env.pool.Exec(ctx,
			`UPDATE exam_attempts SET expires_at = NOW() - interval '10 minutes' WHERE id = $1`, a.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := env.attempts.EnqueueOverdue(ctx, 100); err != nil {
			t.Fatal(err)
		}
		// The server's worker may already have taken the job; both paths end the same.
		got, err := env.attempts.Finalize(ctx, a.ID, model.AttemptAutoSubmitted, "time limit reached")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != model.AttemptAutoSubmitted {
			t.Errorf("status = %s, want auto_submitted", got.Status)
		}
	})

	t.Run("ExpireUnstarted", func(t *testing.T) {
		fx := env.publishExam(t, "Closed window", nil)
		sid := env.student(t, "svc00008")
		a, err := env.attempts.Join(ctx, fx.exam.ID, sid, "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := env.pool.Exec(ctx,
			`UPDATE exams SET start_at = NOW() - interval '2 hours', end_at = NOW() - interval '1 second' WHERE id = $1`, fx.exam.ID); err != nil {
			t.Fatal(err)
		}

		if _, err := env.attempts.ExpireUnstarted(ctx); err != nil {
			t.Fatal(err)
		}
		if got := env.attempt(t, a.ID); got.Status != model.AttemptExpired {
			t.Errorf("status = %s, want expired", got.Status)
		}
		if _, err := env.attempts.Join(ctx, fx.exam.ID, sid, ""); !errors.Is(err, service.ErrExamNotAvailable) {
			t.Errorf("join closed exam = %v, want ErrExamNotAvailable", err)
		}
	})

	t.Run("ProctoringAutoTermination", func(t *testing.T) {
		fx := env.publishExam(t, "Proctored", func(e *model.Exam) {
			e.ProctoringSettings = model.ProctoringSettings{Enabled: true, MaxTabSwitches: 1, AutoTerminate: true}
		})
		sid := env.student(t, "svc00009")
		a := env.startAttempt(t, fx.exam.ID, sid)

		wctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			worker.NewFinalizeWorker(env.attempts, env.rdb, 1, zerolog.Nop()).Start(wctx)
			close(done)
		}()
		t.Cleanup(func() { cancel(); <-done })

		tab := &model.RecordEventRequest{EventType: string(model.EventTabSwitch)}
		v, err := env.proctor.RecordEvent(ctx, a.ID, sid, tab)
		if err != nil {
			t.Fatal(err)
		}
		if v.Terminated || v.TabSwitchesLeft == nil || *v.TabSwitchesLeft != 0 {
			t.Fatalf("first switch verdict = %+v", v)
		}
		v, err = env.proctor.RecordEvent(ctx, a.ID, sid, tab)
		if err != nil {
			t.Fatal(err)
		}
		if !v.Terminated {
			t.Fatalf("second switch verdict = %+v, want terminated", v)
		}

		var got *model.ExamAttempt
		for deadline := time.Now().Add(15 * time.Second); time.Now().Before(deadline); time.Sleep(200 * time.Millisecond) {
			if got = env.attempt(t, a.ID); got.Status.Terminal() {
				break
			}
		}
		if got.Status != model.AttemptTerminated {
			t.Fatalf("status = %s, want terminated", got.Status)
		}
		if !strings.Contains(got.TerminationReason, "tab switch") {
			t.Errorf("reason = %q", got.TerminationReason)
		}
		if _, err := env.proctor.RecordEvent(ctx, a.ID, sid, tab); !errors.Is(err, service.ErrAttemptNotActive) {
			t.Errorf("event after termination = %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("GradeAnswerCompletesGrading", func(t *testing.T) {
		fx := env.publishExam(t, "Manual grading", nil)
		sid := env.student(t, "svc00010")
		a := env.startAttempt(t, fx.exam.ID, sid)

		for q, ans := range map[uuid.UUID]string{fx.choiceID: "b", fx.essayID: "Because of gravity."} {
			if _, err := env.attempts.SaveAnswer(ctx, a.ID, sid, &model.SaveAnswerRequest{QuestionID: q, Answer: ans}); err != nil {
				t.Fatal(err)
			}
		}
		final, err := env.attempts.Submit(ctx, a.ID, sid)
		if err != nil {
			t.Fatal(err)
		}
		if final.GradingStatus != model.GradingAwaitingManual || final.Passed != nil {
			t.Fatalf("after submit: grading %s passed %v", final.GradingStatus, final.Passed)
		}

		pending, err := env.grading.PendingAnswers(ctx, fx.exam.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) != 1 || pending[0].QuestionID != fx.essayID {
			t.Fatalf("pending = %+v, want the essay", pending)
		}

		points := 3.0
		req := &model.GradeAnswerRequest{Points: &points, Feedback: "clear"}
		if _, _, err := env.grading.GradeAnswer(ctx, pending[0].AnswerID, env.otherID, env.otherID, req); !errors.Is(err, service.ErrNotExamAuthor) {
			t.Fatalf("grade by another teacher = %v, want ErrNotExamAuthor", err)
		}

		_, graded, err := env.grading.GradeAnswer(ctx, pending[0].AnswerID, env.authorID, env.authorID, req)
		if err != nil {
			t.Fatal(err)
		}
		if graded.GradingStatus != model.GradingCompleted {
			t.Errorf("grading status = %s, want completed", graded.GradingStatus)
		}
		if graded.Score == nil || *graded.Score != 3 || graded.MaxScore == nil || *graded.MaxScore != 5 {
			t.Errorf("score = %v / %v, want 3 / 5", graded.Score, graded.MaxScore)
		}
		if graded.Passed == nil || !*graded.Passed {
			t.Errorf("passed = %v, want true at 60%% with a 50%% pass mark", graded.Passed)
		}

		res, err := env.attempts.Result(ctx, a.ID, sid)
		if err != nil {
			t.Fatal(err)
		}
		if res.Withheld || res.Passed == nil || !*res.Passed {
			t.Errorf("result = %+v, want a released pass", res)
		}
	})
}
