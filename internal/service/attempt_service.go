package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/cbt-backend/internal/config"
	"github.com/stemsi/cbt-backend/internal/model"
	"github.com/stemsi/cbt-backend/internal/repository"
	"github.com/stemsi/cbt-backend/internal/response"
	"github.com/stemsi/cbt-backend/internal/scoring"
)

// Attempt errors.
var (
	ErrExamNotAvailable    = errors.New("exam is not available")
	ErrInvalidEntryToken   = errors.New("invalid entry token")
	ErrMaxAttemptsReached  = errors.New("maximum number of attempts reached")
	ErrAttemptNotActive    = errors.New("attempt is not in progress")
	ErrAttemptExpired      = errors.New("attempt time is over")
	ErrAttemptNotOverdue   = errors.New("attempt deadline has not passed")
	ErrAttemptNotFinalized = errors.New("attempt is not finalized yet")
	ErrQuestionNotInExam   = errors.New("question does not belong to this exam")
	ErrInvalidAnswer       = errors.New("invalid answer")
)

// AttemptService runs the attempt lifecycle: join, start, answer, submit and
// finalize. Answers go through Redis first and are persisted by the autosave
// worker; finalize is the only writer of scores.
type AttemptService struct {
	cfg          *config.Config
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	attemptRepo  *repository.AttemptRepository
	answerRepo   *repository.AnswerRepository
	proctorRepo  *repository.ProctoringRepository
	tx           *repository.TxRunner
	exams        *ExamCache
	live         *AttemptCache
	log          zerolog.Logger
	now          func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	cfg *config.Config,
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	attemptRepo *repository.AttemptRepository,
	answerRepo *repository.AnswerRepository,
	proctorRepo *repository.ProctoringRepository,
	tx *repository.TxRunner,
	exams *ExamCache,
	live *AttemptCache,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		cfg:          cfg,
		examRepo:     examRepo,
		questionRepo: questionRepo,
		attemptRepo:  attemptRepo,
		answerRepo:   answerRepo,
		proctorRepo:  proctorRepo,
		tx:           tx,
		exams:        exams,
		live:         live,
		log:          log.With().Str("component", "attempt_service").Logger(),
		now:          time.Now,
	}
}

// ─── Student flow ──────────────────────────────────────────────────────────

// Lobby lists published exams with the student's attempt overlay.
func (s *AttemptService) Lobby(ctx context.Context, studentID int) ([]model.LobbyExam, error) {
	return s.attemptRepo.Lobby(ctx, studentID)
}

// Join creates a not_started attempt, or returns the student's open attempt.
func (s *AttemptService) Join(ctx context.Context, examID uuid.UUID, studentID int, entryToken string) (*model.ExamAttempt, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, notFound(err)
	}
	if exam.Status != model.ExamStatusPublished || !exam.WindowOpen(s.now()) {
		return nil, ErrExamNotAvailable
	}
	if exam.EntryToken != "" && subtle.ConstantTimeCompare([]byte(exam.EntryToken), []byte(entryToken)) != 1 {
		return nil, ErrInvalidEntryToken
	}

	if open, err := s.attemptRepo.GetOpen(ctx, examID, studentID); err == nil {
		return open, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check open attempt: %w", err)
	}

	a := &model.ExamAttempt{ExamID: examID, StudentID: studentID}
	err = s.tx.InTx(ctx, func(tx pgx.Tx) error {
		return s.attemptRepo.CreateNext(ctx, tx, a, exam.MaxAttempts)
	})
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrMaxAttemptsReached
	case repository.IsUniqueViolation(err):
		// A concurrent join from another device won.
		open, fetchErr := s.attemptRepo.GetOpen(ctx, examID, studentID)
		if fetchErr != nil {
			return nil, fmt.Errorf("concurrent join detected, but fetch failed: %w", fetchErr)
		}
		return open, nil
	case err != nil:
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int("attempt_number", a.AttemptNumber).
		Msg("Attempt created")
	return a, nil
}

// Start moves a not_started attempt to in_progress and fixes its deadline.
// Starting an attempt that is already running returns it unchanged.
func (s *AttemptService) Start(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status == model.AttemptInProgress {
		return a, nil
	}
	if a.Status != model.AttemptNotStarted {
		return nil, ErrAttemptNotActive
	}

	exam, err := s.examRepo.GetByID(ctx, a.ExamID)
	if err != nil {
		return nil, notFound(err)
	}
	now := s.now()
	if exam.Status != model.ExamStatusPublished || !exam.WindowOpen(now) {
		return nil, ErrExamNotAvailable
	}

	payload, err := s.examPayload(ctx, exam)
	if err != nil {
		return nil, err
	}

	started := now.UTC()
	deadline := exam.Deadline(started)
	a.StartedAt = &started
	a.ExpiresAt = &deadline
	if exam.ShuffleQuestions {
		a.QuestionOrder = shuffledOrder(payload.Questions)
	}

	if err := s.attemptRepo.MarkStarted(ctx, a); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("start attempt: %w", err)
		}
		// Lost a race with another start or a supervisor action.
		current, getErr := s.attemptRepo.GetByID(ctx, attemptID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == model.AttemptInProgress {
			return current, nil
		}
		return nil, ErrAttemptNotActive
	}

	if exam.Enabled {
		if err := s.proctorRepo.OpenSession(ctx, a.ID, started); err != nil {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to open proctoring session")
		}
	}
	if err := s.live.SetMeta(ctx, metaFromAttempt(a, exam.Enabled)); err != nil {
		// Save path falls back to PostgreSQL and re-caches.
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to cache attempt meta")
	}
	s.publish(ctx, a, "attempt_started", nil)

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Time("expires_at", deadline).
		Msg("Attempt started")
	return a, nil
}

// Paper returns the student payload arranged in the attempt's question order.
func (s *AttemptService) Paper(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamPayload, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}

	payload, err := s.exams.Payload(ctx, a.ExamID)
	if errors.Is(err, ErrExamNotCached) {
		exam, getErr := s.examRepo.GetByID(ctx, a.ExamID)
		if getErr != nil {
			return nil, notFound(getErr)
		}
		payload, err = s.examPayload(ctx, exam)
	}
	if err != nil {
		return nil, err
	}

	out := payload.Reorder(a.QuestionOrder)
	return &out, nil
}

// SaveAnswer buffers one answer in Redis and queues it for persistence.
// It returns the server time the answer was accepted at.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID uuid.UUID, studentID int, req *model.SaveAnswerRequest) (time.Time, error) {
	meta, err := s.meta(ctx, attemptID)
	if err != nil {
		return time.Time{}, err
	}
	if meta.StudentID != studentID {
		return time.Time{}, ErrNotFound
	}
	if meta.Status != model.AttemptInProgress {
		return time.Time{}, ErrAttemptNotActive
	}
	now := s.now()
	if now.After(meta.ExpiresAt.Add(s.cfg.SubmitGrace)) {
		return time.Time{}, ErrAttemptExpired
	}

	q, err := s.question(ctx, meta.ExamID, req.QuestionID)
	if err != nil {
		return time.Time{}, err
	}
	if err := scoring.ValidateAnswer(*q, req.Answer); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidAnswer, err)
	}

	p := model.AutosavePayload{
		AttemptID:  attemptID,
		QuestionID: req.QuestionID,
		Answer:     req.Answer,
		SavedAt:    now.UTC(),
	}
	if err := s.live.BufferAnswer(ctx, meta, p); err != nil {
		if errors.Is(err, errAttemptClosing) {
			return time.Time{}, ErrAttemptNotActive
		}
		// Redis is down: write through so the answer is not lost.
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Answer buffer failed, writing directly")
		if dbErr := s.answerRepo.UpsertAutosave(ctx, p); dbErr != nil {
			return time.Time{}, fmt.Errorf("save answer: %w", dbErr)
		}
	}
	return p.SavedAt, nil
}

// State returns what a client needs to resume an attempt.
func (s *AttemptService) State(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptState, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}

	answers, err := s.mergedAnswers(ctx, nil, a)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(answers))
	for id, v := range answers {
		out[id.String()] = v
	}

	return &model.AttemptState{
		AttemptID:        a.ID,
		Status:           a.Status,
		RemainingSeconds: a.RemainingSeconds(s.now()),
		ExpiresAt:        a.ExpiresAt,
		Answers:          out,
	}, nil
}

// Submit finalizes the student's running attempt.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return a, nil
	}
	if a.Status != model.AttemptInProgress {
		return nil, ErrAttemptNotActive
	}
	return s.Finalize(ctx, attemptID, model.AttemptSubmitted, "")
}

// Result returns the student's view of a finalized attempt. Scores are
// withheld unless the exam shows results and grading is complete.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptResult, error) {
	a, err := s.owned(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if !a.Status.Terminal() {
		return nil, ErrAttemptNotFinalized
	}
	exam, err := s.examRepo.GetByID(ctx, a.ExamID)
	if err != nil {
		return nil, notFound(err)
	}
	return resultView(a, exam.ShowResult), nil
}

func resultView(a *model.ExamAttempt, showResult bool) *model.AttemptResult {
	r := &model.AttemptResult{
		AttemptID:     a.ID,
		ExamID:        a.ExamID,
		Status:        a.Status,
		GradingStatus: a.GradingStatus,
		SubmittedAt:   a.SubmittedAt,
	}
	if !showResult || a.GradingStatus != model.GradingCompleted {
		r.Withheld = true
		return r
	}
	r.Score = a.Score
	r.MaxScore = a.MaxScore
	r.Percentage = a.Percentage
	r.Passed = a.Passed
	return r
}

// ─── Finalize ──────────────────────────────────────────────────────────────

// Finalize moves an attempt to a terminal status. Attempts that ran are
// scored from their saved answers in the same transaction. Finalizing an
// attempt that is already terminal is a no-op that returns it. An
// auto-submit is refused with ErrAttemptNotOverdue when the deadline was
// pushed after the job was queued.
func (s *AttemptService) Finalize(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, reason string) (*model.ExamAttempt, error) {
	// New saves are refused from here on, so the buffer read under the row
	// lock holds every answer the student was told was saved.
	if err := s.live.MarkClosing(ctx, attemptID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Could not close attempt to new answers")
	}

	var (
		final   *model.ExamAttempt
		changed bool
	)
	err := s.tx.InTx(ctx, func(tx pgx.Tx) error {
		a, err := s.attemptRepo.LockByID(ctx, tx, attemptID)
		if err != nil {
			return notFound(err)
		}
		final = a
		if a.Status.Terminal() {
			return nil
		}
		now := s.now()
		if status == model.AttemptAutoSubmitted && !overdue(a, now, s.cfg.SubmitGrace) {
			return ErrAttemptNotOverdue
		}
		from := a.Status
		if err := a.Transition(status); err != nil {
			return err
		}
		changed = true

		finishedAt := now.UTC()
		a.SubmittedAt = &finishedAt
		a.TerminationReason = reason

		exam, err := s.examRepo.GetByID(ctx, a.ExamID)
		if err != nil {
			return fmt.Errorf("get exam: %w", err)
		}

		if from == model.AttemptInProgress {
			buffered, err := s.live.Answers(ctx, attemptID)
			if err != nil {
				s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Could not read buffered answers, scoring persisted ones")
				buffered = nil
			}
			if err := s.score(ctx, tx, a, exam, buffered); err != nil {
				return err
			}
		}
		if err := s.attemptRepo.SaveFinal(ctx, tx, a); err != nil {
			return fmt.Errorf("save attempt: %w", err)
		}

		if exam.Enabled && from == model.AttemptInProgress {
			counters, err := s.live.ProctorCounters(ctx, attemptID)
			if err != nil {
				s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Closing proctoring session without live counters")
			}
			flagged := status == model.AttemptTerminated
			if err := s.proctorRepo.CloseSession(ctx, tx, a.ID, counters, flagged); err != nil {
				return fmt.Errorf("close proctoring session: %w", err)
			}
		}
		return nil
	})
	if err != nil || !changed {
		// Nothing was finalized: let the next read reload the meta so a
		// running attempt takes answers again.
		if fErr := s.live.Forget(ctx, attemptID); fErr != nil {
			s.log.Warn().Err(fErr).Str("attempt_id", attemptID.String()).Msg("Failed to reopen attempt meta")
		}
	}
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return nil, fmt.Errorf("%w: %w", ErrAttemptNotActive, err)
		}
		return nil, err
	}
	if !changed {
		return final, nil
	}

	if err := s.live.Clear(ctx, attemptID); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to clear live attempt keys")
	}
	s.publish(ctx, final, "attempt_finalized", map[string]any{
		"status": final.Status,
		"reason": reason,
	})

	ev := s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("status", string(final.Status)).
		Str("grading_status", string(final.GradingStatus))
	if final.Score != nil {
		ev = ev.Float64("score", *final.Score)
	}
	ev.Msg("Attempt finalized")
	return final, nil
}

// overdue reports whether a's deadline plus grace has passed at now.
func overdue(a *model.ExamAttempt, now time.Time, grace time.Duration) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Add(grace).Before(now)
}

// score grades the attempt from its persisted answers overlaid with the
// buffered ones and writes the scored rows.
func (s *AttemptService) score(ctx context.Context, tx pgx.Tx, a *model.ExamAttempt, exam *model.Exam, buffered map[string]string) error {
	keys, err := s.answerKeys(ctx, exam.ID)
	if err != nil {
		return err
	}

	persisted, err := s.answerRepo.ListByAttempt(ctx, tx, a.ID)
	if err != nil {
		return fmt.Errorf("list answers: %w", err)
	}
	answers := overlayAnswers(persisted, buffered)

	scored, summary := gradeAttempt(keys, answers, exam)
	if err := s.answerRepo.WriteScored(ctx, tx, a.ID, scored); err != nil {
		return fmt.Errorf("write scored answers: %w", err)
	}
	applySummary(a, summary)
	return nil
}

// gradeAttempt scores every question of the exam against answers.
func gradeAttempt(keys []model.AnswerKey, answers map[uuid.UUID]string, exam *model.Exam) ([]model.ScoredAnswer, scoring.Summary) {
	policy := scoring.Policy{NegativeMarking: exam.NegativeMarking, PartialCredit: exam.PartialCredit}
	results := make([]scoring.Result, 0, len(keys))
	scored := make([]model.ScoredAnswer, 0, len(keys))
	for _, k := range keys {
		answer := answers[k.QuestionID]
		r := scoring.Score(k, answer, policy)
		results = append(results, r)
		scored = append(scored, model.ScoredAnswer{
			QuestionID:  k.QuestionID,
			Answer:      answer,
			Score:       r.Earned,
			IsCorrect:   r.IsCorrect,
			NeedsManual: r.NeedsManual,
			Reason:      string(r.Reason),
		})
	}
	return scored, scoring.Aggregate(results, exam.PassingScore)
}

// applySummary copies an aggregate onto the attempt. Passed is only set
// once no manual answer is left ungraded.
func applySummary(a *model.ExamAttempt, sum scoring.Summary) {
	total, maxScore, pct := sum.Total, sum.Max, sum.Percentage
	a.Score = &total
	a.MaxScore = &maxScore
	a.Percentage = &pct
	if sum.ManualPending > 0 {
		a.GradingStatus = model.GradingAwaitingManual
		a.Passed = nil
		return
	}
	passed := sum.Passed
	a.GradingStatus = model.GradingCompleted
	a.Passed = &passed
}

func overlayAnswers(persisted []model.ExamAnswer, buffered map[string]string) map[uuid.UUID]string {
	out := make(map[uuid.UUID]string, len(persisted)+len(buffered))
	for _, p := range persisted {
		out[p.QuestionID] = p.Answer
	}
	for k, v := range buffered {
		id, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out
}

// ─── Supervisor controls ───────────────────────────────────────────────────

// ExtendTime pushes the deadline of a running attempt.
func (s *AttemptService) ExtendTime(ctx context.Context, attemptID uuid.UUID, minutes int) (*model.ExamAttempt, error) {
	expires, err := s.attemptRepo.ExtendExpiry(ctx, attemptID, time.Duration(minutes)*time.Minute)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.attemptRepo.GetByID(ctx, attemptID); getErr != nil {
				return nil, notFound(getErr)
			}
			return nil, ErrAttemptNotActive
		}
		return nil, err
	}

	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	a.ExpiresAt = &expires
	exam, err := s.examRepo.GetByID(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if err := s.live.SetMeta(ctx, metaFromAttempt(a, exam.Enabled)); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to refresh attempt meta")
	}
	s.publish(ctx, a, "time_extended", map[string]any{"minutes": minutes, "expires_at": expires})

	s.log.Info().Str("attempt_id", attemptID.String()).Int("minutes", minutes).Time("expires_at", expires).Msg("Attempt time extended")
	return a, nil
}

// Terminate ends an attempt on a supervisor's decision.
func (s *AttemptService) Terminate(ctx context.Context, attemptID uuid.UUID, reason string) (*model.ExamAttempt, error) {
	return s.Finalize(ctx, attemptID, model.AttemptTerminated, reason)
}

// ─── Staff views ───────────────────────────────────────────────────────────

// Results lists the attempts of an exam with pagination.
func (s *AttemptService) Results(ctx context.Context, examID uuid.UUID, f model.ResultFilter) ([]model.AttemptSummary, *response.Pagination, error) {
	page, perPage := pageBounds(f.Page, f.PerPage, 200)
	rows, total, err := s.attemptRepo.ListByExam(ctx, examID, model.AttemptStatus(f.Status), page, perPage)
	if err != nil {
		return nil, nil, err
	}
	return rows, response.NewPagination(page, perPage, total), nil
}

// Summary returns one attempt with student identity.
func (s *AttemptService) Summary(ctx context.Context, attemptID uuid.UUID) (*model.AttemptSummary, error) {
	sum, err := s.attemptRepo.GetSummary(ctx, attemptID)
	return sum, notFound(err)
}

// ─── Background sweeps ─────────────────────────────────────────────────────

// EnqueueOverdue queues auto-submission of running attempts past their
// deadline plus grace. It returns how many were queued.
func (s *AttemptService) EnqueueOverdue(ctx context.Context, limit int) (int, error) {
	ids, err := s.attemptRepo.ListOverdue(ctx, s.now().Add(-s.cfg.SubmitGrace), limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.live.EnqueueFinalize(ctx, FinalizeJob{AttemptID: id, Status: model.AttemptAutoSubmitted, Reason: "time limit reached"}); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ExpireUnstarted marks not_started attempts of closed exams as expired.
func (s *AttemptService) ExpireUnstarted(ctx context.Context) (int, error) {
	examIDs, err := s.examRepo.ListEndedWithOpenAttempts(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, examID := range examIDs {
		ids, err := s.attemptRepo.ExpireNotStarted(ctx, examID)
		if err != nil {
			return total, err
		}
		total += len(ids)
		for _, id := range ids {
			s.publish(ctx, &model.ExamAttempt{ID: id, ExamID: examID}, "attempt_finalized", map[string]any{
				"status": model.AttemptExpired,
			})
		}
	}
	return total, nil
}

// ─── Helpers ───────────────────────────────────────────────────────────────

// LiveMeta returns the hot-path view of an attempt.
func (s *AttemptService) LiveMeta(ctx context.Context, attemptID uuid.UUID) (*AttemptMeta, error) {
	return s.meta(ctx, attemptID)
}

// owned loads an attempt and hides it from anyone but its student.
func (s *AttemptService) owned(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamAttempt, error) {
	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, notFound(err)
	}
	if a.StudentID != studentID {
		return nil, ErrNotFound
	}
	return a, nil
}

// meta reads the attempt meta from Redis, loading and re-caching it from
// PostgreSQL on a miss.
func (s *AttemptService) meta(ctx context.Context, attemptID uuid.UUID) (*AttemptMeta, error) {
	m, err := s.live.Meta(ctx, attemptID)
	if err == nil {
		return m, nil
	}
	if errors.Is(err, errAttemptClosing) {
		return nil, ErrAttemptNotActive
	}
	if !errors.Is(err, errMetaNotCached) {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Attempt meta read failed, using database")
	}

	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		return nil, notFound(err)
	}
	exam, err := s.examRepo.GetByID(ctx, a.ExamID)
	if err != nil {
		return nil, notFound(err)
	}
	fresh := metaFromAttempt(a, exam.Enabled)
	if a.Status == model.AttemptInProgress {
		_ = s.live.SetMeta(ctx, fresh)
	}
	return &fresh, nil
}

// question finds a question of the exam in the cached payload.
func (s *AttemptService) question(ctx context.Context, examID, questionID uuid.UUID) (*model.QuestionForStudent, error) {
	payload, err := s.exams.Payload(ctx, examID)
	if err != nil {
		if !errors.Is(err, ErrExamNotCached) {
			return nil, err
		}
		q, getErr := s.questionRepo.GetByID(ctx, questionID)
		if getErr != nil {
			if errors.Is(getErr, pgx.ErrNoRows) {
				return nil, ErrQuestionNotInExam
			}
			return nil, getErr
		}
		if q.ExamID != examID {
			return nil, ErrQuestionNotInExam
		}
		fs := q.ForStudent()
		return &fs, nil
	}
	for i := range payload.Questions {
		if payload.Questions[i].ID == questionID {
			return &payload.Questions[i], nil
		}
	}
	return nil, ErrQuestionNotInExam
}

// examPayload returns the cached payload, rebuilding it from PostgreSQL on
// a miss. Published exams are re-cached.
func (s *AttemptService) examPayload(ctx context.Context, exam *model.Exam) (*model.ExamPayload, error) {
	payload, err := s.exams.Payload(ctx, exam.ID)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, ErrExamNotCached) {
		return nil, err
	}

	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}
	if exam.Status == model.ExamStatusPublished {
		if err := s.exams.Warm(ctx, exam, questions); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to re-warm exam cache")
		}
	}

	out := &model.ExamPayload{
		ExamID:            exam.ID,
		Title:             exam.Title,
		Duration:          exam.DurationMinutes,
		RequireFullscreen: exam.Enabled && exam.RequireFullscreen,
		Questions:         make([]model.QuestionForStudent, len(questions)),
	}
	for i := range questions {
		out.Questions[i] = questions[i].ForStudent()
	}
	return out, nil
}

// answerKeys returns the scoring keys of every question of the exam.
func (s *AttemptService) answerKeys(ctx context.Context, examID uuid.UUID) ([]model.AnswerKey, error) {
	cached, err := s.exams.AnswerKeys(ctx, examID)
	if err == nil {
		keys := make([]model.AnswerKey, 0, len(cached))
		for _, k := range cached {
			keys = append(keys, k)
		}
		return keys, nil
	}
	if !errors.Is(err, ErrExamNotCached) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Answer key cache read failed, using database")
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	keys := make([]model.AnswerKey, len(questions))
	for i := range questions {
		keys[i] = questions[i].Key()
	}
	return keys, nil
}

// mergedAnswers returns persisted answers overlaid with buffered ones.
func (s *AttemptService) mergedAnswers(ctx context.Context, db repository.Querier, a *model.ExamAttempt) (map[uuid.UUID]string, error) {
	persisted, err := s.answerRepo.ListByAttempt(ctx, db, a.ID)
	if err != nil {
		return nil, err
	}
	var buffered map[string]string
	if a.Status == model.AttemptInProgress {
		buffered, err = s.live.Answers(ctx, a.ID)
		if err != nil {
			s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Buffered answers unavailable")
		}
	}
	return overlayAnswers(persisted, buffered), nil
}

func (s *AttemptService) publish(ctx context.Context, a *model.ExamAttempt, typ string, data map[string]any) {
	ev := model.MonitorEvent{Type: typ, AttemptID: a.ID, StudentID: a.StudentID, At: s.now()}
	if data != nil {
		raw, err := jsonRaw(data)
		if err == nil {
			ev.Data = raw
		}
	}
	if err := s.live.Publish(ctx, a.ExamID, ev); err != nil {
		s.log.Debug().Err(err).Str("attempt_id", a.ID.String()).Msg("Monitor publish failed")
	}
}

func shuffledOrder(qs []model.QuestionForStudent) []uuid.UUID {
	order := make([]uuid.UUID, len(qs))
	for i := range qs {
		order[i] = qs[i].ID
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}
