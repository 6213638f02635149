package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/cbt-backend/internal/model"
)

func TestExamCache_WarmPayloadHidesKeys(t *testing.T) {
	_, rdb := newTestRedis(t)
	c := NewExamCache(rdb)
	ctx := context.Background()

	exam := &model.Exam{ID: uuid.New(), Title: "Biologi", DurationMinutes: 90}
	exam.Enabled = true
	exam.RequireFullscreen = true
	questions := []model.Question{
		{
			ID: uuid.New(), ExamID: exam.ID, QuestionType: model.QuestionTypeMultipleChoice,
			QuestionText: "Organel penghasil energi?", Points: 2, OrderNum: 1,
			Options:        []model.Option{{Key: "a", Text: "Ribosom"}, {Key: "b", Text: "Mitokondria"}},
			CorrectAnswers: []string{"b"},
		},
		{
			ID: uuid.New(), ExamID: exam.ID, QuestionType: model.QuestionTypeEssay,
			QuestionText: "Jelaskan fotosintesis.", Points: 5, OrderNum: 2,
		},
	}

	if _, err := c.Payload(ctx, exam.ID); !errors.Is(err, ErrExamNotCached) {
		t.Fatalf("Payload before warm = %v, want ErrExamNotCached", err)
	}
	if err := c.Warm(ctx, exam, questions); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	payload, err := c.Payload(ctx, exam.ID)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if len(payload.Questions) != 2 || !payload.RequireFullscreen || payload.Duration != 90 {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Questions[1].Options == nil {
		t.Error("essay options should serialize as an empty list")
	}

	keys, err := c.AnswerKeys(ctx, exam.ID)
	if err != nil {
		t.Fatalf("AnswerKeys: %v", err)
	}
	k, ok := keys[questions[0].ID]
	if !ok || len(k.CorrectAnswers) != 1 || k.CorrectAnswers[0] != "b" || k.Points != 2 {
		t.Errorf("key = %+v", k)
	}

	has, err := c.HasQuestion(ctx, exam.ID, questions[1].ID)
	if err != nil || !has {
		t.Errorf("HasQuestion = %v, %v", has, err)
	}
	if _, err := c.QuestionKey(ctx, exam.ID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("QuestionKey(unknown) = %v, want ErrNotFound", err)
	}

	if err := c.Evict(ctx, exam.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AnswerKeys(ctx, exam.ID); !errors.Is(err, ErrExamNotCached) {
		t.Errorf("AnswerKeys after evict = %v, want ErrExamNotCached", err)
	}
}

func TestExamCache_RewarmDropsRemovedQuestions(t *testing.T) {
	_, rdb := newTestRedis(t)
	c := NewExamCache(rdb)
	ctx := context.Background()

	exam := &model.Exam{ID: uuid.New()}
	old := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeEssay, Points: 1}
	kept := model.Question{ID: uuid.New(), QuestionType: model.QuestionTypeEssay, Points: 1}

	if err := c.Warm(ctx, exam, []model.Question{old, kept}); err != nil {
		t.Fatal(err)
	}
	if err := c.Warm(ctx, exam, []model.Question{kept}); err != nil {
		t.Fatal(err)
	}
	keys, err := c.AnswerKeys(ctx, exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, stale := keys[old.ID]; stale || len(keys) != 1 {
		t.Errorf("keys = %v, want only the kept question", keys)
	}
}
