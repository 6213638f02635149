package model

import (
	"errors"
	"testing"
)

func TestQuestion_Validate(t *testing.T) {
	abc := []Option{{Key: "a", Text: "A"}, {Key: "b", Text: "B"}, {Key: "c", Text: "C"}}

	tests := []struct {
		name    string
		q       Question
		wantErr error
	}{
		{"mc ok", Question{QuestionType: QuestionTypeMultipleChoice, Options: abc, CorrectAnswers: []string{"b"}}, nil},
		{"mc two correct", Question{QuestionType: QuestionTypeMultipleChoice, Options: abc, CorrectAnswers: []string{"a", "b"}}, ErrSingleCorrectOnly},
		{"mc one option", Question{QuestionType: QuestionTypeMultipleChoice, Options: abc[:1], CorrectAnswers: []string{"a"}}, ErrTooFewOptions},
		{"mc unknown key", Question{QuestionType: QuestionTypeMultipleChoice, Options: abc, CorrectAnswers: []string{"z"}}, ErrCorrectNotInOptions},
		{"mc no key", Question{QuestionType: QuestionTypeMultipleChoice, Options: abc}, ErrNoCorrectAnswer},
		{"mc duplicate option", Question{QuestionType: QuestionTypeMultipleChoice, Options: []Option{{Key: "a"}, {Key: "a"}}, CorrectAnswers: []string{"a"}}, ErrDuplicateOptionKey},
		{"ms ok", Question{QuestionType: QuestionTypeMultipleSelect, Options: abc, CorrectAnswers: []string{"a", "c"}}, nil},
		{"tf ok", Question{QuestionType: QuestionTypeTrueFalse, CorrectAnswers: []string{"false"}}, nil},
		{"tf bad key", Question{QuestionType: QuestionTypeTrueFalse, CorrectAnswers: []string{"yes"}}, ErrCorrectNotInOptions},
		{"tf two keys", Question{QuestionType: QuestionTypeTrueFalse, CorrectAnswers: []string{"true", "false"}}, ErrSingleCorrectOnly},
		{"short with key", Question{QuestionType: QuestionTypeShortAnswer, CorrectAnswers: []string{"Jakarta"}}, nil},
		{"short without key", Question{QuestionType: QuestionTypeShortAnswer}, nil},
		{"essay ok", Question{QuestionType: QuestionTypeEssay}, nil},
		{"essay with key", Question{QuestionType: QuestionTypeEssay, CorrectAnswers: []string{"x"}}, ErrEssayHasKey},
		{"unknown type", Question{QuestionType: "matrix"}, ErrUnknownQuestionType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQuestion_Validate_TrueFalseNormalizesOptions(t *testing.T) {
	q := Question{QuestionType: QuestionTypeTrueFalse, Options: []Option{{Key: "x"}}, CorrectAnswers: []string{"true"}}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(q.Options) != 2 || q.Options[0].Key != "true" || q.Options[1].Key != "false" {
		t.Errorf("options = %+v", q.Options)
	}
}

func TestQuestion_NeedsManualGrading(t *testing.T) {
	tests := []struct {
		q    Question
		want bool
	}{
		{Question{QuestionType: QuestionTypeEssay}, true},
		{Question{QuestionType: QuestionTypeShortAnswer}, true},
		{Question{QuestionType: QuestionTypeShortAnswer, CorrectAnswers: []string{"x"}}, false},
		{Question{QuestionType: QuestionTypeMultipleChoice, CorrectAnswers: []string{"a"}}, false},
	}
	for _, tt := range tests {
		if got := tt.q.NeedsManualGrading(); got != tt.want {
			t.Errorf("%s keys=%v: NeedsManualGrading = %v, want %v", tt.q.QuestionType, tt.q.CorrectAnswers, got, tt.want)
		}
	}
}

func TestQuestion_ForStudent_HidesKey(t *testing.T) {
	q := Question{QuestionType: QuestionTypeEssay, QuestionText: "Explain", Points: 5}
	s := q.ForStudent()
	if s.Options == nil {
		t.Error("options should serialize as an empty list")
	}
	if s.QuestionText != "Explain" || s.Points != 5 {
		t.Errorf("ForStudent = %+v", s)
	}
}
