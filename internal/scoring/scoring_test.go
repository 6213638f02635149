package scoring

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/stemsi/cbt-backend/internal/model"
)

func boolPtr(b bool) *bool { return &b }

func assertResult(t *testing.T, got Result, reason Reason, earned float64, isCorrect *bool, manual bool) {
	t.Helper()
	if got.Reason != reason {
		t.Errorf("reason = %q, want %q", got.Reason, reason)
	}
	if got.Earned != earned {
		t.Errorf("earned = %v, want %v", got.Earned, earned)
	}
	if got.NeedsManual != manual {
		t.Errorf("needs_manual = %v, want %v", got.NeedsManual, manual)
	}
	switch {
	case isCorrect == nil && got.IsCorrect != nil:
		t.Errorf("is_correct = %v, want nil", *got.IsCorrect)
	case isCorrect != nil && got.IsCorrect == nil:
		t.Errorf("is_correct = nil, want %v", *isCorrect)
	case isCorrect != nil && *got.IsCorrect != *isCorrect:
		t.Errorf("is_correct = %v, want %v", *got.IsCorrect, *isCorrect)
	}
}

func key(qt model.QuestionType, points float64, correct ...string) model.AnswerKey {
	return model.AnswerKey{QuestionID: uuid.New(), QuestionType: qt, CorrectAnswers: correct, Points: points}
}

func TestScore_SingleChoice(t *testing.T) {
	tests := []struct {
		name      string
		qt        model.QuestionType
		answer    string
		policy    Policy
		reason    Reason
		earned    float64
		isCorrect *bool
	}{
		{"mc correct", model.QuestionTypeMultipleChoice, "b", Policy{}, ReasonCorrect, 2, boolPtr(true)},
		{"mc correct padded", model.QuestionTypeMultipleChoice, " b ", Policy{}, ReasonCorrect, 2, boolPtr(true)},
		{"mc wrong", model.QuestionTypeMultipleChoice, "a", Policy{}, ReasonWrong, 0, boolPtr(false)},
		{"mc wrong negative", model.QuestionTypeMultipleChoice, "a", Policy{NegativeMarking: 0.25}, ReasonWrong, -0.5, boolPtr(false)},
		{"mc unanswered negative", model.QuestionTypeMultipleChoice, "", Policy{NegativeMarking: 0.25}, ReasonUnanswered, 0, nil},
		{"tf correct", model.QuestionTypeTrueFalse, "b", Policy{}, ReasonCorrect, 2, boolPtr(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(key(tt.qt, 2, "b"), tt.answer, tt.policy)
			assertResult(t, got, tt.reason, tt.earned, tt.isCorrect, false)
			if got.Max != 2 {
				t.Errorf("max = %v", got.Max)
			}
		})
	}
}

func TestScore_MultipleSelect(t *testing.T) {
	tests := []struct {
		name      string
		answer    string
		policy    Policy
		reason    Reason
		earned    float64
		isCorrect *bool
	}{
		{"exact", `["a","c"]`, Policy{}, ReasonCorrect, 4, boolPtr(true)},
		{"exact any order", `["c","a"]`, Policy{}, ReasonCorrect, 4, boolPtr(true)},
		{"duplicates ignored", `["a","a","c"]`, Policy{}, ReasonCorrect, 4, boolPtr(true)},
		{"missing one no partial", `["a"]`, Policy{}, ReasonWrong, 0, boolPtr(false)},
		{"missing one negative", `["a"]`, Policy{NegativeMarking: 0.5}, ReasonWrong, -2, boolPtr(false)},
		{"missing one partial", `["a"]`, Policy{PartialCredit: true}, ReasonPartial, 2, boolPtr(false)},
		{"extra pick partial", `["a","c","b"]`, Policy{PartialCredit: true}, ReasonPartial, 2, boolPtr(false)},
		{"hits cancelled partial", `["a","b"]`, Policy{PartialCredit: true}, ReasonWrong, 0, boolPtr(false)},
		{"all wrong partial", `["b","d"]`, Policy{PartialCredit: true, NegativeMarking: 1}, ReasonWrong, 0, boolPtr(false)},
		{"empty list", `[]`, Policy{NegativeMarking: 1}, ReasonUnanswered, 0, nil},
		{"empty string", ``, Policy{}, ReasonUnanswered, 0, nil},
		{"not json", `a,c`, Policy{NegativeMarking: 1}, ReasonMalformed, 0, boolPtr(false)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(key(model.QuestionTypeMultipleSelect, 4, "a", "c"), tt.answer, tt.policy)
			assertResult(t, got, tt.reason, tt.earned, tt.isCorrect, false)
		})
	}
}

func TestScore_MultipleSelect_PartialRounding(t *testing.T) {
	k := key(model.QuestionTypeMultipleSelect, 1, "a", "b", "c")
	got := Score(k, `["a"]`, Policy{PartialCredit: true})
	assertResult(t, got, ReasonPartial, 0.33, boolPtr(false), false)
}

func TestScore_ShortAnswer(t *testing.T) {
	tests := []struct {
		name      string
		accepted  []string
		answer    string
		reason    Reason
		earned    float64
		isCorrect *bool
		manual    bool
	}{
		{"exact", []string{"Jakarta"}, "Jakarta", ReasonCorrect, 3, boolPtr(true), false},
		{"case and spaces", []string{"Jakarta Pusat"}, "  jakarta   PUSAT ", ReasonCorrect, 3, boolPtr(true), false},
		{"second accepted", []string{"H2O", "water"}, "Water", ReasonCorrect, 3, boolPtr(true), false},
		{"wrong has no negative", []string{"Jakarta"}, "Bandung", ReasonWrong, 0, boolPtr(false), false},
		{"no key is manual", nil, "anything", ReasonManual, 0, nil, true},
		{"blank", []string{"Jakarta"}, "   ", ReasonUnanswered, 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(key(model.QuestionTypeShortAnswer, 3, tt.accepted...), tt.answer, Policy{NegativeMarking: 1})
			assertResult(t, got, tt.reason, tt.earned, tt.isCorrect, tt.manual)
		})
	}
}

func TestScore_Essay(t *testing.T) {
	k := key(model.QuestionTypeEssay, 10)
	assertResult(t, Score(k, "A long essay.", Policy{}), ReasonManual, 0, nil, true)
	assertResult(t, Score(k, "", Policy{}), ReasonUnanswered, 0, nil, false)
}

func TestScore_UnknownType(t *testing.T) {
	got := Score(key("matrix", 1), "x", Policy{})
	if got.Reason != ReasonMalformed {
		t.Errorf("reason = %q", got.Reason)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		passing float64
		want    Summary
	}{
		{
			name:    "empty",
			results: nil,
			passing: 0,
			want:    Summary{Passed: true},
		},
		{
			name:    "passes at threshold",
			results: []Result{{Earned: 3, Max: 4}, {Earned: 0, Max: 1}},
			passing: 60,
			want:    Summary{Total: 3, Max: 5, Percentage: 60, Passed: true},
		},
		{
			name:    "fails below threshold",
			results: []Result{{Earned: 1, Max: 3}},
			passing: 50,
			want:    Summary{Total: 1, Max: 3, Percentage: 33.33, Passed: false},
		},
		{
			name:    "negative total floored",
			results: []Result{{Earned: -1, Max: 2}, {Earned: -0.5, Max: 2}},
			passing: 0,
			want:    Summary{Total: 0, Max: 4, Percentage: 0, Passed: true},
		},
		{
			name:    "manual counted",
			results: []Result{{Earned: 2, Max: 2}, {Max: 8, NeedsManual: true, Reason: ReasonManual}},
			passing: 70,
			want:    Summary{Total: 2, Max: 10, Percentage: 20, Passed: false, ManualPending: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.results, tt.passing); got != tt.want {
				t.Errorf("Aggregate = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := map[string]string{
		"  Hello   World ": "hello world",
		"STRASSE":          "strasse",
		"\tA\nB":           "a b",
		"":                 "",
	}
	for in, want := range tests {
		if got := NormalizeText(in); got != want {
			t.Errorf("NormalizeText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateAnswer(t *testing.T) {
	opts := []model.Option{{Key: "a"}, {Key: "b"}, {Key: "c"}}
	mc := model.QuestionForStudent{QuestionType: model.QuestionTypeMultipleChoice, Options: opts}
	ms := model.QuestionForStudent{QuestionType: model.QuestionTypeMultipleSelect, Options: opts}
	essay := model.QuestionForStudent{QuestionType: model.QuestionTypeEssay}

	tests := []struct {
		name    string
		q       model.QuestionForStudent
		answer  string
		wantErr error
	}{
		{"mc option", mc, "b", nil},
		{"mc clear", mc, "", nil},
		{"mc unknown", mc, "z", ErrNotAnOption},
		{"ms list", ms, `["a","c"]`, nil},
		{"ms not list", ms, "a", ErrNotAList},
		{"ms unknown key", ms, `["a","z"]`, ErrNotAnOption},
		{"essay free text", essay, "anything goes", nil},
		{"unknown type", model.QuestionForStudent{QuestionType: "matrix"}, "x", ErrUnknownQuestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAnswer(tt.q, tt.answer)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRubricPoints(t *testing.T) {
	c1 := model.RubricCriterion{ID: uuid.New(), Title: "Content", MaxPoints: 6}
	c2 := model.RubricCriterion{ID: uuid.New(), Title: "Structure", MaxPoints: 4}
	criteria := []model.RubricCriterion{c1, c2}

	got, err := RubricPoints(criteria, []model.CriterionScore{
		{CriterionID: c1.ID, Score: 5},
		{CriterionID: c2.ID, Score: 2},
	}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 14 {
		t.Errorf("points = %v, want 14", got)
	}

	errTests := []struct {
		name    string
		scores  []model.CriterionScore
		wantErr error
	}{
		{"missing criterion", []model.CriterionScore{{CriterionID: c1.ID, Score: 5}}, ErrCriterionMissing},
		{"unknown criterion", []model.CriterionScore{{CriterionID: c1.ID, Score: 1}, {CriterionID: c2.ID, Score: 1}, {CriterionID: uuid.New(), Score: 1}}, ErrCriterionUnknown},
		{"above max", []model.CriterionScore{{CriterionID: c1.ID, Score: 7}, {CriterionID: c2.ID, Score: 1}}, ErrScoreOutOfRange},
		{"negative", []model.CriterionScore{{CriterionID: c1.ID, Score: -1}, {CriterionID: c2.ID, Score: 1}}, ErrScoreOutOfRange},
		{"criterion twice", []model.CriterionScore{{CriterionID: c1.ID, Score: 6}, {CriterionID: c2.ID, Score: 1}, {CriterionID: c1.ID, Score: 0}}, ErrCriterionTwice},
	}
	for _, tt := range errTests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RubricPoints(criteria, tt.scores, 20); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := RubricPoints(nil, nil, 10); !errors.Is(err, ErrEmptyRubric) {
		t.Errorf("empty rubric err = %v", err)
	}
}

func TestDirectPoints(t *testing.T) {
	if got, err := DirectPoints(7.456, 10); err != nil || got != 7.46 {
		t.Errorf("DirectPoints(7.456, 10) = %v, %v", got, err)
	}
	for _, p := range []float64{-0.1, 10.01} {
		if _, err := DirectPoints(p, 10); !errors.Is(err, ErrScoreOutOfRange) {
			t.Errorf("DirectPoints(%v) err = %v", p, err)
		}
	}
}
