// Package scoring grades objective answers and aggregates attempt totals.
// Everything here is pure so it can run inside a finalize transaction or a test.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/stemsi/cbt-backend/internal/model"
)

// Reason explains how a score was reached.
type Reason string

const (
	ReasonCorrect    Reason = "correct"
	ReasonPartial    Reason = "partial"
	ReasonWrong      Reason = "wrong"
	ReasonUnanswered Reason = "unanswered"
	ReasonManual     Reason = "manual"
	ReasonMalformed  Reason = "malformed"
)

// Policy carries the exam-level scoring switches.
type Policy struct {
	// NegativeMarking is the fraction of a question's points deducted for a
	// wrong objective answer, in [0, 1].
	NegativeMarking float64
	// PartialCredit enables proportional credit on multiple_select questions.
	PartialCredit bool
}

// Result is the outcome of scoring one question.
type Result struct {
	QuestionID  uuid.UUID `json:"question_id"`
	Earned      float64   `json:"earned"`
	Max         float64   `json:"max"`
	IsCorrect   *bool     `json:"is_correct,omitempty"`
	NeedsManual bool      `json:"needs_manual"`
	Reason      Reason    `json:"reason"`
}

// Summary is the aggregate of an attempt.
type Summary struct {
	Total         float64 `json:"total"`
	Max           float64 `json:"max"`
	Percentage    float64 `json:"percentage"`
	Passed        bool    `json:"passed"`
	ManualPending int     `json:"manual_pending"`
}

var (
	ErrNotAnOption     = errors.New("answer is not one of the options")
	ErrNotAList        = errors.New("answer must be a JSON array of option keys")
	ErrUnknownQuestion = errors.New("unknown question type")
)

// Score grades answer against key under policy.
func Score(key model.AnswerKey, answer string, p Policy) Result {
	r := Result{QuestionID: key.QuestionID, Max: key.Points}

	switch key.QuestionType {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		given := strings.TrimSpace(answer)
		if given == "" {
			r.Reason = ReasonUnanswered
			return r
		}
		if len(key.CorrectAnswers) > 0 && given == key.CorrectAnswers[0] {
			return correct(r)
		}
		return wrong(r, p)

	case model.QuestionTypeMultipleSelect:
		return scoreSelection(r, key, answer, p)

	case model.QuestionTypeShortAnswer:
		given := NormalizeText(answer)
		if given == "" {
			r.Reason = ReasonUnanswered
			return r
		}
		if len(key.CorrectAnswers) == 0 {
			r.NeedsManual = true
			r.Reason = ReasonManual
			return r
		}
		for _, accepted := range key.CorrectAnswers {
			if NormalizeText(accepted) == given {
				return correct(r)
			}
		}
		f := false
		r.IsCorrect = &f
		r.Reason = ReasonWrong
		return r

	case model.QuestionTypeEssay:
		if strings.TrimSpace(answer) == "" {
			r.Reason = ReasonUnanswered
			return r
		}
		r.NeedsManual = true
		r.Reason = ReasonManual
		return r
	}

	r.Reason = ReasonMalformed
	return r
}

func scoreSelection(r Result, key model.AnswerKey, answer string, p Policy) Result {
	picked, err := ParseSelection(answer)
	if err != nil {
		f := false
		r.IsCorrect = &f
		r.Reason = ReasonMalformed
		return r
	}
	if len(picked) == 0 {
		r.Reason = ReasonUnanswered
		return r
	}

	want := make(map[string]struct{}, len(key.CorrectAnswers))
	for _, k := range key.CorrectAnswers {
		want[k] = struct{}{}
	}
	hits, falsePicks := 0, 0
	for _, k := range picked {
		if _, ok := want[k]; ok {
			hits++
		} else {
			falsePicks++
		}
	}

	if hits == len(want) && falsePicks == 0 {
		return correct(r)
	}
	if !p.PartialCredit || len(want) == 0 {
		return wrong(r, p)
	}

	frac := float64(hits-falsePicks) / float64(len(want))
	f := false
	r.IsCorrect = &f
	if frac <= 0 {
		r.Reason = ReasonWrong
		return r
	}
	r.Earned = Round2(key.Points * frac)
	r.Reason = ReasonPartial
	return r
}

func correct(r Result) Result {
	t := true
	r.IsCorrect = &t
	r.Earned = r.Max
	r.Reason = ReasonCorrect
	return r
}

func wrong(r Result, p Policy) Result {
	f := false
	r.IsCorrect = &f
	r.Reason = ReasonWrong
	if p.NegativeMarking > 0 {
		r.Earned = -Round2(p.NegativeMarking * r.Max)
	}
	return r
}

// Aggregate totals results. The total is floored at zero so negative marking
// never produces a negative attempt score.
func Aggregate(results []Result, passingScore float64) Summary {
	var s Summary
	var total float64
	for _, r := range results {
		total += r.Earned
		s.Max += r.Max
		if r.NeedsManual {
			s.ManualPending++
		}
	}
	s.Total = Round2(math.Max(0, total))
	s.Max = Round2(s.Max)
	if s.Max > 0 {
		s.Percentage = Round2(s.Total / s.Max * 100)
	}
	s.Passed = s.Percentage >= passingScore
	return s
}

// Round2 rounds f to two decimals, half away from zero.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// NormalizeText trims, collapses inner whitespace and case-folds s.
func NormalizeText(s string) string {
	// A Caser keeps state, so each call gets its own.
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// ParseSelection decodes a multiple_select answer. Duplicate keys count once.
// An empty string means nothing was picked.
func ParseSelection(answer string) ([]string, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(answer), &raw); err != nil {
		return nil, ErrNotAList
	}
	seen := make(map[string]struct{}, len(raw))
	out := raw[:0]
	for _, k := range raw {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

// ValidateAnswer checks that answer has the shape required by the question
// before it is saved. Empty answers are always accepted and clear the choice.
func ValidateAnswer(q model.QuestionForStudent, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return nil
	}

	switch q.QuestionType {
	case model.QuestionTypeMultipleChoice, model.QuestionTypeTrueFalse:
		if !hasOption(q.Options, strings.TrimSpace(answer)) {
			return fmt.Errorf("%w: %q", ErrNotAnOption, answer)
		}
		return nil
	case model.QuestionTypeMultipleSelect:
		picked, err := ParseSelection(answer)
		if err != nil {
			return err
		}
		for _, k := range picked {
			if !hasOption(q.Options, k) {
				return fmt.Errorf("%w: %q", ErrNotAnOption, k)
			}
		}
		return nil
	case model.QuestionTypeShortAnswer, model.QuestionTypeEssay:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownQuestion, q.QuestionType)
}

func hasOption(opts []model.Option, key string) bool {
	for _, o := range opts {
		if o.Key == key {
			return true
		}
	}
	return false
}

// ─── Rubrics ───────────────────────────────────────────────────────────────

var (
	ErrCriterionMissing = errors.New("criterion not scored")
	ErrCriterionUnknown = errors.New("criterion does not belong to the rubric")
	ErrCriterionTwice   = errors.New("criterion scored more than once")
	ErrScoreOutOfRange  = errors.New("score outside the allowed range")
	ErrEmptyRubric      = errors.New("rubric has no criteria")
)

// RubricPoints converts per-criterion scores into question points:
// round2(sum(score) / sum(max) * questionPoints). Every criterion must be
// scored exactly once within [0, max_points].
func RubricPoints(criteria []model.RubricCriterion, scores []model.CriterionScore, questionPoints float64) (float64, error) {
	if len(criteria) == 0 {
		return 0, ErrEmptyRubric
	}
	byID := make(map[uuid.UUID]model.RubricCriterion, len(criteria))
	var maxSum float64
	for _, c := range criteria {
		byID[c.ID] = c
		maxSum += c.MaxPoints
	}

	got := make(map[uuid.UUID]float64, len(scores))
	for _, s := range scores {
		c, ok := byID[s.CriterionID]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrCriterionUnknown, s.CriterionID)
		}
		if _, dup := got[s.CriterionID]; dup {
			return 0, fmt.Errorf("%w: %s", ErrCriterionTwice, c.Title)
		}
		if s.Score < 0 || s.Score > c.MaxPoints {
			return 0, fmt.Errorf("%w: %s scored %.2f of %.2f", ErrScoreOutOfRange, c.Title, s.Score, c.MaxPoints)
		}
		got[s.CriterionID] = s.Score
	}

	var sum float64
	for _, c := range criteria {
		v, ok := got[c.ID]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrCriterionMissing, c.Title)
		}
		sum += v
	}
	if maxSum <= 0 {
		return 0, ErrEmptyRubric
	}
	return Round2(sum / maxSum * questionPoints), nil
}

// DirectPoints validates points given without a rubric.
func DirectPoints(points, questionPoints float64) (float64, error) {
	if points < 0 || points > questionPoints {
		return 0, fmt.Errorf("%w: %.2f of %.2f", ErrScoreOutOfRange, points, questionPoints)
	}
	return Round2(points), nil
}
