package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeMultipleSelect QuestionType = "multiple_select"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
)

// Option is a selectable choice of a choice-type question.
type Option struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Question represents a single exam question.
type Question struct {
	ID             uuid.UUID    `json:"id"`
	ExamID         uuid.UUID    `json:"exam_id"`
	QuestionType   QuestionType `json:"question_type"`
	QuestionText   string       `json:"question_text"`
	Options        []Option     `json:"options"`
	CorrectAnswers []string     `json:"correct_answers"`
	Points         float64      `json:"points"`
	OrderNum       int          `json:"order_num"`
	RubricID       *uuid.UUID   `json:"rubric_id,omitempty"`
	MediaURL       string       `json:"media_url,omitempty"`
}

// NeedsManualGrading reports whether no automatic key can score this question.
func (q *Question) NeedsManualGrading() bool {
	switch q.QuestionType {
	case QuestionTypeEssay:
		return true
	case QuestionTypeShortAnswer:
		return len(q.CorrectAnswers) == 0
	}
	return false
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID    `json:"id"`
	QuestionType QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Options      []Option     `json:"options"`
	Points       float64      `json:"points"`
	OrderNum     int          `json:"order_num"`
	MediaURL     string       `json:"media_url,omitempty"`
}

// AnswerKey is the cached scoring data of one question.
type AnswerKey struct {
	QuestionID     uuid.UUID    `json:"question_id"`
	QuestionType   QuestionType `json:"question_type"`
	CorrectAnswers []string     `json:"correct_answers"`
	Points         float64      `json:"points"`
}

// ForStudent strips the answer key.
func (q *Question) ForStudent() QuestionForStudent {
	opts := q.Options
	if opts == nil {
		opts = []Option{}
	}
	return QuestionForStudent{
		ID:           q.ID,
		QuestionType: q.QuestionType,
		QuestionText: q.QuestionText,
		Options:      opts,
		Points:       q.Points,
		OrderNum:     q.OrderNum,
		MediaURL:     q.MediaURL,
	}
}

// Key extracts the scoring data.
func (q *Question) Key() AnswerKey {
	return AnswerKey{
		QuestionID:     q.ID,
		QuestionType:   q.QuestionType,
		CorrectAnswers: q.CorrectAnswers,
		Points:         q.Points,
	}
}

var (
	ErrUnknownQuestionType = errors.New("unknown question type")
	ErrTooFewOptions       = errors.New("choice questions need at least two options")
	ErrDuplicateOptionKey  = errors.New("duplicate option key")
	ErrCorrectNotInOptions = errors.New("correct answer is not one of the option keys")
	ErrSingleCorrectOnly   = errors.New("question type takes exactly one correct answer")
	ErrNoCorrectAnswer     = errors.New("question needs at least one correct answer")
	ErrEssayHasKey         = errors.New("essay questions cannot have correct answers")
)

// TrueFalseOptions are the fixed options of a true_false question.
var TrueFalseOptions = []Option{{Key: "true", Text: "True"}, {Key: "false", Text: "False"}}

// Validate checks the type-specific shape of the question. It normalizes
// true_false options to the fixed pair.
func (q *Question) Validate() error {
	switch q.QuestionType {
	case QuestionTypeTrueFalse:
		q.Options = TrueFalseOptions
		if len(q.CorrectAnswers) != 1 {
			return ErrSingleCorrectOnly
		}
		return q.checkKeysInOptions()
	case QuestionTypeMultipleChoice, QuestionTypeMultipleSelect:
		if len(q.Options) < 2 {
			return ErrTooFewOptions
		}
		seen := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if _, dup := seen[o.Key]; dup {
				return fmt.Errorf("%w: %q", ErrDuplicateOptionKey, o.Key)
			}
			seen[o.Key] = struct{}{}
		}
		if len(q.CorrectAnswers) == 0 {
			return ErrNoCorrectAnswer
		}
		if q.QuestionType == QuestionTypeMultipleChoice && len(q.CorrectAnswers) != 1 {
			return ErrSingleCorrectOnly
		}
		return q.checkKeysInOptions()
	case QuestionTypeShortAnswer:
		q.Options = nil
		return nil
	case QuestionTypeEssay:
		q.Options = nil
		if len(q.CorrectAnswers) > 0 {
			return ErrEssayHasKey
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQuestionType, q.QuestionType)
	}
}

func (q *Question) checkKeysInOptions() error {
	keys := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		keys[o.Key] = struct{}{}
	}
	for _, c := range q.CorrectAnswers {
		if _, ok := keys[c]; !ok {
			return fmt.Errorf("%w: %q", ErrCorrectNotInOptions, c)
		}
	}
	return nil
}

// AddQuestionRequest is the payload for adding a question to an exam.
type AddQuestionRequest struct {
	QuestionText   string     `json:"question_text" binding:"required,min=1,max=5000"`
	QuestionType   string     `json:"question_type" binding:"required,oneof=multiple_choice multiple_select true_false short_answer essay"`
	Options        []Option   `json:"options" binding:"omitempty,dive"`
	CorrectAnswers []string   `json:"correct_answers" binding:"omitempty,dive,max=500"`
	Points         float64    `json:"points" binding:"required,gt=0,max=1000"`
	OrderNum       int        `json:"order_num" binding:"min=0"`
	RubricID       *uuid.UUID `json:"rubric_id"`
	MediaURL       string     `json:"media_url" binding:"omitempty,max=512"`
}

// ToQuestion builds the question entity for examID.
func (r *AddQuestionRequest) ToQuestion(examID uuid.UUID) Question {
	return Question{
		ExamID:         examID,
		QuestionType:   QuestionType(r.QuestionType),
		QuestionText:   r.QuestionText,
		Options:        r.Options,
		CorrectAnswers: r.CorrectAnswers,
		Points:         r.Points,
		OrderNum:       r.OrderNum,
		RubricID:       r.RubricID,
		MediaURL:       r.MediaURL,
	}
}

// ReplaceQuestionsRequest is the payload for bulk replacing questions.
type ReplaceQuestionsRequest struct {
	Questions []AddQuestionRequest `json:"questions" binding:"required,dive"`
}
