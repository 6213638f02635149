package model

import (
	"time"

	"github.com/google/uuid"
)

// GradingRubric is a named set of criteria used to grade manual answers.
type GradingRubric struct {
	ID        uuid.UUID         `json:"id"`
	ExamID    uuid.UUID         `json:"exam_id"`
	Name      string            `json:"name"`
	Criteria  []RubricCriterion `json:"criteria"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// MaxPoints sums the criteria maxima.
func (r *GradingRubric) MaxPoints() float64 {
	var total float64
	for _, c := range r.Criteria {
		total += c.MaxPoints
	}
	return total
}

// RubricCriterion is one scored dimension of a rubric.
type RubricCriterion struct {
	ID          uuid.UUID `json:"id"`
	RubricID    uuid.UUID `json:"rubric_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MaxPoints   float64   `json:"max_points"`
	OrderNum    int       `json:"order_num"`
}

// CriterionScore is the score given for one rubric criterion.
type CriterionScore struct {
	CriterionID uuid.UUID `json:"criterion_id"`
	Score       float64   `json:"score"`
}

// AnswerGrade is a grader's verdict on a manual answer.
type AnswerGrade struct {
	ID              uuid.UUID        `json:"id"`
	AnswerID        uuid.UUID        `json:"answer_id"`
	GraderID        int              `json:"grader_id"`
	CriterionScores []CriterionScore `json:"criterion_scores"`
	Points          float64          `json:"points"`
	Feedback        string           `json:"feedback"`
	GradedAt        time.Time        `json:"graded_at"`
}

// PendingAnswer is a manual answer waiting for a grade.
type PendingAnswer struct {
	AnswerID     uuid.UUID    `json:"answer_id"`
	AttemptID    uuid.UUID    `json:"attempt_id"`
	QuestionID   uuid.UUID    `json:"question_id"`
	QuestionType QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Points       float64      `json:"points"`
	RubricID     *uuid.UUID   `json:"rubric_id,omitempty"`
	Answer       string       `json:"answer"`
	StudentName  string       `json:"student_name"`
	StudentNISN  string       `json:"student_nisn"`
}

// ReviewedAnswer pairs an answer with its question and grade for review.
type ReviewedAnswer struct {
	ExamAnswer
	QuestionType QuestionType `json:"question_type"`
	QuestionText string       `json:"question_text"`
	Points       float64      `json:"points"`
	OrderNum     int          `json:"order_num"`
	Grade        *AnswerGrade `json:"grade,omitempty"`
}

// RubricCriterionInput describes a criterion in a rubric request.
type RubricCriterionInput struct {
	Title       string  `json:"title" binding:"required,min=1,max=255"`
	Description string  `json:"description" binding:"omitempty,max=2000"`
	MaxPoints   float64 `json:"max_points" binding:"required,gt=0,max=1000"`
}

// RubricRequest is the payload for creating or replacing a rubric.
type RubricRequest struct {
	Name     string                 `json:"name" binding:"required,min=1,max=255"`
	Criteria []RubricCriterionInput `json:"criteria" binding:"required,min=1,max=20,dive"`
}

// GradeAnswerRequest grades a manual answer either per criterion or with plain points.
type GradeAnswerRequest struct {
	CriterionScores []CriterionScore `json:"criterion_scores" binding:"omitempty,dive"`
	Points          *float64         `json:"points" binding:"omitempty,min=0"`
	Feedback        string           `json:"feedback" binding:"omitempty,max=5000"`
}
