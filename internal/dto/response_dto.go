package dto

import (
	"time"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// AnswerSubmission is one answer in a submission payload.
type AnswerSubmission struct {
	QuestionID string `json:"question_id" validate:"required,max=64"`
	Value      string `json:"value" validate:"max=10000"`
}

// ResponseSubmitRequest is the payload for submitResponse.
type ResponseSubmitRequest struct {
	ID               string             `json:"id" validate:"omitempty,max=64"`
	AssessmentID     string             `json:"assessment_id" validate:"required,max=64"`
	StudentID        string             `json:"student_id" validate:"required,max=128"`
	StudentEmail     string             `json:"student_email" validate:"omitempty,email"`
	StudentName      string             `json:"student_name" validate:"max=255"`
	Answers          []AnswerSubmission `json:"answers" validate:"required,min=1,dive"`
	Drawings         map[string]string  `json:"drawings"`
	TimeSpentSeconds int                `json:"time_spent_seconds" validate:"gte=0"`
	CompletedAt      *time.Time         `json:"completed_at"`
}

// ResponseSubmitResult acknowledges a submission.
type ResponseSubmitResult struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Score    float64 `json:"score"`
	MaxScore float64 `json:"max_score"`
}

// StudentResponseView is the API representation of either copy of a response.
type StudentResponseView struct {
	ID                 string            `json:"id"`
	AssessmentID       string            `json:"assessment_id"`
	StudentID          string            `json:"student_id"`
	StudentEmail       string            `json:"student_email,omitempty"`
	StudentName        string            `json:"student_name"`
	Answers            models.AnswerMap  `json:"answers"`
	Drawings           map[string]string `json:"drawings"`
	Score              float64           `json:"score"`
	MaxScore           float64           `json:"max_score"`
	FinalScore         float64           `json:"final_score"`
	TimeSpentSeconds   int               `json:"time_spent_seconds"`
	CompletedAt        time.Time         `json:"completed_at"`
	Status             string            `json:"status"`
	ReviewedBy         string            `json:"reviewed_by,omitempty"`
	ReviewStartedAt    *time.Time        `json:"review_started_at,omitempty"`
	ReviewCompletedAt  *time.Time        `json:"review_completed_at,omitempty"`
	FeedbackSentAt     *time.Time        `json:"feedback_sent_at,omitempty"`
	Feedback           string            `json:"feedback,omitempty"`
	TotalScoreOverride *float64          `json:"total_score_override,omitempty"`
}

// NewStudentResponseView converts a stored response into a DTO.
func NewStudentResponseView(model models.StudentResponse) StudentResponseView {
	return StudentResponseView{
		ID:                 model.ID,
		AssessmentID:       model.AssessmentID,
		StudentID:          model.StudentID,
		StudentEmail:       model.StudentEmail,
		StudentName:        StudentDisplayName(model),
		Answers:            model.DecodedAnswers(),
		Drawings:           model.DecodedDrawings(),
		Score:              model.Score,
		MaxScore:           model.MaxScore,
		FinalScore:         model.FinalScore(),
		TimeSpentSeconds:   model.TimeSpentSeconds,
		CompletedAt:        model.CompletedAt,
		Status:             model.Status,
		ReviewedBy:         model.ReviewedBy,
		ReviewStartedAt:    model.ReviewStartedAt,
		ReviewCompletedAt:  model.ReviewCompletedAt,
		FeedbackSentAt:     model.FeedbackSentAt,
		Feedback:           model.Feedback,
		TotalScoreOverride: model.TotalScoreOverride,
	}
}

// NewStudentResponseViewSlice converts stored responses into DTOs.
func NewStudentResponseViewSlice(items []models.StudentResponse) []StudentResponseView {
	views := make([]StudentResponseView, 0, len(items))
	for _, item := range items {
		views = append(views, NewStudentResponseView(item))
	}
	return views
}
