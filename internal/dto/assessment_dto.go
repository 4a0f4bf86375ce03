package dto

import (
	"time"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// QuestionRequest describes one question in an authoring payload.
type QuestionRequest struct {
	ID            string   `json:"id" validate:"required,max=64"`
	Type          string   `json:"type" validate:"required,oneof=multiple-choice written calculation"`
	Prompt        string   `json:"prompt" validate:"required"`
	Options       []string `json:"options" validate:"omitempty,min=2,dive,required"`
	CorrectAnswer string   `json:"correct_answer"`
	Points        float64  `json:"points" validate:"gte=0"`
	Strand        string   `json:"strand" validate:"max=64"`
	Chapter       string   `json:"chapter" validate:"max=64"`
	Subtopic      string   `json:"subtopic" validate:"max=64"`
	TopicPath     string   `json:"topic_path" validate:"max=200"`
}

// AssessmentCreateRequest is the payload for createAssessment.
type AssessmentCreateRequest struct {
	ID          string            `json:"id" validate:"omitempty,max=64"`
	DayIndex    int               `json:"day_index" validate:"gte=0"`
	Title       string            `json:"title" validate:"required,max=255"`
	Questions   []QuestionRequest `json:"questions" validate:"required,min=1,dive"`
	TotalPoints *float64          `json:"total_points" validate:"omitempty,gte=0"`
	CreatedBy   string            `json:"created_by" validate:"required,max=128"`
}

// AssessmentUpdateRequest patches an assessment. Nil fields are left unchanged.
type AssessmentUpdateRequest struct {
	DayIndex    *int              `json:"day_index" validate:"omitempty,gte=0"`
	Title       *string           `json:"title" validate:"omitempty,min=1,max=255"`
	Questions   []QuestionRequest `json:"questions" validate:"omitempty,min=1,dive"`
	TotalPoints *float64          `json:"total_points" validate:"omitempty,gte=0"`
}

// AssessmentFilter describes query string filters for listing assessments.
type AssessmentFilter struct {
	CreatedBy string `query:"created_by"`
	Search    string `query:"search"`
}

// AssessmentResponse is returned to API clients.
type AssessmentResponse struct {
	ID            string            `json:"id"`
	DayIndex      int               `json:"day_index"`
	Title         string            `json:"title"`
	Questions     []models.Question `json:"questions"`
	QuestionCount int               `json:"question_count"`
	TotalPoints   float64           `json:"total_points"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ToQuestion converts the request into the stored question shape.
func (q QuestionRequest) ToQuestion() models.Question {
	question := models.Question{
		ID:            q.ID,
		Type:          q.Type,
		Prompt:        q.Prompt,
		Options:       q.Options,
		CorrectAnswer: q.CorrectAnswer,
		Points:        q.Points,
		Strand:        q.Strand,
		Chapter:       q.Chapter,
		Subtopic:      q.Subtopic,
	}
	question.TopicPath = question.Topic()
	return question
}

// NewAssessmentResponse converts an Assessment model into a DTO.
func NewAssessmentResponse(model models.Assessment) AssessmentResponse {
	questions := []models.Question(model.Questions)
	if questions == nil {
		questions = []models.Question{}
	}

	return AssessmentResponse{
		ID:            model.ID,
		DayIndex:      model.DayIndex,
		Title:         model.Title,
		Questions:     questions,
		QuestionCount: len(questions),
		TotalPoints:   model.TotalPoints,
		CreatedBy:     model.CreatedBy,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
	}
}

// NewAssessmentResponseSlice converts assessment models into DTOs.
func NewAssessmentResponseSlice(items []models.Assessment) []AssessmentResponse {
	responses := make([]AssessmentResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewAssessmentResponse(item))
	}
	return responses
}
