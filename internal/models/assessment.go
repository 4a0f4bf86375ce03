package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Question types supported by assessments.
const (
	QuestionTypeMultipleChoice = "multiple-choice"
	QuestionTypeWritten        = "written"
	QuestionTypeCalculation    = "calculation"
)

// Assessment is an instructor-authored set of questions for one course day.
type Assessment struct {
	ID          string                        `gorm:"primaryKey;size:64" json:"id"`
	DayIndex    int                           `gorm:"not null" json:"day_index"`
	Title       string                        `gorm:"size:255;not null" json:"title"`
	Questions   datatypes.JSONSlice[Question] `gorm:"type:json" json:"questions"`
	TotalPoints float64                       `gorm:"not null" json:"total_points"`
	CreatedBy   string                        `gorm:"size:128;not null;index" json:"created_by"`
	CreatedAt   time.Time                     `json:"created_at"`
	UpdatedAt   time.Time                     `json:"updated_at"`
}

// Question is a single item of an assessment. The topic tag is required for
// the question to count towards weakness analytics.
type Question struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	Prompt        string   `json:"prompt"`
	Options       []string `json:"options,omitempty"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Points        float64  `json:"points"`
	Strand        string   `json:"strand,omitempty"`
	Chapter       string   `json:"chapter,omitempty"`
	Subtopic      string   `json:"subtopic,omitempty"`
	TopicPath     string   `json:"topic_path,omitempty"`
}

// Topic returns the question's topic path, building it from the strand,
// chapter and subtopic components when no explicit path was stored.
func (q Question) Topic() string {
	if path := strings.Trim(strings.TrimSpace(q.TopicPath), "/"); path != "" {
		return path
	}

	return BuildTopicPath(q.Strand, q.Chapter, q.Subtopic)
}

// QuestionByID returns the question with the given identifier.
func (a Assessment) QuestionByID(id string) (Question, bool) {
	for _, question := range a.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// SumPoints adds up the point value of every question.
func (a Assessment) SumPoints() float64 {
	var total float64
	for _, question := range a.Questions {
		total += question.Points
	}
	return total
}

// BuildTopicPath joins the non-empty topic components with "/".
func BuildTopicPath(strand, chapter, subtopic string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{strand, chapter, subtopic} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "/")
}
