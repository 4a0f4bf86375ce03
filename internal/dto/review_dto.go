package dto

import (
	"strings"
	"time"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// StatusUpdateRequest drives a review state transition.
type StatusUpdateRequest struct {
	Status     string   `json:"status" validate:"required,oneof=pending in_review completed"`
	ReviewerID string   `json:"reviewer_id" validate:"max=128"`
	Feedback   *string  `json:"feedback"`
	TotalScore *float64 `json:"total_score" validate:"omitempty,gte=0"`
}

// ReopenRequest re-opens a completed review.
type ReopenRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required,max=128"`
}

// StatusUpdateResult acknowledges a review transition.
type StatusUpdateResult struct {
	ResponseID       string    `json:"response_id"`
	Status           string    `json:"status"`
	PreviousStatus   string    `json:"previous_status"`
	MirroredToScoped bool      `json:"mirrored_to_scoped"`
	Warnings         []string  `json:"warnings"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// QuestionGrade is an instructor override for one answer.
type QuestionGrade struct {
	QuestionID   string  `json:"question_id" validate:"required,max=64"`
	IsCorrect    bool    `json:"is_correct"`
	PointsEarned float64 `json:"points_earned" validate:"gte=0"`
	Feedback     string  `json:"feedback"`
}

// ManualGradeRequest is the payload for applyManualGrade.
type ManualGradeRequest struct {
	StudentID string          `json:"student_id" validate:"required,max=128"`
	GraderID  string          `json:"grader_id" validate:"max=128"`
	Grades    []QuestionGrade `json:"grades" validate:"required,min=1,dive"`
}

// ManualGradeResult reports the recomputed score and any partial failure.
type ManualGradeResult struct {
	ResponseID      string   `json:"response_id"`
	UpdatedScore    float64  `json:"updated_score"`
	GradedQuestions int      `json:"graded_questions"`
	ScopedUpdated   bool     `json:"scoped_updated"`
	GlobalUpdated   bool     `json:"global_updated"`
	Partial         bool     `json:"partial"`
	Warnings        []string `json:"warnings"`
}

// ReviewQueueFilter narrows the review queue.
type ReviewQueueFilter struct {
	InstructorID string `query:"instructor_id" validate:"max=128"`
	Status       string `query:"status" validate:"omitempty,oneof=pending in_review completed"`
}

// ReviewQueueItem is one row of the instructor review queue.
type ReviewQueueItem struct {
	ResponseID      string            `json:"response_id"`
	AssessmentID    string            `json:"assessment_id"`
	AssessmentTitle string            `json:"assessment_title"`
	StudentID       string            `json:"student_id"`
	StudentName     string            `json:"student_name"`
	SubmittedAt     time.Time         `json:"submitted_at"`
	Status          string            `json:"status"`
	Score           float64           `json:"score"`
	MaxScore        float64           `json:"max_score"`
	Answers         models.AnswerMap  `json:"answers"`
	Drawings        map[string]string `json:"drawings"`
}

// ReviewQueueResponse wraps the queue with an explicit empty state.
type ReviewQueueResponse struct {
	InstructorID string            `json:"instructor_id"`
	Items        []ReviewQueueItem `json:"items"`
	Total        int               `json:"total"`
	StatusCounts map[string]int    `json:"status_counts"`
	Empty        bool              `json:"empty"`
}

// SubmissionDetail is the global copy of a submission with assessment context.
type SubmissionDetail struct {
	StudentResponseView
	AssessmentTitle string `json:"assessment_title"`
}

// StudentDisplayName prefers the stored name, then the email local part,
// then the raw student identifier.
func StudentDisplayName(model models.StudentResponse) string {
	if name := strings.TrimSpace(model.StudentName); name != "" {
		return name
	}
	if email := strings.TrimSpace(model.StudentEmail); email != "" {
		if at := strings.Index(email, "@"); at > 0 {
			return email[:at]
		}
		return email
	}
	return model.StudentID
}
