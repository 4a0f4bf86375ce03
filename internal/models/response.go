package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Physical tables holding the two copies of a StudentResponse.
const (
	ScopedResponsesTable = "student_responses"
	GlobalResponsesTable = "global_responses"
)

// Review states of a submission.
const (
	ResponseStatusPending   = "pending"
	ResponseStatusInReview  = "in_review"
	ResponseStatusCompleted = "completed"
)

// StudentAnswer is the stored answer to one question. Topic fields are copied
// from the question at submission time.
type StudentAnswer struct {
	QuestionID     string     `json:"question_id"`
	QuestionType   string     `json:"question_type,omitempty"`
	Value          string     `json:"value"`
	IsCorrect      bool       `json:"is_correct"`
	PointsEarned   float64    `json:"points_earned"`
	Feedback       string     `json:"feedback,omitempty"`
	ManuallyGraded bool       `json:"manually_graded,omitempty"`
	GradedBy       string     `json:"graded_by,omitempty"`
	GradedAt       *time.Time `json:"graded_at,omitempty"`
	TopicPath      string     `json:"topic_path,omitempty"`
	Strand         string     `json:"strand,omitempty"`
	Chapter        string     `json:"chapter,omitempty"`
	Subtopic       string     `json:"subtopic,omitempty"`
}

// Topic returns the answer's topic path, or an empty string when untagged.
func (a StudentAnswer) Topic() string {
	if path := strings.Trim(strings.TrimSpace(a.TopicPath), "/"); path != "" {
		return path
	}
	return BuildTopicPath(a.Strand, a.Chapter, a.Subtopic)
}

// AnswerMap holds answers keyed by question identifier.
type AnswerMap map[string]StudentAnswer

// TotalPoints sums the points earned across all answers.
func (m AnswerMap) TotalPoints() float64 {
	var total float64
	for _, answer := range m {
		total += answer.PointsEarned
	}
	return total
}

// Clone returns a shallow copy safe to mutate per key.
func (m AnswerMap) Clone() AnswerMap {
	cloned := make(AnswerMap, len(m))
	for key, answer := range m {
		cloned[key] = answer
	}
	return cloned
}

// StudentResponse is one submission. The same shape is stored twice: once in
// the per-student table and once in the global table.
type StudentResponse struct {
	ID                 string                                `gorm:"primaryKey;size:64" json:"id"`
	StudentID          string                                `gorm:"primaryKey;size:128" json:"student_id"`
	AssessmentID       string                                `gorm:"size:64" json:"assessment_id"`
	LegacyDayID        string                                `gorm:"column:day_id;size:64" json:"-"`
	AssessmentOwner    string                                `gorm:"size:128" json:"assessment_owner,omitempty"`
	StudentEmail       string                                `gorm:"size:255" json:"student_email"`
	StudentName        string                                `gorm:"size:255" json:"student_name"`
	Answers            datatypes.JSONType[AnswerMap]         `gorm:"type:json" json:"answers"`
	Drawings           datatypes.JSONType[map[string]string] `gorm:"type:json" json:"drawings"`
	Score              float64                               `gorm:"not null" json:"score"`
	MaxScore           float64                               `gorm:"not null" json:"max_score"`
	TimeSpentSeconds   int                                   `gorm:"not null" json:"time_spent_seconds"`
	CompletedAt        time.Time                             `json:"completed_at"`
	Status             string                                `gorm:"size:32;not null" json:"status"`
	ReviewedBy         string                                `gorm:"size:128" json:"reviewed_by,omitempty"`
	ReviewStartedAt    *time.Time                            `json:"review_started_at,omitempty"`
	ReviewCompletedAt  *time.Time                            `json:"review_completed_at,omitempty"`
	FeedbackSentAt     *time.Time                            `json:"feedback_sent_at,omitempty"`
	Feedback           string                                `gorm:"type:text" json:"feedback,omitempty"`
	TotalScoreOverride *float64                              `json:"total_score_override,omitempty"`
	CreatedAt          time.Time                             `json:"created_at"`
	UpdatedAt          time.Time                             `json:"updated_at"`
}

// AfterFind folds the legacy day identifier into AssessmentID so callers only
// ever deal with the canonical field.
func (r *StudentResponse) AfterFind(_ *gorm.DB) error {
	r.NormalizeAssessmentID()
	return nil
}

// NormalizeAssessmentID copies the legacy day identifier into AssessmentID
// when the latter is empty.
func (r *StudentResponse) NormalizeAssessmentID() {
	if strings.TrimSpace(r.AssessmentID) == "" && strings.TrimSpace(r.LegacyDayID) != "" {
		r.AssessmentID = strings.TrimSpace(r.LegacyDayID)
	}
}

// DecodedAnswers returns the stored answers, never nil.
func (r StudentResponse) DecodedAnswers() AnswerMap {
	answers := r.Answers.Data()
	if answers == nil {
		return AnswerMap{}
	}
	return answers
}

// SetAnswers replaces the stored answers.
func (r *StudentResponse) SetAnswers(answers AnswerMap) {
	if answers == nil {
		answers = AnswerMap{}
	}
	r.Answers = datatypes.NewJSONType(answers)
}

// DecodedDrawings returns the stored drawing payloads, never nil.
func (r StudentResponse) DecodedDrawings() map[string]string {
	drawings := r.Drawings.Data()
	if drawings == nil {
		return map[string]string{}
	}
	return drawings
}

// SetDrawings replaces the stored drawing payloads.
func (r *StudentResponse) SetDrawings(drawings map[string]string) {
	if drawings == nil {
		drawings = map[string]string{}
	}
	r.Drawings = datatypes.NewJSONType(drawings)
}

// FinalScore returns the instructor override when present, else the computed score.
func (r StudentResponse) FinalScore() float64 {
	if r.TotalScoreOverride != nil {
		return *r.TotalScoreOverride
	}
	return r.Score
}

// CopyReviewState copies the review columns from src.
func (r *StudentResponse) CopyReviewState(src StudentResponse) {
	r.Status = src.Status
	r.ReviewedBy = src.ReviewedBy
	r.ReviewStartedAt = src.ReviewStartedAt
	r.ReviewCompletedAt = src.ReviewCompletedAt
	r.FeedbackSentAt = src.FeedbackSentAt
	r.Feedback = src.Feedback
	r.TotalScoreOverride = src.TotalScoreOverride
}

// IsValidResponseStatus reports whether status is a known review state.
func IsValidResponseStatus(status string) bool {
	switch status {
	case ResponseStatusPending, ResponseStatusInReview, ResponseStatusCompleted:
		return true
	default:
		return false
	}
}
