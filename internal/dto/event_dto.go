package dto

import "time"

// Review event types.
const (
	EventResponseSubmitted     = "response.submitted"
	EventResponseStatusChanged = "response.status_changed"
	EventResponseGraded        = "response.graded"
	EventAssessmentDeleted     = "assessment.deleted"
	EventOrphansSwept          = "maintenance.orphans_swept"
)

// ReviewEvent is streamed to instructor dashboards.
type ReviewEvent struct {
	Type         string                 `json:"type"`
	ResponseID   string                 `json:"response_id,omitempty"`
	AssessmentID string                 `json:"assessment_id,omitempty"`
	StudentID    string                 `json:"student_id,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}
