package dto

// CascadeDeleteReport summarizes deleteAssessment.
type CascadeDeleteReport struct {
	AssessmentID           string   `json:"assessment_id"`
	DeletedGlobalResponses int      `json:"deleted_global_responses"`
	DeletedUserResponses   int      `json:"deleted_user_responses"`
	AffectedStudents       int      `json:"affected_students"`
	Errors                 []string `json:"errors"`
	Partial                bool     `json:"partial"`
}

// OrphanCleanupReport summarizes cleanupOrphans.
type OrphanCleanupReport struct {
	ValidAssessments       int      `json:"valid_assessments"`
	DeletedGlobalResponses int      `json:"deleted_global_responses"`
	DeletedUserResponses   int      `json:"deleted_user_responses"`
	AffectedStudents       int      `json:"affected_students"`
	Errors                 []string `json:"errors"`
}

// InstructorCleanupReport summarizes cleanupForInstructor.
type InstructorCleanupReport struct {
	InstructorID     string   `json:"instructor_id"`
	GlobalResponses  int      `json:"global_responses"`
	UserResponses    int      `json:"user_responses"`
	ValidAssessments int      `json:"valid_assessments"`
	AffectedStudents int      `json:"affected_students"`
	Errors           []string `json:"errors"`
}

// ReconcileReport summarizes a copy reconciliation pass.
type ReconcileReport struct {
	GlobalScanned  int      `json:"global_scanned"`
	ScopedScanned  int      `json:"scoped_scanned"`
	RestoredScoped int      `json:"restored_scoped"`
	RestoredGlobal int      `json:"restored_global"`
	Errors         []string `json:"errors"`
}

// OutboxDrainReport summarizes one mirror outbox drain.
type OutboxDrainReport struct {
	Processed int `json:"processed"`
	Applied   int `json:"applied"`
	Skipped   int `json:"skipped"`
	Requeued  int `json:"requeued"`
	Pending   int `json:"pending"`
}
