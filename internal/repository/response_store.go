package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// ResponseCopy names one of the two physical copies of a response.
type ResponseCopy string

// Copies of a StudentResponse.
const (
	CopyScoped ResponseCopy = "scoped"
	CopyGlobal ResponseCopy = "global"
)

// Table returns the table backing the copy.
func (c ResponseCopy) Table() string {
	if c == CopyGlobal {
		return models.GlobalResponsesTable
	}
	return models.ScopedResponsesTable
}

// ResponseStore persists the scoped and global copies of student responses.
// Lookups return a nil response on miss; a miss is not an error.
type ResponseStore interface {
	Submit(ctx context.Context, response *models.StudentResponse) error
	Save(ctx context.Context, target ResponseCopy, response *models.StudentResponse) error
	GetGlobal(ctx context.Context, id string) (*models.StudentResponse, error)
	GetScoped(ctx context.Context, studentID, id string) (*models.StudentResponse, error)
	ListGlobal(ctx context.Context) ([]models.StudentResponse, error)
	ListGlobalByAssessment(ctx context.Context, assessmentID string) ([]models.StudentResponse, error)
	ListGlobalByAssessments(ctx context.Context, assessmentIDs []string) ([]models.StudentResponse, error)
	ListScoped(ctx context.Context) ([]models.StudentResponse, error)
	ListScopedByStudent(ctx context.Context, studentID string) ([]models.StudentResponse, error)
	ListScopedByAssessment(ctx context.Context, assessmentID string) ([]models.StudentResponse, error)
	UpdateReview(ctx context.Context, target ResponseCopy, response *models.StudentResponse) (bool, error)
	UpdateAnswers(ctx context.Context, target ResponseCopy, response *models.StudentResponse) (bool, error)
	DeleteGlobal(ctx context.Context, studentID, id string) (int64, error)
	DeleteScoped(ctx context.Context, studentID, id string) (int64, error)
	DeleteScopedByAssessment(ctx context.Context, studentID, assessmentID string) (int64, error)
}

type responseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewResponseStore builds the dual-table response store.
func NewResponseStore(db *gorm.DB) ResponseStore {
	return &responseStore{db: db, now: time.Now}
}

const (
	assessmentMatch     = "(assessment_id = ? OR ((assessment_id IS NULL OR assessment_id = '') AND day_id = ?))"
	assessmentSetMatch  = "(assessment_id IN ? OR ((assessment_id IS NULL OR assessment_id = '') AND day_id IN ?))"
	responseOrderClause = "completed_at DESC"
)

// submissionColumns are rewritten when a submission is retried. Review state
// and manual grades live in the remaining columns and survive retries.
var submissionColumns = []string{
	"assessment_id", "day_id", "assessment_owner", "student_email", "student_name",
	"answers", "drawings", "score", "max_score", "time_spent_seconds", "completed_at", "updated_at",
}

// copyColumns are rewritten when a repair restores one copy from the other.
var copyColumns = append(append([]string{}, submissionColumns...),
	"status", "reviewed_by", "review_started_at", "review_completed_at",
	"feedback_sent_at", "feedback", "total_score_override",
)

func (s *responseStore) table(ctx context.Context, target ResponseCopy) *gorm.DB {
	return s.db.WithContext(ctx).Table(target.Table())
}

// Submit writes the scoped copy then the global copy. Retrying after a partial
// failure converges without touching review state. A response id already held
// by another student is rejected before either copy is written.
func (s *responseStore) Submit(ctx context.Context, response *models.StudentResponse) error {
	if strings.TrimSpace(response.ID) == "" || strings.TrimSpace(response.StudentID) == "" {
		return fmt.Errorf("response id and student id are required")
	}
	if response.Status == "" {
		response.Status = models.ResponseStatusPending
	}

	existing, err := s.GetGlobal(ctx, response.ID)
	if err != nil {
		return err
	}
	if existing != nil && existing.StudentID != response.StudentID {
		return fmt.Errorf("%w: response %s", ErrResponseOwnership, response.ID)
	}

	if err := s.upsert(ctx, CopyScoped, response, submissionColumns); err != nil {
		return err
	}

	if err := s.upsert(ctx, CopyGlobal, response, submissionColumns); err != nil {
		if errors.Is(err, ErrResponseOwnership) {
			return err
		}
		return fmt.Errorf("%w: global copy of response %s: %w", ErrPartialWrite, response.ID, err)
	}

	return nil
}

// Save writes every column of one copy, inserting it when missing.
func (s *responseStore) Save(ctx context.Context, target ResponseCopy, response *models.StudentResponse) error {
	return s.upsert(ctx, target, response, copyColumns)
}

// upsert inserts the copy or rewrites the given columns of an existing one.
// The global copy is keyed by response id alone, so a conflicting row owned by
// another student is left untouched and reported as ErrResponseOwnership.
func (s *responseStore) upsert(ctx context.Context, target ResponseCopy, response *models.StudentResponse, columns []string) error {
	now := s.now().UTC()
	if response.CreatedAt.IsZero() {
		response.CreatedAt = now
	}
	response.UpdatedAt = now

	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "student_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}
	if target == CopyGlobal {
		conflict.Columns = []clause.Column{{Name: "id"}}
		conflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: models.GlobalResponsesTable + ".student_id = excluded.student_id"},
		}}
	}

	result := s.table(ctx, target).Clauses(conflict).Create(response)
	if result.Error != nil {
		return storeError("save "+string(target)+" response", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: response %s", ErrResponseOwnership, response.ID)
	}
	return nil
}

func (s *responseStore) GetGlobal(ctx context.Context, id string) (*models.StudentResponse, error) {
	return s.first(s.table(ctx, CopyGlobal).Where("id = ?", id), "get global response")
}

func (s *responseStore) GetScoped(ctx context.Context, studentID, id string) (*models.StudentResponse, error) {
	return s.first(s.table(ctx, CopyScoped).Where("student_id = ? AND id = ?", studentID, id), "get scoped response")
}

func (s *responseStore) first(query *gorm.DB, op string) (*models.StudentResponse, error) {
	var rows []models.StudentResponse
	if err := query.Limit(1).Find(&rows).Error; err != nil {
		return nil, storeError(op, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *responseStore) ListGlobal(ctx context.Context) ([]models.StudentResponse, error) {
	return s.list(s.table(ctx, CopyGlobal), "list global responses")
}

func (s *responseStore) ListGlobalByAssessment(ctx context.Context, assessmentID string) ([]models.StudentResponse, error) {
	query := s.table(ctx, CopyGlobal).Where(assessmentMatch, assessmentID, assessmentID)
	return s.list(query, "list global responses by assessment")
}

func (s *responseStore) ListGlobalByAssessments(ctx context.Context, assessmentIDs []string) ([]models.StudentResponse, error) {
	if len(assessmentIDs) == 0 {
		return []models.StudentResponse{}, nil
	}
	query := s.table(ctx, CopyGlobal).Where(assessmentSetMatch, assessmentIDs, assessmentIDs)
	return s.list(query, "list global responses by assessments")
}

func (s *responseStore) ListScoped(ctx context.Context) ([]models.StudentResponse, error) {
	return s.list(s.table(ctx, CopyScoped), "list scoped responses")
}

func (s *responseStore) ListScopedByStudent(ctx context.Context, studentID string) ([]models.StudentResponse, error) {
	return s.list(s.table(ctx, CopyScoped).Where("student_id = ?", studentID), "list scoped responses by student")
}

func (s *responseStore) ListScopedByAssessment(ctx context.Context, assessmentID string) ([]models.StudentResponse, error) {
	query := s.table(ctx, CopyScoped).Where(assessmentMatch, assessmentID, assessmentID)
	return s.list(query, "list scoped responses by assessment")
}

func (s *responseStore) list(query *gorm.DB, op string) ([]models.StudentResponse, error) {
	var rows []models.StudentResponse
	if err := query.Order(responseOrderClause).Find(&rows).Error; err != nil {
		return nil, storeError(op, err)
	}
	return rows, nil
}

// UpdateReview overwrites the review columns of one copy. It reports false
// when the copy does not exist.
func (s *responseStore) UpdateReview(ctx context.Context, target ResponseCopy, response *models.StudentResponse) (bool, error) {
	values := map[string]interface{}{
		"status":               response.Status,
		"reviewed_by":          response.ReviewedBy,
		"review_started_at":    response.ReviewStartedAt,
		"review_completed_at":  response.ReviewCompletedAt,
		"feedback_sent_at":     response.FeedbackSentAt,
		"feedback":             response.Feedback,
		"total_score_override": response.TotalScoreOverride,
		"updated_at":           s.now().UTC(),
	}
	return s.update(ctx, target, response, values, "update "+string(target)+" review")
}

// UpdateAnswers overwrites the answer map and score of one copy. It reports
// false when the copy does not exist.
func (s *responseStore) UpdateAnswers(ctx context.Context, target ResponseCopy, response *models.StudentResponse) (bool, error) {
	values := map[string]interface{}{
		"answers":    response.Answers,
		"score":      response.Score,
		"updated_at": s.now().UTC(),
	}
	return s.update(ctx, target, response, values, "update "+string(target)+" answers")
}

func (s *responseStore) update(ctx context.Context, target ResponseCopy, response *models.StudentResponse, values map[string]interface{}, op string) (bool, error) {
	result := s.table(ctx, target).
		Where("student_id = ? AND id = ?", response.StudentID, response.ID).
		Updates(values)
	if result.Error != nil {
		return false, storeError(op, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *responseStore) DeleteGlobal(ctx context.Context, studentID, id string) (int64, error) {
	result := s.table(ctx, CopyGlobal).Where("student_id = ? AND id = ?", studentID, id).Delete(&models.StudentResponse{})
	return result.RowsAffected, storeError("delete global response", result.Error)
}

func (s *responseStore) DeleteScoped(ctx context.Context, studentID, id string) (int64, error) {
	result := s.table(ctx, CopyScoped).Where("student_id = ? AND id = ?", studentID, id).Delete(&models.StudentResponse{})
	return result.RowsAffected, storeError("delete scoped response", result.Error)
}

func (s *responseStore) DeleteScopedByAssessment(ctx context.Context, studentID, assessmentID string) (int64, error) {
	result := s.table(ctx, CopyScoped).
		Where("student_id = ?", studentID).
		Where(assessmentMatch, assessmentID, assessmentID).
		Delete(&models.StudentResponse{})
	return result.RowsAffected, storeError("delete scoped responses by assessment", result.Error)
}
