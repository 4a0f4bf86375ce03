package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-ledger-api/internal/models"
)

// AssessmentFilter narrows assessment listings.
type AssessmentFilter struct {
	CreatedBy string
	Search    string
}

// AssessmentRepository defines persistence operations for assessments.
type AssessmentRepository interface {
	List(ctx context.Context, filter AssessmentFilter) ([]models.Assessment, error)
	ListIDs(ctx context.Context, filter AssessmentFilter) ([]string, error)
	GetByID(ctx context.Context, id string) (models.Assessment, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Assessment, error)
	Create(ctx context.Context, assessment *models.Assessment) error
	Update(ctx context.Context, assessment *models.Assessment) error
	Delete(ctx context.Context, id string) error
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository instantiates a GORM-backed repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) filtered(ctx context.Context, filter AssessmentFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Assessment{})

	if createdBy := strings.TrimSpace(filter.CreatedBy); createdBy != "" {
		query = query.Where("created_by = ?", createdBy)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	return query
}

func (r *assessmentRepository) List(ctx context.Context, filter AssessmentFilter) ([]models.Assessment, error) {
	var assessments []models.Assessment
	if err := r.filtered(ctx, filter).Order("day_index ASC").Order("created_at ASC").Find(&assessments).Error; err != nil {
		return nil, storeError("list assessments", err)
	}

	return assessments, nil
}

func (r *assessmentRepository) ListIDs(ctx context.Context, filter AssessmentFilter) ([]string, error) {
	var ids []string
	if err := r.filtered(ctx, filter).Pluck("id", &ids).Error; err != nil {
		return nil, storeError("list assessment ids", err)
	}

	return ids, nil
}

func (r *assessmentRepository) GetByID(ctx context.Context, id string) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&assessment).Error; err != nil {
		return models.Assessment{}, storeError("get assessment", err)
	}

	return assessment, nil
}

func (r *assessmentRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Assessment, error) {
	if len(ids) == 0 {
		return []models.Assessment{}, nil
	}

	var assessments []models.Assessment
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&assessments).Error; err != nil {
		return nil, storeError("get assessments", err)
	}

	return assessments, nil
}

func (r *assessmentRepository) Create(ctx context.Context, assessment *models.Assessment) error {
	return storeError("create assessment", r.db.WithContext(ctx).Create(assessment).Error)
}

func (r *assessmentRepository) Update(ctx context.Context, assessment *models.Assessment) error {
	return storeError("update assessment", r.db.WithContext(ctx).Save(assessment).Error)
}

func (r *assessmentRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Assessment{})
	if result.Error != nil {
		return storeError("delete assessment", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
