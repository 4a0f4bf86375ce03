package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/models"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

// AssessmentService manages instructor-authored assessments.
type AssessmentService interface {
	Create(ctx context.Context, payload dto.AssessmentCreateRequest) (dto.AssessmentResponse, error)
	List(ctx context.Context, filter dto.AssessmentFilter) ([]dto.AssessmentResponse, error)
	Get(ctx context.Context, id string) (dto.AssessmentResponse, error)
	Update(ctx context.Context, id string, payload dto.AssessmentUpdateRequest) (dto.AssessmentResponse, error)
	Delete(ctx context.Context, id string) (dto.CascadeDeleteReport, error)
}

type assessmentService struct {
	repo      repository.AssessmentRepository
	cleanup   CleanupService
	validator *validator.Validate
	title     *bluemonday.Policy
	prompt    *bluemonday.Policy
	logger    zerolog.Logger
}

// NewAssessmentService constructs the assessment service. Deletes cascade
// through the cleanup service.
func NewAssessmentService(repo repository.AssessmentRepository, cleanup CleanupService, validate *validator.Validate, logger zerolog.Logger) AssessmentService {
	prompt := bluemonday.UGCPolicy()
	prompt.AllowElements("p", "strong", "em", "code", "pre", "ul", "ol", "li", "br", "sub", "sup")

	return &assessmentService{
		repo:      repo,
		cleanup:   cleanup,
		validator: validate,
		title:     bluemonday.StrictPolicy(),
		prompt:    prompt,
		logger:    logger.With().Str("component", "assessment_service").Logger(),
	}
}

func (s *assessmentService) Create(ctx context.Context, payload dto.AssessmentCreateRequest) (dto.AssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}

	questions, err := s.buildQuestions(payload.Questions)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}

	id := strings.TrimSpace(payload.ID)
	if id == "" {
		id = uuid.NewString()
	}

	assessment := models.Assessment{
		ID:        id,
		DayIndex:  payload.DayIndex,
		Title:     strings.TrimSpace(s.title.Sanitize(payload.Title)),
		Questions: questions,
		CreatedBy: strings.TrimSpace(payload.CreatedBy),
	}
	if assessment.Title == "" {
		return dto.AssessmentResponse{}, fmt.Errorf("%w: title is empty after sanitization", ErrInvalidAssessment)
	}

	assessment.TotalPoints = assessment.SumPoints()
	if payload.TotalPoints != nil {
		assessment.TotalPoints = *payload.TotalPoints
	}

	if err := s.repo.Create(ctx, &assessment); err != nil {
		return dto.AssessmentResponse{}, err
	}

	s.logger.Info().
		Str("assessment_id", assessment.ID).
		Str("created_by", assessment.CreatedBy).
		Int("questions", len(questions)).
		Msg("assessment created")

	return dto.NewAssessmentResponse(assessment), nil
}

func (s *assessmentService) List(ctx context.Context, filter dto.AssessmentFilter) ([]dto.AssessmentResponse, error) {
	items, err := s.repo.List(ctx, repository.AssessmentFilter{
		CreatedBy: filter.CreatedBy,
		Search:    filter.Search,
	})
	if err != nil {
		return nil, err
	}

	return dto.NewAssessmentResponseSlice(items), nil
}

func (s *assessmentService) Get(ctx context.Context, id string) (dto.AssessmentResponse, error) {
	assessment, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}
	return dto.NewAssessmentResponse(assessment), nil
}

func (s *assessmentService) Update(ctx context.Context, id string, payload dto.AssessmentUpdateRequest) (dto.AssessmentResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.AssessmentResponse{}, err
	}

	assessment, err := s.find(ctx, id)
	if err != nil {
		return dto.AssessmentResponse{}, err
	}

	if payload.DayIndex != nil {
		assessment.DayIndex = *payload.DayIndex
	}
	if payload.Title != nil {
		title := strings.TrimSpace(s.title.Sanitize(*payload.Title))
		if title == "" {
			return dto.AssessmentResponse{}, fmt.Errorf("%w: title is empty after sanitization", ErrInvalidAssessment)
		}
		assessment.Title = title
	}
	if payload.Questions != nil {
		questions, err := s.buildQuestions(payload.Questions)
		if err != nil {
			return dto.AssessmentResponse{}, err
		}
		assessment.Questions = questions
		assessment.TotalPoints = assessment.SumPoints()
	}
	if payload.TotalPoints != nil {
		assessment.TotalPoints = *payload.TotalPoints
	}

	if err := s.repo.Update(ctx, &assessment); err != nil {
		return dto.AssessmentResponse{}, err
	}

	return dto.NewAssessmentResponse(assessment), nil
}

func (s *assessmentService) Delete(ctx context.Context, id string) (dto.CascadeDeleteReport, error) {
	return s.cleanup.DeleteAssessment(ctx, id)
}

func (s *assessmentService) find(ctx context.Context, id string) (models.Assessment, error) {
	assessment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Assessment{}, ErrAssessmentNotFound
		}
		return models.Assessment{}, err
	}
	return assessment, nil
}

func (s *assessmentService) buildQuestions(items []dto.QuestionRequest) ([]models.Question, error) {
	questions := make([]models.Question, 0, len(items))
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		question := item.ToQuestion()
		question.ID = strings.TrimSpace(question.ID)
		question.Prompt = strings.TrimSpace(s.prompt.Sanitize(question.Prompt))

		if _, duplicate := seen[question.ID]; duplicate {
			return nil, fmt.Errorf("%w: duplicate question id %s", ErrInvalidAssessment, question.ID)
		}
		seen[question.ID] = struct{}{}

		if err := validateQuestion(question); err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}

	return questions, nil
}

func validateQuestion(question models.Question) error {
	if question.Prompt == "" {
		return fmt.Errorf("%w: question %s has an empty prompt", ErrInvalidAssessment, question.ID)
	}

	switch question.Type {
	case models.QuestionTypeMultipleChoice:
		if len(question.Options) < 2 {
			return fmt.Errorf("%w: question %s needs at least two options", ErrInvalidAssessment, question.ID)
		}
		answer := strings.TrimSpace(question.CorrectAnswer)
		for _, option := range question.Options {
			if strings.EqualFold(strings.TrimSpace(option), answer) {
				return nil
			}
		}
		return fmt.Errorf("%w: question %s correct answer is not one of its options", ErrInvalidAssessment, question.ID)
	case models.QuestionTypeCalculation:
		if len(question.Options) > 0 {
			return fmt.Errorf("%w: question %s only multiple-choice questions take options", ErrInvalidAssessment, question.ID)
		}
		if strings.TrimSpace(question.CorrectAnswer) == "" {
			return fmt.Errorf("%w: question %s needs a correct answer", ErrInvalidAssessment, question.ID)
		}
	case models.QuestionTypeWritten:
		if len(question.Options) > 0 {
			return fmt.Errorf("%w: question %s only multiple-choice questions take options", ErrInvalidAssessment, question.ID)
		}
	}

	return nil
}
