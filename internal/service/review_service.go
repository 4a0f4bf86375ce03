package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/models"
	"github.com/noah-isme/gema-ledger-api/internal/observability"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

// ReviewService drives the per-submission review state machine.
type ReviewService interface {
	UpdateStatus(ctx context.Context, responseID string, payload dto.StatusUpdateRequest) (dto.StatusUpdateResult, error)
	Reopen(ctx context.Context, responseID string, payload dto.ReopenRequest) (dto.StatusUpdateResult, error)
	GetReviewQueue(ctx context.Context, filter dto.ReviewQueueFilter) (dto.ReviewQueueResponse, error)
	GetSubmission(ctx context.Context, responseID string) (dto.SubmissionDetail, error)
}

type reviewService struct {
	store       repository.ResponseStore
	assessments repository.AssessmentRepository
	outbox      MirrorQueue
	events      EventPublisher
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewReviewService constructs the review workflow service.
func NewReviewService(store repository.ResponseStore, assessments repository.AssessmentRepository, outbox MirrorQueue, events EventPublisher, validate *validator.Validate, logger zerolog.Logger) ReviewService {
	return &reviewService{
		store:       store,
		assessments: assessments,
		outbox:      mirrorQueueOrNoop(outbox),
		events:      publisherOrNoop(events),
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "review_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-ledger-api/internal/service/review"),
		now:         time.Now,
	}
}

func statusRank(status string) int {
	switch status {
	case models.ResponseStatusInReview:
		return 1
	case models.ResponseStatusCompleted:
		return 2
	default:
		return 0
	}
}

func currentStatus(response *models.StudentResponse) string {
	if models.IsValidResponseStatus(response.Status) {
		return response.Status
	}
	return models.ResponseStatusPending
}

func (s *reviewService) UpdateStatus(ctx context.Context, responseID string, payload dto.StatusUpdateRequest) (dto.StatusUpdateResult, error) {
	ctx, span := s.tracer.Start(ctx, "review.update_status")
	span.SetAttributes(
		attribute.String("review.response_id", responseID),
		attribute.String("review.target_status", payload.Status),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.StatusUpdateResult{}, err
	}

	reviewer := strings.TrimSpace(payload.ReviewerID)
	if payload.Status == models.ResponseStatusInReview && reviewer == "" {
		err := fmt.Errorf("%w: reviewer id is required to start a review", ErrInvalidStatusTransition)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reviewer_missing")
		return dto.StatusUpdateResult{}, err
	}

	global, err := s.loadGlobal(ctx, span, responseID)
	if err != nil {
		return dto.StatusUpdateResult{}, err
	}

	previous := currentStatus(global)
	if statusRank(payload.Status) < statusRank(previous) {
		err := fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, previous, payload.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, "backward_transition")
		return dto.StatusUpdateResult{}, err
	}

	now := s.now().UTC()
	global.Status = payload.Status
	if reviewer != "" {
		global.ReviewedBy = reviewer
	}

	switch payload.Status {
	case models.ResponseStatusInReview:
		if previous != models.ResponseStatusInReview || global.ReviewStartedAt == nil {
			global.ReviewStartedAt = &now
		}
	case models.ResponseStatusCompleted:
		if global.ReviewStartedAt == nil {
			global.ReviewStartedAt = &now
		}
		global.ReviewCompletedAt = &now
		global.FeedbackSentAt = &now
		if payload.Feedback != nil {
			global.Feedback = strings.TrimSpace(s.sanitizer.Sanitize(*payload.Feedback))
		}
		if payload.TotalScore != nil {
			override := *payload.TotalScore
			global.TotalScoreOverride = &override
		}
	}

	return s.persistTransition(ctx, span, global, previous)
}

func (s *reviewService) Reopen(ctx context.Context, responseID string, payload dto.ReopenRequest) (dto.StatusUpdateResult, error) {
	ctx, span := s.tracer.Start(ctx, "review.reopen")
	span.SetAttributes(attribute.String("review.response_id", responseID))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.StatusUpdateResult{}, err
	}

	global, err := s.loadGlobal(ctx, span, responseID)
	if err != nil {
		return dto.StatusUpdateResult{}, err
	}

	previous := currentStatus(global)
	if previous != models.ResponseStatusCompleted {
		err := fmt.Errorf("%w: only completed reviews can be reopened, current status %s", ErrInvalidStatusTransition, previous)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reopen_not_completed")
		return dto.StatusUpdateResult{}, err
	}

	now := s.now().UTC()
	global.Status = models.ResponseStatusInReview
	global.ReviewedBy = strings.TrimSpace(payload.ReviewerID)
	global.ReviewStartedAt = &now
	global.ReviewCompletedAt = nil
	global.FeedbackSentAt = nil

	return s.persistTransition(ctx, span, global, previous)
}

func (s *reviewService) loadGlobal(ctx context.Context, span trace.Span, responseID string) (*models.StudentResponse, error) {
	global, err := s.store.GetGlobal(ctx, responseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "global_lookup_failed")
		return nil, err
	}
	if global == nil {
		span.SetStatus(codes.Error, "response_not_found")
		return nil, ErrResponseNotFound
	}
	return global, nil
}

// persistTransition writes the global copy first and then mirrors the review
// columns onto the scoped copy. Only the global write can fail the call.
func (s *reviewService) persistTransition(ctx context.Context, span trace.Span, global *models.StudentResponse, previous string) (dto.StatusUpdateResult, error) {
	updated, err := s.store.UpdateReview(ctx, repository.CopyGlobal, global)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "global_update_failed")
		return dto.StatusUpdateResult{}, err
	}
	if !updated {
		span.SetStatus(codes.Error, "response_not_found")
		return dto.StatusUpdateResult{}, ErrResponseNotFound
	}

	result := dto.StatusUpdateResult{
		ResponseID:     global.ID,
		Status:         global.Status,
		PreviousStatus: previous,
		Warnings:       []string{},
		UpdatedAt:      s.now().UTC(),
	}

	mirrorWarning := ""
	scoped, mirrorErr := s.store.GetScoped(ctx, global.StudentID, global.ID)
	switch {
	case mirrorErr != nil:
		mirrorWarning = "student copy could not be loaded"
	case scoped == nil:
		mirrorWarning = "student copy missing"
	default:
		scoped.CopyReviewState(*global)
		var ok bool
		ok, mirrorErr = s.store.UpdateReview(ctx, repository.CopyScoped, scoped)
		switch {
		case mirrorErr != nil:
			mirrorWarning = "student copy update failed"
		case !ok:
			mirrorWarning = "student copy missing"
		default:
			result.MirroredToScoped = true
		}
	}

	if mirrorWarning != "" {
		if mirrorErr != nil {
			span.RecordError(mirrorErr)
		}
		observability.PartialFailures().WithLabelValues("review_mirror").Inc()
		s.logger.Warn().Err(mirrorErr).
			Str("response_id", global.ID).
			Str("student_id", global.StudentID).
			Msg(mirrorWarning)
		result.Warnings = append(result.Warnings, mirrorWarning)
		if enqueueErr := s.outbox.Enqueue(ctx, MirrorTask{Kind: MirrorKindReview, ResponseID: global.ID, StudentID: global.StudentID}); enqueueErr != nil {
			s.logger.Error().Err(enqueueErr).Str("response_id", global.ID).Msg("failed to enqueue review mirror")
		}
	}

	observability.ReviewTransitions().WithLabelValues(global.Status).Inc()
	span.SetAttributes(
		attribute.String("review.previous_status", previous),
		attribute.Bool("review.mirrored", result.MirroredToScoped),
	)

	s.events.Publish(ctx, dto.ReviewEvent{
		Type:         dto.EventResponseStatusChanged,
		ResponseID:   global.ID,
		AssessmentID: global.AssessmentID,
		StudentID:    global.StudentID,
		Status:       global.Status,
		Data: map[string]interface{}{
			"previous_status": previous,
			"reviewed_by":     global.ReviewedBy,
		},
	})

	return result, nil
}

func (s *reviewService) GetReviewQueue(ctx context.Context, filter dto.ReviewQueueFilter) (dto.ReviewQueueResponse, error) {
	ctx, span := s.tracer.Start(ctx, "review.queue")
	defer span.End()

	if err := s.validator.Struct(filter); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.ReviewQueueResponse{}, err
	}

	instructorID := strings.TrimSpace(filter.InstructorID)
	if instructorID == "" {
		span.SetStatus(codes.Error, "instructor_missing")
		return dto.ReviewQueueResponse{}, fmt.Errorf("%w: instructor id", ErrMissingIdentity)
	}
	span.SetAttributes(attribute.String("review.instructor_id", instructorID))

	queue := dto.ReviewQueueResponse{
		InstructorID: instructorID,
		Items:        []dto.ReviewQueueItem{},
		StatusCounts: map[string]int{
			models.ResponseStatusPending:   0,
			models.ResponseStatusInReview:  0,
			models.ResponseStatusCompleted: 0,
		},
	}

	assessments, err := s.assessments.List(ctx, repository.AssessmentFilter{CreatedBy: instructorID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_list_failed")
		return dto.ReviewQueueResponse{}, err
	}

	titles := make(map[string]string, len(assessments))
	ids := make([]string, 0, len(assessments))
	for _, assessment := range assessments {
		titles[assessment.ID] = assessment.Title
		ids = append(ids, assessment.ID)
	}

	responses, err := s.store.ListGlobalByAssessments(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "response_list_failed")
		return dto.ReviewQueueResponse{}, err
	}

	for _, response := range responses {
		status := currentStatus(&response)
		queue.StatusCounts[status]++
		if filter.Status != "" && status != filter.Status {
			continue
		}

		queue.Items = append(queue.Items, dto.ReviewQueueItem{
			ResponseID:      response.ID,
			AssessmentID:    response.AssessmentID,
			AssessmentTitle: titles[response.AssessmentID],
			StudentID:       response.StudentID,
			StudentName:     dto.StudentDisplayName(response),
			SubmittedAt:     response.CompletedAt,
			Status:          status,
			Score:           response.FinalScore(),
			MaxScore:        response.MaxScore,
			Answers:         response.DecodedAnswers(),
			Drawings:        response.DecodedDrawings(),
		})
	}

	queue.Total = len(queue.Items)
	queue.Empty = queue.Total == 0
	span.SetAttributes(attribute.Int("review.queue_size", queue.Total))

	return queue, nil
}

func (s *reviewService) GetSubmission(ctx context.Context, responseID string) (dto.SubmissionDetail, error) {
	ctx, span := s.tracer.Start(ctx, "review.get_submission")
	span.SetAttributes(attribute.String("review.response_id", responseID))
	defer span.End()

	global, err := s.loadGlobal(ctx, span, responseID)
	if err != nil {
		return dto.SubmissionDetail{}, err
	}

	detail := dto.SubmissionDetail{StudentResponseView: dto.NewStudentResponseView(*global)}

	assessment, err := s.assessments.GetByID(ctx, global.AssessmentID)
	switch {
	case err == nil:
		detail.AssessmentTitle = assessment.Title
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.logger.Warn().Str("response_id", global.ID).Str("assessment_id", global.AssessmentID).Msg("submission references a missing assessment")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_lookup_failed")
		return dto.SubmissionDetail{}, err
	}

	return detail, nil
}
