package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
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

const calculationTolerance = 1e-6

// ResponseService records submissions and instructor grade overrides.
type ResponseService interface {
	Submit(ctx context.Context, payload dto.ResponseSubmitRequest) (dto.ResponseSubmitResult, error)
	ApplyManualGrade(ctx context.Context, responseID string, payload dto.ManualGradeRequest) (dto.ManualGradeResult, error)
	ListStudentHistory(ctx context.Context, studentID string) ([]dto.StudentResponseView, error)
}

type responseService struct {
	store       repository.ResponseStore
	assessments repository.AssessmentRepository
	drawings    DrawingStore
	outbox      MirrorQueue
	events      EventPublisher
	snapshots   SnapshotInvalidator
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// ResponseServiceDeps groups the optional collaborators of the response service.
type ResponseServiceDeps struct {
	Drawings  DrawingStore
	Outbox    MirrorQueue
	Events    EventPublisher
	Snapshots SnapshotInvalidator
}

// NewResponseService constructs the response service.
func NewResponseService(store repository.ResponseStore, assessments repository.AssessmentRepository, deps ResponseServiceDeps, validate *validator.Validate, logger zerolog.Logger) ResponseService {
	drawings := deps.Drawings
	if drawings == nil {
		drawings = NewDrawingStore(nil, logger)
	}

	return &responseService{
		store:       store,
		assessments: assessments,
		drawings:    drawings,
		outbox:      mirrorQueueOrNoop(deps.Outbox),
		events:      publisherOrNoop(deps.Events),
		snapshots:   invalidatorOrNoop(deps.Snapshots),
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "response_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-ledger-api/internal/service/response"),
		now:         time.Now,
	}
}

func (s *responseService) Submit(ctx context.Context, payload dto.ResponseSubmitRequest) (dto.ResponseSubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "responses.submit")
	span.SetAttributes(
		attribute.String("response.assessment_id", payload.AssessmentID),
		attribute.String("response.student_id", payload.StudentID),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.ResponseSubmitResult{}, err
	}

	assessment, err := s.assessments.GetByID(ctx, payload.AssessmentID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "assessment_not_found")
			return dto.ResponseSubmitResult{}, ErrAssessmentNotFound
		}
		span.SetStatus(codes.Error, "assessment_lookup_failed")
		return dto.ResponseSubmitResult{}, err
	}

	answers, err := gradeSubmission(assessment, payload.Answers)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_answers")
		return dto.ResponseSubmitResult{}, err
	}

	responseID := strings.TrimSpace(payload.ID)
	if responseID == "" {
		responseID = uuid.NewString()
	} else if err := s.checkResubmission(ctx, responseID, strings.TrimSpace(payload.StudentID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resubmission_rejected")
		return dto.ResponseSubmitResult{}, err
	}

	drawings, err := s.drawings.Store(ctx, responseID, payload.Drawings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_drawings")
		return dto.ResponseSubmitResult{}, err
	}

	completedAt := s.now().UTC()
	if payload.CompletedAt != nil && !payload.CompletedAt.IsZero() {
		completedAt = payload.CompletedAt.UTC()
	}

	maxScore := assessment.TotalPoints
	if maxScore <= 0 {
		maxScore = assessment.SumPoints()
	}

	response := &models.StudentResponse{
		ID:               responseID,
		StudentID:        strings.TrimSpace(payload.StudentID),
		AssessmentID:     assessment.ID,
		StudentEmail:     strings.TrimSpace(payload.StudentEmail),
		StudentName:      strings.TrimSpace(s.sanitizer.Sanitize(payload.StudentName)),
		Score:            answers.TotalPoints(),
		MaxScore:         maxScore,
		AssessmentOwner:  assessment.CreatedBy,
		TimeSpentSeconds: payload.TimeSpentSeconds,
		CompletedAt:      completedAt,
		Status:           models.ResponseStatusPending,
	}
	response.SetAnswers(answers)
	response.SetDrawings(drawings)

	result := dto.ResponseSubmitResult{
		ID:       response.ID,
		Status:   response.Status,
		Score:    response.Score,
		MaxScore: response.MaxScore,
	}

	if err := s.store.Submit(ctx, response); err != nil {
		span.RecordError(err)
		if errors.Is(err, repository.ErrResponseOwnership) {
			span.SetStatus(codes.Error, "response_id_taken")
			return dto.ResponseSubmitResult{}, fmt.Errorf("%w: %s", ErrResponseIDTaken, response.ID)
		}
		if errors.Is(err, repository.ErrPartialWrite) {
			observability.PartialFailures().WithLabelValues("submit").Inc()
			span.SetStatus(codes.Error, "partial_write")
			s.logger.Warn().Err(err).Str("response_id", response.ID).Msg("submission reached only the scoped copy")
			if enqueueErr := s.outbox.Enqueue(ctx, MirrorTask{Kind: MirrorKindAnswers, ResponseID: response.ID, StudentID: response.StudentID}); enqueueErr != nil {
				s.logger.Error().Err(enqueueErr).Str("response_id", response.ID).Msg("failed to enqueue submission repair")
			}
			return result, err
		}
		span.SetStatus(codes.Error, "store_failed")
		return dto.ResponseSubmitResult{}, err
	}

	s.snapshots.Invalidate(ctx, response.StudentID)
	s.events.Publish(ctx, dto.ReviewEvent{
		Type:         dto.EventResponseSubmitted,
		ResponseID:   response.ID,
		AssessmentID: response.AssessmentID,
		StudentID:    response.StudentID,
		Status:       response.Status,
	})

	span.SetAttributes(
		attribute.String("response.id", response.ID),
		attribute.Float64("response.score", response.Score),
	)

	return result, nil
}

// checkResubmission allows a client-chosen id to be retried only by the same
// student and only while neither copy has been reviewed or manually graded.
func (s *responseService) checkResubmission(ctx context.Context, responseID, studentID string) error {
	global, err := s.store.GetGlobal(ctx, responseID)
	if err != nil {
		return err
	}
	if global != nil && global.StudentID != studentID {
		return fmt.Errorf("%w: %s", ErrResponseIDTaken, responseID)
	}

	scoped, err := s.store.GetScoped(ctx, studentID, responseID)
	if err != nil {
		return err
	}

	for _, existing := range []*models.StudentResponse{global, scoped} {
		if existing != nil && reviewStarted(*existing) {
			return fmt.Errorf("%w: %s is %s", ErrResponseLocked, responseID, existing.Status)
		}
	}
	return nil
}

func reviewStarted(response models.StudentResponse) bool {
	if response.Status != "" && response.Status != models.ResponseStatusPending {
		return true
	}
	for _, answer := range response.DecodedAnswers() {
		if answer.ManuallyGraded {
			return true
		}
	}
	return false
}

func (s *responseService) ApplyManualGrade(ctx context.Context, responseID string, payload dto.ManualGradeRequest) (dto.ManualGradeResult, error) {
	ctx, span := s.tracer.Start(ctx, "responses.manual_grade")
	span.SetAttributes(
		attribute.String("grading.response_id", responseID),
		attribute.String("grading.student_id", payload.StudentID),
		attribute.Int("grading.count", len(payload.Grades)),
	)
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.ManualGradeResult{}, err
	}

	scoped, err := s.store.GetScoped(ctx, payload.StudentID, responseID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoped_lookup_failed")
		return dto.ManualGradeResult{}, err
	}

	source := scoped
	if source == nil {
		global, err := s.store.GetGlobal(ctx, responseID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "global_lookup_failed")
			return dto.ManualGradeResult{}, err
		}
		if global == nil || global.StudentID != payload.StudentID {
			span.SetStatus(codes.Error, "response_not_found")
			return dto.ManualGradeResult{}, ErrResponseNotFound
		}
		source = global
	}

	result := dto.ManualGradeResult{ResponseID: responseID, Warnings: []string{}}
	gradedAt := s.now().UTC()
	answers := source.DecodedAnswers().Clone()

	for _, grade := range payload.Grades {
		answer, ok := answers[grade.QuestionID]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("question %s has no answer on this response", grade.QuestionID))
			continue
		}

		answer.IsCorrect = grade.IsCorrect
		answer.PointsEarned = grade.PointsEarned
		answer.Feedback = strings.TrimSpace(s.sanitizer.Sanitize(grade.Feedback))
		answer.ManuallyGraded = true
		answer.GradedBy = strings.TrimSpace(payload.GraderID)
		stamp := gradedAt
		answer.GradedAt = &stamp
		answers[grade.QuestionID] = answer
		result.GradedQuestions++
	}

	source.SetAnswers(answers)
	source.Score = answers.TotalPoints()
	result.UpdatedScore = source.Score

	if scoped == nil {
		result.Warnings = append(result.Warnings, "student copy missing, restored from global copy")
		if err := s.store.Save(ctx, repository.CopyScoped, source); err != nil {
			s.recordPartial(ctx, span, &result, "manual_grade", err, "student copy could not be restored")
		} else {
			result.ScopedUpdated = true
		}
	} else if ok, err := s.store.UpdateAnswers(ctx, repository.CopyScoped, source); err != nil {
		s.recordPartial(ctx, span, &result, "manual_grade", err, "student copy update failed")
	} else {
		result.ScopedUpdated = ok
	}

	globalUpdated, err := s.store.UpdateAnswers(ctx, repository.CopyGlobal, source)
	switch {
	case err != nil:
		s.recordPartial(ctx, span, &result, "manual_grade", err, "global copy update failed")
	case !globalUpdated:
		s.recordPartial(ctx, span, &result, "manual_grade", nil, "global copy missing")
	default:
		result.GlobalUpdated = true
	}

	if !result.ScopedUpdated && !result.GlobalUpdated {
		span.SetStatus(codes.Error, "grade_not_persisted")
		return dto.ManualGradeResult{}, fmt.Errorf("%w: manual grade for response %s was not persisted", repository.ErrStoreUnavailable, responseID)
	}

	if result.Partial {
		kind := MirrorKindAnswers
		if !result.ScopedUpdated {
			kind = MirrorKindAnswersToScoped
		}
		if err := s.outbox.Enqueue(ctx, MirrorTask{Kind: kind, ResponseID: responseID, StudentID: payload.StudentID}); err != nil {
			s.logger.Error().Err(err).Str("response_id", responseID).Msg("failed to enqueue grade repair")
		}
	}

	s.snapshots.Invalidate(ctx, payload.StudentID)
	s.events.Publish(ctx, dto.ReviewEvent{
		Type:         dto.EventResponseGraded,
		ResponseID:   responseID,
		AssessmentID: source.AssessmentID,
		StudentID:    payload.StudentID,
		Status:       source.Status,
		Data: map[string]interface{}{
			"updated_score": result.UpdatedScore,
			"partial":       result.Partial,
		},
	})

	span.SetAttributes(
		attribute.Float64("grading.updated_score", result.UpdatedScore),
		attribute.Bool("grading.partial", result.Partial),
	)

	return result, nil
}

func (s *responseService) recordPartial(_ context.Context, span trace.Span, result *dto.ManualGradeResult, operation string, err error, warning string) {
	result.Partial = true
	result.Warnings = append(result.Warnings, warning)
	observability.PartialFailures().WithLabelValues(operation).Inc()

	event := s.logger.Warn().Str("response_id", result.ResponseID)
	if err != nil {
		span.RecordError(err)
		event = event.Err(err)
	}
	event.Msg(warning)
}

func (s *responseService) ListStudentHistory(ctx context.Context, studentID string) ([]dto.StudentResponseView, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, fmt.Errorf("%w: student id is required", ErrInvalidAnswerPayload)
	}

	responses, err := s.store.ListScopedByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	return dto.NewStudentResponseViewSlice(responses), nil
}

// gradeSubmission builds the answer map, copying topic tags from each
// question and auto-grading objective question types.
func gradeSubmission(assessment models.Assessment, submitted []dto.AnswerSubmission) (models.AnswerMap, error) {
	answers := make(models.AnswerMap, len(submitted))
	for _, item := range submitted {
		questionID := strings.TrimSpace(item.QuestionID)
		question, ok := assessment.QuestionByID(questionID)
		if !ok {
			return nil, fmt.Errorf("%w: question %s is not part of assessment %s", ErrInvalidAnswerPayload, questionID, assessment.ID)
		}
		if _, duplicate := answers[questionID]; duplicate {
			return nil, fmt.Errorf("%w: question %s answered twice", ErrInvalidAnswerPayload, questionID)
		}

		answer := models.StudentAnswer{
			QuestionID:   questionID,
			QuestionType: question.Type,
			Value:        item.Value,
			TopicPath:    question.Topic(),
			Strand:       question.Strand,
			Chapter:      question.Chapter,
			Subtopic:     question.Subtopic,
		}

		if correct, graded := autoGrade(question, item.Value); graded {
			answer.IsCorrect = correct
			if correct {
				answer.PointsEarned = question.Points
			}
		}

		answers[questionID] = answer
	}

	return answers, nil
}

// autoGrade reports whether the answer is correct and whether the question
// type is graded automatically at all.
func autoGrade(question models.Question, value string) (bool, bool) {
	expected := strings.TrimSpace(question.CorrectAnswer)
	given := strings.TrimSpace(value)

	switch question.Type {
	case models.QuestionTypeMultipleChoice:
		return given != "" && strings.EqualFold(given, expected), true
	case models.QuestionTypeCalculation:
		if given == "" {
			return false, true
		}
		expectedNumber, errExpected := strconv.ParseFloat(expected, 64)
		givenNumber, errGiven := strconv.ParseFloat(given, 64)
		if errExpected == nil && errGiven == nil {
			return math.Abs(expectedNumber-givenNumber) <= calculationTolerance, true
		}
		return strings.EqualFold(given, expected), true
	default:
		return false, false
	}
}
