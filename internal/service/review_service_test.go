package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/models"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

func newTestReviewService(store repository.ResponseStore, fixture ledgerFixture, queue MirrorQueue, events EventPublisher) ReviewService {
	return NewReviewService(store, fixture.assessments, queue, events, testValidator(), testLogger())
}

func stringPtr(value string) *string { return &value }

func floatPtr(value float64) *float64 { return &value }

func TestReviewServiceForwardTransitionsMirrorToScopedCopy(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	events := &recordingPublisher{}
	svc := newTestReviewService(fixture.store, fixture, nil, events)
	ctx := context.Background()

	result, err := svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview, ReviewerID: "teacher-1"})
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusPending, result.PreviousStatus)
	require.True(t, result.MirroredToScoped)
	require.Empty(t, result.Warnings)

	result, err = svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{
		Status:     models.ResponseStatusCompleted,
		Feedback:   stringPtr("<i>Well done</i>"),
		TotalScore: floatPtr(9.5),
	})
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusInReview, result.PreviousStatus)
	require.True(t, result.MirroredToScoped)

	global, err := fixture.store.GetGlobal(ctx, "r1")
	require.NoError(t, err)
	scoped, err := fixture.store.GetScoped(ctx, "s1", "r1")
	require.NoError(t, err)

	for _, response := range []*models.StudentResponse{global, scoped} {
		require.Equal(t, models.ResponseStatusCompleted, response.Status)
		require.Equal(t, "teacher-1", response.ReviewedBy)
		require.Equal(t, "Well done", response.Feedback)
		require.NotNil(t, response.ReviewStartedAt)
		require.NotNil(t, response.ReviewCompletedAt)
		require.NotNil(t, response.FeedbackSentAt)
		require.NotNil(t, response.TotalScoreOverride)
		require.InDelta(t, 9.5, response.FinalScore(), 1e-9)
	}

	require.Equal(t, []string{dto.EventResponseStatusChanged, dto.EventResponseStatusChanged}, events.types())
}

func TestReviewServicePendingToCompletedStampsReviewStart(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	svc := newTestReviewService(fixture.store, fixture, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusCompleted, ReviewerID: "teacher-1"})
	require.NoError(t, err)

	global, err := fixture.store.GetGlobal(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, global.ReviewStartedAt)
	require.NotNil(t, global.ReviewCompletedAt)
	require.True(t, global.ReviewStartedAt.Equal(*global.ReviewCompletedAt))
}

func TestReviewServiceRejectsInvalidTransitions(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	svc := newTestReviewService(fixture.store, fixture, nil, nil)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.Reopen(ctx, "r1", dto.ReopenRequest{ReviewerID: "teacher-1"})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusCompleted, ReviewerID: "teacher-1"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusPending})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview, ReviewerID: "teacher-1"})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	// Same-state writes are accepted.
	_, err = svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusCompleted, ReviewerID: "teacher-2"})
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, "missing", dto.StatusUpdateRequest{Status: models.ResponseStatusCompleted})
	require.ErrorIs(t, err, ErrResponseNotFound)
}

func TestReviewServiceReopenClearsCompletion(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	svc := newTestReviewService(fixture.store, fixture, nil, nil)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusCompleted, ReviewerID: "teacher-1", Feedback: stringPtr("ok")})
	require.NoError(t, err)

	result, err := svc.Reopen(ctx, "r1", dto.ReopenRequest{ReviewerID: "teacher-2"})
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusInReview, result.Status)
	require.Equal(t, models.ResponseStatusCompleted, result.PreviousStatus)

	scoped, err := fixture.store.GetScoped(ctx, "s1", "r1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusInReview, scoped.Status)
	require.Equal(t, "teacher-2", scoped.ReviewedBy)
	require.Nil(t, scoped.ReviewCompletedAt)
	require.Nil(t, scoped.FeedbackSentAt)
	require.Equal(t, "ok", scoped.Feedback)
}

func TestReviewServiceMirrorFailureIsAWarning(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	fixture.submit(t, "r2", "s2", "a1", time.Now().UTC(), models.AnswerMap{})
	_, err := fixture.store.DeleteScoped(context.Background(), "s2", "r2")
	require.NoError(t, err)

	store := newFaultyStore(fixture.store)
	store.updateReviewErr[repository.CopyScoped] = errInjected
	queue := &recordingQueue{}
	svc := newTestReviewService(store, fixture, queue, nil)
	ctx := context.Background()

	result, err := svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview, ReviewerID: "teacher-1"})
	require.NoError(t, err)
	require.False(t, result.MirroredToScoped)
	require.Equal(t, []string{"student copy update failed"}, result.Warnings)

	result, err = svc.UpdateStatus(ctx, "r2", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview, ReviewerID: "teacher-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"student copy missing"}, result.Warnings)

	require.Len(t, queue.tasks, 2)
	require.Equal(t, MirrorKindReview, queue.tasks[0].Kind)
	require.Equal(t, "r2", queue.tasks[1].ResponseID)

	global, err := fixture.store.GetGlobal(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusInReview, global.Status)
	scoped, err := fixture.store.GetScoped(ctx, "s1", "r1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusPending, scoped.Status)
}

func TestReviewServiceGlobalFailureIsAnError(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	store := newFaultyStore(fixture.store)
	store.updateReviewErr[repository.CopyGlobal] = errInjected
	svc := newTestReviewService(store, fixture, nil, nil)

	_, err := svc.UpdateStatus(context.Background(), "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview, ReviewerID: "teacher-1"})
	require.ErrorIs(t, err, repository.ErrStoreUnavailable)

	scoped, err := fixture.store.GetScoped(context.Background(), "s1", "r1")
	require.NoError(t, err)
	require.Equal(t, models.ResponseStatusPending, scoped.Status)
}

func TestReviewServiceQueue(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	fixture.createAssessment(t, "a2", "teacher-2", gradingQuestions()...)
	now := time.Now().UTC()

	first := fixture.submit(t, "r1", "s1", "a1", now.Add(-2*time.Hour), models.AnswerMap{})
	first.StudentEmail = "ana@example.com"
	require.NoError(t, fixture.store.Submit(context.Background(), first))
	fixture.submit(t, "r2", "s2", "legacy:a1", now.Add(-time.Hour), models.AnswerMap{})
	fixture.submit(t, "r3", "s3", "a2", now, models.AnswerMap{})

	svc := newTestReviewService(fixture.store, fixture, nil, nil)
	ctx := context.Background()
	_, err := svc.UpdateStatus(ctx, "r1", dto.StatusUpdateRequest{Status: models.ResponseStatusInReview, ReviewerID: "teacher-1"})
	require.NoError(t, err)

	queue, err := svc.GetReviewQueue(ctx, dto.ReviewQueueFilter{InstructorID: "teacher-1"})
	require.NoError(t, err)
	require.False(t, queue.Empty)
	require.Equal(t, 2, queue.Total)
	require.Equal(t, "r2", queue.Items[0].ResponseID)
	require.Equal(t, "a1", queue.Items[0].AssessmentID)
	require.Equal(t, "Assessment a1", queue.Items[0].AssessmentTitle)
	require.Equal(t, "s2", queue.Items[0].StudentName)
	require.Equal(t, "r1", queue.Items[1].ResponseID)
	require.Equal(t, "ana", queue.Items[1].StudentName)
	require.Equal(t, 1, queue.StatusCounts[models.ResponseStatusPending])
	require.Equal(t, 1, queue.StatusCounts[models.ResponseStatusInReview])

	filtered, err := svc.GetReviewQueue(ctx, dto.ReviewQueueFilter{InstructorID: "teacher-1", Status: models.ResponseStatusInReview})
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	require.Equal(t, "r1", filtered.Items[0].ResponseID)

	empty, err := svc.GetReviewQueue(ctx, dto.ReviewQueueFilter{InstructorID: "teacher-9"})
	require.NoError(t, err)
	require.True(t, empty.Empty)
	require.NotNil(t, empty.Items)
	require.Empty(t, empty.Items)

	_, err = svc.GetReviewQueue(ctx, dto.ReviewQueueFilter{})
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestReviewServiceGetSubmission(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), models.AnswerMap{})
	fixture.submit(t, "r2", "s1", "deleted", time.Now().UTC(), models.AnswerMap{})
	svc := newTestReviewService(fixture.store, fixture, nil, nil)
	ctx := context.Background()

	detail, err := svc.GetSubmission(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "Assessment a1", detail.AssessmentTitle)
	require.Equal(t, "s1", detail.StudentID)

	orphan, err := svc.GetSubmission(ctx, "r2")
	require.NoError(t, err)
	require.Empty(t, orphan.AssessmentTitle)

	_, err = svc.GetSubmission(ctx, "missing")
	require.ErrorIs(t, err, ErrResponseNotFound)
}
