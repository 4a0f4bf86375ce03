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

func newTestCleanupService(store repository.ResponseStore, fixture ledgerFixture, snapshots SnapshotInvalidator, events EventPublisher) CleanupService {
	return NewCleanupService(store, fixture.assessments, snapshots, events, 2, testLogger())
}

func TestCleanupServiceDeleteAssessmentCascades(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	fixture.createAssessment(t, "a2", "teacher-1", gradingQuestions()...)
	now := time.Now().UTC()
	fixture.submit(t, "r1", "s1", "a1", now, models.AnswerMap{})
	fixture.submit(t, "r2", "s2", "legacy:a1", now, models.AnswerMap{})
	fixture.submit(t, "r3", "s1", "a2", now, models.AnswerMap{})

	snapshots := &recordingInvalidator{}
	events := &recordingPublisher{}
	svc := newTestCleanupService(fixture.store, fixture, snapshots, events)
	ctx := context.Background()

	report, err := svc.DeleteAssessment(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "a1", report.AssessmentID)
	require.Equal(t, 2, report.DeletedGlobalResponses)
	require.Equal(t, 2, report.DeletedUserResponses)
	require.Equal(t, 2, report.AffectedStudents)
	require.Empty(t, report.Errors)
	require.False(t, report.Partial)

	remainingGlobal, err := fixture.store.ListGlobalByAssessment(ctx, "a1")
	require.NoError(t, err)
	require.Empty(t, remainingGlobal)
	for _, studentID := range []string{"s1", "s2"} {
		history, err := fixture.store.ListScopedByStudent(ctx, studentID)
		require.NoError(t, err)
		for _, response := range history {
			require.NotEqual(t, "a1", response.AssessmentID)
		}
	}

	kept, err := fixture.store.GetScoped(ctx, "s1", "r3")
	require.NoError(t, err)
	require.NotNil(t, kept)

	require.ElementsMatch(t, []string{"s1", "s2"}, snapshots.students)
	require.Equal(t, []string{dto.EventAssessmentDeleted}, events.types())

	_, err = svc.DeleteAssessment(ctx, "a1")
	require.ErrorIs(t, err, ErrAssessmentNotFound)
}

func TestCleanupServiceDeleteAssessmentReportsPartialFailures(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	now := time.Now().UTC()
	fixture.submit(t, "r1", "s1", "a1", now, models.AnswerMap{})
	fixture.submit(t, "r2", "s2", "a1", now, models.AnswerMap{})
	fixture.submit(t, "r3", "s3", "a1", now, models.AnswerMap{})

	store := newFaultyStore(fixture.store)
	store.deleteScopedErr["s2"] = errInjected
	svc := newTestCleanupService(store, fixture, nil, nil)

	report, err := svc.DeleteAssessment(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, report.Partial)
	require.Len(t, report.Errors, 1)
	require.Contains(t, report.Errors[0], "s2")
	require.Equal(t, 3, report.DeletedGlobalResponses)
	require.Equal(t, 2, report.DeletedUserResponses)
	require.Equal(t, 3, report.AffectedStudents)

	leftover, err := fixture.store.GetScoped(context.Background(), "s2", "r2")
	require.NoError(t, err)
	require.NotNil(t, leftover)

	// The orphan sweep removes what the cascade could not.
	sweep, err := newTestCleanupService(fixture.store, fixture, nil, nil).CleanupOrphans(context.Background())
	require.NoError(t, err)
	require.Zero(t, sweep.DeletedGlobalResponses)
	require.Equal(t, 1, sweep.DeletedUserResponses)
	require.Equal(t, 1, sweep.AffectedStudents)

	leftover, err = fixture.store.GetScoped(context.Background(), "s2", "r2")
	require.NoError(t, err)
	require.Nil(t, leftover)
}

func TestCleanupServiceOrphanSweepIsIdempotent(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	now := time.Now().UTC()
	fixture.submit(t, "r1", "s1", "a1", now, models.AnswerMap{})
	fixture.submit(t, "r2", "s1", "ghost", now, models.AnswerMap{})
	fixture.submit(t, "r3", "s2", "legacy:ghost", now, models.AnswerMap{})
	fixture.submit(t, "r4", "s3", "", now, models.AnswerMap{})
	fixture.submit(t, "r5", "s2", "legacy:a1", now, models.AnswerMap{})

	snapshots := &recordingInvalidator{}
	svc := newTestCleanupService(fixture.store, fixture, snapshots, nil)
	ctx := context.Background()

	report, err := svc.CleanupOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ValidAssessments)
	require.Equal(t, 3, report.DeletedGlobalResponses)
	require.Equal(t, 3, report.DeletedUserResponses)
	require.Equal(t, 3, report.AffectedStudents)
	require.Empty(t, report.Errors)
	require.ElementsMatch(t, []string{"s1", "s2", "s3"}, snapshots.students)

	require.EqualValues(t, 2, fixture.countRows(t, models.GlobalResponsesTable))
	require.EqualValues(t, 2, fixture.countRows(t, models.ScopedResponsesTable))

	again, err := svc.CleanupOrphans(ctx)
	require.NoError(t, err)
	require.Zero(t, again.DeletedGlobalResponses)
	require.Zero(t, again.DeletedUserResponses)
	require.Zero(t, again.AffectedStudents)
}

func TestCleanupServiceInstructorSweepOnlyRemovesOwnOrphans(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	fixture.createAssessment(t, "a2", "teacher-2", gradingQuestions()...)
	fixture.createAssessment(t, "a3", "teacher-1", gradingQuestions()...)
	fixture.createAssessment(t, "a4", "teacher-2", gradingQuestions()...)
	now := time.Now().UTC()
	fixture.submit(t, "r1", "s1", "a1", now, models.AnswerMap{})
	fixture.submit(t, "r2", "s1", "a2", now, models.AnswerMap{})
	fixture.submit(t, "r3", "s2", "a3", now, models.AnswerMap{})
	fixture.submit(t, "r4", "s3", "a4", now, models.AnswerMap{})
	fixture.submit(t, "r5", "s3", "ghost", now, models.AnswerMap{})
	ctx := context.Background()

	// Deleted without the cascade so their responses become orphans.
	require.NoError(t, fixture.assessments.Delete(ctx, "a3"))
	require.NoError(t, fixture.assessments.Delete(ctx, "a4"))

	snapshots := &recordingInvalidator{}
	svc := newTestCleanupService(fixture.store, fixture, snapshots, nil)
	report, err := svc.CleanupForInstructor(ctx, "teacher-1")
	require.NoError(t, err)
	require.Equal(t, "teacher-1", report.InstructorID)
	require.Equal(t, 1, report.ValidAssessments)
	require.Equal(t, 1, report.GlobalResponses)
	require.Equal(t, 1, report.UserResponses)
	require.Equal(t, 1, report.AffectedStudents)
	require.Equal(t, []string{"s2"}, snapshots.students)

	gone, err := fixture.store.GetGlobal(ctx, "r3")
	require.NoError(t, err)
	require.Nil(t, gone)
	for _, id := range []string{"r1", "r2", "r4", "r5"} {
		kept, err := fixture.store.GetGlobal(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, kept, id)
	}

	again, err := svc.CleanupForInstructor(ctx, "teacher-1")
	require.NoError(t, err)
	require.Zero(t, again.GlobalResponses)

	orphans, err := svc.CleanupOrphans(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, orphans.DeletedGlobalResponses)
	require.Equal(t, 2, orphans.DeletedUserResponses)

	_, err = svc.CleanupForInstructor(ctx, " ")
	require.ErrorIs(t, err, ErrMissingIdentity)
}

func TestCleanupServiceDeleteAssessmentRemovesScopedOnlyCopies(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	now := time.Now().UTC()
	fixture.submit(t, "r1", "s1", "a1", now, models.AnswerMap{})
	fixture.submit(t, "r2", "s2", "legacy:a1", now, models.AnswerMap{})
	ctx := context.Background()

	_, err := fixture.store.DeleteGlobal(ctx, "s2", "r2")
	require.NoError(t, err)

	svc := newTestCleanupService(fixture.store, fixture, nil, nil)
	report, err := svc.DeleteAssessment(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 1, report.DeletedGlobalResponses)
	require.Equal(t, 2, report.DeletedUserResponses)
	require.Equal(t, 2, report.AffectedStudents)
	require.False(t, report.Partial)

	leftover, err := fixture.store.GetScoped(ctx, "s2", "r2")
	require.NoError(t, err)
	require.Nil(t, leftover)
	require.Zero(t, fixture.countRows(t, models.ScopedResponsesTable))
}

func TestCleanupServiceReconcileRefreshesCachedAnalysis(t *testing.T) {
	fixture := newLedgerFixture(t)
	_, client := setupTestRedis(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	fixture.submit(t, "r1", "s1", "a1", time.Now().UTC(), weakAnswers())
	ctx := context.Background()

	_, err := fixture.store.DeleteScoped(ctx, "s1", "r1")
	require.NoError(t, err)

	weakness := NewWeaknessService(fixture.store, staticNames{}, client, time.Hour, testLogger())
	before, err := weakness.Analyze(ctx, "s1")
	require.NoError(t, err)
	require.False(t, before.HasData)

	svc := newTestCleanupService(fixture.store, fixture, weakness, nil)
	report, err := svc.ReconcileCopies(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.RestoredScoped)

	after, err := weakness.Analyze(ctx, "s1")
	require.NoError(t, err)
	require.False(t, after.CacheHit)
	require.True(t, after.HasData)
}

func TestCleanupServiceReconcileRestoresMissingHalves(t *testing.T) {
	fixture := newLedgerFixture(t)
	fixture.createAssessment(t, "a1", "teacher-1", gradingQuestions()...)
	now := time.Now().UTC()
	answers := models.AnswerMap{"q1": {QuestionID: "q1", Value: "B", IsCorrect: true, PointsEarned: 4}}
	fixture.submit(t, "r1", "s1", "a1", now, answers)
	fixture.submit(t, "r2", "s2", "a1", now, answers)
	fixture.submit(t, "r3", "s3", "ghost", now, answers)
	ctx := context.Background()

	_, err := fixture.store.DeleteScoped(ctx, "s1", "r1")
	require.NoError(t, err)
	_, err = fixture.store.DeleteGlobal(ctx, "s2", "r2")
	require.NoError(t, err)
	_, err = fixture.store.DeleteGlobal(ctx, "s3", "r3")
	require.NoError(t, err)

	svc := newTestCleanupService(fixture.store, fixture, nil, nil)
	report, err := svc.ReconcileCopies(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.RestoredScoped)
	require.Equal(t, 1, report.RestoredGlobal)
	require.Empty(t, report.Errors)

	scoped, err := fixture.store.GetScoped(ctx, "s1", "r1")
	require.NoError(t, err)
	require.NotNil(t, scoped)
	require.Equal(t, answers, scoped.DecodedAnswers())

	global, err := fixture.store.GetGlobal(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, global)

	orphan, err := fixture.store.GetGlobal(ctx, "r3")
	require.NoError(t, err)
	require.Nil(t, orphan)

	again, err := svc.ReconcileCopies(ctx)
	require.NoError(t, err)
	require.Zero(t, again.RestoredScoped)
	require.Zero(t, again.RestoredGlobal)
}
