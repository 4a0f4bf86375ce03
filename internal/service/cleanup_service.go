package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/models"
	"github.com/noah-isme/gema-ledger-api/internal/observability"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

const defaultCleanupConcurrency = 4

// CleanupService keeps both response copies consistent with the assessment set.
type CleanupService interface {
	DeleteAssessment(ctx context.Context, assessmentID string) (dto.CascadeDeleteReport, error)
	CleanupOrphans(ctx context.Context) (dto.OrphanCleanupReport, error)
	CleanupForInstructor(ctx context.Context, instructorID string) (dto.InstructorCleanupReport, error)
	ReconcileCopies(ctx context.Context) (dto.ReconcileReport, error)
}

type cleanupService struct {
	store       repository.ResponseStore
	assessments repository.AssessmentRepository
	snapshots   SnapshotInvalidator
	events      EventPublisher
	concurrency int
	logger      zerolog.Logger
	tracer      trace.Tracer
}

// NewCleanupService constructs the cleanup service. concurrency bounds the
// number of students processed in parallel.
func NewCleanupService(store repository.ResponseStore, assessments repository.AssessmentRepository, snapshots SnapshotInvalidator, events EventPublisher, concurrency int, logger zerolog.Logger) CleanupService {
	if concurrency <= 0 {
		concurrency = defaultCleanupConcurrency
	}

	return &cleanupService{
		store:       store,
		assessments: assessments,
		snapshots:   invalidatorOrNoop(snapshots),
		events:      publisherOrNoop(events),
		concurrency: concurrency,
		logger:      logger.With().Str("component", "cleanup_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-ledger-api/internal/service/cleanup"),
	}
}

// cleanupTally aggregates counts from concurrent deletions.
type cleanupTally struct {
	mu       sync.Mutex
	global   int
	scoped   int
	students map[string]struct{}
	errors   []string
}

func newCleanupTally() *cleanupTally {
	return &cleanupTally{students: map[string]struct{}{}, errors: []string{}}
}

func (t *cleanupTally) addGlobal(n int64) {
	t.mu.Lock()
	t.global += int(n)
	t.mu.Unlock()
	observability.CleanupDeleted().WithLabelValues("global").Add(float64(n))
}

func (t *cleanupTally) addScoped(n int64) {
	t.mu.Lock()
	t.scoped += int(n)
	t.mu.Unlock()
	observability.CleanupDeleted().WithLabelValues("scoped").Add(float64(n))
}

func (t *cleanupTally) touch(studentID string) {
	if strings.TrimSpace(studentID) == "" {
		return
	}
	t.mu.Lock()
	t.students[studentID] = struct{}{}
	t.mu.Unlock()
}

func (t *cleanupTally) fail(format string, args ...interface{}) {
	t.mu.Lock()
	t.errors = append(t.errors, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

func (t *cleanupTally) studentIDs() []string {
	ids := make([]string, 0, len(t.students))
	for id := range t.students {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *cleanupService) DeleteAssessment(ctx context.Context, assessmentID string) (dto.CascadeDeleteReport, error) {
	ctx, span := s.tracer.Start(ctx, "cleanup.delete_assessment")
	span.SetAttributes(attribute.String("cleanup.assessment_id", assessmentID))
	defer span.End()

	if err := s.assessments.Delete(ctx, assessmentID); err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "assessment_not_found")
			return dto.CascadeDeleteReport{}, ErrAssessmentNotFound
		}
		span.SetStatus(codes.Error, "assessment_delete_failed")
		return dto.CascadeDeleteReport{}, err
	}

	tally := newCleanupTally()
	globals, err := s.store.ListGlobalByAssessment(ctx, assessmentID)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("assessment_id", assessmentID).Msg("failed to list responses for deleted assessment")
		tally.fail("list global responses: %v", err)
	}

	// A partial submit can leave a scoped copy without its global half.
	scopedCopies, err := s.store.ListScopedByAssessment(ctx, assessmentID)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("assessment_id", assessmentID).Msg("failed to list student responses for deleted assessment")
		tally.fail("list scoped responses: %v", err)
	}
	for _, response := range scopedCopies {
		tally.touch(response.StudentID)
	}

	for _, response := range globals {
		tally.touch(response.StudentID)
		deleted, err := s.store.DeleteGlobal(ctx, response.StudentID, response.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("response_id", response.ID).Msg("failed to delete global response")
			tally.fail("delete global response %s: %v", response.ID, err)
			continue
		}
		tally.addGlobal(deleted)
	}

	s.forEachStudent(ctx, tally.studentIDs(), func(ctx context.Context, studentID string) {
		deleted, err := s.store.DeleteScopedByAssessment(ctx, studentID, assessmentID)
		if err != nil {
			s.logger.Warn().Err(err).Str("student_id", studentID).Str("assessment_id", assessmentID).Msg("failed to delete student responses")
			tally.fail("delete responses of student %s: %v", studentID, err)
			return
		}
		tally.addScoped(deleted)
	}, tally)

	students := tally.studentIDs()
	report := dto.CascadeDeleteReport{
		AssessmentID:           assessmentID,
		DeletedGlobalResponses: tally.global,
		DeletedUserResponses:   tally.scoped,
		AffectedStudents:       len(students),
		Errors:                 tally.errors,
		Partial:                len(tally.errors) > 0,
	}

	if report.Partial {
		observability.PartialFailures().WithLabelValues("delete_assessment").Inc()
		span.SetStatus(codes.Error, "cascade_partial")
	}
	span.SetAttributes(
		attribute.Int("cleanup.global_deleted", report.DeletedGlobalResponses),
		attribute.Int("cleanup.scoped_deleted", report.DeletedUserResponses),
		attribute.Int("cleanup.students", report.AffectedStudents),
	)

	s.snapshots.Invalidate(ctx, students...)
	s.events.Publish(ctx, dto.ReviewEvent{
		Type:         dto.EventAssessmentDeleted,
		AssessmentID: assessmentID,
		Data: map[string]interface{}{
			"deleted_global_responses": report.DeletedGlobalResponses,
			"deleted_user_responses":   report.DeletedUserResponses,
			"partial":                  report.Partial,
		},
	})

	s.logger.Info().
		Str("assessment_id", assessmentID).
		Int("global_deleted", report.DeletedGlobalResponses).
		Int("scoped_deleted", report.DeletedUserResponses).
		Int("errors", len(report.Errors)).
		Msg("assessment deleted")

	return report, nil
}

func (s *cleanupService) CleanupOrphans(ctx context.Context) (dto.OrphanCleanupReport, error) {
	ctx, span := s.tracer.Start(ctx, "cleanup.orphans")
	defer span.End()

	validIDs, err := s.assessments.ListIDs(ctx, repository.AssessmentFilter{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_ids_failed")
		return dto.OrphanCleanupReport{}, err
	}

	valid := toSet(validIDs)
	tally, err := s.sweep(ctx, func(response models.StudentResponse) bool {
		_, ok := valid[response.AssessmentID]
		return !ok
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep_failed")
		return dto.OrphanCleanupReport{}, err
	}

	report := dto.OrphanCleanupReport{
		ValidAssessments:       len(valid),
		DeletedGlobalResponses: tally.global,
		DeletedUserResponses:   tally.scoped,
		AffectedStudents:       len(tally.students),
		Errors:                 tally.errors,
	}
	span.SetAttributes(
		attribute.Int("cleanup.global_deleted", report.DeletedGlobalResponses),
		attribute.Int("cleanup.scoped_deleted", report.DeletedUserResponses),
	)

	if report.DeletedGlobalResponses > 0 || report.DeletedUserResponses > 0 {
		s.events.Publish(ctx, dto.ReviewEvent{
			Type: dto.EventOrphansSwept,
			Data: map[string]interface{}{
				"deleted_global_responses": report.DeletedGlobalResponses,
				"deleted_user_responses":   report.DeletedUserResponses,
			},
		})
	}

	return report, nil
}

// CleanupForInstructor sweeps the orphans an instructor's dashboard accounts
// for: responses recorded against one of their assessments whose assessment no
// longer exists. Orphans of other instructors, and legacy responses with no
// recorded owner, are left to CleanupOrphans.
func (s *cleanupService) CleanupForInstructor(ctx context.Context, instructorID string) (dto.InstructorCleanupReport, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return dto.InstructorCleanupReport{}, fmt.Errorf("%w: instructor id", ErrMissingIdentity)
	}

	ctx, span := s.tracer.Start(ctx, "cleanup.instructor")
	span.SetAttributes(attribute.String("cleanup.instructor_id", instructorID))
	defer span.End()

	ownedIDs, err := s.assessments.ListIDs(ctx, repository.AssessmentFilter{CreatedBy: instructorID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_ids_failed")
		return dto.InstructorCleanupReport{}, err
	}
	allIDs, err := s.assessments.ListIDs(ctx, repository.AssessmentFilter{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_ids_failed")
		return dto.InstructorCleanupReport{}, err
	}

	owned := toSet(ownedIDs)
	existing := toSet(allIDs)
	tally, err := s.sweep(ctx, func(response models.StudentResponse) bool {
		if response.AssessmentOwner != instructorID {
			return false
		}
		_, ok := existing[response.AssessmentID]
		return !ok
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sweep_failed")
		return dto.InstructorCleanupReport{}, err
	}

	return dto.InstructorCleanupReport{
		InstructorID:     instructorID,
		GlobalResponses:  tally.global,
		UserResponses:    tally.scoped,
		ValidAssessments: len(owned),
		AffectedStudents: len(tally.students),
		Errors:           tally.errors,
	}, nil
}

// sweep deletes global copies whose assessment is orphaned, then the orphaned
// scoped copies grouped by student. A student is affected when either copy of
// one of their responses was orphaned. Per-row failures are collected in the
// tally; only the initial listings can fail the sweep.
func (s *cleanupService) sweep(ctx context.Context, isOrphan func(response models.StudentResponse) bool) (*cleanupTally, error) {
	globals, err := s.store.ListGlobal(ctx)
	if err != nil {
		return nil, err
	}
	scopedCopies, err := s.store.ListScoped(ctx)
	if err != nil {
		return nil, err
	}

	tally := newCleanupTally()
	for _, response := range globals {
		if !isOrphan(response) {
			continue
		}
		if ctx.Err() != nil {
			tally.fail("sweep interrupted: %v", ctx.Err())
			break
		}

		tally.touch(response.StudentID)
		deleted, err := s.store.DeleteGlobal(ctx, response.StudentID, response.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("response_id", response.ID).Msg("failed to delete orphaned global response")
			tally.fail("delete global response %s: %v", response.ID, err)
			continue
		}
		tally.addGlobal(deleted)
	}

	orphaned := map[string][]string{}
	for _, response := range scopedCopies {
		if isOrphan(response) {
			orphaned[response.StudentID] = append(orphaned[response.StudentID], response.ID)
			tally.touch(response.StudentID)
		}
	}

	students := tally.studentIDs()
	s.forEachStudent(ctx, students, func(ctx context.Context, studentID string) {
		for _, responseID := range orphaned[studentID] {
			deleted, err := s.store.DeleteScoped(ctx, studentID, responseID)
			if err != nil {
				s.logger.Warn().Err(err).Str("student_id", studentID).Str("response_id", responseID).Msg("failed to delete orphaned student response")
				tally.fail("delete response %s of student %s: %v", responseID, studentID, err)
				continue
			}
			tally.addScoped(deleted)
		}
	}, tally)

	s.snapshots.Invalidate(ctx, students...)

	s.logger.Info().
		Int("global_deleted", tally.global).
		Int("scoped_deleted", tally.scoped).
		Int("students", len(students)).
		Int("errors", len(tally.errors)).
		Msg("orphan sweep finished")

	return tally, nil
}

// forEachStudent runs fn for every student with bounded concurrency. fn
// records its own failures so one student never aborts the others.
func (s *cleanupService) forEachStudent(ctx context.Context, studentIDs []string, fn func(ctx context.Context, studentID string), tally *cleanupTally) {
	var group errgroup.Group
	group.SetLimit(s.concurrency)

	for _, studentID := range studentIDs {
		studentID := studentID
		if ctx.Err() != nil {
			tally.fail("cleanup interrupted before student %s: %v", studentID, ctx.Err())
			continue
		}
		group.Go(func() error {
			fn(ctx, studentID)
			return nil
		})
	}

	_ = group.Wait()
}

func (s *cleanupService) ReconcileCopies(ctx context.Context) (dto.ReconcileReport, error) {
	ctx, span := s.tracer.Start(ctx, "cleanup.reconcile")
	defer span.End()

	validIDs, err := s.assessments.ListIDs(ctx, repository.AssessmentFilter{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assessment_ids_failed")
		return dto.ReconcileReport{}, err
	}
	globals, err := s.store.ListGlobal(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_global_failed")
		return dto.ReconcileReport{}, err
	}
	scopedCopies, err := s.store.ListScoped(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_scoped_failed")
		return dto.ReconcileReport{}, err
	}

	valid := toSet(validIDs)
	report := dto.ReconcileReport{
		GlobalScanned: len(globals),
		ScopedScanned: len(scopedCopies),
		Errors:        []string{},
	}

	globalByID := make(map[string]models.StudentResponse, len(globals))
	for _, response := range globals {
		globalByID[response.ID] = response
	}
	restored := map[string]struct{}{}
	scopedByKey := make(map[string]struct{}, len(scopedCopies))
	for _, response := range scopedCopies {
		scopedByKey[response.StudentID+"\x00"+response.ID] = struct{}{}
	}

	// Copies of deleted assessments are never restored.
	for _, response := range globals {
		if _, ok := valid[response.AssessmentID]; !ok {
			continue
		}
		if _, ok := scopedByKey[response.StudentID+"\x00"+response.ID]; ok {
			continue
		}
		response := response
		if err := s.store.Save(ctx, repository.CopyScoped, &response); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("restore student copy %s: %v", response.ID, err))
			continue
		}
		report.RestoredScoped++
		restored[response.StudentID] = struct{}{}
	}

	for _, response := range scopedCopies {
		if _, ok := valid[response.AssessmentID]; !ok {
			continue
		}
		if existing, ok := globalByID[response.ID]; ok {
			if existing.StudentID != response.StudentID {
				report.Errors = append(report.Errors, fmt.Sprintf("response %s belongs to %s globally but %s in student copy", response.ID, existing.StudentID, response.StudentID))
			}
			continue
		}
		response := response
		if err := s.store.Save(ctx, repository.CopyGlobal, &response); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("restore global copy %s: %v", response.ID, err))
			continue
		}
		report.RestoredGlobal++
	}

	students := make([]string, 0, len(restored))
	for studentID := range restored {
		students = append(students, studentID)
	}
	s.snapshots.Invalidate(ctx, students...)

	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, "reconcile_partial")
	}
	span.SetAttributes(
		attribute.Int("reconcile.restored_scoped", report.RestoredScoped),
		attribute.Int("reconcile.restored_global", report.RestoredGlobal),
	)

	s.logger.Info().
		Int("restored_scoped", report.RestoredScoped).
		Int("restored_global", report.RestoredGlobal).
		Int("errors", len(report.Errors)).
		Msg("response copies reconciled")

	return report, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
