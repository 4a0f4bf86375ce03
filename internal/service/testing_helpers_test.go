package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/models"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	return db
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

type ledgerFixture struct {
	db          *gorm.DB
	store       repository.ResponseStore
	assessments repository.AssessmentRepository
}

func newLedgerFixture(t *testing.T) ledgerFixture {
	t.Helper()
	db := setupTestDB(t)
	return ledgerFixture{
		db:          db,
		store:       repository.NewResponseStore(db),
		assessments: repository.NewAssessmentRepository(db),
	}
}

func (f ledgerFixture) createAssessment(t *testing.T, id, instructorID string, questions ...models.Question) models.Assessment {
	t.Helper()
	assessment := models.Assessment{
		ID:        id,
		Title:     "Assessment " + id,
		Questions: questions,
		CreatedBy: instructorID,
	}
	assessment.TotalPoints = assessment.SumPoints()
	require.NoError(t, f.assessments.Create(context.Background(), &assessment))
	return assessment
}

// submit writes both copies of a response keyed by the given assessment id.
// A "legacy:" prefix stores the id in the day_id column only. The owner is
// taken from the assessment when it exists.
func (f ledgerFixture) submit(t *testing.T, id, studentID, assessmentID string, completedAt time.Time, answers models.AnswerMap) *models.StudentResponse {
	t.Helper()
	response := &models.StudentResponse{
		ID:          id,
		StudentID:   studentID,
		CompletedAt: completedAt,
		Score:       answers.TotalPoints(),
	}
	if legacy, ok := strings.CutPrefix(assessmentID, "legacy:"); ok {
		response.LegacyDayID = legacy
	} else {
		response.AssessmentID = assessmentID
	}
	if assessment, err := f.assessments.GetByID(context.Background(), response.AssessmentID); err == nil {
		response.AssessmentOwner = assessment.CreatedBy
	}
	response.SetAnswers(answers)
	require.NoError(t, f.store.Submit(context.Background(), response))
	return response
}

func (f ledgerFixture) countRows(t *testing.T, table string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Table(table).Count(&count).Error)
	return count
}

// faultyStore injects failures into selected ResponseStore operations.
type faultyStore struct {
	repository.ResponseStore

	saveErr          map[repository.ResponseCopy]error
	updateReviewErr  map[repository.ResponseCopy]error
	updateAnswersErr map[repository.ResponseCopy]error
	deleteScopedErr  map[string]error
}

func newFaultyStore(inner repository.ResponseStore) *faultyStore {
	return &faultyStore{
		ResponseStore:    inner,
		saveErr:          map[repository.ResponseCopy]error{},
		updateReviewErr:  map[repository.ResponseCopy]error{},
		updateAnswersErr: map[repository.ResponseCopy]error{},
		deleteScopedErr:  map[string]error{},
	}
}

func (f *faultyStore) Submit(ctx context.Context, response *models.StudentResponse) error {
	if err := f.Save(ctx, repository.CopyScoped, response); err != nil {
		return err
	}
	if err := f.Save(ctx, repository.CopyGlobal, response); err != nil {
		return fmt.Errorf("%w: %w", repository.ErrPartialWrite, err)
	}
	return nil
}

func (f *faultyStore) Save(ctx context.Context, target repository.ResponseCopy, response *models.StudentResponse) error {
	if err := f.saveErr[target]; err != nil {
		return err
	}
	return f.ResponseStore.Save(ctx, target, response)
}

func (f *faultyStore) UpdateReview(ctx context.Context, target repository.ResponseCopy, response *models.StudentResponse) (bool, error) {
	if err := f.updateReviewErr[target]; err != nil {
		return false, err
	}
	return f.ResponseStore.UpdateReview(ctx, target, response)
}

func (f *faultyStore) UpdateAnswers(ctx context.Context, target repository.ResponseCopy, response *models.StudentResponse) (bool, error) {
	if err := f.updateAnswersErr[target]; err != nil {
		return false, err
	}
	return f.ResponseStore.UpdateAnswers(ctx, target, response)
}

func (f *faultyStore) DeleteScopedByAssessment(ctx context.Context, studentID, assessmentID string) (int64, error) {
	if err := f.deleteScopedErr[studentID]; err != nil {
		return 0, err
	}
	return f.ResponseStore.DeleteScopedByAssessment(ctx, studentID, assessmentID)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.ReviewEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event dto.ReviewEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type recordingInvalidator struct {
	mu       sync.Mutex
	students []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, studentIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students = append(r.students, studentIDs...)
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []MirrorTask
}

func (q *recordingQueue) Enqueue(_ context.Context, task MirrorTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

var errInjected = fmt.Errorf("%w: injected failure", repository.ErrStoreUnavailable)
