package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-ledger-api/internal/config"
	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/router"
	"github.com/noah-isme/gema-ledger-api/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// newTestApp mounts the router with a fake identity middleware that trusts
// the X-Test-User header.
func newTestApp(deps router.Dependencies) *fiber.App {
	app := fiber.New()
	if deps.JWTMiddleware == nil {
		deps.JWTMiddleware = func(c *fiber.Ctx) error {
			if user := c.Get("X-Test-User"); user != "" {
				c.Locals("user_id", user)
			}
			return c.Next()
		}
	}
	router.Register(app, config.Config{AppName: "Ledger Test", AppEnv: "test"}, deps)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers ...string) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

type stubAssessmentService struct {
	create func(dto.AssessmentCreateRequest) (dto.AssessmentResponse, error)
	get    func(string) (dto.AssessmentResponse, error)
	delete func(string) (dto.CascadeDeleteReport, error)
	filter dto.AssessmentFilter
}

func (s *stubAssessmentService) Create(_ context.Context, payload dto.AssessmentCreateRequest) (dto.AssessmentResponse, error) {
	return s.create(payload)
}

func (s *stubAssessmentService) List(_ context.Context, filter dto.AssessmentFilter) ([]dto.AssessmentResponse, error) {
	s.filter = filter
	return []dto.AssessmentResponse{}, nil
}

func (s *stubAssessmentService) Get(_ context.Context, id string) (dto.AssessmentResponse, error) {
	return s.get(id)
}

func (s *stubAssessmentService) Update(_ context.Context, id string, _ dto.AssessmentUpdateRequest) (dto.AssessmentResponse, error) {
	return s.get(id)
}

func (s *stubAssessmentService) Delete(_ context.Context, id string) (dto.CascadeDeleteReport, error) {
	return s.delete(id)
}

type stubResponseService struct {
	submit  func(dto.ResponseSubmitRequest) (dto.ResponseSubmitResult, error)
	grade   func(string, dto.ManualGradeRequest) (dto.ManualGradeResult, error)
	history func(string) ([]dto.StudentResponseView, error)
}

func (s *stubResponseService) Submit(_ context.Context, payload dto.ResponseSubmitRequest) (dto.ResponseSubmitResult, error) {
	return s.submit(payload)
}

func (s *stubResponseService) ApplyManualGrade(_ context.Context, id string, payload dto.ManualGradeRequest) (dto.ManualGradeResult, error) {
	return s.grade(id, payload)
}

func (s *stubResponseService) ListStudentHistory(_ context.Context, studentID string) ([]dto.StudentResponseView, error) {
	return s.history(studentID)
}

type stubReviewService struct {
	update func(string, dto.StatusUpdateRequest) (dto.StatusUpdateResult, error)
	reopen func(string, dto.ReopenRequest) (dto.StatusUpdateResult, error)
	queue  func(dto.ReviewQueueFilter) (dto.ReviewQueueResponse, error)
	detail func(string) (dto.SubmissionDetail, error)
}

func (s *stubReviewService) UpdateStatus(_ context.Context, id string, payload dto.StatusUpdateRequest) (dto.StatusUpdateResult, error) {
	return s.update(id, payload)
}

func (s *stubReviewService) Reopen(_ context.Context, id string, payload dto.ReopenRequest) (dto.StatusUpdateResult, error) {
	return s.reopen(id, payload)
}

func (s *stubReviewService) GetReviewQueue(_ context.Context, filter dto.ReviewQueueFilter) (dto.ReviewQueueResponse, error) {
	return s.queue(filter)
}

func (s *stubReviewService) GetSubmission(_ context.Context, id string) (dto.SubmissionDetail, error) {
	return s.detail(id)
}

type stubWeaknessService struct {
	analysis dto.WeaknessAnalysisResponse
	err      error
}

func (s *stubWeaknessService) Invalidate(context.Context, ...string) {}

func (s *stubWeaknessService) Analyze(_ context.Context, studentID string) (dto.WeaknessAnalysisResponse, error) {
	if s.err != nil {
		return dto.WeaknessAnalysisResponse{}, s.err
	}
	analysis := s.analysis
	analysis.StudentID = studentID
	return analysis, nil
}

type stubCleanupService struct {
	instructor string
	orphans    dto.OrphanCleanupReport
	err        error
}

func (s *stubCleanupService) DeleteAssessment(context.Context, string) (dto.CascadeDeleteReport, error) {
	return dto.CascadeDeleteReport{}, s.err
}

func (s *stubCleanupService) CleanupOrphans(context.Context) (dto.OrphanCleanupReport, error) {
	return s.orphans, s.err
}

func (s *stubCleanupService) CleanupForInstructor(_ context.Context, instructorID string) (dto.InstructorCleanupReport, error) {
	s.instructor = instructorID
	return dto.InstructorCleanupReport{InstructorID: instructorID}, s.err
}

func (s *stubCleanupService) ReconcileCopies(context.Context) (dto.ReconcileReport, error) {
	return dto.ReconcileReport{RestoredScoped: 1}, s.err
}

type stubOutbox struct {
	max int
}

func (s *stubOutbox) Enqueue(context.Context, service.MirrorTask) error { return nil }

func (s *stubOutbox) Drain(_ context.Context, max int) (dto.OutboxDrainReport, error) {
	s.max = max
	return dto.OutboxDrainReport{Processed: 2, Applied: 2}, nil
}
