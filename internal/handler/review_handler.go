package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/service"
	"github.com/noah-isme/gema-ledger-api/internal/utils"
)

// ReviewHandler serves the instructor review workflow.
type ReviewHandler struct {
	reviews   service.ReviewService
	responses service.ResponseService
	logger    zerolog.Logger
}

// NewReviewHandler constructs a review handler. Manual grading goes through
// the response service since it rewrites answers.
func NewReviewHandler(reviews service.ReviewService, responses service.ResponseService, logger zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		reviews:   reviews,
		responses: responses,
		logger:    logger.With().Str("component", "review_handler").Logger(),
	}
}

// Register binds review routes.
func (h *ReviewHandler) Register(router fiber.Router) {
	router.Get("/queue", h.queue)
	router.Get("/submissions/:id", h.submission)
	router.Patch("/submissions/:id/status", h.updateStatus)
	router.Post("/submissions/:id/reopen", h.reopen)
	router.Post("/submissions/:id/grades", h.grade)
}

func (h *ReviewHandler) queue(c *fiber.Ctx) error {
	var filter dto.ReviewQueueFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}
	filter.InstructorID = firstNonEmpty(filter.InstructorID, identityFromContext(c))

	queue, err := h.reviews.GetReviewQueue(requestContext(c), filter)
	if err != nil {
		return writeServiceError(c, h.logger, err, "load review queue")
	}

	message := "review queue retrieved"
	if queue.Empty {
		message = "no submissions yet"
	}
	return utils.SendSuccess(c, message, queue)
}

func (h *ReviewHandler) submission(c *fiber.Ctx) error {
	detail, err := h.reviews.GetSubmission(requestContext(c), c.Params("id"))
	if err != nil {
		return writeServiceError(c, h.logger, err, "load submission")
	}

	return utils.SendSuccess(c, "submission retrieved", detail)
}

func (h *ReviewHandler) updateStatus(c *fiber.Ctx) error {
	var payload dto.StatusUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.ReviewerID = firstNonEmpty(payload.ReviewerID, identityFromContext(c))

	result, err := h.reviews.UpdateStatus(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return writeServiceError(c, h.logger, err, "update submission status")
	}

	message := "submission status updated"
	if len(result.Warnings) > 0 {
		markPartial(c)
		message = "submission status updated, student copy pending repair"
	}
	return utils.SendSuccess(c, message, result)
}

func (h *ReviewHandler) reopen(c *fiber.Ctx) error {
	var payload dto.ReopenRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
	}
	payload.ReviewerID = firstNonEmpty(payload.ReviewerID, identityFromContext(c))

	result, err := h.reviews.Reopen(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return writeServiceError(c, h.logger, err, "reopen submission")
	}

	return utils.SendSuccess(c, "submission reopened", result)
}

func (h *ReviewHandler) grade(c *fiber.Ctx) error {
	var payload dto.ManualGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.GraderID = firstNonEmpty(payload.GraderID, identityFromContext(c))

	result, err := h.responses.ApplyManualGrade(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return writeServiceError(c, h.logger, err, "apply grades")
	}

	message := "grades applied"
	if result.Partial {
		requestLogger(h.logger, c).Warn().Strs("warnings", result.Warnings).Str("response_id", result.ResponseID).Msg("manual grade partially applied")
		markPartial(c)
		message = "grades partially applied"
	}
	return utils.SendSuccess(c, message, result)
}
