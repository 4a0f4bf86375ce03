package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/service"
	"github.com/noah-isme/gema-ledger-api/internal/utils"
)

// AssessmentHandler exposes instructor assessment authoring.
type AssessmentHandler struct {
	service service.AssessmentService
	logger  zerolog.Logger
}

// NewAssessmentHandler constructs an assessment handler.
func NewAssessmentHandler(service service.AssessmentService, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assessment_handler").Logger(),
	}
}

// Register binds assessment routes.
func (h *AssessmentHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Post("/", h.create)
	router.Get("/:id", h.get)
	router.Patch("/:id", h.update)
	router.Delete("/:id", h.delete)
}

func (h *AssessmentHandler) list(c *fiber.Ctx) error {
	var filter dto.AssessmentFilter
	if err := c.QueryParser(&filter); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	assessments, err := h.service.List(requestContext(c), filter)
	if err != nil {
		return writeServiceError(c, h.logger, err, "list assessments")
	}

	return utils.SendSuccess(c, "assessments retrieved", assessments)
}

func (h *AssessmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssessmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.CreatedBy = firstNonEmpty(payload.CreatedBy, identityFromContext(c))

	assessment, err := h.service.Create(requestContext(c), payload)
	if err != nil {
		return writeServiceError(c, h.logger, err, "create assessment")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assessment created", assessment)
}

func (h *AssessmentHandler) get(c *fiber.Ctx) error {
	assessment, err := h.service.Get(requestContext(c), c.Params("id"))
	if err != nil {
		return writeServiceError(c, h.logger, err, "load assessment")
	}

	return utils.SendSuccess(c, "assessment retrieved", assessment)
}

func (h *AssessmentHandler) update(c *fiber.Ctx) error {
	var payload dto.AssessmentUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	assessment, err := h.service.Update(requestContext(c), c.Params("id"), payload)
	if err != nil {
		return writeServiceError(c, h.logger, err, "update assessment")
	}

	return utils.SendSuccess(c, "assessment updated", assessment)
}

func (h *AssessmentHandler) delete(c *fiber.Ctx) error {
	report, err := h.service.Delete(requestContext(c), c.Params("id"))
	if err != nil {
		return writeServiceError(c, h.logger, err, "delete assessment")
	}

	message := "assessment deleted"
	if report.Partial {
		markPartial(c)
		message = "assessment deleted with cleanup errors"
	}
	return utils.SendSuccess(c, message, report)
}
