package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
	"github.com/noah-isme/gema-ledger-api/internal/service"
	"github.com/noah-isme/gema-ledger-api/internal/utils"
)

// ResponseHandler accepts student submissions and serves their history.
type ResponseHandler struct {
	service service.ResponseService
	logger  zerolog.Logger
}

// NewResponseHandler constructs a response handler.
func NewResponseHandler(service service.ResponseService, logger zerolog.Logger) *ResponseHandler {
	return &ResponseHandler{
		service: service,
		logger:  logger.With().Str("component", "response_handler").Logger(),
	}
}

// Register binds the submission route.
func (h *ResponseHandler) Register(router fiber.Router) {
	router.Post("/", h.submit)
}

// RegisterStudentRoutes binds per-student reads under /students/:studentId.
func (h *ResponseHandler) RegisterStudentRoutes(router fiber.Router) {
	router.Get("/:studentId/responses", h.history)
}

func (h *ResponseHandler) submit(c *fiber.Ctx) error {
	var payload dto.ResponseSubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	payload.StudentID = firstNonEmpty(payload.StudentID, identityFromContext(c))

	result, err := h.service.Submit(requestContext(c), payload)
	if err != nil {
		if errors.Is(err, repository.ErrPartialWrite) {
			requestLogger(h.logger, c).Warn().Err(err).Str("response_id", result.ID).Msg("submission partially stored")
			markPartial(c)
			return utils.SendAccepted(c, "submission partially stored, retry with the same id", result)
		}
		return writeServiceError(c, h.logger, err, "submit response")
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "response submitted", result)
}

func (h *ResponseHandler) history(c *fiber.Ctx) error {
	responses, err := h.service.ListStudentHistory(requestContext(c), c.Params("studentId"))
	if err != nil {
		return writeServiceError(c, h.logger, err, "load responses")
	}

	return utils.SendCollection(c, "responses retrieved", "no submissions yet", responses)
}
