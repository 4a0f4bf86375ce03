package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/middleware"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
	"github.com/noah-isme/gema-ledger-api/internal/service"
	"github.com/noah-isme/gema-ledger-api/internal/utils"
)

// identityFromContext returns the caller id placed in locals by the JWT middleware.
func identityFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_id"); v != nil {
		switch id := v.(type) {
		case string:
			return strings.TrimSpace(id)
		case uint:
			return strconv.FormatUint(uint64(id), 10)
		case int:
			if id < 0 {
				return ""
			}
			return strconv.Itoa(id)
		case fmt.Stringer:
			return strings.TrimSpace(id.String())
		}
	}
	return ""
}

// firstNonEmpty prefers explicit request fields over the token identity.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// markPartial tags the request so observability counts it as partially applied.
func markPartial(c *fiber.Ctx) {
	middleware.MarkPartial(c)
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}

func isClientError(err error) bool {
	return isValidationError(err) ||
		errors.Is(err, service.ErrInvalidStatusTransition) ||
		errors.Is(err, service.ErrInvalidAnswerPayload) ||
		errors.Is(err, service.ErrInvalidAssessment) ||
		errors.Is(err, service.ErrDrawingRejected) ||
		errors.Is(err, service.ErrMissingIdentity)
}

// writeServiceError maps service sentinels onto the response envelope.
func writeServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, operation string) error {
	switch {
	case isClientError(err):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrResponseIDTaken), errors.Is(err, service.ErrResponseLocked):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrAssessmentNotFound), errors.Is(err, service.ErrResponseNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrStoreUnavailable):
		requestLogger(logger, c).Error().Err(err).Str("operation", operation).Msg("store unavailable")
		return utils.SendError(c, fiber.StatusServiceUnavailable, "store unavailable, retry later")
	default:
		requestLogger(logger, c).Error().Err(err).Str("operation", operation).Msg("request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to "+operation)
	}
}
