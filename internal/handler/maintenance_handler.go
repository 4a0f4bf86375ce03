package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/service"
	"github.com/noah-isme/gema-ledger-api/internal/utils"
)

const defaultDrainBatch = 100

// MaintenanceHandler exposes consistency tooling for operators.
type MaintenanceHandler struct {
	cleanup service.CleanupService
	outbox  service.MirrorOutbox
	logger  zerolog.Logger
}

// NewMaintenanceHandler constructs a maintenance handler.
func NewMaintenanceHandler(cleanup service.CleanupService, outbox service.MirrorOutbox, logger zerolog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		cleanup: cleanup,
		outbox:  outbox,
		logger:  logger.With().Str("component", "maintenance_handler").Logger(),
	}
}

// Register binds maintenance routes.
func (h *MaintenanceHandler) Register(router fiber.Router) {
	router.Post("/orphans", h.orphans)
	router.Post("/instructors/:instructorId/cleanup", h.instructorCleanup)
	router.Post("/reconcile", h.reconcile)
	router.Post("/outbox/drain", h.drainOutbox)
}

func (h *MaintenanceHandler) orphans(c *fiber.Ctx) error {
	report, err := h.cleanup.CleanupOrphans(requestContext(c))
	if err != nil {
		return writeServiceError(c, h.logger, err, "clean up orphans")
	}

	requestLogger(h.logger, c).Info().
		Int("deleted_global", report.DeletedGlobalResponses).
		Int("deleted_scoped", report.DeletedUserResponses).
		Int("affected_students", report.AffectedStudents).
		Msg("orphan sweep finished")
	return utils.SendSuccess(c, "orphan cleanup finished", report)
}

func (h *MaintenanceHandler) instructorCleanup(c *fiber.Ctx) error {
	instructorID := firstNonEmpty(c.Params("instructorId"), identityFromContext(c))

	report, err := h.cleanup.CleanupForInstructor(requestContext(c), instructorID)
	if err != nil {
		return writeServiceError(c, h.logger, err, "clean up instructor responses")
	}

	return utils.SendSuccess(c, "instructor cleanup finished", report)
}

func (h *MaintenanceHandler) reconcile(c *fiber.Ctx) error {
	report, err := h.cleanup.ReconcileCopies(requestContext(c))
	if err != nil {
		return writeServiceError(c, h.logger, err, "reconcile response copies")
	}

	return utils.SendSuccess(c, "reconcile finished", report)
}

func (h *MaintenanceHandler) drainOutbox(c *fiber.Ctx) error {
	if h.outbox == nil {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "mirror outbox not configured")
	}

	limit := c.QueryInt("limit", defaultDrainBatch)
	if limit <= 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "limit must be positive")
	}

	report, err := h.outbox.Drain(requestContext(c), limit)
	if err != nil {
		return writeServiceError(c, h.logger, err, "drain mirror outbox")
	}

	return utils.SendSuccess(c, "mirror outbox drained", report)
}
