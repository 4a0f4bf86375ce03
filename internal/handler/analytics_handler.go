package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/curriculum"
	"github.com/noah-isme/gema-ledger-api/internal/service"
	"github.com/noah-isme/gema-ledger-api/internal/utils"
)

// TopicLister lists curriculum topic paths.
type TopicLister interface {
	ListTopicPaths() []curriculum.TopicOption
}

// AnalyticsHandler serves weakness analysis and the topic catalog.
type AnalyticsHandler struct {
	weakness service.WeaknessService
	topics   TopicLister
	logger   zerolog.Logger
}

// NewAnalyticsHandler constructs an analytics handler.
func NewAnalyticsHandler(weakness service.WeaknessService, topics TopicLister, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		weakness: weakness,
		topics:   topics,
		logger:   logger.With().Str("component", "analytics_handler").Logger(),
	}
}

// RegisterStudentRoutes binds per-student analytics under /students/:studentId.
func (h *AnalyticsHandler) RegisterStudentRoutes(router fiber.Router) {
	router.Get("/:studentId/weakness", h.weaknessAnalysis)
}

// RegisterTopicRoutes binds the topic catalog listing.
func (h *AnalyticsHandler) RegisterTopicRoutes(router fiber.Router) {
	router.Get("/", h.listTopics)
}

func (h *AnalyticsHandler) weaknessAnalysis(c *fiber.Ctx) error {
	analysis, err := h.weakness.Analyze(requestContext(c), c.Params("studentId"))
	if err != nil {
		return writeServiceError(c, h.logger, err, "analyze weaknesses")
	}

	if !analysis.HasData {
		return utils.SendSuccess(c, "no submissions yet", analysis)
	}
	return utils.SendSuccess(c, "weakness analysis generated", analysis)
}

func (h *AnalyticsHandler) listTopics(c *fiber.Ctx) error {
	if h.topics == nil {
		return utils.SendCollection(c, "topics retrieved", "no topics configured", nil)
	}
	return utils.SendCollection(c, "topics retrieved", "no topics configured", h.topics.ListTopicPaths())
}
