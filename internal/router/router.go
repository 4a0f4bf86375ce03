package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-ledger-api/internal/config"
	"github.com/noah-isme/gema-ledger-api/internal/handler"
	"github.com/noah-isme/gema-ledger-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssessmentHandler   *handler.AssessmentHandler
	ResponseHandler     *handler.ResponseHandler
	ReviewHandler       *handler.ReviewHandler
	ReviewStreamHandler *handler.ReviewStreamHandler
	AnalyticsHandler    *handler.AnalyticsHandler
	MaintenanceHandler  *handler.MaintenanceHandler
	HealthProbes        []handler.HealthProbe
	JWTMiddleware       fiber.Handler
	StaffMiddleware     fiber.Handler
	SubmitRateLimiter   fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	// v1 keeps the health endpoint stable for probes
	health := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	health.Get("/health", handler.HealthCheck(cfg, deps.HealthProbes...))

	jwtMiddleware := orNext(deps.JWTMiddleware)
	staff := orNext(deps.StaffMiddleware)

	api := app.Group("/api/v2", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	}, jwtMiddleware)

	if deps.AssessmentHandler != nil {
		deps.AssessmentHandler.Register(api.Group("/assessments"))
	}

	if deps.ResponseHandler != nil {
		deps.ResponseHandler.Register(api.Group("/responses", orNext(deps.SubmitRateLimiter)))
		deps.ResponseHandler.RegisterStudentRoutes(api.Group("/students"))
	}

	if deps.AnalyticsHandler != nil {
		deps.AnalyticsHandler.RegisterStudentRoutes(api.Group("/students"))
		deps.AnalyticsHandler.RegisterTopicRoutes(api.Group("/topics"))
	}

	review := api.Group("/review", staff)
	if deps.ReviewStreamHandler != nil {
		deps.ReviewStreamHandler.Register(review)
	}
	if deps.ReviewHandler != nil {
		deps.ReviewHandler.Register(review)
	}

	if deps.MaintenanceHandler != nil {
		deps.MaintenanceHandler.Register(api.Group("/maintenance", staff))
	}
}

func orNext(h fiber.Handler) fiber.Handler {
	if h == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return h
}
