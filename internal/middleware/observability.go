package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/observability"
)

const (
	apiPrefix    = "/api/v2"
	partialLocal = "ledger_partial"
)

// MarkPartial flags the current request as a write that reached only part of
// the ledger, for example one response copy or some students of a cascade.
func MarkPartial(c *fiber.Ctx) {
	c.Locals(partialLocal, true)
}

func isPartial(c *fiber.Ctx) bool {
	partial, _ := c.Locals(partialLocal).(bool)
	return partial
}

// ledgerRequest is what the observability middleware records per API call.
type ledgerRequest struct {
	method   string
	route    string
	status   int
	duration time.Duration
	partial  bool
	caller   string
	role     string
}

// Observability records Prometheus metrics and one structured log line per
// ledger API call. Partially applied writes are counted per route and logged
// as warnings even when the status code is a success.
func Observability(logger zerolog.Logger) fiber.Handler {
	observability.RegisterMetrics()

	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		if !strings.HasPrefix(c.Path(), apiPrefix) {
			return err
		}

		req := ledgerRequest{
			method:   c.Method(),
			route:    routeTemplate(c),
			status:   c.Response().StatusCode(),
			duration: time.Since(start),
			partial:  isPartial(c),
		}
		req.caller, _ = c.Locals("user_id").(string)
		req.role, _ = c.Locals("user_role").(string)

		req.record()
		req.log(logger, GetCorrelationID(c))
		return err
	}
}

func (r ledgerRequest) record() {
	status := strconv.Itoa(r.status)
	observability.APIRequests().WithLabelValues(r.method, r.route, status).Inc()
	observability.APILatency().WithLabelValues(r.method, r.route).Observe(r.duration.Seconds())
	if r.status >= fiber.StatusBadRequest {
		observability.APIErrors().WithLabelValues(r.method, r.route, status).Inc()
	}
	if r.partial {
		observability.PartialResponses().WithLabelValues(r.method, r.route).Inc()
	}
}

func (r ledgerRequest) log(logger zerolog.Logger, correlationID string) {
	event := logger.Info()
	message := "ledger request completed"
	switch {
	case r.status >= fiber.StatusInternalServerError:
		event, message = logger.Error(), "ledger request failed"
	case r.status >= fiber.StatusBadRequest:
		event, message = logger.Warn(), "ledger request rejected"
	case r.partial:
		event, message = logger.Warn(), "ledger request partially applied"
	}

	event = event.
		Str("correlation_id", correlationID).
		Str("route", r.route).
		Str("method", r.method).
		Int("status", r.status).
		Float64("latency_ms", float64(r.duration)/float64(time.Millisecond)).
		Str("latency_bucket", latencyBucket(r.duration)).
		Bool("partial", r.partial)
	if r.caller != "" {
		event = event.Str("caller_id", r.caller).Str("caller_role", r.role)
	}
	event.Msg(message)
}

func routeTemplate(c *fiber.Ctx) string {
	if c.Route() != nil && c.Route().Path != "" {
		return c.Route().Path
	}
	return c.Path()
}

func latencyBucket(duration time.Duration) string {
	switch {
	case duration <= 25*time.Millisecond:
		return "<=25ms"
	case duration <= 50*time.Millisecond:
		return "<=50ms"
	case duration <= 100*time.Millisecond:
		return "<=100ms"
	case duration <= 250*time.Millisecond:
		return "<=250ms"
	case duration <= 500*time.Millisecond:
		return "<=500ms"
	default:
		return ">500ms"
	}
}
