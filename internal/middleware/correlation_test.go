package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func correlationApp() *fiber.App {
	app := fiber.New()
	logger := zerolog.Nop()
	Register(app, Config{Logger: &logger})
	app.Get("/api/v2/echo", func(c *fiber.Ctx) error {
		return c.SendString(CorrelationIDFromContext(c.UserContext()))
	})
	app.Get("/api/v2/panic", func(c *fiber.Ctx) error {
		panic("boom")
	})
	return app
}

func TestCorrelationIDReusesIncomingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/echo", nil)
	req.Header.Set(CorrelationHeader, "trace-123")

	resp, err := correlationApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, "trace-123", resp.Header.Get(CorrelationHeader))
}

func TestCorrelationIDFallsBackToRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/echo", nil)
	req.Header.Set("X-Request-ID", "req-9")

	resp, err := correlationApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-9", resp.Header.Get(CorrelationHeader))
}

func TestCorrelationIDReplacesUnsafeValues(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/echo", nil)
	req.Header.Set(CorrelationHeader, strings.Repeat("x", maxCorrelationLength+1))

	resp, err := correlationApp().Test(req)
	require.NoError(t, err)
	generated := resp.Header.Get(CorrelationHeader)
	require.Len(t, generated, 36)
}

func TestRegisterRecoversPanics(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/panic", nil)

	resp, err := correlationApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestSanitizeCorrelationID(t *testing.T) {
	require.Equal(t, "abc-1", sanitizeCorrelationID("  abc-1 "))
	require.Empty(t, sanitizeCorrelationID("has space"))
	require.Empty(t, sanitizeCorrelationID(""))
}
