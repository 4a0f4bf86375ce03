package handler

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
)

const reviewStreamPingInterval = 30 * time.Second

// ReviewEventSource hands out review event subscriptions.
type ReviewEventSource interface {
	Subscribe() (<-chan dto.ReviewEvent, func())
}

// ReviewStreamHandler streams review events to instructor dashboards over websockets.
type ReviewStreamHandler struct {
	source ReviewEventSource
	logger zerolog.Logger
}

// NewReviewStreamHandler constructs the websocket stream handler.
func NewReviewStreamHandler(source ReviewEventSource, logger zerolog.Logger) *ReviewStreamHandler {
	return &ReviewStreamHandler{
		source: source,
		logger: logger.With().Str("component", "review_stream_handler").Logger(),
	}
}

// Register binds the websocket upgrade route.
func (h *ReviewStreamHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("stream_user_id", identityFromContext(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *ReviewStreamHandler) handleConnection(conn *websocket.Conn) {
	filter := newStreamFilter(conn.Query("types"), conn.Query("student_id"))
	userID, _ := conn.Locals("stream_user_id").(string)

	events, cancel := h.source.Subscribe()
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Info().Str("user_id", userID).Msg("review stream connected")
	defer h.logger.Info().Str("user_id", userID).Msg("review stream disconnected")

	ticker := time.NewTicker(reviewStreamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if !filter.matches(event) {
				continue
			}
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug().Err(err).Str("user_id", userID).Msg("review stream write failed")
				return
			}
		}
	}
}

type streamFilter struct {
	types     map[string]struct{}
	studentID string
}

func newStreamFilter(types, studentID string) streamFilter {
	filter := streamFilter{studentID: strings.TrimSpace(studentID)}
	for _, part := range strings.Split(types, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			if filter.types == nil {
				filter.types = make(map[string]struct{})
			}
			filter.types[trimmed] = struct{}{}
		}
	}
	return filter
}

func (f streamFilter) matches(event dto.ReviewEvent) bool {
	if len(f.types) > 0 {
		if _, ok := f.types[event.Type]; !ok {
			return false
		}
	}
	if f.studentID != "" && event.StudentID != "" && event.StudentID != f.studentID {
		return false
	}
	return true
}
