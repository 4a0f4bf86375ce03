package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/observability"
)

const (
	reviewEventBufferSize = 32
	reviewEventSeenWindow = 256
)

// ReviewEventHub broadcasts review events to local stream subscribers and
// relays them to other nodes over Redis pub/sub and NATS.
type ReviewEventHub interface {
	EventPublisher
	Subscribe() (<-chan dto.ReviewEvent, func())
	Start(ctx context.Context)
}

type reviewEventHub struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
	now          func() time.Time

	mu          sync.RWMutex
	subscribers map[chan dto.ReviewEvent]struct{}

	// Remote events arrive once per transport; seen drops the duplicate.
	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

type reviewEnvelope struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Event  dto.ReviewEvent `json:"event"`
}

// NewReviewEventHub constructs the hub. Either transport may be nil.
func NewReviewEventHub(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) ReviewEventHub {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":review-events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".review-events"
	}

	return &reviewEventHub{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "review_events").Logger(),
		nodeID:       uuid.NewString(),
		now:          time.Now,
		subscribers:  make(map[chan dto.ReviewEvent]struct{}),
		seen:         make(map[string]struct{}),
	}
}

func (h *reviewEventHub) Start(ctx context.Context) {
	if h.redis != nil && h.redisChannel != "" {
		go h.consumeRedis(ctx)
	}
	if h.nats != nil && h.natsSubject != "" {
		go h.consumeNATS(ctx)
	}
}

func (h *reviewEventHub) Publish(ctx context.Context, event dto.ReviewEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = h.now().UTC()
	}

	h.broadcast(event)

	payload, err := json.Marshal(reviewEnvelope{ID: uuid.NewString(), Source: h.nodeID, Event: event})
	if err != nil {
		h.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to encode review event")
		return
	}

	if h.redis != nil && h.redisChannel != "" {
		if err := h.redis.Publish(ctx, h.redisChannel, payload).Err(); err != nil {
			h.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to publish review event to redis")
		}
	}

	if h.nats != nil && h.natsSubject != "" {
		if err := h.nats.Publish(h.natsSubject, payload); err != nil {
			h.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to publish review event to nats")
		}
	}
}

func (h *reviewEventHub) Subscribe() (<-chan dto.ReviewEvent, func()) {
	channel := make(chan dto.ReviewEvent, reviewEventBufferSize)

	h.mu.Lock()
	h.subscribers[channel] = struct{}{}
	h.mu.Unlock()
	observability.ReviewStreamClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, channel)
			close(channel)
			h.mu.Unlock()
			observability.ReviewStreamClients().Dec()
		})
	}

	return channel, cleanup
}

// broadcast drops events for subscribers whose buffer is full.
func (h *reviewEventHub) broadcast(event dto.ReviewEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *reviewEventHub) consumeRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, h.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.logger.Error().Err(err).Msg("review event redis subscription closed")
			return
		}
		h.handleRemote([]byte(msg.Payload))
	}
}

func (h *reviewEventHub) consumeNATS(ctx context.Context) {
	sub, err := h.nats.Subscribe(h.natsSubject, func(msg *nats.Msg) {
		h.handleRemote(msg.Data)
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to subscribe to review events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			h.logger.Warn().Err(err).Msg("failed to drain review events subscription")
		}
	}()
}

func (h *reviewEventHub) handleRemote(payload []byte) {
	var envelope reviewEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Warn().Err(err).Msg("invalid review event payload")
		return
	}

	if envelope.Source == h.nodeID || h.markSeen(envelope.ID) {
		return
	}

	h.broadcast(envelope.Event)
}

// markSeen reports whether the envelope was already delivered.
func (h *reviewEventHub) markSeen(id string) bool {
	if id == "" {
		return false
	}

	h.seenMu.Lock()
	defer h.seenMu.Unlock()

	if _, ok := h.seen[id]; ok {
		return true
	}
	h.seen[id] = struct{}{}
	h.seenOrder = append(h.seenOrder, id)
	if len(h.seenOrder) > reviewEventSeenWindow {
		delete(h.seen, h.seenOrder[0])
		h.seenOrder = h.seenOrder[1:]
	}
	return false
}
