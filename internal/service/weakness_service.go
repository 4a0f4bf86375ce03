package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-ledger-api/internal/analytics"
	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/observability"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

const weaknessCachePrefix = "analytics:weakness:"

// WeaknessService serves per-student weakness analyses backed by a Redis snapshot cache.
type WeaknessService interface {
	SnapshotInvalidator
	Analyze(ctx context.Context, studentID string) (dto.WeaknessAnalysisResponse, error)
}

type weaknessService struct {
	store    repository.ResponseStore
	names    analytics.NameResolver
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewWeaknessService constructs the analytics service. cache may be nil.
func NewWeaknessService(store repository.ResponseStore, names analytics.NameResolver, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) WeaknessService {
	return &weaknessService{
		store:    store,
		names:    names,
		cache:    cache,
		cacheTTL: ttl,
		logger:   logger.With().Str("component", "weakness_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-ledger-api/internal/service/weakness"),
		now:      time.Now,
	}
}

func weaknessCacheKey(studentID string) string {
	return weaknessCachePrefix + studentID
}

func (s *weaknessService) Analyze(ctx context.Context, studentID string) (dto.WeaknessAnalysisResponse, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return dto.WeaknessAnalysisResponse{}, fmt.Errorf("%w: student id", ErrMissingIdentity)
	}

	cacheKey := weaknessCacheKey(studentID)
	ctx, span := s.tracer.Start(ctx, "analytics.weakness")
	span.SetAttributes(
		attribute.String("analytics.student_id", studentID),
		attribute.String("analytics.cache_key", cacheKey),
	)
	defer span.End()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey).Result()
		if err == nil {
			var response dto.WeaknessAnalysisResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				response.CacheHit = true
				observability.AnalyticsCache().WithLabelValues("hit").Inc()
				span.SetAttributes(attribute.Bool("analytics.cache_hit", true))
				return response, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read weakness cache")
			span.RecordError(err)
		}
		observability.AnalyticsCache().WithLabelValues("miss").Inc()
	}

	responses, err := s.store.ListScopedByStudent(ctx, studentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_responses_failed")
		return dto.WeaknessAnalysisResponse{}, err
	}

	response := dto.WeaknessAnalysisResponse{
		WeaknessAnalysis: analytics.Analyze(studentID, responses, s.names),
		GeneratedAt:      s.now().UTC(),
	}
	span.SetAttributes(
		attribute.Int("analytics.responses", response.ResponsesAnalyzed),
		attribute.Int("analytics.weak_topics", len(response.WeakTopics)),
	)

	if s.cache != nil {
		payload, err := json.Marshal(response)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store weakness cache")
				span.RecordError(err)
			}
		}
	}

	return response, nil
}

// Invalidate drops the cached snapshots of the given students.
func (s *weaknessService) Invalidate(ctx context.Context, studentIDs ...string) {
	if s.cache == nil || len(studentIDs) == 0 {
		return
	}

	keys := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if id = strings.TrimSpace(id); id != "" {
			keys = append(keys, weaknessCacheKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}

	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Int("keys", len(keys)).Msg("failed to invalidate weakness cache")
		return
	}
	observability.AnalyticsCache().WithLabelValues("invalidated").Add(float64(len(keys)))
}
