package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
	"github.com/noah-isme/gema-ledger-api/internal/models"
	"github.com/noah-isme/gema-ledger-api/internal/observability"
	"github.com/noah-isme/gema-ledger-api/internal/repository"
)

// Mirror task kinds.
const (
	// MirrorKindReview copies review columns from the global copy to the scoped copy.
	MirrorKindReview = "review"
	// MirrorKindAnswers copies answers and score from the scoped copy to the global copy.
	MirrorKindAnswers = "answers"
	// MirrorKindAnswersToScoped copies answers and score from the global copy to the scoped copy.
	MirrorKindAnswersToScoped = "answers_to_scoped"
)

const (
	mirrorOutboxKey       = "ledger:outbox:mirror"
	mirrorMaxAttempts     = 10
	defaultDrainBatchSize = 100
)

// MirrorTask is a pending copy repair.
type MirrorTask struct {
	Kind       string    `json:"kind"`
	ResponseID string    `json:"response_id"`
	StudentID  string    `json:"student_id"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MirrorOutbox queues copy repairs in Redis and applies them on Drain.
type MirrorOutbox interface {
	MirrorQueue
	Drain(ctx context.Context, max int) (dto.OutboxDrainReport, error)
}

type mirrorOutbox struct {
	redis     *redis.Client
	store     repository.ResponseStore
	snapshots SnapshotInvalidator
	key       string
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewMirrorOutbox constructs the outbox. A nil Redis client yields a no-op
// outbox; the orphan sweep and reconcile remain the backstop. snapshots is
// told about every student whose scoped copy a repair rewrites.
func NewMirrorOutbox(redisClient *redis.Client, store repository.ResponseStore, snapshots SnapshotInvalidator, logger zerolog.Logger) MirrorOutbox {
	return &mirrorOutbox{
		redis:     redisClient,
		store:     store,
		snapshots: invalidatorOrNoop(snapshots),
		key:       mirrorOutboxKey,
		logger:    logger.With().Str("component", "mirror_outbox").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-ledger-api/internal/service/mirror_outbox"),
		now:       time.Now,
	}
}

func (o *mirrorOutbox) Enqueue(ctx context.Context, task MirrorTask) error {
	if o.redis == nil {
		o.logger.Warn().Str("kind", task.Kind).Str("response_id", task.ResponseID).Msg("mirror outbox disabled, repair left to sweep")
		return nil
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = o.now().UTC()
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}

	if err := o.redis.RPush(ctx, o.key, payload).Err(); err != nil {
		observability.OutboxTasks().WithLabelValues("enqueue_failed").Inc()
		return fmt.Errorf("enqueue mirror task: %w", err)
	}

	observability.OutboxTasks().WithLabelValues("enqueued").Inc()
	return nil
}

// Drain pops up to max tasks and applies them. Failed tasks go back on the
// queue after the pass so each task is tried at most once per drain.
func (o *mirrorOutbox) Drain(ctx context.Context, max int) (dto.OutboxDrainReport, error) {
	report := dto.OutboxDrainReport{}
	if o.redis == nil {
		return report, nil
	}
	if max <= 0 {
		max = defaultDrainBatchSize
	}

	ctx, span := o.tracer.Start(ctx, "outbox.drain")
	defer span.End()

	var failed []MirrorTask
	for report.Processed < max {
		raw, err := o.redis.LPop(ctx, o.key).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "outbox_pop_failed")
			return report, fmt.Errorf("pop mirror task: %w", err)
		}
		report.Processed++

		var task MirrorTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			o.logger.Warn().Err(err).Msg("discarding malformed mirror task")
			observability.OutboxTasks().WithLabelValues("invalid").Inc()
			report.Skipped++
			continue
		}

		applied, err := o.apply(ctx, task)
		switch {
		case err != nil:
			task.Attempts++
			o.logger.Warn().Err(err).
				Str("kind", task.Kind).
				Str("response_id", task.ResponseID).
				Int("attempts", task.Attempts).
				Msg("mirror task failed")
			if task.Attempts >= mirrorMaxAttempts {
				observability.OutboxTasks().WithLabelValues("dropped").Inc()
				report.Skipped++
				continue
			}
			failed = append(failed, task)
		case applied:
			observability.OutboxTasks().WithLabelValues("applied").Inc()
			report.Applied++
		default:
			observability.OutboxTasks().WithLabelValues("skipped").Inc()
			report.Skipped++
		}
	}

	for _, task := range failed {
		if err := o.Enqueue(ctx, task); err != nil {
			span.RecordError(err)
			o.logger.Error().Err(err).Str("response_id", task.ResponseID).Msg("failed to requeue mirror task")
			continue
		}
		report.Requeued++
	}

	pending, err := o.redis.LLen(ctx, o.key).Result()
	if err != nil {
		span.RecordError(err)
	}
	report.Pending = int(pending)

	span.SetAttributes(
		attribute.Int("outbox.processed", report.Processed),
		attribute.Int("outbox.applied", report.Applied),
		attribute.Int("outbox.requeued", report.Requeued),
	)

	return report, nil
}

// apply reports false when there was nothing to repair.
func (o *mirrorOutbox) apply(ctx context.Context, task MirrorTask) (bool, error) {
	switch task.Kind {
	case MirrorKindReview:
		global, err := o.store.GetGlobal(ctx, task.ResponseID)
		if err != nil || global == nil {
			return false, err
		}
		scoped, err := o.store.GetScoped(ctx, global.StudentID, global.ID)
		if err != nil {
			return false, err
		}
		if scoped == nil {
			return o.restoreScoped(ctx, global)
		}
		scoped.CopyReviewState(*global)
		_, err = o.store.UpdateReview(ctx, repository.CopyScoped, scoped)
		return err == nil, err
	case MirrorKindAnswers:
		scoped, err := o.store.GetScoped(ctx, task.StudentID, task.ResponseID)
		if err != nil || scoped == nil {
			return false, err
		}
		global, err := o.store.GetGlobal(ctx, task.ResponseID)
		if err != nil {
			return false, err
		}
		if global == nil {
			return true, o.store.Save(ctx, repository.CopyGlobal, scoped)
		}
		if global.StudentID != scoped.StudentID {
			o.logger.Warn().
				Str("response_id", task.ResponseID).
				Str("student_id", scoped.StudentID).
				Str("global_student_id", global.StudentID).
				Msg("response id held by another student, repair skipped")
			return false, nil
		}
		global.SetAnswers(scoped.DecodedAnswers())
		global.Score = scoped.Score
		_, err = o.store.UpdateAnswers(ctx, repository.CopyGlobal, global)
		return err == nil, err
	case MirrorKindAnswersToScoped:
		global, err := o.store.GetGlobal(ctx, task.ResponseID)
		if err != nil || global == nil {
			return false, err
		}
		scoped, err := o.store.GetScoped(ctx, global.StudentID, global.ID)
		if err != nil {
			return false, err
		}
		if scoped == nil {
			return o.restoreScoped(ctx, global)
		}
		scoped.SetAnswers(global.DecodedAnswers())
		scoped.Score = global.Score
		if _, err = o.store.UpdateAnswers(ctx, repository.CopyScoped, scoped); err != nil {
			return false, err
		}
		o.snapshots.Invalidate(ctx, scoped.StudentID)
		return true, nil
	default:
		o.logger.Warn().Str("kind", task.Kind).Msg("unknown mirror task kind")
		return false, nil
	}
}

func (o *mirrorOutbox) restoreScoped(ctx context.Context, global *models.StudentResponse) (bool, error) {
	if err := o.store.Save(ctx, repository.CopyScoped, global); err != nil {
		return false, err
	}
	o.snapshots.Invalidate(ctx, global.StudentID)
	return true, nil
}
