package service

import (
	"context"

	"github.com/noah-isme/gema-ledger-api/internal/dto"
)

// EventPublisher fans review events out to dashboards.
type EventPublisher interface {
	Publish(ctx context.Context, event dto.ReviewEvent)
}

// SnapshotInvalidator drops cached analytics for students.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, studentIDs ...string)
}

// MirrorQueue records copy repairs that could not be applied inline.
type MirrorQueue interface {
	Enqueue(ctx context.Context, task MirrorTask) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, dto.ReviewEvent) {}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, ...string) {}

type noopMirrorQueue struct{}

func (noopMirrorQueue) Enqueue(context.Context, MirrorTask) error { return nil }

func publisherOrNoop(p EventPublisher) EventPublisher {
	if p == nil {
		return noopPublisher{}
	}
	return p
}

func invalidatorOrNoop(i SnapshotInvalidator) SnapshotInvalidator {
	if i == nil {
		return noopInvalidator{}
	}
	return i
}

func mirrorQueueOrNoop(q MirrorQueue) MirrorQueue {
	if q == nil {
		return noopMirrorQueue{}
	}
	return q
}
