package journal

import (
	"context"
	"time"
)

// EventType identifies an operation history event.
type EventType string

const (
	EventEnqueued  EventType = "operation.enqueued"
	EventStarted   EventType = "operation.started"
	EventProduced  EventType = "operation.produced"
	EventFinished  EventType = "operation.finished"
	EventFailed    EventType = "operation.failed"
	EventCancelled EventType = "operation.cancelled"
)

// Event is a minimal append-only history record for audit/debugging.
// It records what happened to an operation, never enough to re-run it:
// queued work is not persisted across restarts, history is.
type Event struct {
	OperationID string
	At          time.Time
	Type        EventType

	// Optional context.
	OperationName string

	// Small, human-oriented details (e.g. the produced operation's name,
	// an error string). Keep this low-volume.
	Detail string
}

// Store is an append-only history store for operation lifecycle events.
type Store interface {
	AppendEvent(ctx context.Context, ev Event) error
	ListEvents(ctx context.Context, operationID string) ([]Event, error)
}

// NoopStore discards all events.
type NoopStore struct{}

func (NoopStore) AppendEvent(ctx context.Context, ev Event) error { return nil }
func (NoopStore) ListEvents(ctx context.Context, operationID string) ([]Event, error) {
	return nil, nil
}
