package opera

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/opera/internal/journal"
)

// OperationEvent is one record of an operation's lifecycle history.
type OperationEvent struct {
	OperationID   string
	OperationName string
	At            time.Time
	Type          string
	Detail        string
}

// Event types recorded by JournalObserver.
const (
	EventEnqueued  = string(journal.EventEnqueued)
	EventStarted   = string(journal.EventStarted)
	EventProduced  = string(journal.EventProduced)
	EventFinished  = string(journal.EventFinished)
	EventFailed    = string(journal.EventFailed)
	EventCancelled = string(journal.EventCancelled)
)

// JournalObserver records operation lifecycle events into an append-only
// SQLite history. It is an audit/debugging aid: the journal remembers what
// happened, it never restores or re-runs work.
//
// Attach it to every operation of a queue via Config.Observer, and register
// Hook on the same queue to also record submissions:
//
//	db, _ := sql.Open("sqlite", "file:opera.db?_journal=WAL")
//	j, err := opera.NewJournalObserver(db)
//	q := opera.NewQueueWithConfig(opera.QueueConfig{Observer: j})
//	q.RegisterEnqueueHook(j.Hook())
type JournalObserver struct {
	// Logger receives append failures; observers have no error return.
	// Nil means slog.Default().
	Logger *slog.Logger

	store journal.Store
}

var _ Observer = (*JournalObserver)(nil)

// NewJournalObserver prepares the journal schema on db and returns the
// observer. The caller owns db and typically opens it with the
// modernc.org/sqlite driver.
func NewJournalObserver(db *sql.DB) (*JournalObserver, error) {
	store, err := journal.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return &JournalObserver{store: store}, nil
}

// Hook returns an enqueue hook that records an enqueued event for every
// operation submitted to the queue it is registered on.
func (j *JournalObserver) Hook() EnqueueHook {
	return func(op *Operation, q *Queue) {
		j.append(journal.Event{
			OperationID:   op.ID(),
			OperationName: op.Name(),
			Type:          journal.EventEnqueued,
		})
	}
}

func (j *JournalObserver) OperationDidStart(op *Operation) {
	j.append(journal.Event{
		OperationID:   op.ID(),
		OperationName: op.Name(),
		Type:          journal.EventStarted,
	})
}

func (j *JournalObserver) OperationDidProduce(op, produced *Operation) {
	j.append(journal.Event{
		OperationID:   op.ID(),
		OperationName: op.Name(),
		Type:          journal.EventProduced,
		Detail:        produced.Name() + " (" + produced.ID() + ")",
	})
}

func (j *JournalObserver) OperationDidFinish(op *Operation, errs []error) {
	ev := journal.Event{
		OperationID:   op.ID(),
		OperationName: op.Name(),
		Type:          journal.EventFinished,
	}
	switch {
	case op.Cancelled():
		ev.Type = journal.EventCancelled
		ev.Detail = joinErrors(errs)
	case len(errs) > 0:
		ev.Type = journal.EventFailed
		ev.Detail = joinErrors(errs)
	}
	j.append(ev)
}

// Events returns the recorded history for one operation, oldest first.
func (j *JournalObserver) Events(ctx context.Context, operationID string) ([]OperationEvent, error) {
	evs, err := j.store.ListEvents(ctx, operationID)
	if err != nil {
		return nil, err
	}
	out := make([]OperationEvent, 0, len(evs))
	for _, ev := range evs {
		out = append(out, OperationEvent{
			OperationID:   ev.OperationID,
			OperationName: ev.OperationName,
			At:            ev.At,
			Type:          string(ev.Type),
			Detail:        ev.Detail,
		})
	}
	return out, nil
}

func (j *JournalObserver) append(ev journal.Event) {
	if err := j.store.AppendEvent(context.Background(), ev); err != nil {
		logger := j.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("journal append failed",
			slog.String("operation", ev.OperationName),
			slog.String("operation_id", ev.OperationID),
			slog.String("event", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}

func joinErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	return errors.Join(errs...).Error()
}
