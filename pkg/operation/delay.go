package operation

import (
	"context"
	"time"
)

// NewDelay returns an operation that finishes after waiting d. Use it as a
// dependency to postpone other work, or produce it from a running operation
// to schedule a follow-up.
//
// It is context-aware: if the operation is cancelled during the wait it
// finishes immediately.
func NewDelay(d time.Duration) *Operation {
	op := New("delay", delayTask{duration: d})
	op.SetQoS(QoSUtility)
	return op
}

// NewDelayUntil returns an operation that finishes once the given deadline
// has passed. A deadline in the past finishes immediately.
func NewDelayUntil(deadline time.Time) *Operation {
	op := New("delay_until", delayTask{deadline: deadline})
	op.SetQoS(QoSUtility)
	return op
}

type delayTask struct {
	duration time.Duration
	deadline time.Time
}

func (t delayTask) Execute(ctx context.Context, op *Operation) {
	d := t.duration
	if !t.deadline.IsZero() {
		d = time.Until(t.deadline)
	}
	if d <= 0 {
		op.Finish()
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
	op.Finish()
}
