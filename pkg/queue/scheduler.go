package queue

import (
	"context"

	"github.com/petrijr/opera/pkg/operation"
)

// scheduler is the queue's single scheduling goroutine. State listeners and
// finishing dependencies mark operations dirty; the scheduler re-examines
// each dirty operation and decides, at most once per operation, to start
// condition evaluation and to hand it to the dispatcher.
//
// Operation state only moves forward, so examining a stale snapshot is
// safe: a decision is only ever deferred, never wrongly taken, and the next
// wakeup re-examines.
func (q *Queue) scheduler() {
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
		}

		for {
			q.dirtyMu.Lock()
			if len(q.dirty) == 0 {
				q.dirtyMu.Unlock()
				break
			}
			batch := q.dirty
			q.dirty = make(map[*operation.Operation]struct{})
			q.dirtyMu.Unlock()

			for op := range batch {
				select {
				case <-q.stopCh:
					return
				default:
				}
				q.examine(op)
			}
		}
	}
}

// examine decides what a dirty operation needs next.
//
// Pending operations whose dependencies have all finished (or that were
// cancelled, which bypasses dependencies) move on to condition evaluation.
// Ready operations that are dependency-satisfied or cancelled are claimed
// and dispatched; the claim guarantees a single dispatch no matter how many
// wakeups race in.
func (q *Queue) examine(op *operation.Operation) {
	q.mu.Lock()
	rec, ok := q.tracked[op]
	q.mu.Unlock()
	if !ok {
		return
	}

	switch op.State() {
	case operation.Pending:
		if rec.evaluating {
			return
		}
		if op.Cancelled() || op.DependenciesFinished() {
			rec.evaluating = true
			go operation.EvaluateConditions(op, q.Add)
		}

	case operation.Ready:
		if rec.claimed {
			return
		}
		if op.Cancelled() || op.DependenciesFinished() {
			rec.claimed = true
			q.dispatch(op)
		}
	}
}

// dispatch hands a claimed operation to the dispatcher. The worker derives
// a per-operation context from the queue's base context and cancels it when
// the operation is cancelled or finished, so bodies can exit cooperatively.
func (q *Queue) dispatch(op *operation.Operation) {
	q.dispatcher.Dispatch(op.QoS(), func() {
		ctx, cancel := context.WithCancel(q.baseCtx)
		op.OnStateChange(func(op *operation.Operation) {
			if op.Cancelled() || op.State() == operation.Finished {
				cancel()
			}
		})
		op.Start(ctx)
	})
}
