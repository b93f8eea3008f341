package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/petrijr/opera/pkg/operation"
)

// Group is an operation that runs child operations on a private queue and
// finishes once every child has finished. Child failures do not stop the
// other children; their errors are collected, wrapped with the child's
// name, and become the group's errors.
//
// Children added before the group executes are held back until it does, so
// a group behind a dependency does not leak work early. Children may also
// be added while the group is running, typically by another child (a
// produced operation inside the group stays inside the group).
//
// Cancelling the group cancels its children. A group that finishes without
// executing (cancelled before it started) cancels its held children and
// still drives each of them to Finished.
type Group struct {
	*operation.Operation

	inner *Queue

	mu        sync.Mutex
	started   bool
	pending   []*operation.Operation
	childErrs []error
}

// NewGroup creates a group containing the given children. The group itself
// is submitted to a queue like any other operation.
func NewGroup(name string, children ...*operation.Operation) *Group {
	g := &Group{}
	g.inner = New(Config{
		Observer: operation.FuncObserver{
			DidFinish: g.childFinished,
		},
	})
	g.Operation = operation.New(name, groupTask{g: g})
	g.Operation.OnStateChange(g.stateChanged)

	for _, child := range children {
		if err := g.Add(child); err != nil {
			panic(fmt.Sprintf("opera: group %q rejected child %q: %v", name, child.Name(), err))
		}
	}
	return g
}

// Add hands a child to the group. Before the group executes the child is
// held; afterwards it goes straight to the group's private queue. Adding a
// child to a finished group returns ErrQueueStopped.
func (g *Group) Add(child *operation.Operation) error {
	select {
	case <-g.Done():
		return ErrQueueStopped
	default:
	}

	g.mu.Lock()
	if !g.started {
		g.pending = append(g.pending, child)
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()
	return g.inner.Add(child)
}

func (g *Group) stateChanged(op *operation.Operation) {
	if op.Cancelled() && op.State() != operation.Finished {
		g.inner.CancelAll()
		return
	}
	if op.State() != operation.Finished {
		return
	}

	// Finished without executing: the cancellation fast path skipped the
	// task body. Held children still get a terminal state; they are
	// cancelled and run through the queue so dependents and Done waiters
	// unblock.
	pending, ran := g.takePending()
	if ran {
		return
	}
	for _, child := range pending {
		child.Cancel()
		_ = g.inner.Add(child)
	}
	go func() {
		_ = g.inner.Join(context.Background())
		g.inner.Stop()
	}()
}

// takePending claims the held children, marking the group as started so
// later Adds go to the queue directly. ran reports whether a previous call
// already claimed them.
func (g *Group) takePending() (pending []*operation.Operation, ran bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil, true
	}
	g.started = true
	pending = g.pending
	g.pending = nil
	return pending, false
}

func (g *Group) childFinished(child *operation.Operation, errs []error) {
	if len(errs) == 0 {
		return
	}
	g.mu.Lock()
	for _, err := range errs {
		g.childErrs = append(g.childErrs, fmt.Errorf("%s: %w", child.Name(), err))
	}
	g.mu.Unlock()
}

type groupTask struct {
	g *Group
}

func (t groupTask) Execute(ctx context.Context, op *operation.Operation) {
	g := t.g

	pending, _ := g.takePending()
	for _, child := range pending {
		if err := g.inner.Add(child); err != nil {
			g.childFinished(child, []error{err})
		}
	}

	if err := g.inner.Join(ctx); err != nil {
		// The group was cancelled or its queue is shutting down. Cancel the
		// children and wait for the ones already executing to wind down.
		g.inner.CancelAll()
		_ = g.inner.Join(context.Background())
	}
	g.inner.Stop()

	g.mu.Lock()
	errs := append([]error(nil), g.childErrs...)
	g.mu.Unlock()

	op.Finish(errs...)
}
