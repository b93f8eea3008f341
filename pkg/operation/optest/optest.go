// Package optest provides utilities for testing operations.
package optest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/opera/pkg/operation"
)

// seq numbers every recorded event process-wide, so events seen by
// different recorders (or for different operations) can be ordered against
// each other.
var seq atomic.Int64

// EventKind identifies a recorded lifecycle event.
type EventKind string

const (
	KindStarted  EventKind = "started"
	KindProduced EventKind = "produced"
	KindFinished EventKind = "finished"
)

// Event is one recorded lifecycle callback.
type Event struct {
	Seq      int64
	Kind     EventKind
	Op       *operation.Operation
	Produced *operation.Operation
	Errs     []error
}

// Recorder is an Observer that remembers every lifecycle event it sees.
// Attach one to a single operation, or to a whole queue via
// Config.Observer.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ operation.Observer = (*Recorder)(nil)

func (r *Recorder) OperationDidStart(op *operation.Operation) {
	r.record(Event{Kind: KindStarted, Op: op})
}

func (r *Recorder) OperationDidProduce(op, produced *operation.Operation) {
	r.record(Event{Kind: KindProduced, Op: op, Produced: produced})
}

func (r *Recorder) OperationDidFinish(op *operation.Operation, errs []error) {
	r.record(Event{Kind: KindFinished, Op: op, Errs: errs})
}

func (r *Recorder) record(ev Event) {
	ev.Seq = seq.Add(1)
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a snapshot of everything recorded so far, in arrival
// order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds recorded for one operation, in order.
func (r *Recorder) Kinds(op *operation.Operation) []EventKind {
	var kinds []EventKind
	for _, ev := range r.Events() {
		if ev.Op == op {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

// FinishCount returns how many DidFinish callbacks were recorded for op.
func (r *Recorder) FinishCount(op *operation.Operation) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Op == op && ev.Kind == KindFinished {
			n++
		}
	}
	return n
}

// BlockingTask is a Task that parks in Executing until released. Use it to
// hold an operation mid-flight while asserting on queue behavior.
type BlockingTask struct {
	startOnce   sync.Once
	releaseOnce sync.Once
	started     chan struct{}
	release     chan struct{}
}

// NewBlockingTask returns a task for a single operation.
func NewBlockingTask() *BlockingTask {
	return &BlockingTask{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (t *BlockingTask) Execute(ctx context.Context, op *operation.Operation) {
	t.startOnce.Do(func() { close(t.started) })
	select {
	case <-t.release:
	case <-ctx.Done():
	}
	op.Finish()
}

// Started is closed once Execute has begun.
func (t *BlockingTask) Started() <-chan struct{} { return t.started }

// Release lets Execute return. Safe to call more than once.
func (t *BlockingTask) Release() {
	t.releaseOnce.Do(func() { close(t.release) })
}

// NopTask returns a task function that finishes immediately.
func NopTask() operation.TaskFunc {
	return func(ctx context.Context, op *operation.Operation) error { return nil }
}

// FailingTask returns a task function that fails with err.
func FailingTask(err error) operation.TaskFunc {
	return func(ctx context.Context, op *operation.Operation) error { return err }
}

// GoDispatcher runs every dispatched operation on its own goroutine,
// bypassing any pooling. Handy in tests that want maximum interleaving.
type GoDispatcher struct{}

func (GoDispatcher) Dispatch(qos operation.QoS, fn func()) { go fn() }

// WaitFinished fails the test if op does not finish within timeout.
func WaitFinished(t *testing.T, op *operation.Operation, timeout time.Duration) {
	t.Helper()
	select {
	case <-op.Done():
	case <-time.After(timeout):
		t.Fatalf("operation %q did not finish within %s (state %s)", op.Name(), timeout, op.State())
	}
}
