package operation

import "context"

// Task is the body of an operation.
//
// Execute must arrange for exactly one terminal op.Finish call: either
// directly before returning, or later from another goroutine for tasks that
// outlive Execute. The context is cancelled when the operation is cancelled
// or its queue shuts down; long-running bodies should poll it to exit early.
// Cancellation is cooperative; nothing preempts a running body.
type Task interface {
	Execute(ctx context.Context, op *Operation)
}

// TaskFunc adapts a plain function into a Task. The operation is finished
// automatically when the function returns, with its error (if any) supplied
// to Finish. Use a hand-written Task instead when the work outlives Execute.
type TaskFunc func(ctx context.Context, op *Operation) error

func (f TaskFunc) Execute(ctx context.Context, op *Operation) {
	if err := f(ctx, op); err != nil {
		op.Finish(err)
		return
	}
	op.Finish()
}

// Finisher is an optional capability of a Task. When implemented, Finished
// runs during the Finishing transition, after errors are frozen and before
// observers are notified. Use it for cleanup that must see the final error
// set.
type Finisher interface {
	Finished(op *Operation, errs []error)
}

// WillEnqueuer is an optional capability of a Task. When implemented,
// WillEnqueue runs as the owning queue accepts the operation, right after it
// is marked pending. Conditions and exclusivity categories may still be
// added at that point.
type WillEnqueuer interface {
	WillEnqueue(op *Operation)
}
