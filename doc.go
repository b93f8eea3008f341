// Package opera provides composable, cancellable, observable units of work
// for Go.
//
// Opera is designed for applications that coordinate work inside one
// process: tasks that depend on other tasks, preconditions that may demand
// work of their own, and activities that must not overlap. There is no
// network or distributed component; everything runs in the process, on an
// injected worker pool.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Operation
//  2. Queue
//  3. Condition
//  4. Observer
//  5. Group
//
// # Operation
//
// An Operation is a unit of work with a strict, forward-only lifecycle:
//
//	Initialized -> Pending -> EvaluatingConditions -> Ready -> Executing -> Finishing -> Finished
//
// Operations are created around a Task (or a plain function via
// NewOperationFunc), configured with dependencies, conditions, observers and
// exclusivity categories, and then submitted to exactly one Queue. From
// there they progress on their own: dependencies gate readiness, conditions
// are evaluated, the body runs, observers are notified, dependents unblock.
//
// Cancellation is cooperative. Cancelling an operation never interrupts a
// running body; it flips a flag, cancels the body's context, and makes an
// operation that has not started yet finish without executing.
//
// There is no blocking wait on an operation. Compose ordering with
// dependencies, or select on Done():
//
//	select {
//	case <-op.Done():
//	case <-time.After(5 * time.Second):
//	}
//
// # Queue
//
// A Queue accepts operations and runs them once they are ready. It owns the
// scheduling state: which operations are tracked, which exclusivity
// category is occupied by whom, which operations are vital (implicitly
// gating everything submitted after them). Execution itself is delegated to
// a Dispatcher, by default an internal worker pool, replaceable through
// QueueConfig for tests or custom environments.
//
//	q := opera.NewQueue()
//	defer q.Stop()
//
//	a := opera.NewOperationFunc("fetch", fetch)
//	b := opera.NewOperationFunc("store", store)
//	b.AddDependency(a)
//	_ = q.Add(a)
//	_ = q.Add(b)
//
// # Condition
//
// A Condition is a precondition evaluated after dependencies finish and
// before the operation becomes ready. A condition may produce a dependency
// operation of its own (work that must run first) and then asserts
// pass/fail. Failures never stall the graph: the operation still finishes
// (without executing) and unblocks its dependents.
//
// Built-ins: NoCancelled and NoFailed propagate a dependency's cancellation
// or failure, and Silent suppresses a condition's generated dependency
// while keeping its check.
//
// # Observer
//
// Observers receive DidStart, DidProduce and DidFinish callbacks, in that
// order, for the operations they are attached to. LoggingObserver writes
// structured logs via log/slog, BasicMetrics keeps atomic counters,
// TimeoutObserver cancels overrunning operations, and JournalObserver
// records history into SQLite. A queue can attach one observer to every
// operation it accepts via QueueConfig.Observer.
//
// # Group
//
// A Group is an operation that runs children on a private queue and
// finishes when they all have, aggregating their errors. Groups nest like
// any other operation.
//
// # Summary
//
// Opera's goal is an orchestration core that feels like Go: explicit
// ownership, channels over blocking waits, loud panics for programming
// errors, and errors as values everywhere else. Operations do the work,
// Queues schedule it, Conditions gate it, Observers watch it.
//
// For runnable programs, see the examples directory.
package opera
