package operation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Operation is a cancellable, observable unit of work with a strict
// lifecycle. An operation is created, configured (dependencies, conditions,
// observers, exclusivity categories), submitted to exactly one queue, and
// then progresses autonomously to Finished, at which point it is inert.
//
// State only ever moves forward along these edges:
//
//	Initialized -> Pending -> EvaluatingConditions -> Ready -> Executing -> Finishing -> Finished
//	                                                  Ready -> Finishing (cancellation fast path)
//
// Any other transition panics: it is a programming error, not a runtime
// condition. The cancelled flag is orthogonal to state: it can be set at any
// time and changes what the next transitions do, never the transitions
// themselves.
//
// All methods are safe for concurrent use.
type Operation struct {
	id   string
	name string
	task Task

	mu         sync.Mutex
	state      State
	cancelled  bool
	qos        QoS
	deps       []*Operation
	dependents []*Operation
	conditions []Condition
	observers  []Observer
	categories []string
	listeners  []func(*Operation)
	logger     *slog.Logger

	internalErrs []error
	suppliedErrs []error
	combinedErrs []error

	finishOnce sync.Once
	done       chan struct{}
}

// New creates an operation named name that runs task.
//
// task may implement the optional Finisher and WillEnqueuer capabilities. A
// nil task is tolerated but treated as a programming-error signal: starting
// such an operation logs a diagnostic and finishes immediately.
func New(name string, task Task) *Operation {
	return &Operation{
		id:   uuid.New().String(),
		name: name,
		task: task,
		done: make(chan struct{}),
	}
}

// NewFunc creates an operation around a plain function. The operation
// finishes when fn returns, failing with fn's error if non-nil.
func NewFunc(name string, fn func(ctx context.Context, op *Operation) error) *Operation {
	return New(name, TaskFunc(fn))
}

// ID returns the operation's unique identifier, stamped at construction.
func (o *Operation) ID() string { return o.id }

// Name returns the operation's name. Names need not be unique; they exist
// for logs and error messages.
func (o *Operation) Name() string { return o.name }

// Task returns the task the operation was constructed with, or nil.
func (o *Operation) Task() Task { return o.task }

// State returns the operation's current lifecycle state.
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cancelled reports whether the operation has been cancelled. A cancelled
// operation still reaches Finished; it just skips its body if it has not
// started yet.
func (o *Operation) Cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// QoS returns the operation's quality-of-service hint.
func (o *Operation) QoS() QoS {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.qos
}

// SetQoS records a quality-of-service hint for the executor. Allowed until
// execution begins.
func (o *Operation) SetQoS(q QoS) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ensureBeforeLocked(Executing, "set qos")
	o.qos = q
}

// SetLogger sets the logger used for the operation's own diagnostics.
// Defaults to slog.Default.
func (o *Operation) SetLogger(l *slog.Logger) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logger = l
}

// AddDependency makes dep a prerequisite: this operation will not start
// until dep has finished. Dependencies may be added until execution begins.
// dep may be scheduled on a different queue; completion is what matters, not
// ownership.
//
// Cycles are not detected. An operation that depends on itself, or a cycle
// across several operations, stalls forever.
func (o *Operation) AddDependency(dep *Operation) {
	if dep == nil {
		panic("opera: nil dependency")
	}
	o.mu.Lock()
	o.ensureBeforeLocked(Executing, "add dependency")
	o.deps = append(o.deps, dep)
	o.mu.Unlock()

	dep.addDependent(o)
}

// Dependencies returns a snapshot of the operation's dependencies.
func (o *Operation) Dependencies() []*Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Operation(nil), o.deps...)
}

// DependenciesFinished reports whether every dependency has reached
// Finished. Dependencies only move forward, so once this returns true it
// stays true for the current dependency set.
func (o *Operation) DependenciesFinished() bool {
	for _, dep := range o.Dependencies() {
		if dep.State() != Finished {
			return false
		}
	}
	return true
}

// AddCondition appends a condition. Conditions may be added until condition
// evaluation begins, which happens once all dependencies have finished.
func (o *Operation) AddCondition(c Condition) {
	if c == nil {
		panic("opera: nil condition")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ensureBeforeLocked(EvaluatingConditions, "add condition")
	o.conditions = append(o.conditions, c)
}

// Conditions returns a snapshot of the operation's conditions.
func (o *Operation) Conditions() []Condition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Condition(nil), o.conditions...)
}

// AddObserver appends a lifecycle observer. Observers may be added until
// execution begins.
func (o *Operation) AddObserver(obs Observer) {
	if obs == nil {
		panic("opera: nil observer")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ensureBeforeLocked(Executing, "add observer")
	o.observers = append(o.observers, obs)
}

// AddCategory tags the operation with a mutual-exclusivity category.
// Operations sharing a category never execute concurrently; the accepting
// queue enforces this by chaining them in submission order. Categories may
// be added until condition evaluation begins.
func (o *Operation) AddCategory(category string) {
	if category == "" {
		panic("opera: empty exclusivity category")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ensureBeforeLocked(EvaluatingConditions, "add exclusivity category")
	o.categories = append(o.categories, category)
}

// Categories returns a snapshot of the operation's exclusivity categories.
func (o *Operation) Categories() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.categories...)
}

// OnStateChange registers fn to run after every state or cancellation
// change, outside the operation's lock. Queues use this to drive
// scheduling. If the operation has already finished, fn runs immediately,
// once. Callbacks must be fast and must not reconfigure the operation.
func (o *Operation) OnStateChange(fn func(*Operation)) {
	o.mu.Lock()
	if o.state == Finished {
		o.mu.Unlock()
		fn(o)
		return
	}
	o.listeners = append(o.listeners, fn)
	o.mu.Unlock()
}

// Done returns a channel that is closed when the operation reaches
// Finished. Select on it to compose completion with timeouts or shutdown.
// There is deliberately no blocking wait method: ordering between
// operations belongs in dependency edges, not in callers' goroutines.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Errors returns the combined error set: condition failures, cancellation
// errors, and errors supplied to Finish. It returns nil until the operation
// is Finished; observers receive the same slice as the DidFinish argument
// because notification happens strictly before that.
func (o *Operation) Errors() []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != Finished {
		return nil
	}
	return append([]error(nil), o.combinedErrs...)
}

// Cancel marks the operation cancelled. Cancellation is cooperative and
// non-preemptive: an executing body keeps running until it notices (its
// context is cancelled), while an operation that has not started yet will
// finish without executing. Cancelling a finished operation is a no-op.
func (o *Operation) Cancel() { o.cancelWith(nil) }

// CancelWithError cancels and records err so the reason survives into the
// final error set. A nil err is equivalent to Cancel.
func (o *Operation) CancelWithError(err error) { o.cancelWith(err) }

func (o *Operation) cancelWith(err error) {
	o.mu.Lock()
	if o.state >= Finishing {
		o.mu.Unlock()
		return
	}
	if err != nil {
		o.internalErrs = append(o.internalErrs, err)
	}
	o.cancelled = true
	o.mu.Unlock()

	o.signal()
}

// Produce announces a new operation to this operation's observers, normally
// so the owning queue picks it up and enqueues it. Produce itself does not
// submit produced anywhere.
func (o *Operation) Produce(produced *Operation) {
	if produced == nil {
		panic("opera: nil produced operation")
	}
	o.mu.Lock()
	o.ensureBeforeLocked(Finishing, "produce an operation")
	obs := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	for _, ob := range obs {
		ob.OperationDidProduce(o, produced)
	}
}

// Start runs the operation. The owning queue calls Start once the operation
// is ready; application code normally never calls it. Start returns when
// the task's Execute returns, which for asynchronous tasks may be before
// the operation finishes.
//
// A cancelled or condition-failed operation finishes here without running
// its body and without a DidStart notification. Starting an operation that
// is not ready panics.
func (o *Operation) Start(ctx context.Context) {
	o.mu.Lock()
	if o.state == Ready && (o.cancelled || len(o.internalErrs) > 0) {
		o.mu.Unlock()
		o.Finish()
		return
	}
	if o.state != Ready {
		st := o.state
		o.mu.Unlock()
		panic(fmt.Sprintf("opera: operation %q started in state %s", o.name, st))
	}
	o.advanceLocked(Executing)
	obs := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	o.signal()
	for _, ob := range obs {
		ob.OperationDidStart(o)
	}

	if o.task == nil {
		o.loggerOrDefault().Error("operation has no task to execute; supply a Task or TaskFunc",
			slog.String("operation", o.name),
			slog.String("operation_id", o.id),
		)
		o.Finish()
		return
	}
	o.task.Execute(ctx, o)
}

// Finish moves the operation to its terminal state. The first call wins and
// runs the finishing sequence: supplied errors join the internal ones and
// the combined set freezes, the task's Finisher hook (if any) runs,
// observers get DidFinish, the state becomes Finished, Done closes, and
// dependents unblock. Later calls are no-ops.
//
// Every operation must be finished exactly once by its task (TaskFunc does
// this automatically). Operations that never execute are finished by the
// queue. Errors never stall the graph: a failed operation still finishes
// and still unblocks its dependents.
func (o *Operation) Finish(errs ...error) {
	o.finishOnce.Do(func() { o.doFinish(errs) })
}

func (o *Operation) doFinish(supplied []error) {
	o.mu.Lock()
	for _, err := range supplied {
		if err != nil {
			o.suppliedErrs = append(o.suppliedErrs, err)
		}
	}
	o.advanceToFinishingLocked()
	combined := make([]error, 0, len(o.internalErrs)+len(o.suppliedErrs))
	combined = append(combined, o.internalErrs...)
	combined = append(combined, o.suppliedErrs...)
	o.combinedErrs = combined
	obs := append([]Observer(nil), o.observers...)
	o.mu.Unlock()

	o.signal()

	if f, ok := o.task.(Finisher); ok {
		f.Finished(o, combined)
	}
	for _, ob := range obs {
		ob.OperationDidFinish(o, combined)
	}

	o.mu.Lock()
	o.advanceLocked(Finished)
	dependents := o.dependents
	o.dependents = nil
	listeners := o.listeners
	o.listeners = nil
	o.mu.Unlock()

	close(o.done)
	for _, fn := range listeners {
		fn(o)
	}
	for _, d := range dependents {
		d.signal()
	}
}

// signal fires the registered state-change listeners outside the lock.
func (o *Operation) signal() {
	o.mu.Lock()
	listeners := append(([]func(*Operation))(nil), o.listeners...)
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(o)
	}
}

// addDependent records d as depending on o, so finishing o wakes d's
// scheduler. If o already finished there is nothing to record; d is poked
// once so its queue re-examines readiness.
func (o *Operation) addDependent(d *Operation) {
	o.mu.Lock()
	if o.state == Finished {
		o.mu.Unlock()
		d.signal()
		return
	}
	o.dependents = append(o.dependents, d)
	o.mu.Unlock()
}

// MarkPending transitions a freshly constructed operation to Pending. The
// accepting queue calls this during submission; application code normally
// never does.
func (o *Operation) MarkPending() {
	o.mu.Lock()
	o.advanceLocked(Pending)
	o.mu.Unlock()

	o.signal()
}

// recordInternalError accumulates a pre-execution failure (condition
// evaluation, dependency submission) into the internal error set.
func (o *Operation) recordInternalError(err error) {
	o.mu.Lock()
	o.internalErrs = append(o.internalErrs, err)
	o.mu.Unlock()
}

// advanceLocked moves state along a single legal edge. Call with mu held.
func (o *Operation) advanceLocked(target State) {
	if !o.state.canTransition(target) {
		panic(fmt.Sprintf("opera: invalid operation state transition %s -> %s (operation %q)",
			o.state, target, o.name))
	}
	o.state = target
}

// advanceToFinishingLocked walks the legal edges from wherever the
// operation is to Finishing. Finish can be called before the operation ever
// ran (cancelled early, failed conditions), so the walk may pass through
// Pending, EvaluatingConditions and Ready without their usual side effects.
func (o *Operation) advanceToFinishingLocked() {
	for o.state != Finishing {
		switch o.state {
		case Initialized:
			o.advanceLocked(Pending)
		case Pending:
			o.advanceLocked(EvaluatingConditions)
		case EvaluatingConditions:
			o.advanceLocked(Ready)
		case Ready, Executing:
			o.advanceLocked(Finishing)
		default:
			panic(fmt.Sprintf("opera: cannot finish operation %q from state %s", o.name, o.state))
		}
	}
}

func (o *Operation) ensureBeforeLocked(limit State, what string) {
	if o.state >= limit {
		panic(fmt.Sprintf("opera: cannot %s: operation %q is already %s", what, o.name, o.state))
	}
}

func (o *Operation) loggerOrDefault() *slog.Logger {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.logger != nil {
		return o.logger
	}
	return slog.Default()
}
