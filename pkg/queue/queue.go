package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/opera/pkg/operation"
)

// ErrQueueStopped is returned by Add once the queue has been stopped.
var ErrQueueStopped = errors.New("opera: queue is stopped")

// EnqueueHook runs for every operation submitted to the queue, before any
// dependency wiring takes place. Hooks may attach observers, conditions, or
// exclusivity categories; a logging hook or a journal hook are typical.
type EnqueueHook func(op *operation.Operation, q *Queue)

// Config configures a Queue. The zero value is usable: an internal worker
// pool sized to the machine, a private exclusivity controller, and
// slog.Default for diagnostics.
type Config struct {
	// MaxConcurrency bounds the internal worker pool. Ignored when
	// Dispatcher is set. <= 0 means runtime.NumCPU().
	MaxConcurrency int

	// Dispatcher executes ready operations. Leave nil for the internal
	// Pool; inject one to control or instrument concurrency.
	Dispatcher Dispatcher

	// Observer, when set, is attached to every operation the queue
	// accepts. A BasicMetrics or LoggingObserver fits here.
	Observer operation.Observer

	// Exclusivity, when set, is shared with other queues so that
	// categories serialize across all of them. Leave nil for a private
	// controller.
	Exclusivity *ExclusivityController

	// Logger receives queue-level diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Queue accepts operations and runs them once they are ready: dependencies
// finished, conditions evaluated, exclusivity respected. A queue starts
// working at construction and keeps going until Stop.
//
// Operations are submitted to exactly one queue; dependencies may span
// queues freely.
type Queue struct {
	logger     *slog.Logger
	dispatcher Dispatcher
	ownPool    *Pool
	excl       *ExclusivityController
	observer   operation.Observer

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	stopped bool
	hooks   []EnqueueHook
	tracked map[*operation.Operation]*record
	vitals  []*operation.Operation
	idle    chan struct{} // closed while no operations are tracked

	dirtyMu sync.Mutex
	dirty   map[*operation.Operation]struct{}
	wake    chan struct{}
	stopCh  chan struct{}
}

// record is the queue-owned scheduling state for one tracked operation.
// Only the scheduler goroutine touches it after creation.
type record struct {
	evaluating bool
	claimed    bool
}

// New creates a running queue.
func New(cfg Config) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		logger:   logger,
		excl:     cfg.Exclusivity,
		observer: cfg.Observer,
		tracked:  make(map[*operation.Operation]*record),
		dirty:    make(map[*operation.Operation]struct{}),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	if q.excl == nil {
		q.excl = NewExclusivityController()
	}
	if cfg.Dispatcher != nil {
		q.dispatcher = cfg.Dispatcher
	} else {
		q.ownPool = NewPool(cfg.MaxConcurrency)
		q.dispatcher = q.ownPool
	}
	q.baseCtx, q.cancel = context.WithCancel(context.Background())

	idle := make(chan struct{})
	close(idle)
	q.idle = idle

	go q.scheduler()
	return q
}

// RegisterEnqueueHook registers a hook that runs for every subsequently
// submitted operation, before exclusivity and vital wiring.
func (q *Queue) RegisterEnqueueHook(hook EnqueueHook) {
	if hook == nil {
		panic("opera: nil enqueue hook")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hooks = append(q.hooks, hook)
}

// Add submits an operation. The operation must be freshly constructed
// (Initialized); submitting one twice, or to two queues, panics.
//
// Submission order: enqueue hooks run first, then the queue attaches its
// own observers, wires exclusivity chains and the vital set, marks the
// operation Pending, and finally runs the task's WillEnqueue capability.
// From that point the operation progresses autonomously.
func (q *Queue) Add(op *operation.Operation) error {
	if op == nil {
		panic("opera: nil operation")
	}

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	hooks := append([]EnqueueHook(nil), q.hooks...)
	q.mu.Unlock()

	for _, hook := range hooks {
		hook(op, q)
	}

	// Produced operations land on this queue too.
	op.AddObserver(operation.FuncObserver{
		DidProduce: func(_, produced *operation.Operation) {
			if err := q.Add(produced); err != nil {
				q.logger.Error("produced operation not enqueued",
					slog.String("operation", produced.Name()),
					slog.String("operation_id", produced.ID()),
					slog.Any("error", err),
				)
			}
		},
	})
	if q.observer != nil {
		op.AddObserver(q.observer)
	}

	chained := q.excl.chain(op)
	if !chained {
		for _, v := range q.currentVitals() {
			if v != op {
				op.AddDependency(v)
			}
		}
	}

	q.track(op)
	op.MarkPending()

	if we, ok := op.Task().(operation.WillEnqueuer); ok {
		we.WillEnqueue(op)
	}

	q.markDirty(op)
	return nil
}

// AddVital submits op and registers it as vital. Every operation submitted
// to this queue afterwards implicitly depends on it until it finishes, with
// one exception: operations that were chained behind an exclusivity
// occupant are already serialized and skip the vital set.
func (q *Queue) AddVital(op *operation.Operation) error {
	if err := q.Add(op); err != nil {
		return err
	}
	q.RegisterVital(op)
	return nil
}

// RegisterVital marks op as vital for this queue's future submissions
// without submitting it here. op may belong to a different queue; only its
// completion matters. Use this to gate one queue's work on another's.
func (q *Queue) RegisterVital(op *operation.Operation) {
	if op == nil {
		panic("opera: nil operation")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.vitals = append(pruneFinished(q.vitals), op)
}

// currentVitals returns the still-outstanding vital operations.
func (q *Queue) currentVitals() []*operation.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.vitals = pruneFinished(q.vitals)
	return append([]*operation.Operation(nil), q.vitals...)
}

func pruneFinished(ops []*operation.Operation) []*operation.Operation {
	kept := ops[:0]
	for _, op := range ops {
		if op.State() != operation.Finished {
			kept = append(kept, op)
		}
	}
	return kept
}

// Len returns the number of tracked operations: submitted and not yet
// finished.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tracked)
}

// Join blocks until the queue has no tracked operations, or until ctx ends.
// It waits on the queue as a whole, never on a particular operation; use
// dependency edges or Done channels for per-operation ordering.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	ch := q.idle
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every tracked operation. Cancellation stays
// cooperative: executing bodies run until they notice.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	ops := make([]*operation.Operation, 0, len(q.tracked))
	for op := range q.tracked {
		ops = append(ops, op)
	}
	q.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}
}

// Stop shuts the queue down: Add starts returning ErrQueueStopped, the
// scheduler exits, executing operations get their contexts cancelled, and
// the internal pool (when the queue owns one) drains before Stop returns.
// Operations that have not started will never start. Stop is idempotent.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.stopCh)
	q.cancel()
	if q.ownPool != nil {
		q.ownPool.Stop()
	}
}

// track registers the scheduling record and the state listener that drives
// the scheduler. Registration happens before MarkPending so no transition
// is missed.
func (q *Queue) track(op *operation.Operation) {
	q.mu.Lock()
	if len(q.tracked) == 0 {
		q.idle = make(chan struct{})
	}
	q.tracked[op] = &record{}
	q.mu.Unlock()

	op.OnStateChange(func(op *operation.Operation) {
		if op.State() == operation.Finished {
			q.untrack(op)
			return
		}
		q.markDirty(op)
	})
}

func (q *Queue) untrack(op *operation.Operation) {
	q.excl.release(op)

	q.mu.Lock()
	if _, ok := q.tracked[op]; ok {
		delete(q.tracked, op)
		if len(q.tracked) == 0 {
			close(q.idle)
		}
	}
	q.vitals = pruneFinished(q.vitals)
	q.mu.Unlock()
}

func (q *Queue) markDirty(op *operation.Operation) {
	q.dirtyMu.Lock()
	q.dirty[op] = struct{}{}
	q.dirtyMu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
