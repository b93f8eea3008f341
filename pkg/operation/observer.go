package operation

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives lifecycle callbacks from an operation for logging,
// metrics, and similar side channels.
//
// For a single operation the callbacks arrive in a fixed order: DidStart,
// then zero or more DidProduce, then DidFinish. Implementations should be
// fast and non-blocking; heavy work should be done asynchronously so as not
// to delay the operation. Observers must not reconfigure the operation they
// observe (no new dependencies or conditions); submitting produced
// operations to a queue is the intended reaction.
type Observer interface {
	// OperationDidStart is called right before the operation's task body
	// runs. It is not called for operations that finish without executing
	// (cancelled or failed conditions).
	OperationDidStart(op *Operation)

	// OperationDidProduce is called when the operation announces a new
	// operation via Produce. The produced operation has not been submitted
	// anywhere yet.
	OperationDidProduce(op, produced *Operation)

	// OperationDidFinish is called exactly once, during the finishing
	// transition. errs is the frozen combined error set; it is passed here
	// because op.Errors() stays nil until the operation is fully finished.
	OperationDidFinish(op *Operation, errs []error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OperationDidStart(op *Operation)                {}
func (NoopObserver) OperationDidProduce(op, produced *Operation)    {}
func (NoopObserver) OperationDidFinish(op *Operation, errs []error) {}

// FuncObserver adapts plain functions into an Observer. Nil fields are
// skipped, so partial observers stay one literal:
//
//	op.AddObserver(operation.FuncObserver{
//	    DidFinish: func(op *operation.Operation, errs []error) { ... },
//	})
type FuncObserver struct {
	DidStart   func(op *Operation)
	DidProduce func(op, produced *Operation)
	DidFinish  func(op *Operation, errs []error)
}

func (f FuncObserver) OperationDidStart(op *Operation) {
	if f.DidStart != nil {
		f.DidStart(op)
	}
}

func (f FuncObserver) OperationDidProduce(op, produced *Operation) {
	if f.DidProduce != nil {
		f.DidProduce(op, produced)
	}
}

func (f FuncObserver) OperationDidFinish(op *Operation, errs []error) {
	if f.DidFinish != nil {
		f.DidFinish(op, errs)
	}
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OperationDidStart(op *Operation) {
	for _, o := range c.observers {
		o.OperationDidStart(op)
	}
}

func (c *CompositeObserver) OperationDidProduce(op, produced *Operation) {
	for _, o := range c.observers {
		o.OperationDidProduce(op, produced)
	}
}

func (c *CompositeObserver) OperationDidFinish(op *Operation, errs []error) {
	for _, o := range c.observers {
		o.OperationDidFinish(op, errs)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs operation lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OperationDidStart(op *Operation) {
	o.Logger.Info("operation_start",
		slog.String("operation", op.Name()),
		slog.String("operation_id", op.ID()),
	)
}

func (o *LoggingObserver) OperationDidProduce(op, produced *Operation) {
	o.Logger.Debug("operation_produced",
		slog.String("operation", op.Name()),
		slog.String("operation_id", op.ID()),
		slog.String("produced", produced.Name()),
		slog.String("produced_id", produced.ID()),
	)
}

func (o *LoggingObserver) OperationDidFinish(op *Operation, errs []error) {
	if len(errs) == 0 {
		o.Logger.Info("operation_finished",
			slog.String("operation", op.Name()),
			slog.String("operation_id", op.ID()),
			slog.Bool("cancelled", op.Cancelled()),
		)
		return
	}
	o.Logger.Error("operation_failed",
		slog.String("operation", op.Name()),
		slog.String("operation_id", op.ID()),
		slog.Bool("cancelled", op.Cancelled()),
		slog.Int("error_count", len(errs)),
		slog.Any("error", errs[0]),
	)
}

// BasicMetrics collects simple counters and aggregate execution durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver. A single BasicMetrics may be attached to many
// operations (typically through a queue's Config.Observer).
type BasicMetrics struct {
	NoopObserver

	started   atomic.Int64
	produced  atomic.Int64
	finished  atomic.Int64
	failed    atomic.Int64
	cancelled atomic.Int64

	totalExecution atomic.Int64 // nanoseconds

	mu        sync.Mutex
	startedAt map[string]time.Time
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Started   int64
	Produced  int64
	Finished  int64
	Failed    int64
	Cancelled int64

	// Executing is the number of operations that started but have not
	// finished yet. Operations that finish without executing (cancelled
	// early, failed conditions) never count as started.
	Executing int64

	AvgExecution time.Duration
}

func (m *BasicMetrics) OperationDidStart(op *Operation) {
	m.started.Add(1)
	m.mu.Lock()
	if m.startedAt == nil {
		m.startedAt = make(map[string]time.Time)
	}
	m.startedAt[op.ID()] = time.Now()
	m.mu.Unlock()
}

func (m *BasicMetrics) OperationDidProduce(op, produced *Operation) {
	m.produced.Add(1)
}

func (m *BasicMetrics) OperationDidFinish(op *Operation, errs []error) {
	m.finished.Add(1)
	if len(errs) > 0 {
		m.failed.Add(1)
	}
	if op.Cancelled() {
		m.cancelled.Add(1)
	}

	m.mu.Lock()
	if at, ok := m.startedAt[op.ID()]; ok {
		m.totalExecution.Add(time.Since(at).Nanoseconds())
		delete(m.startedAt, op.ID())
	}
	m.mu.Unlock()
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.started.Load()
	finished := m.finished.Load()

	m.mu.Lock()
	executing := int64(len(m.startedAt))
	m.mu.Unlock()

	executed := started - executing
	var avg time.Duration
	if executed > 0 {
		avg = time.Duration(m.totalExecution.Load() / executed)
	}

	return BasicMetricsSnapshot{
		Started:      started,
		Produced:     m.produced.Load(),
		Finished:     finished,
		Failed:       m.failed.Load(),
		Cancelled:    m.cancelled.Load(),
		Executing:    executing,
		AvgExecution: avg,
	}
}

// TimeoutObserver cancels its operation if execution runs longer than the
// limit. The timer is armed at DidStart, so time spent waiting on
// dependencies or conditions does not count. Cancellation is cooperative:
// the body still has to notice (its context is cancelled) and finish.
//
// A TimeoutObserver instance watches a single operation; construct one per
// operation.
type TimeoutObserver struct {
	NoopObserver

	limit time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewTimeoutObserver returns an observer that cancels the operation with a
// timeout error (see IsTimeoutError) once it has been executing for limit.
func NewTimeoutObserver(limit time.Duration) *TimeoutObserver {
	return &TimeoutObserver{limit: limit}
}

func (t *TimeoutObserver) OperationDidStart(op *Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(t.limit, func() {
		op.CancelWithError(NewTimeoutError(t.limit))
	})
}

func (t *TimeoutObserver) OperationDidFinish(op *Operation, errs []error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
