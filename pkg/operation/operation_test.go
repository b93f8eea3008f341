package operation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// drive runs op through the queue-owned parts of its lifecycle inline:
// pending, condition evaluation, then Start. Condition-generated
// dependencies are driven on their own goroutines, the way a queue would.
func drive(ctx context.Context, op *Operation) {
	op.MarkPending()
	EvaluateConditions(op, func(dep *Operation) error {
		go drive(context.Background(), dep)
		return nil
	})
	op.Start(ctx)
}

// blockTask parks in Executing until released.
type blockTask struct {
	started chan struct{}
	release chan struct{}
}

func newBlockTask() *blockTask {
	return &blockTask{started: make(chan struct{}), release: make(chan struct{})}
}

func (t *blockTask) Execute(ctx context.Context, op *Operation) {
	close(t.started)
	select {
	case <-t.release:
	case <-ctx.Done():
	}
	op.Finish()
}

// eventLog records observer callbacks as strings, in arrival order.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) OperationDidStart(op *Operation) {
	l.add("start " + op.Name())
}

func (l *eventLog) OperationDidProduce(op, produced *Operation) {
	l.add("produce " + produced.Name())
}

func (l *eventLog) OperationDidFinish(op *Operation, errs []error) {
	l.add(fmt.Sprintf("finish %s errs=%d", op.Name(), len(errs)))
}

func (l *eventLog) add(s string) {
	l.mu.Lock()
	l.events = append(l.events, s)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOperation_LifecycleStates(t *testing.T) {
	t.Parallel()

	var duringBody State
	op := NewFunc("lifecycle", func(ctx context.Context, op *Operation) error {
		duringBody = op.State()
		return nil
	})

	require.Equal(t, Initialized, op.State())
	require.NotEmpty(t, op.ID())
	require.Equal(t, "lifecycle", op.Name())

	op.MarkPending()
	require.Equal(t, Pending, op.State())

	EvaluateConditions(op, nil)
	require.Equal(t, Ready, op.State())

	op.Start(context.Background())
	<-op.Done()

	require.Equal(t, Finished, op.State())
	require.Equal(t, Executing, duringBody)
	require.Empty(t, op.Errors())
	require.False(t, op.Cancelled())
}

func TestOperation_ErrorsNilUntilFinished(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	op := NewFunc("failing", func(ctx context.Context, op *Operation) error {
		return boom
	})

	require.Nil(t, op.Errors())
	op.MarkPending()
	EvaluateConditions(op, nil)
	require.Nil(t, op.Errors())

	op.Start(context.Background())
	<-op.Done()

	errs := op.Errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
}

func TestOperation_ErrorsFrozenBeforeObserversRun(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	op := NewFunc("frozen", func(ctx context.Context, op *Operation) error {
		return boom
	})

	var (
		stateInFinish  State
		errorsInFinish []error
		argErrs        []error
	)
	op.AddObserver(FuncObserver{
		DidFinish: func(op *Operation, errs []error) {
			stateInFinish = op.State()
			errorsInFinish = op.Errors()
			argErrs = errs
		},
	})

	drive(context.Background(), op)
	<-op.Done()

	// During DidFinish the operation is still Finishing, so Errors() is
	// nil; the frozen set arrives as the callback argument instead.
	require.Equal(t, Finishing, stateInFinish)
	require.Nil(t, errorsInFinish)
	require.Len(t, argErrs, 1)
	require.ErrorIs(t, argErrs[0], boom)
}

func TestOperation_FinishIsIdempotentUnderRace(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	task := newBlockTask()
	op := New("race-finish", task)
	op.AddObserver(log)

	go drive(context.Background(), op)
	<-task.started

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op.Finish(fmt.Errorf("finisher %d", i))
		}(i)
	}
	wg.Wait()
	close(task.release)
	<-op.Done()

	finishes := 0
	for _, ev := range log.snapshot() {
		if ev == "finish race-finish errs=1" {
			finishes++
		}
	}
	require.Equal(t, 1, finishes, "exactly one DidFinish expected")
	require.Len(t, op.Errors(), 1, "only the winning Finish contributes errors")
}

func TestOperation_CancelBeforeStartSkipsBody(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	ran := false
	op := NewFunc("cancelled-early", func(ctx context.Context, op *Operation) error {
		ran = true
		return nil
	})
	op.AddObserver(log)
	op.Cancel()

	drive(context.Background(), op)
	<-op.Done()

	require.False(t, ran, "body must not run")
	require.True(t, op.Cancelled())
	require.Equal(t, Finished, op.State())
	require.Empty(t, op.Errors(), "plain Cancel records no error")
	require.Equal(t, []string{"finish cancelled-early errs=0"}, log.snapshot(),
		"no DidStart for an operation that never executed")
}

func TestOperation_CancelWithErrorSurfacesReason(t *testing.T) {
	t.Parallel()

	reason := errors.New("user navigated away")
	op := NewFunc("cancelled-reason", func(ctx context.Context, op *Operation) error {
		return nil
	})
	op.CancelWithError(reason)

	drive(context.Background(), op)
	<-op.Done()

	errs := op.Errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], reason)
}

func TestOperation_CancelAfterFinishIsNoOp(t *testing.T) {
	t.Parallel()

	op := NewFunc("done-then-cancel", func(ctx context.Context, op *Operation) error {
		return nil
	})
	drive(context.Background(), op)
	<-op.Done()

	op.Cancel()
	require.False(t, op.Cancelled())
	require.Empty(t, op.Errors())
}

func TestOperation_CancelDuringExecutionKeepsBodyRunning(t *testing.T) {
	t.Parallel()

	reason := errors.New("took too long")
	supplied := errors.New("wound down")
	bodyDone := make(chan struct{})
	op := New("coop-cancel", TaskFunc(func(ctx context.Context, op *Operation) error {
		<-ctx.Done()
		close(bodyDone)
		return supplied
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go drive(ctx, op)

	for op.State() != Executing {
		time.Sleep(time.Millisecond)
	}
	op.CancelWithError(reason)
	require.Equal(t, Executing, op.State(), "cancellation must not preempt the body")

	cancel()
	<-bodyDone
	<-op.Done()

	errs := op.Errors()
	require.Len(t, errs, 2)
	require.ErrorIs(t, errs[0], reason, "internal errors come first")
	require.ErrorIs(t, errs[1], supplied)
}

func TestOperation_StartPanicsUnlessReady(t *testing.T) {
	t.Parallel()

	op := NewFunc("not-ready", func(ctx context.Context, op *Operation) error {
		return nil
	})
	require.Panics(t, func() { op.Start(context.Background()) })

	op.MarkPending()
	require.Panics(t, func() { op.Start(context.Background()) })
}

func TestOperation_MarkPendingTwicePanics(t *testing.T) {
	t.Parallel()

	op := NewFunc("double-pending", func(ctx context.Context, op *Operation) error {
		return nil
	})
	op.MarkPending()
	require.Panics(t, func() { op.MarkPending() })
}

func TestOperation_ConfigurationFreezes(t *testing.T) {
	t.Parallel()

	task := newBlockTask()
	op := New("frozen-config", task)
	other := NewFunc("other", func(ctx context.Context, op *Operation) error { return nil })

	// Everything is allowed while initialized.
	op.AddCondition(NewCondition("always", nil, nil))
	op.AddCategory("cat")
	op.AddDependency(other)
	op.AddObserver(NoopObserver{})
	op.SetQoS(QoSBackground)

	go drive(context.Background(), other)
	go drive(context.Background(), op)
	<-task.started

	// Executing: structural configuration is over.
	require.Panics(t, func() { op.AddDependency(other) })
	require.Panics(t, func() { op.AddObserver(NoopObserver{}) })
	require.Panics(t, func() { op.SetQoS(QoSDefault) })
	require.Panics(t, func() { op.AddCondition(NewCondition("late", nil, nil)) })
	require.Panics(t, func() { op.AddCategory("late") })

	close(task.release)
	<-op.Done()
}

func TestOperation_NilArgumentPanics(t *testing.T) {
	t.Parallel()

	op := NewFunc("nil-args", func(ctx context.Context, op *Operation) error { return nil })
	require.Panics(t, func() { op.AddDependency(nil) })
	require.Panics(t, func() { op.AddCondition(nil) })
	require.Panics(t, func() { op.AddObserver(nil) })
	require.Panics(t, func() { op.AddCategory("") })
	require.Panics(t, func() { op.Produce(nil) })
}

func TestOperation_DoneChannel(t *testing.T) {
	t.Parallel()

	op := NewFunc("done-chan", func(ctx context.Context, op *Operation) error { return nil })

	select {
	case <-op.Done():
		t.Fatal("done closed before finish")
	default:
	}

	drive(context.Background(), op)

	select {
	case <-op.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed after finish")
	}
}

func TestOperation_OnStateChangeFiresImmediatelyWhenFinished(t *testing.T) {
	t.Parallel()

	op := NewFunc("late-listener", func(ctx context.Context, op *Operation) error { return nil })
	drive(context.Background(), op)
	<-op.Done()

	calls := 0
	op.OnStateChange(func(op *Operation) { calls++ })
	require.Equal(t, 1, calls)
}

func TestOperation_ObserverOrderStartProduceFinish(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	op := NewFunc("producer", func(ctx context.Context, op *Operation) error {
		op.Produce(NewFunc("first", func(ctx context.Context, op *Operation) error { return nil }))
		op.Produce(NewFunc("second", func(ctx context.Context, op *Operation) error { return nil }))
		return nil
	})
	op.AddObserver(log)

	drive(context.Background(), op)
	<-op.Done()

	require.Equal(t, []string{
		"start producer",
		"produce first",
		"produce second",
		"finish producer errs=0",
	}, log.snapshot())
}

func TestOperation_ProduceAfterFinishingPanics(t *testing.T) {
	t.Parallel()

	op := NewFunc("late-produce", func(ctx context.Context, op *Operation) error { return nil })
	drive(context.Background(), op)
	<-op.Done()

	extra := NewFunc("extra", func(ctx context.Context, op *Operation) error { return nil })
	require.Panics(t, func() { op.Produce(extra) })
}

func TestOperation_DependenciesFinished(t *testing.T) {
	t.Parallel()

	dep := NewFunc("dep", func(ctx context.Context, op *Operation) error { return nil })
	op := NewFunc("dependent", func(ctx context.Context, op *Operation) error { return nil })
	op.AddDependency(dep)

	require.False(t, op.DependenciesFinished())

	drive(context.Background(), dep)
	<-dep.Done()

	require.True(t, op.DependenciesFinished())
	require.Equal(t, []*Operation{dep}, op.Dependencies())
}

func TestOperation_FinisherRunsBeforeObservers(t *testing.T) {
	t.Parallel()

	log := &eventLog{}
	boom := errors.New("boom")
	task := &finisherTask{log: log, err: boom}
	op := New("with-finisher", task)
	op.AddObserver(log)

	drive(context.Background(), op)
	<-op.Done()

	require.Equal(t, []string{
		"start with-finisher",
		"finisher saw 1 errs",
		"finish with-finisher errs=1",
	}, log.snapshot())
}

type finisherTask struct {
	log *eventLog
	err error
}

func (t *finisherTask) Execute(ctx context.Context, op *Operation) {
	op.Finish(t.err)
}

func (t *finisherTask) Finished(op *Operation, errs []error) {
	t.log.add(fmt.Sprintf("finisher saw %d errs", len(errs)))
}

func TestOperation_NilTaskFinishesWithDiagnostic(t *testing.T) {
	t.Parallel()

	op := New("no-task", nil)
	op.SetLogger(discardLogger())

	drive(context.Background(), op)
	<-op.Done()

	require.Equal(t, Finished, op.State())
	require.Empty(t, op.Errors())
}

func TestOperation_QoSDefaultsAndGuard(t *testing.T) {
	t.Parallel()

	op := NewFunc("qos", func(ctx context.Context, op *Operation) error { return nil })
	require.Equal(t, QoSDefault, op.QoS())

	op.SetQoS(QoSUserInitiated)
	require.Equal(t, QoSUserInitiated, op.QoS())

	drive(context.Background(), op)
	<-op.Done()
	require.Panics(t, func() { op.SetQoS(QoSBackground) })
}

func TestOperation_CategoriesSnapshot(t *testing.T) {
	t.Parallel()

	op := NewFunc("cats", func(ctx context.Context, op *Operation) error { return nil })
	op.AddCategory("a")
	op.AddCategory("b")
	require.Equal(t, []string{"a", "b"}, op.Categories())
}
