package queue

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/opera/pkg/operation"
	"github.com/petrijr/opera/pkg/operation/optest"
)

func TestGroup_RunsChildrenAndFinishes(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	var ran atomic.Int32
	child := func(name string) *operation.Operation {
		return operation.NewFunc(name, func(ctx context.Context, op *operation.Operation) error {
			ran.Add(1)
			return nil
		})
	}

	g := NewGroup("batch", child("one"), child("two"), child("three"))
	require.NoError(t, q.Add(g.Operation))
	optest.WaitFinished(t, g.Operation, 5*time.Second)

	require.Equal(t, int32(3), ran.Load())
	require.Empty(t, g.Errors())
}

func TestGroup_AggregatesChildErrorsWithNames(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	boom := errors.New("boom")
	ok := operation.New("fine", optest.NopTask())
	bad := operation.New("exploder", optest.FailingTask(boom))

	g := NewGroup("mixed", ok, bad)
	require.NoError(t, q.Add(g.Operation))
	optest.WaitFinished(t, g.Operation, 5*time.Second)

	errs := g.Errors()
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], boom)
	require.True(t, strings.HasPrefix(errs[0].Error(), "exploder:"),
		"child errors carry the child's name: %v", errs[0])
}

func TestGroup_ChildrenWaitForGroupDependency(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrency: 4})

	gate := optest.NewBlockingTask()
	blocker := operation.New("blocker", gate)
	require.NoError(t, q.Add(blocker))
	<-gate.Started()

	var childRan atomic.Bool
	child := operation.NewFunc("held-child", func(ctx context.Context, op *operation.Operation) error {
		childRan.Store(true)
		return nil
	})
	g := NewGroup("gated-group", child)
	g.AddDependency(blocker)
	require.NoError(t, q.Add(g.Operation))

	time.Sleep(30 * time.Millisecond)
	require.False(t, childRan.Load(), "children must not run before the group does")

	gate.Release()
	optest.WaitFinished(t, g.Operation, 5*time.Second)
	require.True(t, childRan.Load())
}

func TestGroup_CancelBeforeStartDrainsChildren(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	gate := optest.NewBlockingTask()
	blocker := operation.New("blocker", gate)
	require.NoError(t, q.Add(blocker))
	<-gate.Started()

	var childRan atomic.Bool
	child := operation.NewFunc("never-runs", func(ctx context.Context, op *operation.Operation) error {
		childRan.Store(true)
		return nil
	})
	g := NewGroup("doomed-group", child)
	g.AddDependency(blocker)
	require.NoError(t, q.Add(g.Operation))

	g.Cancel()
	gate.Release()
	optest.WaitFinished(t, g.Operation, 5*time.Second)

	require.False(t, childRan.Load())
	optest.WaitFinished(t, child, 5*time.Second)
	require.True(t, child.Cancelled(), "held children of a cancelled group finish cancelled")
}

func TestGroup_CancelWhileRunningStopsChildren(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	first := optest.NewBlockingTask()
	second := optest.NewBlockingTask()
	g := NewGroup("long-group",
		operation.New("child-a", first),
		operation.New("child-b", second),
	)
	require.NoError(t, q.Add(g.Operation))
	<-first.Started()
	<-second.Started()

	g.Cancel()
	optest.WaitFinished(t, g.Operation, 5*time.Second)
	require.True(t, g.Cancelled())
}

func TestGroup_AddWhileRunning(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})

	var lateRan atomic.Bool
	late := operation.NewFunc("late-child", func(ctx context.Context, op *operation.Operation) error {
		lateRan.Store(true)
		return nil
	})

	var g *Group
	seed := operation.NewFunc("seed", func(ctx context.Context, op *operation.Operation) error {
		return g.Add(late)
	})
	g = NewGroup("growing", seed)

	require.NoError(t, q.Add(g.Operation))
	optest.WaitFinished(t, g.Operation, 5*time.Second)

	require.True(t, lateRan.Load(), "children added mid-flight still run before the group finishes")
}

func TestGroup_AddAfterFinishedRejected(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})
	g := NewGroup("done", operation.New("only", optest.NopTask()))
	require.NoError(t, q.Add(g.Operation))
	optest.WaitFinished(t, g.Operation, 5*time.Second)

	require.ErrorIs(t, g.Add(operation.New("late", optest.NopTask())), ErrQueueStopped)
}

func TestGroup_EmptyGroupFinishes(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{})
	g := NewGroup("empty")
	require.NoError(t, q.Add(g.Operation))
	optest.WaitFinished(t, g.Operation, 5*time.Second)
	require.Empty(t, g.Errors())
}
