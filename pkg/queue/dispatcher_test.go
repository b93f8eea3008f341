package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petrijr/opera/pkg/operation"
)

func TestPool_ExecutesEverything(t *testing.T) {
	p := NewPool(4)
	defer p.Stop()

	var done sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 100; i++ {
		done.Add(1)
		p.Dispatch(operation.QoSDefault, func() {
			count.Add(1)
			done.Done()
		})
	}
	done.Wait()

	if got := count.Load(); got != 100 {
		t.Fatalf("expected 100 executions, got %d", got)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	defer p.Stop()

	var current, max atomic.Int64
	var done sync.WaitGroup
	for i := 0; i < 20; i++ {
		done.Add(1)
		p.Dispatch(operation.QoSDefault, func() {
			defer done.Done()
			n := current.Add(1)
			for {
				m := max.Load()
				if n <= m || max.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
		})
	}
	done.Wait()

	if got := max.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent fns, saw %d", got)
	}
}

func TestPool_UserInitiatedLaneDrainsFirst(t *testing.T) {
	p := NewPool(1)
	defer p.Stop()

	gate := make(chan struct{})
	started := make(chan struct{})
	p.Dispatch(operation.QoSDefault, func() {
		close(started)
		<-gate
	})
	<-started

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	var done sync.WaitGroup
	done.Add(4)
	wrap := func(fn func()) func() {
		return func() {
			fn()
			done.Done()
		}
	}

	p.Dispatch(operation.QoSBackground, wrap(record("bg-1")))
	p.Dispatch(operation.QoSDefault, wrap(record("bg-2")))
	p.Dispatch(operation.QoSUtility, wrap(record("bg-3")))
	p.Dispatch(operation.QoSUserInitiated, wrap(record("urgent")))

	close(gate)
	done.Wait()

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "urgent" {
		t.Fatalf("expected the user-initiated fn first, got order %v", order)
	}
	if order[1] != "bg-1" || order[2] != "bg-2" || order[3] != "bg-3" {
		t.Fatalf("normal lane must keep submission order, got %v", order)
	}
}

func TestPool_StopWaitsForInFlightAndDropsBacklog(t *testing.T) {
	p := NewPool(1)

	release := make(chan struct{})
	started := make(chan struct{})
	var inFlightDone atomic.Bool
	p.Dispatch(operation.QoSDefault, func() {
		close(started)
		<-release
		inFlightDone.Store(true)
	})
	<-started

	var backlogRan atomic.Bool
	p.Dispatch(operation.QoSDefault, func() { backlogRan.Store(true) })

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	p.Stop()

	if !inFlightDone.Load() {
		t.Fatal("Stop returned before in-flight work completed")
	}
	if backlogRan.Load() {
		t.Fatal("backlog must be dropped on Stop")
	}

	// After Stop, Dispatch is a silent no-op.
	p.Dispatch(operation.QoSDefault, func() { backlogRan.Store(true) })
	time.Sleep(10 * time.Millisecond)
	if backlogRan.Load() {
		t.Fatal("Dispatch after Stop must be ignored")
	}
	p.Stop() // idempotent
}

func TestPool_DefaultSize(t *testing.T) {
	p := NewPool(0)
	defer p.Stop()

	var done sync.WaitGroup
	for i := 0; i < 10; i++ {
		done.Add(1)
		p.Dispatch(operation.QoSDefault, func() { done.Done() })
	}
	done.Wait()
}
