package queue

import (
	"runtime"
	"sync"

	"github.com/petrijr/opera/pkg/operation"
)

// Dispatcher executes ready operations on behalf of a queue. It is the
// injection seam between scheduling and actual concurrency: the default is
// an in-process worker pool, tests substitute synchronous or instrumented
// implementations.
type Dispatcher interface {
	// Dispatch schedules fn to run. qos is an advisory hint; Dispatch must
	// not block the caller.
	Dispatch(qos operation.QoS, fn func())
}

// Pool is the default Dispatcher: a fixed number of worker goroutines
// draining two lanes. User-initiated work is picked first, everything else
// runs in submission order. The backlog is unbounded so Dispatch never
// blocks the scheduler.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	high    []func()
	normal  []func()
	stopped bool

	wg sync.WaitGroup
}

var _ Dispatcher = (*Pool)(nil)

// NewPool starts a pool with the given number of workers. size <= 0 means
// runtime.NumCPU().
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Dispatch(qos operation.QoS, fn func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if qos == operation.QoSUserInitiated {
		p.high = append(p.high, fn)
	} else {
		p.normal = append(p.normal, fn)
	}
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.stopped && len(p.high) == 0 && len(p.normal) == 0 {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		var fn func()
		if len(p.high) > 0 {
			fn = p.high[0]
			p.high = p.high[1:]
		} else {
			fn = p.normal[0]
			p.normal = p.normal[1:]
		}
		p.mu.Unlock()

		fn()
	}
}

// Stop shuts the pool down and blocks until in-flight work returns. Backlog
// that has not started is dropped; Dispatch calls after Stop are ignored.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}
