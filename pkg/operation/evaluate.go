package operation

import "fmt"

// EvaluateConditions drives the condition protocol for an operation whose
// dependencies have all finished. The owning queue calls it exactly once,
// from its scheduler, to take the operation from Pending through
// EvaluatingConditions to Ready; application code never calls it.
//
// The protocol:
//
//  1. Every condition may demand a dependency operation. Each one is handed
//     to submit (the queue's Add) unless already submitted somewhere, then
//     added as a dependency. A dependency that cannot be submitted is
//     recorded as a failure and not wired, so the operation cannot stall on
//     work that will never run.
//  2. Evaluation waits until all condition-generated dependencies finish.
//  3. Conditions are evaluated sequentially, in the order they were added,
//     each completion awaited before the next begins. Failures are recorded
//     as ConditionErrors in the operation's internal error set.
//  4. The operation transitions to Ready no matter how many conditions
//     failed. A failed operation reaches Ready with a non-empty error set
//     and finishes without executing when started.
//
// A cancelled operation skips dependency generation and evaluation entirely
// and proceeds straight to Ready, where the queue fast-tracks it to finish.
func EvaluateConditions(op *Operation, submit func(*Operation) error) {
	op.mu.Lock()
	op.advanceLocked(EvaluatingConditions)
	cancelled := op.cancelled
	conds := append([]Condition(nil), op.conditions...)
	op.mu.Unlock()
	op.signal()

	if cancelled || len(conds) == 0 {
		op.markReady()
		return
	}

	var generated []*Operation
	for _, c := range conds {
		dep := c.DependencyFor(op)
		if dep == nil {
			continue
		}
		if dep.State() == Initialized {
			if err := submit(dep); err != nil {
				op.recordInternalError(fmt.Errorf("enqueue dependency of condition %q: %w", c.Name(), err))
				continue
			}
		}
		op.AddDependency(dep)
		generated = append(generated, dep)
	}
	for _, dep := range generated {
		<-dep.Done()
	}

	for _, c := range conds {
		ch := make(chan error, 1)
		c.Evaluate(op, func(err error) {
			select {
			case ch <- err:
			default:
			}
		})
		if err := <-ch; err != nil {
			op.recordInternalError(NewConditionError(c.Name(), err))
		}
	}

	op.markReady()
}

func (o *Operation) markReady() {
	o.mu.Lock()
	o.advanceLocked(Ready)
	o.mu.Unlock()

	o.signal()
}
