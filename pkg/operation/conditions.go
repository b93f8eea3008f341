package operation

import "fmt"

// NewCondition builds a Condition from plain functions. dependency may be
// nil when the condition needs no extra work before evaluation; evaluate may
// be nil for a condition that is always satisfied (useful when only the
// generated dependency matters).
func NewCondition(name string, dependency func(op *Operation) *Operation, evaluate func(op *Operation) error) Condition {
	if name == "" {
		panic("opera: condition name must not be empty")
	}
	return &funcCondition{name: name, dependency: dependency, evaluate: evaluate}
}

type funcCondition struct {
	name       string
	dependency func(op *Operation) *Operation
	evaluate   func(op *Operation) error
}

func (c *funcCondition) Name() string { return c.name }

func (c *funcCondition) DependencyFor(op *Operation) *Operation {
	if c.dependency == nil {
		return nil
	}
	return c.dependency(op)
}

func (c *funcCondition) Evaluate(op *Operation, complete func(error)) {
	if c.evaluate == nil {
		complete(nil)
		return
	}
	complete(c.evaluate(op))
}

// Silent wraps a condition so that its generated dependency is suppressed:
// the inner condition is still evaluated, but whatever extra work it would
// normally demand is not created. Use it when the caller guarantees the
// prerequisite is handled elsewhere.
func Silent(c Condition) Condition {
	if c == nil {
		panic("opera: nil condition")
	}
	return silentCondition{inner: c}
}

type silentCondition struct {
	inner Condition
}

func (s silentCondition) Name() string {
	return "Silent(" + s.inner.Name() + ")"
}

func (s silentCondition) DependencyFor(op *Operation) *Operation { return nil }

func (s silentCondition) Evaluate(op *Operation, complete func(error)) {
	s.inner.Evaluate(op, complete)
}

// NoCancelled returns a condition that fails when any of the operation's
// dependencies was cancelled. Attach it to propagate cancellation down a
// dependency chain.
func NoCancelled() Condition { return noCancelledCondition{} }

type noCancelledCondition struct{}

func (noCancelledCondition) Name() string { return "NoCancelledDependencies" }

func (noCancelledCondition) DependencyFor(op *Operation) *Operation { return nil }

func (noCancelledCondition) Evaluate(op *Operation, complete func(error)) {
	for _, dep := range op.Dependencies() {
		if dep.Cancelled() {
			complete(fmt.Errorf("dependency %q was cancelled", dep.Name()))
			return
		}
	}
	complete(nil)
}

// NoFailed returns a condition that fails when any of the operation's
// dependencies finished with errors. A dependency that was cancelled
// without an error does not count as failed; combine with NoCancelled to
// catch both.
func NoFailed() Condition { return noFailedCondition{} }

type noFailedCondition struct{}

func (noFailedCondition) Name() string { return "NoFailedDependencies" }

func (noFailedCondition) DependencyFor(op *Operation) *Operation { return nil }

func (noFailedCondition) Evaluate(op *Operation, complete func(error)) {
	for _, dep := range op.Dependencies() {
		if errs := dep.Errors(); len(errs) > 0 {
			complete(fmt.Errorf("dependency %q finished with %d error(s): %w",
				dep.Name(), len(errs), errs[0]))
			return
		}
	}
	complete(nil)
}
