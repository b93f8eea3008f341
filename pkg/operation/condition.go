package operation

// Condition is a precondition attached to an operation. Conditions are
// evaluated after the operation's dependencies have finished and before it
// becomes ready.
//
// A condition may demand extra work before evaluation: DependencyFor returns
// an operation that the queue will submit and wait on first, or nil if no
// extra work is needed. Evaluate must call complete exactly once, either
// synchronously or from another goroutine, with nil for satisfied or an
// error describing the failure. Failures do not stop the operation from
// reaching Ready; they are collected and cause it to finish without
// executing its body.
type Condition interface {
	Name() string
	DependencyFor(op *Operation) *Operation
	Evaluate(op *Operation, complete func(error))
}
