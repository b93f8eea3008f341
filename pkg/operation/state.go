package operation

import "fmt"

// State describes where an operation is in its lifecycle. States only ever
// move forward; see Operation for the allowed edges.
type State int

const (
	// Initialized is the state of a freshly constructed operation that has
	// not been submitted to a queue yet.
	Initialized State = iota

	// Pending means the operation has been accepted by a queue and is
	// waiting for its dependencies to finish.
	Pending

	// EvaluatingConditions means dependencies have finished and the
	// operation's conditions are being evaluated.
	EvaluatingConditions

	// Ready means condition evaluation has completed (successfully or not)
	// and the operation is eligible to be started by the queue.
	Ready

	// Executing means the operation's task body is running.
	Executing

	// Finishing means a terminal Finish call is in progress: errors are
	// frozen and observers are being notified.
	Finishing

	// Finished is terminal. The operation is immutable from here on.
	Finished
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Pending:
		return "pending"
	case EvaluatingConditions:
		return "evaluating_conditions"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case Finishing:
		return "finishing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canTransition reports whether the edge s -> target is one of the legal
// lifecycle transitions. Everything else is a programming error.
func (s State) canTransition(target State) bool {
	switch s {
	case Initialized:
		return target == Pending
	case Pending:
		return target == EvaluatingConditions
	case EvaluatingConditions:
		return target == Ready
	case Ready:
		// Ready -> Finishing is the cancellation fast path: the operation
		// finishes without its body ever running.
		return target == Executing || target == Finishing
	case Executing:
		return target == Finishing
	case Finishing:
		return target == Finished
	default:
		return false
	}
}

// QoS is a quality-of-service hint for the executor. It is advisory: the
// default dispatcher prefers user-initiated work when picking the next
// operation, nothing more.
type QoS int

const (
	QoSDefault QoS = iota
	QoSUserInitiated
	QoSUtility
	QoSBackground
)

func (q QoS) String() string {
	switch q {
	case QoSDefault:
		return "default"
	case QoSUserInitiated:
		return "user_initiated"
	case QoSUtility:
		return "utility"
	case QoSBackground:
		return "background"
	default:
		return fmt.Sprintf("qos(%d)", int(q))
	}
}
