package opera

import (
	"context"

	"github.com/petrijr/opera/pkg/operation"
	"github.com/petrijr/opera/pkg/queue"
)

// Re-export key types so users don't need to dig into pkg/operation and
// pkg/queue for everyday use.

type (
	Operation            = operation.Operation
	State                = operation.State
	QoS                  = operation.QoS
	Task                 = operation.Task
	TaskFunc             = operation.TaskFunc
	Finisher             = operation.Finisher
	WillEnqueuer         = operation.WillEnqueuer
	Condition            = operation.Condition
	ConditionError       = operation.ConditionError
	Observer             = operation.Observer
	NoopObserver         = operation.NoopObserver
	FuncObserver         = operation.FuncObserver
	LoggingObserver      = operation.LoggingObserver
	BasicMetrics         = operation.BasicMetrics
	BasicMetricsSnapshot = operation.BasicMetricsSnapshot
	TimeoutObserver      = operation.TimeoutObserver
	RetryPolicy          = operation.RetryPolicy

	Queue                 = queue.Queue
	QueueConfig           = queue.Config
	Dispatcher            = queue.Dispatcher
	Pool                  = queue.Pool
	EnqueueHook           = queue.EnqueueHook
	ExclusivityController = queue.ExclusivityController
	Group                 = queue.Group
)

// Re-export lifecycle states for convenience.

const (
	Initialized          = operation.Initialized
	Pending              = operation.Pending
	EvaluatingConditions = operation.EvaluatingConditions
	Ready                = operation.Ready
	Executing            = operation.Executing
	Finishing            = operation.Finishing
	Finished             = operation.Finished
)

// Re-export quality-of-service hints.

const (
	QoSDefault       = operation.QoSDefault
	QoSUserInitiated = operation.QoSUserInitiated
	QoSUtility       = operation.QoSUtility
	QoSBackground    = operation.QoSBackground
)

// Re-export common helpers.

var (
	NewCompositeObserver = operation.NewCompositeObserver
	NewLoggingObserver   = operation.NewLoggingObserver
	NewTimeoutObserver   = operation.NewTimeoutObserver

	NewCondition = operation.NewCondition
	Silent       = operation.Silent
	NoCancelled  = operation.NoCancelled
	NoFailed     = operation.NoFailed

	NewDelay      = operation.NewDelay
	NewDelayUntil = operation.NewDelayUntil

	IsConditionError = operation.IsConditionError
	IsTimeoutError   = operation.IsTimeoutError

	NewExclusivityController = queue.NewExclusivityController
	NewGroup                 = queue.NewGroup
	NewPool                  = queue.NewPool

	ErrQueueStopped = queue.ErrQueueStopped
)

// Constructors
// These wrap pkg/operation and pkg/queue so external callers rarely need to
// import them directly.

// NewOperation creates an operation named name that runs task.
func NewOperation(name string, task Task) *Operation {
	return operation.New(name, task)
}

// NewOperationFunc creates an operation around a plain function; the
// operation finishes when the function returns.
func NewOperationFunc(name string, fn func(ctx context.Context, op *Operation) error) *Operation {
	return operation.NewFunc(name, fn)
}

// NewQueue returns a running queue with default configuration: an internal
// worker pool sized to the machine and a private exclusivity controller.
func NewQueue() *Queue {
	return queue.New(queue.Config{})
}

// NewQueueWithConfig returns a running queue with the given configuration.
func NewQueueWithConfig(cfg QueueConfig) *Queue {
	return queue.New(cfg)
}
