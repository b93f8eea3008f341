package operation

import (
	"errors"
	"fmt"
	"time"
)

// ConditionError wraps a condition failure with the name of the condition
// that produced it. The evaluator records one per failed condition into the
// operation's error set.
type ConditionError struct {
	Condition string
	Err       error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q failed: %v", e.Condition, e.Err)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// NewConditionError wraps err as a failure of the named condition. Custom
// conditions normally just return a plain error from Evaluate; the evaluator
// does the wrapping.
func NewConditionError(condition string, err error) error {
	return &ConditionError{Condition: condition, Err: err}
}

// IsConditionError returns (conditionName, true) if err originated from a
// failed condition.
func IsConditionError(err error) (string, bool) {
	var c *ConditionError
	if errors.As(err, &c) {
		return c.Condition, true
	}
	return "", false
}

// timeoutError is recorded by TimeoutObserver when an operation exceeds its
// allotted execution time.
type timeoutError struct {
	Limit time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Limit)
}

// NewTimeoutError returns the error TimeoutObserver uses to cancel an
// operation. Exposed so custom observers can integrate with IsTimeoutError.
func NewTimeoutError(limit time.Duration) error {
	return &timeoutError{Limit: limit}
}

// IsTimeoutError returns (limit, true) if err indicates the operation was
// cancelled for exceeding its execution time limit.
func IsTimeoutError(err error) (time.Duration, bool) {
	var t *timeoutError
	if errors.As(err, &t) {
		return t.Limit, true
	}
	return 0, false
}
