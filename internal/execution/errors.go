package execution

import (
	"fmt"
	"sort"
)

// TaskFailureError wraps the error a task itself reported.
type TaskFailureError struct {
	Key string
	Err error
}

func (e *TaskFailureError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Key, e.Err)
}
func (e *TaskFailureError) Unwrap() error { return e.Err }

// OutputIOError wraps a failure encountered while deleting a node's
// outputs during failure cleanup.
type OutputIOError struct {
	Key string
	Err error
}

func (e *OutputIOError) Error() string {
	return fmt.Sprintf("cleaning up outputs of %q: %v", e.Key, e.Err)
}
func (e *OutputIOError) Unwrap() error { return e.Err }

// UnexpectedError wraps a failure in the driver or scheduler itself,
// rather than in a task's own logic, such as a scheduler unable to
// submit a node at all.
type UnexpectedError struct {
	Key string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("scheduling %q: %v", e.Key, e.Err)
}
func (e *UnexpectedError) Unwrap() error { return e.Err }

// InterruptedError wraps ctx.Err() when a Run is cut short by context
// cancellation before every node reached a terminal state.
type InterruptedError struct {
	Err error
}

func (e *InterruptedError) Error() string { return fmt.Sprintf("interrupted: %v", e.Err) }
func (e *InterruptedError) Unwrap() error { return e.Err }

// priority ranks errors so that AggregateError.Error() leads with the
// most actionable one: a bug in the driver outranks a task's own
// reported failure, which outranks a secondary cleanup I/O error, which
// outranks a plain cancellation.
func priority(err error) int {
	switch err.(type) {
	case *UnexpectedError:
		return 0
	case *TaskFailureError:
		return 1
	case *OutputIOError:
		return 2
	case *InterruptedError:
		return 3
	default:
		return 4
	}
}

// AggregateError collects every error observed during a single Run,
// exposing them through Unwrap() []error so that errors.Is/As can reach
// any of them, while Error() reports the highest-priority one first.
type AggregateError struct {
	Errs []error
}

func (a *AggregateError) Error() string {
	if len(a.Errs) == 0 {
		return "execution: no errors"
	}
	ordered := append([]error(nil), a.Errs...)
	sort.SliceStable(ordered, func(i, j int) bool { return priority(ordered[i]) < priority(ordered[j]) })
	if len(ordered) == 1 {
		return ordered[0].Error()
	}
	return fmt.Sprintf("%s (and %d more error(s))", ordered[0].Error(), len(ordered)-1)
}

// Unwrap exposes every collected error for errors.Is/errors.As traversal.
func (a *AggregateError) Unwrap() []error { return a.Errs }
