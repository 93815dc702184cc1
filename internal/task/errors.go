package task

import (
	"errors"
	"fmt"
)

// ErrAllFailed is matched by the error Map returns when every item under the
// parent failed.
var ErrAllFailed = errors.New("all items failed")

// ErrPanicked is matched by the error recorded for work that panicked.
var ErrPanicked = errors.New("task panicked")

// AggregateError reports a parent task whose derived state is StateError.
// It unwraps to ErrAllFailed and to each recorded child error.
type AggregateError struct {
	TaskID ID
	Title  string
	Errs   []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if len(e.Errs) == 1 {
		return fmt.Sprintf("task %d (%s): %v", e.TaskID, e.Title, e.Errs[0])
	}
	return fmt.Sprintf("task %d (%s): %d failures, first: %v", e.TaskID, e.Title, len(e.Errs), first(e.Errs))
}

// Unwrap exposes ErrAllFailed and the child errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return append([]error{ErrAllFailed}, e.Errs...)
}

func first(errs []error) error {
	if len(errs) == 0 {
		return ErrAllFailed
	}
	return errs[0]
}
