package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// Common errors returned by runners and the manager.
var (
	ErrRunInProgress   = errors.New("workflow run already in progress")
	ErrNothingToRetry  = errors.New("workflow has nothing to retry")
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrRunNotFound     = errors.New("workflow run not found")
	ErrInvalidInput    = errors.New("invalid workflow input")
)

// Failure names one sub-unit of a workflow that did not complete.
type Failure struct {
	// Unit describes the sub-unit, for example "VAT return history page 2".
	Unit string
	Err  error
}

// Error implements the error interface.
func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Unit, f.Err)
}

// Unwrap returns the underlying error.
func (f Failure) Unwrap() error {
	return f.Err
}

// MarshalJSON encodes the failure with its error message.
func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		Unit  string `json:"unit"`
		Error string `json:"error"`
	}{Unit: f.Unit, Error: msg})
}

// Outcome is what one execution of a workflow produced.
type Outcome[In, Out any] struct {
	// Output holds whatever succeeded, possibly partial.
	Output Out

	// Failed is a copy of the input narrowed to the sub-units that failed.
	Failed In

	// Failures explains each failed sub-unit.
	Failures []Failure

	// ShouldRetry is set when running Failed again could make progress.
	ShouldRetry bool
}

// Workflow is a unit of retryable work.
type Workflow[In, Out any] interface {
	// Name identifies the workflow.
	Name() string

	// Execute does the work under parent. It returns an error only when
	// nothing useful could be done at all; partial failures are reported in
	// the Outcome.
	Execute(ctx context.Context, parent *task.Task, input In) (Outcome[In, Out], error)

	// MergeInput overlays the narrowed input of a run onto the input that run
	// was given, producing the input of the retry.
	MergeInput(original, failed In) In

	// MergeOutput combines the output of a previous run with the output of
	// its retry.
	MergeOutput(previous, next Out) Out
}
