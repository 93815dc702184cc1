package task

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunOptions tune how Run records the outcome of the work on its task.
type RunOptions struct {
	// KeepState leaves the state alone on success.
	KeepState bool

	// StateFromChildren derives the success state from the task's children
	// instead of recording StateSuccess.
	StateFromChildren bool

	// CatchErrors swallows a failure after recording it: Run then returns the
	// zero value and a nil error.
	CatchErrors bool
}

// Run executes fn as the work of task.
//
// On success the task state becomes StateSuccess, or the state derived from
// its children. On failure the error is recorded on the task, which forces
// StateError, and is returned unless CatchErrors is set. In every case the
// task is marked complete last. A panic in fn is recorded as an error
// matching ErrPanicked and then re-raised.
func Run[R any](ctx context.Context, t *Task, fn func(ctx context.Context) (R, error), opts RunOptions) (R, error) {
	ctx, span := tracer.Start(ctx, "task.Run", trace.WithAttributes(
		attribute.Int64("task.id", int64(t.ID())),
		attribute.String("task.title", t.Title()),
	))
	defer span.End()
	defer t.MarkAsComplete()
	defer func() {
		if r := recover(); r != nil {
			t.SetError(fmt.Errorf("%w: %v", ErrPanicked, r))
			panic(r)
		}
	}()

	value, err := fn(ctx)
	if err != nil {
		t.SetError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var zero R
		if opts.CatchErrors {
			return zero, nil
		}
		return zero, err
	}

	switch {
	case opts.KeepState:
	case opts.StateFromChildren:
		t.SetStateBasedOnChildren()
	default:
		t.SetState(StateSuccess)
	}
	return value, nil
}

// RunChild creates a child of parent with opts and runs fn as its work.
func RunChild[R any](ctx context.Context, parent Ref, opts Options, fn func(ctx context.Context, t *Task) (R, error), runOpts RunOptions) (R, error) {
	child := parent.NewChild(opts)
	return Run(ctx, child, func(ctx context.Context) (R, error) {
		return fn(ctx, child)
	}, runOpts)
}
