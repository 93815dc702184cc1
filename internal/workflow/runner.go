package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
)

// RunState is the lifecycle state of a Runner.
type RunState string

// Runner states. A runner starts Idle and returns to one of the terminal
// states after every run.
const (
	StateIdle            RunState = "idle"
	StateRunning         RunState = "running"
	StateSucceeded       RunState = "succeeded"
	StatePartiallyFailed RunState = "partially_failed"
	StateFailed          RunState = "failed"
)

// Status is a point-in-time view of a Runner.
type Status struct {
	State    RunState  `json:"state"`
	Attempts int       `json:"attempts"`
	TaskID   task.ID   `json:"task_id,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
	Error    string    `json:"error,omitempty"`
	CanRetry bool      `json:"can_retry"`
}

// Runner drives one instance of a workflow, keeping its accumulated output
// and the input needed to retry whatever failed.
type Runner[In, Out any] struct {
	wf     Workflow[In, Out]
	tree   *task.Tree
	logger *slog.Logger

	mu         sync.Mutex
	state      RunState
	attempts   int
	taskID     task.ID
	output     Out
	hasOutput  bool
	failures   []Failure
	err        error
	retryInput In
	canRetry   bool
}

// NewRunner creates an idle runner whose tasks are created in tree.
func NewRunner[In, Out any](wf Workflow[In, Out], tree *task.Tree, logger *slog.Logger) *Runner[In, Out] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner[In, Out]{
		wf:     wf,
		tree:   tree,
		logger: logger.With("workflow", wf.Name()),
		state:  StateIdle,
	}
}

// Run executes the workflow with input and returns the accumulated output.
func (r *Runner[In, Out]) Run(ctx context.Context, input In) (Out, error) {
	attempt, err := r.begin()
	if err != nil {
		var zero Out
		return zero, err
	}
	return r.execute(ctx, input, attempt)
}

// Retry executes the workflow again with the retry input of the last run.
func (r *Runner[In, Out]) Retry(ctx context.Context) (Out, error) {
	input, attempt, err := r.beginRetry()
	if err != nil {
		var zero Out
		return zero, err
	}
	return r.execute(ctx, input, attempt)
}

// RetryInput returns the input a retry would use. ok is false when there is
// nothing to retry.
func (r *Runner[In, Out]) RetryInput() (input In, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryInput, r.canRetry
}

// Output returns the output accumulated over all runs so far.
func (r *Runner[In, Out]) Output() Out {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// Status returns the current state of the runner.
func (r *Runner[In, Out]) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := Status{
		State:    r.state,
		Attempts: r.attempts,
		TaskID:   r.taskID,
		Failures: append([]Failure(nil), r.failures...),
		CanRetry: r.canRetry,
	}
	if r.err != nil {
		status.Error = r.err.Error()
	}
	return status
}

// begin moves the runner to Running for a fresh run.
func (r *Runner[In, Out]) begin() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRunning {
		return 0, ErrRunInProgress
	}
	r.state = StateRunning
	r.attempts++
	return r.attempts, nil
}

// beginRetry moves the runner to Running for a retry and returns its input.
func (r *Runner[In, Out]) beginRetry() (In, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero In
	if r.state == StateRunning {
		return zero, 0, ErrRunInProgress
	}
	if !r.canRetry {
		return zero, 0, ErrNothingToRetry
	}
	r.state = StateRunning
	r.attempts++
	return r.retryInput, r.attempts, nil
}

// abort records a run that ended without returning, such as one that
// panicked. Whatever retry input the runner had is kept.
func (r *Runner[In, Out]) abort(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateFailed
	r.err = err
	runsFinished.WithLabelValues(r.wf.Name(), string(StateFailed)).Inc()
}

func (r *Runner[In, Out]) execute(ctx context.Context, input In, attempt int) (Out, error) {
	ctx, span := tracer.Start(ctx, "workflow.Run", trace.WithAttributes(
		attribute.String("workflow.name", r.wf.Name()),
		attribute.Int("workflow.attempt", attempt),
	))
	defer span.End()

	title := r.wf.Name()
	if attempt > 1 {
		title = fmt.Sprintf("%s (retry %d)", title, attempt-1)
	}
	root := r.tree.NewTask(task.Options{Title: title, UnknownMaxProgress: true})

	r.mu.Lock()
	r.taskID = root.ID()
	r.mu.Unlock()

	logger := r.logger.With("attempt", attempt, "task_id", root.ID())
	logger.Info("workflow run started")
	started := time.Now()

	outcome, err := task.Run(ctx, root, func(ctx context.Context) (Outcome[In, Out], error) {
		return r.wf.Execute(ctx, root, input)
	}, task.RunOptions{StateFromChildren: true})

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.state = StateFailed
		r.err = err
		r.failures = nil
		r.retryInput = input
		r.canRetry = true
		runsFinished.WithLabelValues(r.wf.Name(), string(StateFailed)).Inc()
		logger.Error("workflow run failed", "error", err, "duration", time.Since(started))
		return r.output, err
	}

	if r.hasOutput {
		r.output = r.wf.MergeOutput(r.output, outcome.Output)
	} else {
		r.output = outcome.Output
		r.hasOutput = true
	}
	r.err = nil
	r.failures = outcome.Failures

	if len(outcome.Failures) > 0 {
		r.state = StatePartiallyFailed
		r.canRetry = outcome.ShouldRetry
		if outcome.ShouldRetry {
			r.retryInput = r.wf.MergeInput(input, outcome.Failed)
		}
		span.SetStatus(codes.Error, fmt.Sprintf("%d sub-units failed", len(outcome.Failures)))
		logger.Warn("workflow run partially failed",
			"failures", len(outcome.Failures),
			"can_retry", r.canRetry,
			"duration", time.Since(started))
	} else {
		r.state = StateSucceeded
		r.canRetry = false
		var zero In
		r.retryInput = zero
		logger.Info("workflow run succeeded", "duration", time.Since(started))
	}
	runsFinished.WithLabelValues(r.wf.Name(), string(r.state)).Inc()
	return r.output, nil
}
