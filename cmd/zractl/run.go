package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/siphomateke/zra-helper-sub001/internal/config"
	"github.com/siphomateke/zra-helper-sub001/internal/platform/portal"
	"github.com/siphomateke/zra-helper-sub001/internal/queue"
	"github.com/siphomateke/zra-helper-sub001/internal/task"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

// report is what a workflow command prints.
type report[In, Out any] struct {
	Status     workflow.Status `json:"status"`
	Output     Out             `json:"output"`
	RetryInput *In             `json:"retry_input,omitempty"`
}

// runner is the part of workflow.Runner the commands drive.
type runner[In, Out any] interface {
	Run(ctx context.Context, input In) (Out, error)
	Retry(ctx context.Context) (Out, error)
	Status() workflow.Status
	RetryInput() (In, bool)
}

// runWithRetries runs input, then retries the narrowed input while the
// runner allows it and retries remain. It writes a report to out and returns
// an error when the final attempt did not fully succeed.
func runWithRetries[In, Out any](ctx context.Context, r runner[In, Out], input In, retries int, out io.Writer, logger *slog.Logger) error {
	output, err := r.Run(ctx, input)
	for attempt := 1; attempt <= retries && r.Status().CanRetry; attempt++ {
		if ctx.Err() != nil {
			break
		}
		logger.Info("retrying failed work", "retry", attempt, "of", retries, "failures", len(r.Status().Failures))
		output, err = r.Retry(ctx)
	}

	status := r.Status()
	rep := report[In, Out]{Status: status, Output: output}
	if retryInput, ok := r.RetryInput(); ok {
		rep.RetryInput = &retryInput
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(rep); encErr != nil {
		return fmt.Errorf("failed to write result: %w", encErr)
	}

	if err != nil {
		return err
	}
	if status.State != workflow.StateSucceeded {
		return fmt.Errorf("workflow finished %s with %d failures", status.State, len(status.Failures))
	}
	return nil
}

// session owns the queues, task tree and portal client of one command.
type session struct {
	queues *queue.Set
	tree   *task.Tree
	portal *portal.Client
}

func newSession(cfg *config.Config, logger *slog.Logger) (*session, error) {
	queues := queue.NewSet(cfg.Queues, logger)
	client, err := portal.New(cfg.Portal, queues, logger)
	if err != nil {
		queues.Close()
		return nil, fmt.Errorf("failed to create portal client: %w", err)
	}
	return &session{
		queues: queues,
		tree:   task.NewTree(nil, nil, logger),
		portal: client,
	}, nil
}

func (s *session) Close() {
	s.queues.Close()
}

var validate = validator.New()

func validateInput(input interface{}) error {
	if err := validate.Struct(input); err != nil {
		return fmt.Errorf("%w: %w", workflow.ErrInvalidInput, err)
	}
	return nil
}
