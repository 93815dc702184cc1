// Package receipts implements the workflow that downloads payment receipts.
package receipts

import (
	"context"
	"fmt"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

// Name is the workflow name used for registration.
const Name = "receipts"

// Input lists the receipts to download and where to save them. An empty Dir
// uses the workflow's default directory.
type Input struct {
	ReceiptIDs []string `json:"receipt_ids" validate:"required,min=1,dive,required,excludesall=/\\"`
	Dir        string   `json:"dir,omitempty"`
}

// Output maps each downloaded receipt id to the file it was saved to.
type Output struct {
	Files map[string]string `json:"files"`
}

// Downloader saves one receipt into dir and returns the file path.
type Downloader interface {
	DownloadReceipt(ctx context.Context, receiptID, dir string) (string, error)
}

// Workflow downloads receipts through a Downloader.
type Workflow struct {
	downloader Downloader
	defaultDir string
}

// New creates the workflow. defaultDir is used for inputs without a Dir.
func New(downloader Downloader, defaultDir string) *Workflow {
	return &Workflow{downloader: downloader, defaultDir: defaultDir}
}

// Name implements workflow.Workflow.
func (w *Workflow) Name() string { return Name }

// Execute implements workflow.Workflow.
func (w *Workflow) Execute(ctx context.Context, parent *task.Task, input Input) (workflow.Outcome[Input, Output], error) {
	dir := input.Dir
	if dir == "" {
		dir = w.defaultDir
	}
	outcome := workflow.Outcome[Input, Output]{
		Output: Output{Files: make(map[string]string)},
		Failed: Input{Dir: input.Dir},
	}

	results, _ := task.Map(ctx, parent, input.ReceiptIDs, func(ctx context.Context, receiptID string, parent task.Ref) (string, error) {
		return task.RunChild(ctx, parent, task.Options{Title: "Receipt " + receiptID, Indeterminate: true},
			func(ctx context.Context, _ *task.Task) (string, error) {
				return w.downloader.DownloadReceipt(ctx, receiptID, dir)
			}, task.RunOptions{})
	}, task.MapOptions{NeverReject: true})

	for _, r := range results {
		if r.Failed() {
			outcome.Failed.ReceiptIDs = append(outcome.Failed.ReceiptIDs, r.Item)
			outcome.Failures = append(outcome.Failures, workflow.Failure{
				Unit: fmt.Sprintf("receipt %s", r.Item),
				Err:  r.Err,
			})
			continue
		}
		outcome.Output.Files[r.Item] = r.Value
	}
	outcome.ShouldRetry = len(outcome.Failed.ReceiptIDs) > 0
	return outcome, nil
}

// MergeInput implements workflow.Workflow.
func (w *Workflow) MergeInput(original, failed Input) Input {
	merged := Input{
		ReceiptIDs: append([]string(nil), failed.ReceiptIDs...),
		Dir:        original.Dir,
	}
	if failed.Dir != "" {
		merged.Dir = failed.Dir
	}
	return merged
}

// MergeOutput implements workflow.Workflow.
func (w *Workflow) MergeOutput(previous, next Output) Output {
	merged := Output{Files: make(map[string]string, len(previous.Files)+len(next.Files))}
	for id, path := range previous.Files {
		merged.Files[id] = path
	}
	for id, path := range next.Files {
		merged.Files[id] = path
	}
	return merged
}
