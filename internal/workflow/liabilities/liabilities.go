// Package liabilities implements the workflow that collects pending tax
// liabilities for a set of tax types.
//
// For every tax type the return history is fetched page by page, and the
// liability of every return found on it is looked up. Failed tax types,
// history pages and returns are narrowed into the retry input so that a retry
// only redoes what failed.
package liabilities

import (
	"context"
	"fmt"
	"sort"

	"github.com/siphomateke/zra-helper-sub001/internal/task"
	"github.com/siphomateke/zra-helper-sub001/internal/workflow"
)

// Name is the workflow name used for registration.
const Name = "liabilities"

// TaxType is a portal tax type code such as ITX, VAT, PAYE or WHT.
type TaxType string

// Input selects the tax types and period to collect. ReturnHistoryPages and
// Returns restrict the work for a tax type to specific history pages and
// returns; they are filled in by retries.
type Input struct {
	TaxTypeIDs         []TaxType            `json:"tax_type_ids" validate:"required,min=1,dive,required"`
	From               string               `json:"from" validate:"required"`
	To                 string               `json:"to" validate:"required"`
	ReturnHistoryPages map[TaxType][]int    `json:"return_history_pages,omitempty"`
	Returns            map[TaxType][]string `json:"returns,omitempty"`
}

// Liability is the amount outstanding on one return.
type Liability struct {
	ReturnID  string  `json:"return_id"`
	Period    string  `json:"period"`
	Principal float64 `json:"principal"`
	Interest  float64 `json:"interest"`
	Penalty   float64 `json:"penalty"`
}

// Total returns the full amount owed.
func (l Liability) Total() float64 {
	return l.Principal + l.Interest + l.Penalty
}

// Output holds the liabilities found per tax type, sorted by return id.
type Output struct {
	Liabilities map[TaxType][]Liability `json:"liabilities"`
}

// HistoryPage is one page of a tax type's return history.
type HistoryPage struct {
	NumPages  int
	ReturnIDs []string
}

// Source is where the workflow reads return histories and liabilities from.
type Source interface {
	ReturnHistory(ctx context.Context, taxType TaxType, from, to string, page int) (HistoryPage, error)
	Liability(ctx context.Context, taxType TaxType, returnID string) (Liability, error)
}

// Workflow collects pending liabilities from a Source.
type Workflow struct {
	source Source
}

// New creates the workflow.
func New(source Source) *Workflow {
	return &Workflow{source: source}
}

// Name implements workflow.Workflow.
func (w *Workflow) Name() string { return Name }

// taxTypeResult is what processing one tax type produced.
type taxTypeResult struct {
	liabilities   []Liability
	failedPages   []int
	failedReturns []string
	failures      []workflow.Failure
}

// Execute implements workflow.Workflow.
func (w *Workflow) Execute(ctx context.Context, parent *task.Task, input Input) (workflow.Outcome[Input, Output], error) {
	outcome := workflow.Outcome[Input, Output]{
		Output: Output{Liabilities: make(map[TaxType][]Liability)},
		Failed: Input{From: input.From, To: input.To},
	}

	results, _ := task.Map(ctx, parent, input.TaxTypeIDs, func(ctx context.Context, taxType TaxType, parent task.Ref) (taxTypeResult, error) {
		return task.RunChild(ctx, parent, task.Options{
			Title:              string(taxType),
			UnknownMaxProgress: true,
			Sequential:         true,
		}, func(ctx context.Context, t *task.Task) (taxTypeResult, error) {
			return w.processTaxType(ctx, t, taxType, input)
		}, task.RunOptions{StateFromChildren: true})
	}, task.MapOptions{NeverReject: true})

	for _, r := range results {
		taxType := r.Item
		if r.Failed() {
			// Nothing is known about this tax type, so all of it is redone.
			outcome.Failed.TaxTypeIDs = append(outcome.Failed.TaxTypeIDs, taxType)
			outcome.Failures = append(outcome.Failures, workflow.Failure{Unit: string(taxType), Err: r.Err})
			continue
		}

		res := r.Value
		outcome.Output.Liabilities[taxType] = sortLiabilities(res.liabilities)
		outcome.Failures = append(outcome.Failures, res.failures...)
		if len(res.failedPages) == 0 && len(res.failedReturns) == 0 {
			continue
		}
		outcome.Failed.TaxTypeIDs = append(outcome.Failed.TaxTypeIDs, taxType)
		if len(res.failedPages) > 0 {
			if outcome.Failed.ReturnHistoryPages == nil {
				outcome.Failed.ReturnHistoryPages = make(map[TaxType][]int)
			}
			outcome.Failed.ReturnHistoryPages[taxType] = res.failedPages
		}
		if len(res.failedReturns) > 0 {
			if outcome.Failed.Returns == nil {
				outcome.Failed.Returns = make(map[TaxType][]string)
			}
			outcome.Failed.Returns[taxType] = res.failedReturns
		}
	}

	outcome.ShouldRetry = len(outcome.Failed.TaxTypeIDs) > 0
	return outcome, nil
}

// processTaxType fetches the return history of one tax type, unless the input
// names only specific returns, and then looks up each return's liability.
func (w *Workflow) processTaxType(ctx context.Context, t *task.Task, taxType TaxType, input Input) (taxTypeResult, error) {
	var res taxTypeResult

	pages, hasPages := input.ReturnHistoryPages[taxType]
	knownReturns, hasReturns := input.Returns[taxType]

	var returnIDs []string
	if hasPages || !hasReturns {
		history := t.NewChild(task.Options{Title: "Get return history"})
		pageResults, err := task.FetchPaged(ctx, history, func(ctx context.Context, page int, _ task.Ref) (task.Page[[]string], error) {
			p, err := w.source.ReturnHistory(ctx, taxType, input.From, input.To, page)
			return task.Page[[]string]{NumPages: p.NumPages, Value: p.ReturnIDs}, err
		}, task.PagedOptions{Pages: pages})
		if err != nil {
			return res, fmt.Errorf("failed to get %s return history: %w", taxType, err)
		}

		for _, r := range pageResults {
			if r.Failed() {
				res.failedPages = append(res.failedPages, r.Item)
				res.failures = append(res.failures, workflow.Failure{
					Unit: fmt.Sprintf("%s return history page %d", taxType, r.Item),
					Err:  r.Err,
				})
				continue
			}
			returnIDs = append(returnIDs, r.Value...)
		}
	}
	returnIDs = dedupe(append(returnIDs, knownReturns...))

	lookups := t.NewChild(task.Options{Title: "Get liabilities"})
	liabilityResults, _ := task.Map(ctx, lookups, returnIDs, func(ctx context.Context, returnID string, parent task.Ref) (Liability, error) {
		return task.RunChild(ctx, parent, task.Options{Title: "Return " + returnID, Indeterminate: true},
			func(ctx context.Context, _ *task.Task) (Liability, error) {
				return w.source.Liability(ctx, taxType, returnID)
			}, task.RunOptions{})
	}, task.MapOptions{NeverReject: true})

	for _, r := range liabilityResults {
		if r.Failed() {
			res.failedReturns = append(res.failedReturns, r.Item)
			res.failures = append(res.failures, workflow.Failure{
				Unit: fmt.Sprintf("%s return %s", taxType, r.Item),
				Err:  r.Err,
			})
			continue
		}
		res.liabilities = append(res.liabilities, r.Value)
	}
	return res, nil
}

// MergeInput implements workflow.Workflow. The period comes from the
// original input; everything else is narrowed to what failed.
func (w *Workflow) MergeInput(original, failed Input) Input {
	merged := Input{
		TaxTypeIDs: append([]TaxType(nil), failed.TaxTypeIDs...),
		From:       original.From,
		To:         original.To,
	}
	if failed.From != "" {
		merged.From = failed.From
	}
	if failed.To != "" {
		merged.To = failed.To
	}
	if len(failed.ReturnHistoryPages) > 0 {
		merged.ReturnHistoryPages = make(map[TaxType][]int, len(failed.ReturnHistoryPages))
		for taxType, pages := range failed.ReturnHistoryPages {
			merged.ReturnHistoryPages[taxType] = append([]int(nil), pages...)
		}
	}
	if len(failed.Returns) > 0 {
		merged.Returns = make(map[TaxType][]string, len(failed.Returns))
		for taxType, returns := range failed.Returns {
			merged.Returns[taxType] = append([]string(nil), returns...)
		}
	}
	return merged
}

// MergeOutput implements workflow.Workflow. Liabilities from next replace
// those of previous with the same return id.
func (w *Workflow) MergeOutput(previous, next Output) Output {
	merged := Output{Liabilities: make(map[TaxType][]Liability)}
	for _, out := range []Output{previous, next} {
		for taxType, liabilities := range out.Liabilities {
			byID := make(map[string]Liability)
			for _, l := range merged.Liabilities[taxType] {
				byID[l.ReturnID] = l
			}
			for _, l := range liabilities {
				byID[l.ReturnID] = l
			}
			list := make([]Liability, 0, len(byID))
			for _, l := range byID {
				list = append(list, l)
			}
			merged.Liabilities[taxType] = sortLiabilities(list)
		}
	}
	return merged
}

func sortLiabilities(liabilities []Liability) []Liability {
	sort.Slice(liabilities, func(i, j int) bool {
		return liabilities[i].ReturnID < liabilities[j].ReturnID
	})
	return liabilities
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
