package task

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item of a Map. Exactly one of Value and Err is
// meaningful: Err is nil when the item succeeded.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// Failed reports whether the item failed.
func (r Result[T, R]) Failed() bool { return r.Err != nil }

// MapFunc processes one item. parent is the task the Map runs under; the
// function usually creates its own child of parent to track the item.
type MapFunc[T, R any] func(ctx context.Context, item T, parent Ref) (R, error)

// MapOptions tune Map.
type MapOptions struct {
	// KeepProgressMax leaves the parent's progress max as the caller set it
	// instead of bounding it by the number of items.
	KeepProgressMax bool

	// ManualState skips deriving the parent's state once all items settle.
	ManualState bool

	// NeverReject returns a nil error even when the derived state is
	// StateError.
	NeverReject bool
}

// Map calls fn for every item concurrently and waits for all of them.
//
// The parent is switched to stored, non-sequential progress bounded by the
// number of items and advances by one as each item settles. Every item yields
// exactly one Result, at the same index as the item, whatever happened to
// the others. Once all items settle the parent is marked complete and, unless
// ManualState is set, its state is derived from its children (or from the
// results when fn created no children). If that state is StateError and
// NeverReject is not set, Map returns the results together with an
// *AggregateError.
//
// Map places no limit on how many items run at once.
func Map[T, R any](ctx context.Context, parent *Task, items []T, fn MapFunc[T, R], opts MapOptions) ([]Result[T, R], error) {
	ctx, span := tracer.Start(ctx, "task.Map", trace.WithAttributes(
		attribute.Int64("task.id", int64(parent.ID())),
		attribute.Int("map.items", len(items)),
	))
	defer span.End()

	parent.tree.configureParallel(parent.id, float64(len(items)), !opts.KeepProgressMax)

	results := make([]Result[T, R], len(items))
	var g errgroup.Group
	for i, item := range items {
		g.Go(func() (panicErr error) {
			defer func() {
				if r := recover(); r != nil {
					panicErr = fmt.Errorf("%w: item %v: %v", ErrPanicked, item, r)
					results[i] = Result[T, R]{Item: item, Err: panicErr}
				}
				if results[i].Err != nil {
					mapItems.WithLabelValues("error").Inc()
				} else {
					mapItems.WithLabelValues("success").Inc()
				}
				parent.tree.step(parent.id, 1)
			}()

			value, err := fn(ctx, item, parent.Ref)
			results[i] = Result[T, R]{Item: item, Value: value, Err: err}
			return nil
		})
	}
	// Only recovered panics reach Wait; ordinary failures live in results.
	if err := g.Wait(); err != nil {
		span.RecordError(err)
	}

	parent.MarkAsComplete()
	if opts.ManualState {
		return results, nil
	}

	var state State
	if parent.tree.hasAutoChildren(parent.id) {
		state = parent.SetStateBasedOnChildren()
	} else {
		state = stateFromResults(results)
		parent.SetState(state)
	}

	if state != StateError {
		return results, nil
	}

	parent.SetErrorBasedOnChildren()
	span.SetStatus(codes.Error, "all items failed")
	if opts.NeverReject {
		return results, nil
	}

	errs := parent.tree.childErrors(parent.id)
	if len(errs) == 0 {
		for _, r := range results {
			if r.Err != nil {
				errs = append(errs, fmt.Errorf("%v: %w", r.Item, r.Err))
			}
		}
	}
	return results, &AggregateError{TaskID: parent.ID(), Title: parent.Title(), Errs: errs}
}

// MapCount is Map over the integers 0..count-1.
func MapCount[R any](ctx context.Context, parent *Task, count int, fn MapFunc[int, R], opts MapOptions) ([]Result[int, R], error) {
	if count < 0 {
		panic(fmt.Sprintf("task: negative map count %d", count))
	}
	items := make([]int, count)
	for i := range items {
		items[i] = i
	}
	return Map(ctx, parent, items, fn, opts)
}

// stateFromResults applies the child aggregation rule to raw results.
func stateFromResults[T, R any](results []Result[T, R]) State {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	switch {
	case len(results) > 0 && failed == len(results):
		return StateError
	case failed > 0:
		return StateWarning
	default:
		return StateSuccess
	}
}

// Values returns the values of the successful results, in item order.
func Values[T, R any](results []Result[T, R]) []R {
	values := make([]R, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			values = append(values, r.Value)
		}
	}
	return values
}

// FailedItems returns the items whose results failed, in item order.
func FailedItems[T, R any](results []Result[T, R]) []T {
	var items []T
	for _, r := range results {
		if r.Err != nil {
			items = append(items, r.Item)
		}
	}
	return items
}
