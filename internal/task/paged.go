package task

import (
	"context"
	"fmt"
)

// Page is one page of a paginated source together with the total number of
// pages the source reported.
type Page[V any] struct {
	NumPages int
	Value    V
}

// PageFunc fetches one page. Pages are numbered from 1.
type PageFunc[V any] func(ctx context.Context, page int, parent Ref) (Page[V], error)

// PagedOptions tune FetchPaged.
type PagedOptions struct {
	// Pages lists the exact pages to fetch. When empty, the page count is
	// discovered from page 1 and every page is fetched.
	Pages []int
}

// FetchPaged fetches every page of a paginated source under parent.
//
// Without explicit pages it fetches page 1 first to learn the page count,
// sets the parent's progress max to it and fetches pages 2..n through Map.
// A failure on page 1 fails the whole fetch, since nothing else can be known.
// With explicit pages it maps over exactly those and never touches page 1
// unless asked to.
//
// Failures of individual pages are reported in the results, never as the
// returned error, so callers can retry exactly the pages that failed.
func FetchPaged[V any](ctx context.Context, parent *Task, get PageFunc[V], opts PagedOptions) ([]Result[int, V], error) {
	fetch := func(ctx context.Context, page int, ref Ref) (V, error) {
		p, err := get(ctx, page, ref)
		return p.Value, err
	}

	if len(opts.Pages) > 0 {
		return Map(ctx, parent, opts.Pages, fetch, MapOptions{NeverReject: true})
	}

	parent.tree.configureParallel(parent.id, 1, true)
	first, err := get(ctx, 1, parent.Ref)
	if err != nil {
		err = fmt.Errorf("failed to fetch first page: %w", err)
		parent.SetError(err)
		parent.MarkAsComplete()
		return nil, err
	}

	numPages := first.NumPages
	if numPages < 1 {
		numPages = 1
	}
	parent.SetProgressMax(float64(numPages))
	parent.tree.step(parent.id, 1)

	rest, err := MapCount(ctx, parent, numPages-1, func(ctx context.Context, i int, ref Ref) (V, error) {
		return fetch(ctx, i+2, ref)
	}, MapOptions{KeepProgressMax: true, ManualState: true})
	if err != nil {
		return nil, err
	}

	results := make([]Result[int, V], 0, numPages)
	results = append(results, Result[int, V]{Item: 1, Value: first.Value})
	for _, r := range rest {
		r.Item += 2
		results = append(results, r)
	}

	// Page 1 counts towards the parent's state like every other page.
	if parent.tree.hasAutoChildren(parent.id) {
		if parent.SetStateBasedOnChildren() == StateError {
			parent.SetErrorBasedOnChildren()
		}
	} else {
		parent.SetState(stateFromResults(results))
	}
	return results, nil
}
