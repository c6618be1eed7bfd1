// Package runner fans one function out over many independent targets
// in parallel. It is the single sanctioned way to act on a set of
// homogeneous remote targets; backends must not roll their own pools.
package runner

import (
	"context"
	"fmt"
	"sync"
)

// DefaultMaxWorkers bounds concurrency when no limit is given.
const DefaultMaxWorkers = 32

// Runner executes per-target work on a bounded worker pool.
type Runner struct {
	// MaxWorkers caps concurrent invocations. Zero or negative
	// means DefaultMaxWorkers.
	MaxWorkers int
}

func (r Runner) limit() int {
	if r.MaxWorkers > 0 {
		return r.MaxWorkers
	}
	return DefaultMaxWorkers
}

// Run applies fn to every target concurrently and returns the results
// aligned to input order, not completion order. Every target runs to
// completion even when another fails, so concurrently created
// resources are not leaked; the failure with the lowest input index
// is surfaced. Callers that need per-target outcomes must report
// failure inside fn.
func Run[T, R any](ctx context.Context, r Runner, targets []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	results := make([]R, len(targets))
	errs := make([]error, len(targets))

	sem := make(chan struct{}, r.limit())
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target T) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], errs[i] = fn(ctx, target)
		}(i, target)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return results, fmt.Errorf("target %d of %d: %w", i+1, len(targets), err)
		}
	}
	return results, nil
}
