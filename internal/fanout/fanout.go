// Package fanout runs per-scene work in fixed-size concurrent batches with a
// cooldown between batches.
package fanout

import (
	"context"
	"sync"
	"time"
)

// Options controls batch size and pacing.
type Options struct {
	Concurrency int
	Cooldown    time.Duration
	// Sequential forces one call at a time with no cooldown.
	Sequential bool
}

// Result is the outcome for one index.
type Result[T any] struct {
	Value T
	Err   error
	// Attempted is false for indices skipped because the context ended first.
	Attempted bool
}

// Run calls fn for indices 0..n-1 in batches of Concurrency, waiting Cooldown
// between batches. The context is checked before each batch; calls already in
// flight are left to finish. Results are stored by index. The returned error is
// the context error when the run stopped early.
func Run[T any](ctx context.Context, n int, opts Options, fn func(ctx context.Context, index int) (T, error)) ([]Result[T], error) {
	results := make([]Result[T], n)
	if n == 0 {
		return results, nil
	}
	size := opts.Concurrency
	cooldown := opts.Cooldown
	if opts.Sequential || size <= 0 {
		size = 1
	}
	if opts.Sequential {
		cooldown = 0
	}

	for start := 0; start < n; start += size {
		if start > 0 && cooldown > 0 {
			if err := wait(ctx, cooldown); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		end := min(start+size, n)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				value, err := fn(ctx, index)
				results[index] = Result[T]{Value: value, Err: err, Attempted: true}
			}(i)
		}
		wg.Wait()
	}
	return results, nil
}

// Failed counts attempted indices that returned an error.
func Failed[T any](results []Result[T]) int {
	count := 0
	for _, r := range results {
		if r.Attempted && r.Err != nil {
			count++
		}
	}
	return count
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
