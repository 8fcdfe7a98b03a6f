package registration

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ParallelMap applies fn to every entry of inputs using at most workers
// goroutines (all CPUs when workers <= 0) and gathers the results under the
// same keys.
//
// fn must be safe for concurrent use. The first error cancels the context
// passed to the remaining calls and is returned with no partial results.
func ParallelMap[K comparable, V, R any](
	ctx context.Context,
	inputs map[K]V,
	workers int,
	fn func(ctx context.Context, key K, value V) (R, error),
) (map[K]R, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	results := make(map[K]R, len(inputs))
	for key, value := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := fn(ctx, key, value)
			if err != nil {
				return fmt.Errorf("key %v: %w", key, err)
			}
			mu.Lock()
			results[key] = r
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// keyed indexes a slice by position.
func keyed[V any](values []V) map[int]V {
	m := make(map[int]V, len(values))
	for i, v := range values {
		m[i] = v
	}
	return m
}
