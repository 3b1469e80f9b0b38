package pipeline

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// runWave runs task for every item with at most workers in flight and returns once
// all started tasks have returned. After the first failure, or once ctx is
// cancelled, no new task starts. Results of successful tasks are returned in
// completion order along with the first error.
func runWave[T, R any](ctx context.Context, workers int, items []T, task func(T) (R, error), done func(R)) ([]R, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	results := make([]R, 0, len(items))

	for _, item := range items {
		item := item
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			result, err := task(item)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			results = append(results, result)
			done(result)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	// Tasks skipped because of cancellation leave the wave incomplete.
	if err := ctx.Err(); err != nil && len(results) < len(items) {
		return results, err
	}
	return results, nil
}
