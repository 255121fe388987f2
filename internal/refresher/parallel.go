package refresher

import (
	"context"
	"sync"
	"sync/atomic"
)

// collect runs process over items with at most workers goroutines. Unlike a
// fail-fast pool, one item's failure never stops the others; only ctx
// cancellation does. Results keep item order; items skipped after
// cancellation hold the zero R.
func collect[T any, R any](
	ctx context.Context,
	items []T,
	workers int,
	process func(ctx context.Context, item T) R,
	onProgress func(done int64, total int64),
) []R {
	if len(items) == 0 {
		return nil
	}

	workers = normalizeWorkers(workers, len(items))
	total := int64(len(items))
	out := make([]R, len(items))

	jobs := make(chan int, len(items))
	for i := range items {
		jobs <- i
	}
	close(jobs)

	var done int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if ctx.Err() != nil {
					return
				}
				out[idx] = process(ctx, items[idx])
				n := atomic.AddInt64(&done, 1)
				if onProgress != nil {
					onProgress(n, total)
				}
			}
		}()
	}
	wg.Wait()
	return out
}

// normalizeWorkers ensures worker count is between 1 and item count.
func normalizeWorkers(workers, itemCount int) int {
	if workers < 1 {
		workers = 1
	}
	if workers > itemCount {
		workers = itemCount
	}
	return workers
}
