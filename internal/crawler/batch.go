package crawler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// operation is one unit of deferred work spawned during an invocation:
// a child fetch, a record save, or a connection save.
type operation func(ctx context.Context) error

// runBatched executes ops in fixed-size sub-batches, awaiting each batch
// before starting the next. This bounds how many children of one parent
// are concurrently in flight at the orchestration layer, independent of
// the client's global request limiter, and keeps memory bounded for
// parents with very many children. The first failing operation aborts
// the current batch wait and is returned.
func runBatched(ctx context.Context, ops []operation, size int) error {
	if size <= 0 {
		size = 1
	}
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		g, gctx := errgroup.WithContext(ctx)
		for _, op := range ops[start:end] {
			op := op
			g.Go(func() error { return op(gctx) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
