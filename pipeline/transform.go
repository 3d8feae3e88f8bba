package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Transformer reshapes one document's source JSON into the target
// index's document shape (§4.2's "reshaped when necessary", §4.4's
// "apply an optional transformer"). A nil Transformer is a no-op passthrough.
type Transformer func(ctx context.Context, d Doc) (Doc, error)

const defaultSubBatchSize = 100

type transformResult struct {
	docs []Doc
	err  error
}

// runTransformPool is the transform-pool stage of §4.4: it groups
// documents from in into sub-batches of subBatchSize, applies transform
// to each sub-batch concurrently across poolSize workers, and emits
// results to out in original arrival order. Sub-batching is sized per
// §4.4's note ("small sub-batches, e.g., 100 docs"); pool concurrency is
// what fan-out's across poolSize workers, not the emission order -- a
// dedicated emitter waits on each sub-batch's result in submission
// sequence so downstream accumulation and checkpointing never observe
// documents out of the order the reader produced them.
//
// Grounded on fs/mpather/jogger.go's joggerSyncGroup: a bounded semaphore
// of worker goroutines coordinated through an errgroup, the same shape
// adapted here from "fan out file-walk work" to "fan out transform work".
func runTransformPool(ctx context.Context, poolSize, subBatchSize int, transform Transformer, in <-chan Doc, out chan<- Doc) error {
	if poolSize < 1 {
		poolSize = 1
	}
	if subBatchSize < 1 {
		subBatchSize = defaultSubBatchSize
	}

	type job struct {
		docs   []Doc
		result chan transformResult
	}

	jobs := make(chan job, poolSize)
	order := make(chan chan transformResult, poolSize*2)

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < poolSize; i++ {
		g.Go(func() error {
			for j := range jobs {
				res := make([]Doc, 0, len(j.docs))
				var firstErr error
				for _, d := range j.docs {
					if firstErr != nil {
						break
					}
					if transform == nil {
						res = append(res, d)
						continue
					}
					td, err := transform(gctx, d)
					if err != nil {
						firstErr = err
						break
					}
					res = append(res, td)
				}
				j.result <- transformResult{docs: res, err: firstErr}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		buf := make([]Doc, 0, subBatchSize)
		submit := func() error {
			if len(buf) == 0 {
				return nil
			}
			resultCh := make(chan transformResult, 1)
			j := job{docs: append([]Doc(nil), buf...), result: resultCh}
			select {
			case jobs <- j:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case order <- resultCh:
			case <-gctx.Done():
				return gctx.Err()
			}
			buf = buf[:0]
			return nil
		}
		for {
			select {
			case d, ok := <-in:
				if !ok {
					return submit()
				}
				buf = append(buf, d)
				if len(buf) >= subBatchSize {
					if err := submit(); err != nil {
						return err
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		defer close(out)
		for {
			select {
			case resultCh, ok := <-order:
				if !ok {
					return nil
				}
				res := <-resultCh
				if res.err != nil {
					return res.err
				}
				for _, d := range res.docs {
					select {
					case out <- d:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	return g.Wait()
}
