package pipeline

import (
	"context"
	"runtime"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/opensearch-project/reindex-from-snapshot/stats"
)

// batchBufferDepth bounds how many ready-to-dispatch batches the
// accumulator may queue ahead of the dispatch stage, the "~50 bulk-sized
// batches" ceiling §4.4 sets for stage buffering.
const batchBufferDepth = 50

// Config tunes the pipeline's stage parameters; see cmn.Config for the
// process-wide defaults these are normally sourced from.
type Config struct {
	MaxDocsPerBulk            int
	MaxBytesPerBulk           int64
	MaxConcurrentBulkRequests int
	TransformPoolSize         int
	SubBatchSize              int

	// Stats, when non-nil, receives per-batch dispatch counters. Optional
	// so unit tests can exercise Run without standing up a registry.
	Stats *stats.Registry
}

// Result summarizes one pipeline run over a single work item's document
// stream.
type Result struct {
	Succeeded              int
	Failed                 []FailedDoc
	MaxOrdinalCheckpointed int64
}

type batchJob struct {
	batch  *Batch
	result chan dispatchResult
}

type dispatchResult struct {
	docCount   int
	maxOrdinal int64
	failed     []FailedDoc
	err        error
}

// Run drives one work item's documents through transform -> accumulate ->
// dispatch -> checkpoint. docs is closed by its producer (the lucene
// reader adapter) when the shard is exhausted or canceled; Run returns
// once every stage has drained.
func Run(ctx context.Context, cfg Config, docs <-chan Doc, transform Transformer, dispatcher *Dispatcher, checkpoint CheckpointFunc) (Result, error) {
	if cfg.TransformPoolSize < 1 {
		cfg.TransformPoolSize = runtime.NumCPU()
	}
	if cfg.SubBatchSize < 1 {
		cfg.SubBatchSize = defaultSubBatchSize
	}
	if cfg.MaxDocsPerBulk < 1 {
		cfg.MaxDocsPerBulk = 1000
	}

	transformed := make(chan Doc, cfg.TransformPoolSize*cfg.SubBatchSize+1)
	jobs := make(chan batchJob, cfg.MaxConcurrentBulkRequests)
	order := make(chan chan dispatchResult, batchBufferDepth)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runTransformPool(gctx, cfg.TransformPoolSize, cfg.SubBatchSize, transform, docs, transformed)
	})

	// Accumulator: groups transformed docs per index until a batch is
	// ready, then hands it to the dispatch stage while recording its
	// result channel in submission order.
	g.Go(func() error {
		defer close(jobs)
		defer close(order)
		batches := map[string]*Batch{}
		submit := func(b *Batch) error {
			resultCh := make(chan dispatchResult, 1)
			select {
			case jobs <- batchJob{batch: b, result: resultCh}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case order <- resultCh:
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		}
		flushAll := func() error {
			for idx, b := range batches {
				if !b.Empty() {
					if err := submit(b); err != nil {
						return err
					}
				}
				delete(batches, idx)
			}
			return nil
		}
		for {
			select {
			case d, ok := <-transformed:
				if !ok {
					return flushAll()
				}
				b, exists := batches[d.IndexName]
				if !exists {
					b = NewBatch(d.IndexName)
					batches[d.IndexName] = b
				}
				b.Add(d)
				if b.Ready(cfg.MaxDocsPerBulk, cfg.MaxBytesPerBulk) {
					if err := submit(b); err != nil {
						return err
					}
					delete(batches, d.IndexName)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Dispatch workers: up to MaxConcurrentBulkRequests concurrent bulk
	// POSTs, each reporting its outcome on the job's own result channel.
	concurrency := cfg.MaxConcurrentBulkRequests
	if concurrency < 1 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for j := range jobs {
				start := time.Now()
				failed, err := dispatcher.Dispatch(gctx, j.batch)
				if cfg.Stats != nil {
					cfg.Stats.ObserveBulk(j.batch.ByteSize, time.Since(start))
					cfg.Stats.DocsDispatched.Add(float64(len(j.batch.Docs) - len(failed)))
					cfg.Stats.DocsFailed.Add(float64(len(failed)))
				}
				j.result <- dispatchResult{
					docCount:   len(j.batch.Docs),
					maxOrdinal: j.batch.MaxOrdinal,
					failed:     failed,
					err:        err,
				}
			}
			return nil
		})
	}

	var result Result
	result.MaxOrdinalCheckpointed = -1

	// Committer: drains `order` strictly in submission sequence so
	// checkpoints only ever advance past batches whose outcome (success
	// or exhausted-retry failure) is already known, even though dispatch
	// itself runs concurrently and batches can finish out of order. A
	// stats.Periodic ticker logs a one-line throughput summary alongside,
	// since this is the one goroutine that sees every committed doc count.
	g.Go(func() error {
		ticker := time.NewTicker(stats.Periodic)
		defer ticker.Stop()
		lastLogged := 0

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
				result.Failed = append(result.Failed, res.failed...)
				result.Succeeded += res.docCount - len(res.failed)
				if res.maxOrdinal > result.MaxOrdinalCheckpointed {
					if checkpoint != nil {
						if err := checkpoint(gctx, res.maxOrdinal); err != nil {
							return err
						}
					}
					result.MaxOrdinalCheckpointed = res.maxOrdinal
				}
			case <-ticker.C:
				if n := result.Succeeded + len(result.Failed); n != lastLogged {
					glog.V(4).Infof("pipeline: %d docs committed (%d failed), checkpoint at ordinal %d",
						result.Succeeded, len(result.Failed), result.MaxOrdinalCheckpointed)
					lastLogged = n
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}
