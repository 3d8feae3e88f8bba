package pipeline

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/golang/glog"
	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/valyala/fasthttp"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// Bulk retry policy of §4.4: exponential backoff with jitter, initial 2s,
// cap 60s, up to 15 attempts per batch (~10 min total).
const (
	bulkInitialBackoff = 2 * time.Second
	bulkMaxBackoff      = 60 * time.Second
	bulkMaxAttempts     = 15
)

// dedupFilterCapacity sizes the approximate dedup guard well above any
// single work item's expected document count. Entries are never removed,
// so a Dispatcher shared across work items accumulates the ids of all of
// them for its whole lifetime.
const dedupFilterCapacity = 1_000_000

// FailedDoc records one document the dispatcher gave up retrying, per
// §4.4's "log record for the failed docs ... these docs are not
// considered migrated."
type FailedDoc struct {
	IndexName string
	DocID     string
	Size      int
	Cause     string
}

// Dispatcher issues bulk requests against the target cluster's
// <target>/<indexName>/_bulk endpoint, handling partial failure and
// per-document retries. Checkpoints are published by Run's committer, not
// here.
type Dispatcher struct {
	client    *fasthttp.Client
	targetURL string
	filter    *cuckoo.Filter
}

func NewDispatcher(client *fasthttp.Client, targetURL string) *Dispatcher {
	return &Dispatcher{
		client:    client,
		targetURL: targetURL,
		filter:    cuckoo.NewFilter(dedupFilterCapacity),
	}
}

type bulkItemResult struct {
	Index struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool             `json:"errors"`
	Items  []bulkItemResult `json:"items"`
}

// Dispatch POSTs batch to the target, retrying partial failures as
// smaller bulks until every doc succeeds or the retry budget is
// exhausted. It returns the docs that never succeeded; the caller logs
// and drops them per §4.4.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *Batch) ([]FailedDoc, error) {
	pending := batch
	var failed []FailedDoc

	for attempt := 0; attempt < bulkMaxAttempts && !pending.Empty(); attempt++ {
		d.noteDispatch(pending)

		status, body, err := d.postBulk(ctx, pending)
		if err != nil {
			if attempt == bulkMaxAttempts-1 {
				return d.allAsFailed(pending, failed, err.Error()), nil
			}
			if !sleepBackoff(ctx, attempt) {
				return d.allAsFailed(pending, failed, ctx.Err().Error()), ctx.Err()
			}
			continue
		}

		if status != 200 && status != 201 {
			if status >= 400 && status < 500 && status != 429 {
				return d.allAsFailed(pending, failed, cmn.NewError(cmn.KindInvalidResponse, "bulk request status %d", status).Error()), nil
			}
			if attempt == bulkMaxAttempts-1 {
				return d.allAsFailed(pending, failed, "exhausted retries on non-2xx bulk status"), nil
			}
			if !sleepBackoff(ctx, attempt) {
				return d.allAsFailed(pending, failed, ctx.Err().Error()), ctx.Err()
			}
			continue
		}

		var resp bulkResponse
		if err := cmn.Unmarshal(body, &resp); err != nil {
			return d.allAsFailed(pending, failed, "unparseable bulk response"), nil
		}
		if !resp.Errors {
			return failed, nil
		}

		retryBatch := NewBatch(pending.IndexName)
		for i, item := range resp.Items {
			if i >= len(pending.Docs) {
				break
			}
			doc := pending.Docs[i]
			if item.Index.Status >= 200 && item.Index.Status < 300 {
				continue
			}
			if item.Index.Status >= 400 && item.Index.Status < 500 && item.Index.Status != 429 {
				failed = append(failed, FailedDoc{
					IndexName: doc.IndexName,
					DocID:     doc.DocID,
					Size:      len(doc.SourceJSON),
					Cause:     "non-retryable per-doc bulk error",
				})
				continue
			}
			retryBatch.Add(doc)
		}
		if retryBatch.Empty() {
			return failed, nil
		}
		if attempt < bulkMaxAttempts-1 {
			if !sleepBackoff(ctx, attempt) {
				return d.allAsFailed(retryBatch, failed, ctx.Err().Error()), ctx.Err()
			}
		}
		pending = retryBatch
	}

	if !pending.Empty() {
		failed = d.allAsFailed(pending, failed, "exhausted retry budget")
	}
	return failed, nil
}

func (d *Dispatcher) allAsFailed(batch *Batch, failed []FailedDoc, cause string) []FailedDoc {
	for _, doc := range batch.Docs {
		failed = append(failed, FailedDoc{
			IndexName: doc.IndexName,
			DocID:     doc.DocID,
			Size:      len(doc.SourceJSON),
			Cause:     cause,
		})
	}
	glog.Errorf("dispatcher: giving up on %d docs in index %s: %s", len(batch.Docs), batch.IndexName, cause)
	return failed
}

// noteDispatch inserts each about-to-send doc's key into the approximate
// in-flight dedup guard, logging (never blocking) when the filter reports
// a likely repeat -- e.g. the same doc re-entering a batch after a
// checkpoint race during a lease handoff. Dispatch calls it on every
// attempt, so docs re-sent by a retry are reported too.
func (d *Dispatcher) noteDispatch(batch *Batch) {
	for _, doc := range batch.Docs {
		key := []byte(doc.IndexName + "|" + doc.DocID)
		if !d.filter.InsertUnique(key) {
			glog.V(4).Infof("dispatcher: possible duplicate dispatch of %s/%s", doc.IndexName, doc.DocID)
		}
	}
}

func (d *Dispatcher) postBulk(ctx context.Context, batch *Batch) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(d.targetURL + "/" + batch.IndexName + "/_bulk")
	req.Header.SetContentType("application/x-ndjson")
	req.Header.Set("User-Agent", cmn.UserAgent())
	if auth := cmn.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.SetBody(batch.Body())

	timeout := cmn.Cfg().Client.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := d.client.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, cmn.WrapError(cmn.KindTransientIO, err, "bulk request to %s", batch.IndexName)
	}
	body := append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), body, nil
}

// sleepBackoff waits the exponential-with-jitter backoff for attempt,
// returning false if ctx is canceled first.
func sleepBackoff(ctx context.Context, attempt int) bool {
	backoff := time.Duration(math.Min(
		float64(bulkInitialBackoff)*math.Pow(2, float64(attempt)),
		float64(bulkMaxBackoff),
	))
	jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
	select {
	case <-time.After(backoff/2 + jitter):
		return true
	case <-ctx.Done():
		return false
	}
}
