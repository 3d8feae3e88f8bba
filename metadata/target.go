package metadata

import (
	"context"
	"math"
	"time"

	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// createOnTarget's retry posture mirrors the S3 repository's: 3 attempts,
// 1s initial backoff, 10s cap. A 400 response is never retried; any other
// non-2xx response or transport error is.
const (
	targetMaxAttempts    = 3
	targetInitialBackoff = time.Second
	targetMaxBackoff     = 10 * time.Second
)

// Target creates metadata items on a destination cluster over HTTP.
type Target struct {
	BaseURL string
	Client  *fasthttp.Client
}

func NewTarget(baseURL string) *Target {
	return &Target{
		BaseURL: baseURL,
		Client:  cmn.NewClient(cmn.TransportArgs{Timeout: 30 * time.Second}),
	}
}

func (t *Target) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(t.BaseURL + path)
	req.Header.Set("User-Agent", cmn.UserAgent())
	if auth := cmn.AuthHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	timeout := cmn.Cfg().Client.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if err := t.Client.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, cmn.WrapError(cmn.KindTransientIO, err, "%s %s", method, path)
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}

// CreateOnTarget implements §4.5's idempotent probe-then-PUT policy:
// GET the item's path; 200 means it already exists and is a no-op; 404
// means PUT the transformed body; a 400 on either call is a non-retryable
// InvalidResponse; any other non-2xx is OperationFailed, retried up to
// targetMaxAttempts times with exponential backoff.
func (t *Target) CreateOnTarget(ctx context.Context, item Item) error {
	status, _, err := t.do(ctx, fasthttp.MethodGet, item.TargetPath, nil)
	if err != nil {
		return err
	}
	if status == 200 {
		glog.V(4).Infof("metadata: %s %s already exists, skipping", item.Kind, item.Name)
		return nil
	}
	if status != 404 {
		return t.putWithRetry(ctx, item, status)
	}

	var lastErr error
	for attempt := 0; attempt < targetMaxAttempts; attempt++ {
		status, respBody, err := t.do(ctx, fasthttp.MethodPut, item.TargetPath, item.Body)
		if err != nil {
			lastErr = err
		} else if status >= 200 && status < 300 {
			return nil
		} else if status == 400 {
			return cmn.NewError(cmn.KindInvalidResponse, "create %s %s: %d: %s", item.Kind, item.Name, status, respBody)
		} else {
			lastErr = cmn.NewError(cmn.KindOperationFailed, "create %s %s: status %d: %s", item.Kind, item.Name, status, respBody)
		}
		if attempt == targetMaxAttempts-1 {
			break
		}
		backoff := backoffFor(attempt)
		glog.Warningf("metadata: create %s %s attempt %d failed: %v, retrying in %s", item.Kind, item.Name, attempt+1, lastErr, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return cmn.WrapError(cmn.KindOperationFailed, lastErr, "create %s %s exhausted %d attempts", item.Kind, item.Name, targetMaxAttempts)
}

// putWithRetry handles the case where the initial GET itself returned a
// non-200, non-404 status: the probe already failed, so retry it before
// giving up, per the same backoff policy as the PUT path.
func (t *Target) putWithRetry(ctx context.Context, item Item, firstStatus int) error {
	status := firstStatus
	var lastErr error
	for attempt := 0; attempt < targetMaxAttempts; attempt++ {
		if attempt > 0 {
			var err error
			status, _, err = t.do(ctx, fasthttp.MethodGet, item.TargetPath, nil)
			if err != nil {
				lastErr = err
				status = 0
			}
		}
		if status == 200 {
			return nil
		}
		if status == 404 {
			return t.CreateOnTarget(ctx, item)
		}
		if status == 400 {
			return cmn.NewError(cmn.KindInvalidResponse, "probe %s %s: %d", item.Kind, item.Name, status)
		}
		lastErr = cmn.NewError(cmn.KindOperationFailed, "probe %s %s: status %d", item.Kind, item.Name, status)
		if attempt == targetMaxAttempts-1 {
			break
		}
		backoff := backoffFor(attempt)
		glog.Warningf("metadata: probe %s %s attempt %d failed: %v, retrying in %s", item.Kind, item.Name, attempt+1, lastErr, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return cmn.WrapError(cmn.KindOperationFailed, lastErr, "probe %s %s exhausted %d attempts", item.Kind, item.Name, targetMaxAttempts)
}

func backoffFor(attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(targetInitialBackoff)*math.Pow(2, float64(attempt)),
		float64(targetMaxBackoff),
	))
}
