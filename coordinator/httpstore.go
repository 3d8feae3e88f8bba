package coordinator

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/golang/glog"
	"github.com/valyala/fasthttp"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// doJSON's retry posture mirrors metadata/target.go's putWithRetry: 3
// attempts, 1s initial backoff, 10s cap, applied only to transient
// failures (request errors, 5xx) per spec §4.3's "all coordinator RPCs
// retry on transient failure with bounded backoff."
const (
	storeMaxAttempts    = 3
	storeInitialBackoff = time.Second
	storeMaxBackoff     = 10 * time.Second
)

func storeBackoffFor(attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(storeInitialBackoff)*math.Pow(2, float64(attempt)),
		float64(storeMaxBackoff),
	))
}

// wireBody is the JSON-over-the-wire shape of Body, used only by
// HTTPStore: the embedded BuntdbStore persists Body in msgp framing, but
// a remote coordination service speaks the same JSON convention every
// other external interface in this module uses (§6).
type wireBody struct {
	State          string `json:"state"`
	Owner          string `json:"owner"`
	LeaseExpiry    string `json:"leaseExpiry"`
	AttemptCounter int    `json:"attemptCounter"`
	Cursor         int64  `json:"cursor"`
}

func toWire(b Body) wireBody {
	return wireBody{
		State:          string(b.State),
		Owner:          b.Owner,
		LeaseExpiry:    b.LeaseExpiry.UTC().Format(time.RFC3339Nano),
		AttemptCounter: b.AttemptCounter,
		Cursor:         b.Cursor,
	}
}

func fromWire(w wireBody) (Body, error) {
	var expiry time.Time
	if w.LeaseExpiry != "" {
		var err error
		expiry, err = time.Parse(time.RFC3339Nano, w.LeaseExpiry)
		if err != nil {
			return Body{}, err
		}
	}
	return Body{
		State:          ItemState(w.State),
		Owner:          w.Owner,
		LeaseExpiry:    expiry,
		AttemptCounter: w.AttemptCounter,
		Cursor:         w.Cursor,
	}, nil
}

// HTTPStore is the remote Store adapter: every RPC is a JSON request
// against a coordination service, the concrete HTTP interface spec §6
// names as in-scope. Built on the same fasthttp client the rest of this
// module uses for target-cluster traffic.
type HTTPStore struct {
	baseURL string
	client  *fasthttp.Client
}

var _ Store = (*HTTPStore)(nil)

func NewHTTPStore(baseURL string, client *fasthttp.Client) *HTTPStore {
	return &HTTPStore{baseURL: baseURL, client: client}
}

type createRequest struct {
	Body wireBody `json:"body"`
}

type createResponse struct {
	Created bool `json:"created"`
}

func (h *HTTPStore) CreateIfAbsent(ctx context.Context, id string, body Body) (bool, error) {
	var resp createResponse
	err := h.doJSON(ctx, fasthttp.MethodPost, "/items/"+url.PathEscape(id), createRequest{Body: toWire(body)}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Created, nil
}

type readResponse struct {
	Body    wireBody `json:"body"`
	Version int64    `json:"version"`
}

func (h *HTTPStore) Read(ctx context.Context, id string) (Body, int64, error) {
	var resp readResponse
	if err := h.doJSON(ctx, fasthttp.MethodGet, "/items/"+url.PathEscape(id), nil, &resp); err != nil {
		return Body{}, 0, err
	}
	body, err := fromWire(resp.Body)
	if err != nil {
		return Body{}, 0, cmn.WrapError(cmn.KindInvalidResponse, err, "decode lease expiry for %s", id)
	}
	return body, resp.Version, nil
}

type casRequest struct {
	ExpectedVersion int64    `json:"expectedVersion"`
	Body            wireBody `json:"body"`
}

type casResponse struct {
	OK bool `json:"ok"`
}

func (h *HTTPStore) CASUpdate(ctx context.Context, id string, expectedVersion int64, newBody Body) (bool, error) {
	var resp casResponse
	req := casRequest{ExpectedVersion: expectedVersion, Body: toWire(newBody)}
	if err := h.doJSON(ctx, fasthttp.MethodPut, "/items/"+url.PathEscape(id), req, &resp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

type queryResponse struct {
	IDs []string `json:"ids"`
}

func (h *HTTPStore) QueryUnassigned(ctx context.Context, now time.Time, limit int) ([]string, error) {
	path := fmt.Sprintf("/items/unassigned?now=%s&limit=%d", url.QueryEscape(now.UTC().Format(time.RFC3339Nano)), limit)
	var resp queryResponse
	if err := h.doJSON(ctx, fasthttp.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (h *HTTPStore) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	if err := h.doJSON(ctx, fasthttp.MethodGet, "/stats", nil, &resp); err != nil {
		return Stats{}, err
	}
	return resp, nil
}

// doJSON retries transient failures (request errors, 5xx) up to
// storeMaxAttempts times with exponential backoff; 4xx responses are
// treated as non-retryable since they indicate a request the coordinator
// will never accept, not a passing condition.
func (h *HTTPStore) doJSON(ctx context.Context, method, path string, reqBody interface{}, out interface{}) error {
	var raw []byte
	if reqBody != nil {
		var err error
		raw, err = cmn.Marshal(reqBody)
		if err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < storeMaxAttempts; attempt++ {
		status, body, err := h.doJSONOnce(ctx, method, path, raw)
		if err == nil {
			if status == 404 {
				return cmn.NewError(cmn.KindInvalidParameter, "coordinator: not found: %s %s", method, path)
			}
			if status >= 200 && status < 300 {
				if out == nil || len(body) == 0 {
					return nil
				}
				return cmn.Unmarshal(body, out)
			}
			if status >= 400 && status < 500 {
				return cmn.NewError(cmn.KindOperationFailed, "coordinator request %s %s: status %d", method, path, status)
			}
			lastErr = cmn.NewError(cmn.KindOperationFailed, "coordinator request %s %s: status %d", method, path, status)
		} else {
			lastErr = err
		}
		if attempt == storeMaxAttempts-1 {
			break
		}
		backoff := storeBackoffFor(attempt)
		glog.Warningf("coordinator: request %s %s attempt %d failed: %v, retrying in %s", method, path, attempt+1, lastErr, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return cmn.WrapError(cmn.KindTransientIO, lastErr, "coordinator request %s %s exhausted %d attempts", method, path, storeMaxAttempts)
}

func (h *HTTPStore) doJSONOnce(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(h.baseURL + path)
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
	if err := h.client.DoTimeout(req, resp, timeout); err != nil {
		return 0, nil, cmn.WrapError(cmn.KindTransientIO, err, "coordinator request %s %s", method, path)
	}
	return resp.StatusCode(), append([]byte(nil), resp.Body()...), nil
}
