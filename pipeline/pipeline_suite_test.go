package pipeline

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

func newSuiteDispatcher(handler fasthttp.RequestHandler) (*Dispatcher, func()) {
	ln := fasthttputil.NewInMemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln)

	client := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
	d := NewDispatcher(client, "http://test")
	return d, func() {
		srv.Shutdown()
		ln.Close()
	}
}

var _ = Describe("Run", func() {
	var (
		ctx     context.Context
		cleanup func()
	)

	AfterEach(func() {
		if cleanup != nil {
			cleanup()
		}
	})

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("drains a document stream through transform, accumulate, dispatch, and checkpoint", func() {
		var bulkCalls int32
		dispatcher, c := newSuiteDispatcher(func(rc *fasthttp.RequestCtx) {
			atomic.AddInt32(&bulkCalls, 1)
			rc.SetStatusCode(200)
			rc.SetBodyString(`{"errors":false,"items":[]}`)
		})
		cleanup = c

		docs := make(chan Doc, 10)
		for i := 0; i < 5; i++ {
			docs <- Doc{IndexName: "logs", DocID: fmt.Sprintf("%d", i), SourceJSON: []byte(`{"a":1}`), SegmentOrdinal: int64(i)}
		}
		close(docs)

		var mu sync.Mutex
		var checkpoints []int64
		checkpoint := func(_ context.Context, ordinal int64) error {
			mu.Lock()
			defer mu.Unlock()
			checkpoints = append(checkpoints, ordinal)
			return nil
		}

		res, err := Run(ctx, Config{MaxDocsPerBulk: 1000, MaxBytesPerBulk: 1 << 20, MaxConcurrentBulkRequests: 2}, docs, nil, dispatcher, checkpoint)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Succeeded).To(Equal(5))
		Expect(res.Failed).To(BeEmpty())
		Expect(bulkCalls).To(BeNumerically(">=", int32(1)))

		mu.Lock()
		defer mu.Unlock()
		Expect(checkpoints).NotTo(BeEmpty())
		Expect(checkpoints[len(checkpoints)-1]).To(Equal(int64(4)))
	})

	It("applies the transformer to every document before dispatch", func() {
		var gotBodies [][]byte
		var mu sync.Mutex
		dispatcher, c := newSuiteDispatcher(func(rc *fasthttp.RequestCtx) {
			mu.Lock()
			gotBodies = append(gotBodies, append([]byte(nil), rc.PostBody()...))
			mu.Unlock()
			rc.SetStatusCode(200)
			rc.SetBodyString(`{"errors":false,"items":[]}`)
		})
		cleanup = c

		docs := make(chan Doc, 1)
		docs <- Doc{IndexName: "logs", DocID: "1", SourceJSON: []byte(`{"a":1}`), SegmentOrdinal: 0}
		close(docs)

		transform := func(_ context.Context, d Doc) (Doc, error) {
			d.SourceJSON = []byte(`{"a":1,"transformed":true}`)
			return d, nil
		}

		_, err := Run(ctx, Config{MaxDocsPerBulk: 1000, MaxBytesPerBulk: 1 << 20, MaxConcurrentBulkRequests: 1}, docs, transform, dispatcher, nil)
		Expect(err).NotTo(HaveOccurred())

		mu.Lock()
		defer mu.Unlock()
		Expect(gotBodies).To(HaveLen(1))
		Expect(string(gotBodies[0])).To(ContainSubstring(`"transformed":true`))
	})

	It("records per-document bulk failures without aborting the run", func() {
		dispatcher, c := newSuiteDispatcher(func(rc *fasthttp.RequestCtx) {
			rc.SetStatusCode(200)
			rc.SetBodyString(`{"errors":true,"items":[{"index":{"_id":"bad","status":409}}]}`)
		})
		cleanup = c

		docs := make(chan Doc, 1)
		docs <- Doc{IndexName: "logs", DocID: "bad", SourceJSON: []byte(`{}`), SegmentOrdinal: 0}
		close(docs)

		res, err := Run(ctx, Config{MaxDocsPerBulk: 1000, MaxBytesPerBulk: 1 << 20, MaxConcurrentBulkRequests: 1}, docs, nil, dispatcher, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Failed).To(HaveLen(1))
		Expect(res.Failed[0].DocID).To(Equal("bad"))
	})
})
