package metadata

import (
	"context"
	"net"
	"sync/atomic"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

func newTestTarget(t *testing.T, handler fasthttp.RequestHandler) (*Target, func()) {
	t.Helper()
	ln := fasthttputil.NewInMemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln)

	client := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}
	return &Target{BaseURL: "http://test", Client: client}, func() {
		srv.Shutdown()
		ln.Close()
	}
}

func TestCreateOnTargetNoOpWhenAlreadyExists(t *testing.T) {
	var puts int32
	target, cleanup := newTestTarget(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Method()) == fasthttp.MethodGet {
			ctx.SetStatusCode(200)
			return
		}
		atomic.AddInt32(&puts, 1)
		ctx.SetStatusCode(201)
	})
	defer cleanup()

	err := target.CreateOnTarget(context.Background(), Item{Kind: KindIndex, Name: "a", TargetPath: "/a", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("CreateOnTarget: %v", err)
	}
	if atomic.LoadInt32(&puts) != 0 {
		t.Fatalf("expected no PUT when item already exists, got %d", puts)
	}
}

func TestCreateOnTargetPutsWhenAbsent(t *testing.T) {
	var gets, puts int32
	target, cleanup := newTestTarget(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Method()) == fasthttp.MethodGet {
			atomic.AddInt32(&gets, 1)
			ctx.SetStatusCode(404)
			return
		}
		atomic.AddInt32(&puts, 1)
		ctx.SetStatusCode(201)
	})
	defer cleanup()

	err := target.CreateOnTarget(context.Background(), Item{Kind: KindIndex, Name: "a", TargetPath: "/a", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("CreateOnTarget: %v", err)
	}
	if atomic.LoadInt32(&gets) != 1 || atomic.LoadInt32(&puts) != 1 {
		t.Fatalf("expected exactly one GET and one PUT, got gets=%d puts=%d", gets, puts)
	}
}

func TestCreateOnTargetFailsFastOn400(t *testing.T) {
	var puts int32
	target, cleanup := newTestTarget(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Method()) == fasthttp.MethodGet {
			ctx.SetStatusCode(404)
			return
		}
		atomic.AddInt32(&puts, 1)
		ctx.SetStatusCode(400)
		ctx.SetBodyString(`{"error":"bad mapping"}`)
	})
	defer cleanup()

	err := target.CreateOnTarget(context.Background(), Item{Kind: KindIndex, Name: "a", TargetPath: "/a", Body: []byte(`{}`)})
	if !cmn.IsKind(err, cmn.KindInvalidResponse) {
		t.Fatalf("expected KindInvalidResponse, got %v", err)
	}
	if atomic.LoadInt32(&puts) != 1 {
		t.Fatalf("expected exactly one PUT attempt before giving up on 400, got %d", puts)
	}
}

func TestCreateOnTargetRetriesThenSucceeds(t *testing.T) {
	var puts int32
	target, cleanup := newTestTarget(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Method()) == fasthttp.MethodGet {
			ctx.SetStatusCode(404)
			return
		}
		n := atomic.AddInt32(&puts, 1)
		if n < 2 {
			ctx.SetStatusCode(503)
			return
		}
		ctx.SetStatusCode(201)
	})
	defer cleanup()

	err := target.CreateOnTarget(context.Background(), Item{Kind: KindIndex, Name: "a", TargetPath: "/a", Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("CreateOnTarget: %v", err)
	}
	if atomic.LoadInt32(&puts) != 2 {
		t.Fatalf("expected a retry after the 503, got %d PUT attempts", puts)
	}
}
