package cmn

import (
	"crypto/tls"
	"time"

	"github.com/valyala/fasthttp"
)

// TransportArgs mirrors the teacher's cmn.TransportArgs shape (see
// ec/getxaction.go's newGetJogger / ais/backend/ais.go's remote-cluster
// client selection) but builds a fasthttp.Client instead of net/http's,
// since fasthttp is the pack's high-throughput HTTP dependency.
type TransportArgs struct {
	Timeout    time.Duration
	UseHTTPS   bool
	SkipVerify bool
	MaxConns   int
}

// NewClient builds a fasthttp client tuned for one purpose (bulk dispatch,
// metadata probing, or live-source reads), analogous to the teacher's
// cmn.NewClient factory.
func NewClient(args TransportArgs) *fasthttp.Client {
	maxConns := args.MaxConns
	if maxConns <= 0 {
		maxConns = 512
	}
	c := &fasthttp.Client{
		ReadTimeout:         args.Timeout,
		WriteTimeout:        args.Timeout,
		MaxConnsPerHost:     maxConns,
		MaxIdleConnDuration: 90 * time.Second,
		NoDefaultUserAgentHeader: true,
	}
	if args.UseHTTPS {
		c.TLSConfig = &tls.Config{InsecureSkipVerify: args.SkipVerify} //nolint:gosec // operator-controlled, mirrors teacher's SkipVerify knob
	}
	return c
}

// UserAgent returns the value stamped on every outgoing request: the
// MIGRATIONS_USER_AGENT override when set (spec §6), otherwise the fixed
// worker tag "rfs-worker".
func UserAgent() string {
	if ua := Cfg().UserAgent; ua != "" {
		return ua
	}
	return "rfs-worker"
}
