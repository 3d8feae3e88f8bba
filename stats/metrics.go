// Package stats registers and serves the Prometheus metrics every RFS
// component increments, following the teacher's naming convention from
// stats/target_stats.go (".n" counters, ".ns" latencies, ".size" byte
// counts, ".bps" throughput) translated into Prometheus metric names.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package stats

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every counter/gauge/histogram this worker exposes. One
// instance per process, registered against its own prometheus.Registry so
// tests don't collide with the default global registry.
type Registry struct {
	reg *prometheus.Registry

	DocsRead       prometheus.Counter
	DocsSkipped    prometheus.Counter
	DocsDispatched prometheus.Counter
	DocsFailed     prometheus.Counter
	BulkBytes      prometheus.Counter
	BulkLatency    prometheus.Histogram
	ShardsUnpacked prometheus.Counter
	ShardBytes     prometheus.Counter
	LeaseRenewals  prometheus.Counter
	LeaseExpired   prometheus.Counter
	DiskReadBytes  prometheus.Gauge
	DiskWriteBytes prometheus.Gauge
}

// New builds a Registry with every metric registered under namespace "rfs",
// naming fields after the teacher's counter/latency/size/throughput
// convention (reindex.docs.n, bulk.dispatch.ns, shard.unpack.size, ...).
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.DocsRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "reindex_docs_read_n", Help: "documents read from the Lucene stored-fields iterator",
	})
	r.DocsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "reindex_docs_skipped_n", Help: "documents skipped (deleted, soft-deleted, nested, or already checkpointed)",
	})
	r.DocsDispatched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "reindex_docs_dispatched_n", Help: "documents successfully accepted by the target bulk endpoint",
	})
	r.DocsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "reindex_docs_failed_n", Help: "documents permanently given up on by the dispatcher",
	})
	r.BulkBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "bulk_dispatch_size", Help: "bytes posted to the target bulk endpoint",
	})
	r.BulkLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rfs", Name: "bulk_dispatch_ns", Help: "bulk request latency in seconds", Buckets: prometheus.DefBuckets,
	})
	r.ShardsUnpacked = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "shard_unpack_n", Help: "shards successfully unpacked from a snapshot repository",
	})
	r.ShardBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "shard_unpack_size", Help: "bytes written while unpacking shards",
	})
	r.LeaseRenewals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "lease_renew_n", Help: "successful lease renewals against the work coordinator",
	})
	r.LeaseExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfs", Name: "lease_expired_n", Help: "leases observed expired before renewal/completion",
	})
	r.DiskReadBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rfs", Name: "disk_read_bps", Help: "most recently sampled disk read throughput, bytes/sec",
	})
	r.DiskWriteBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rfs", Name: "disk_write_bps", Help: "most recently sampled disk write throughput, bytes/sec",
	})

	r.reg.MustRegister(
		r.DocsRead, r.DocsSkipped, r.DocsDispatched, r.DocsFailed,
		r.BulkBytes, r.BulkLatency, r.ShardsUnpacked, r.ShardBytes,
		r.LeaseRenewals, r.LeaseExpired, r.DiskReadBytes, r.DiskWriteBytes,
	)
	return r
}

// Registry exposes the underlying *prometheus.Registry for cmd/rfsworker to
// wire into an http.Handler via promhttp.
func (r *Registry) Registry() *prometheus.Registry { return r.reg }

// ObserveBulk records one completed bulk dispatch's size and latency.
func (r *Registry) ObserveBulk(size int64, elapsed time.Duration) {
	r.BulkBytes.Add(float64(size))
	r.BulkLatency.Observe(elapsed.Seconds())
}
