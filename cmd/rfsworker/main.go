// Package main implements the rfsworker CLI: the single-binary entrypoint
// that wires repo, lucene, coordinator, pipeline, metadata, stats, and
// report into one migration run, per spec §6's external interface.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/cmn/jsp"
	"github.com/opensearch-project/reindex-from-snapshot/coordinator"
	"github.com/opensearch-project/reindex-from-snapshot/lucene"
	"github.com/opensearch-project/reindex-from-snapshot/metadata"
	"github.com/opensearch-project/reindex-from-snapshot/pipeline"
	"github.com/opensearch-project/reindex-from-snapshot/report"
	"github.com/opensearch-project/reindex-from-snapshot/repo"
	"github.com/opensearch-project/reindex-from-snapshot/stats"
	"github.com/opensearch-project/reindex-from-snapshot/version"
)

// Exit codes per spec §6.
const (
	exitSuccess         = 0
	exitInvalidParams   = 999
	exitUnexpectedError = 888
)

type cliFlags struct {
	snapshotName string

	fsRepoPath string
	s3RepoURI  string
	s3Region   string
	s3LocalDir string

	sourceVersion string
	targetVersion string

	targetHost            string
	targetAuthToken       string
	targetAuthTokenSecret string

	indexAllowlist             string
	indexTemplateAllowlist     string
	componentTemplateAllowlist string

	minReplicas   int
	mode          string
	multiTypeMode string

	maxDocsPerBulk  int
	maxBytesPerBulk int64
	maxConcurrent   int

	coordinatorDBPath string
	coordinatorURL    string
	workDir           string
	metricsAddr       string
}

func parseFlags(args []string) (*cliFlags, error) {
	fs := flag.NewFlagSet("rfsworker", flag.ContinueOnError)
	f := &cliFlags{}

	fs.StringVar(&f.snapshotName, "snapshot-name", "", "snapshot to read")
	fs.StringVar(&f.fsRepoPath, "file-system-repo-path", "", "local repository root (mutually exclusive with S3 options)")
	fs.StringVar(&f.s3RepoURI, "s3-repo-uri", "", "s3://bucket/prefix repository location")
	fs.StringVar(&f.s3Region, "s3-region", "", "AWS region for --s3-repo-uri")
	fs.StringVar(&f.s3LocalDir, "s3-local-dir", "", "local directory recorded by the S3 repository; reads are not cached there")
	fs.StringVar(&f.sourceVersion, "source-version", "", "source cluster version, e.g. es-6.8")
	fs.StringVar(&f.targetVersion, "target-version", "", "target cluster version, e.g. os-2.11")
	fs.StringVar(&f.targetHost, "target-host", "", "target cluster base URL")
	fs.StringVar(&f.targetAuthToken, "target-auth-token", "", "bearer token sent on every request to the target cluster")
	fs.StringVar(&f.targetAuthTokenSecret, "target-auth-token-secret", "", "HMAC secret to pre-validate --target-auth-token's signature and expiry at startup, before a long-running migration, instead of discovering an expired token partway through (optional)")
	fs.StringVar(&f.indexAllowlist, "index-allowlist", "", "comma-separated indices to migrate (default: all indices in the snapshot)")
	fs.StringVar(&f.indexTemplateAllowlist, "index-template-allowlist", "", "comma-separated index templates to migrate (default: all)")
	fs.StringVar(&f.componentTemplateAllowlist, "component-template-allowlist", "", "comma-separated component templates to migrate (default: all)")
	fs.IntVar(&f.minReplicas, "min-replicas", 0, "replica floor enforced on migrated indices")
	fs.StringVar(&f.mode, "mode", "MIGRATE", "MIGRATE or SIMULATE")
	fs.StringVar(&f.multiTypeMode, "multi-type-mode", string(metadata.MultiTypeSplit), "resolution for ES <= 6.x multi-mapping-type indices: union, split, or pick-one")
	fs.IntVar(&f.maxDocsPerBulk, "max-docs-per-bulk", 1000, "max documents per bulk request")
	fs.Int64Var(&f.maxBytesPerBulk, "max-bytes-per-bulk", 10*1024*1024, "max bytes per bulk request body")
	fs.IntVar(&f.maxConcurrent, "max-concurrent-bulks", 4, "max concurrent bulk requests in flight")
	fs.StringVar(&f.coordinatorDBPath, "coordinator-db-path", "rfs-coordinator.db", "local buntdb path backing the work coordinator")
	fs.StringVar(&f.coordinatorURL, "coordinator-url", "", "remote HTTP work-coordinator store (default: embedded buntdb)")
	fs.StringVar(&f.workDir, "work-dir", "rfs-work", "scratch directory shard unpacking writes into")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *cliFlags) validate() error {
	if f.snapshotName == "" {
		return cmn.NewError(cmn.KindInvalidParameter, "--snapshot-name is required")
	}
	if f.fsRepoPath == "" && f.s3RepoURI == "" {
		return cmn.NewError(cmn.KindInvalidParameter, "one of --file-system-repo-path or --s3-repo-uri is required")
	}
	if f.fsRepoPath != "" && f.s3RepoURI != "" {
		return cmn.NewError(cmn.KindInvalidParameter, "--file-system-repo-path and --s3-repo-uri are mutually exclusive")
	}
	if f.sourceVersion == "" || f.targetVersion == "" {
		return cmn.NewError(cmn.KindInvalidParameter, "--source-version and --target-version are required")
	}
	if f.targetHost == "" {
		return cmn.NewError(cmn.KindInvalidParameter, "--target-host is required")
	}
	switch f.mode {
	case "MIGRATE", "SIMULATE":
	default:
		return cmn.NewError(cmn.KindInvalidParameter, "--mode must be MIGRATE or SIMULATE, got %q", f.mode)
	}
	switch metadata.MultiTypeMode(f.multiTypeMode) {
	case metadata.MultiTypeUnion, metadata.MultiTypeSplit, metadata.MultiTypePickOne:
	default:
		return cmn.NewError(cmn.KindInvalidParameter, "--multi-type-mode must be union, split, or pick-one, got %q", f.multiTypeMode)
	}
	if f.targetAuthTokenSecret != "" {
		if _, err := cmn.ParseBearerToken(f.targetAuthToken, f.targetAuthTokenSecret); err != nil {
			return cmn.WrapError(cmn.KindInvalidParameter, err, "--target-auth-token failed pre-flight validation")
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		glog.Errorf("rfsworker: %v", err)
		return exitInvalidParams
	}
	if err := f.validate(); err != nil {
		glog.Errorf("rfsworker: %v", err)
		return exitInvalidParams
	}

	sourceVer, err := version.Parse(f.sourceVersion)
	if err != nil {
		glog.Errorf("rfsworker: %v", err)
		return exitInvalidParams
	}
	targetVer, err := version.Parse(f.targetVersion)
	if err != nil {
		glog.Errorf("rfsworker: %v", err)
		return exitInvalidParams
	}

	cfg := cmn.DefaultConfig()
	cfg.MaxDocsPerBulk = f.maxDocsPerBulk
	cfg.MaxBytesPerBulk = f.maxBytesPerBulk
	cfg.MaxConcurrentBulkRequests = f.maxConcurrent
	cfg.Simulate = f.mode == "SIMULATE"
	cfg.MinReplicas = f.minReplicas
	cfg.TargetAuthToken = f.targetAuthToken
	if ua := os.Getenv("MIGRATIONS_USER_AGENT"); ua != "" {
		cfg.UserAgent = ua
	}
	cmn.SetCfg(cfg)

	metricsReg := stats.New()
	if f.metricsAddr != "" {
		srv := &http.Server{Addr: f.metricsAddr, Handler: promhttp.HandlerFor(metricsReg.Registry(), promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Warningf("rfsworker: metrics server: %v", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go metricsReg.RunDiskSampler(ctx)

	rep, err := migrate(ctx, f, sourceVer, targetVer, metricsReg)
	raw, jsonErr := rep.JSON()
	if jsonErr != nil {
		glog.Errorf("rfsworker: render report: %v", jsonErr)
	} else {
		fmt.Fprintln(os.Stdout, string(raw))
	}

	if err != nil {
		glog.Errorf("rfsworker: run failed: %v", err)
		return exitUnexpectedError
	}
	if rep.TotalSucceeded < rep.TotalAttempted || len(rep.FailedItems) > 0 {
		return exitUnexpectedError
	}
	return exitSuccess
}

// migrate wires the full component graph and drives one end-to-end run:
// metadata migration first (so target templates/mappings exist before any
// document lands), then per-index document reindex via the work
// coordinator and pipeline.
func migrate(ctx context.Context, f *cliFlags, sourceVer, targetVer version.Version, metricsReg *stats.Registry) (report.Report, error) {
	builder := report.NewBuilder()

	sourceRepo, err := openRepository(f, sourceVer)
	if err != nil {
		return builder.Build(), err
	}

	metaSource := &metadata.SnapshotSource{Repo: sourceRepo, Snapshot: f.snapshotName}
	target := metadata.NewTarget(f.targetHost)

	indexNames, err := resolveIndexNames(ctx, sourceRepo, f.snapshotName, splitCSV(f.indexAllowlist))
	if err != nil {
		return builder.Build(), err
	}

	if err := checkResumeMarker(f); err != nil {
		return builder.Build(), err
	}

	migrator := &metadata.Migrator{
		Source:                     metaSource,
		Target:                     target,
		SourceVersion:              sourceVer,
		TargetVersion:              targetVer,
		MinReplicas:                f.minReplicas,
		MultiTypeMode:              metadata.MultiTypeMode(f.multiTypeMode),
		Simulate:                   cmn.Cfg().Simulate,
		IndexNames:                 indexNames,
		IndexTemplateAllowlist:     allowlistOrNil(splitCSV(f.indexTemplateAllowlist)),
		ComponentTemplateAllowlist: allowlistOrNil(splitCSV(f.componentTemplateAllowlist)),
	}
	metaReport, err := migrator.Migrate(ctx)
	if err != nil {
		return builder.Build(), err
	}
	builder.AddMetadataReport(metaReport)

	store, closeStore, err := openStore(f)
	if err != nil {
		return builder.Build(), err
	}
	defer closeStore()

	coord, err := coordinator.New(store, time.Minute)
	if err != nil {
		return builder.Build(), err
	}
	stampWorkerID(coord.WorkerID)

	dispatcher := pipeline.NewDispatcher(cmn.NewClient(cmn.TransportArgs{Timeout: cmn.Cfg().Client.Timeout}), f.targetHost)
	pipelineCfg := pipeline.Config{
		MaxDocsPerBulk:            f.maxDocsPerBulk,
		MaxBytesPerBulk:           f.maxBytesPerBulk,
		MaxConcurrentBulkRequests: f.maxConcurrent,
		Stats:                     metricsReg,
	}

	for _, indexName := range indexNames {
		if err := seedWorkItems(ctx, store, sourceRepo, f.snapshotName, indexName); err != nil {
			return builder.Build(), err
		}
		res, attempted, err := reindexIndex(ctx, coord, sourceRepo, f, indexName, pipelineCfg, dispatcher, metricsReg)
		if err != nil {
			return builder.Build(), err
		}
		builder.AddPipelineResult(indexName, attempted, res)
	}

	return builder.Build(), nil
}

// stampWorkerID appends the coordinator's shortid-generated worker identity
// to the process-wide UserAgent, so every bulk/dispatch request after this
// point carries it (spec §6's MIGRATIONS_USER_AGENT stamping). Metadata
// migration happens before the coordinator exists, so it runs under the
// unstamped base agent.
func stampWorkerID(workerID string) {
	cfg := cmn.Cfg()
	next := *cfg
	next.UserAgent = next.UserAgent + "/" + workerID
	cmn.SetCfg(&next)
}

// resumeMarker records the parameters a --work-dir / --coordinator-db-path
// pair was started with, persisted via cmn/jsp so a restarted worker
// pointed at the same on-disk state detects a mismatched re-invocation
// (different snapshot or version pair) instead of silently resuming a
// coordinator DB full of work items from an unrelated run.
type resumeMarker struct {
	SnapshotName  string
	SourceVersion string
	TargetVersion string
	TargetHost    string
}

func resumeMarkerPath(f *cliFlags) string {
	return filepath.Join(f.workDir, "resume-marker.json")
}

// checkResumeMarker verifies (or establishes) the resume marker for this
// work directory before any work item is seeded.
func checkResumeMarker(f *cliFlags) error {
	if err := os.MkdirAll(f.workDir, 0o755); err != nil {
		return cmn.WrapError(cmn.KindOperationFailed, err, "create work dir %s", f.workDir)
	}
	want := resumeMarker{
		SnapshotName:  f.snapshotName,
		SourceVersion: f.sourceVersion,
		TargetVersion: f.targetVersion,
		TargetHost:    f.targetHost,
	}
	path := resumeMarkerPath(f)
	var got resumeMarker
	err := jsp.Load(path, &got)
	switch {
	case err == nil:
		if got != want {
			return cmn.NewError(cmn.KindInvalidParameter, "work dir %s was last used for snapshot %q (%s -> %s, target %s); refusing to resume with mismatched parameters %q (%s -> %s, target %s)",
				f.workDir, got.SnapshotName, got.SourceVersion, got.TargetVersion, got.TargetHost,
				want.SnapshotName, want.SourceVersion, want.TargetVersion, want.TargetHost)
		}
		return nil
	case errors.Is(err, os.ErrNotExist):
		return jsp.Save(path, want)
	default:
		glog.Warningf("rfsworker: resume marker %s unreadable, rewriting: %v", path, err)
		return jsp.Save(path, want)
	}
}

func allowlistOrNil(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	return names
}

func openRepository(f *cliFlags, sourceVer version.Version) (repo.Repository, error) {
	if f.fsRepoPath != "" {
		return repo.NewFSRepo(f.fsRepoPath, sourceVer)
	}
	return repo.NewS3Repo(f.s3RepoURI, f.s3Region, f.s3LocalDir, sourceVer)
}

func openStore(f *cliFlags) (coordinator.Store, func() error, error) {
	if f.coordinatorURL != "" {
		store := coordinator.NewHTTPStore(f.coordinatorURL, cmn.NewClient(cmn.TransportArgs{Timeout: 30 * time.Second}))
		return store, func() error { return nil }, nil
	}
	store, err := coordinator.OpenBuntdbStore(f.coordinatorDBPath)
	if err != nil {
		return nil, nil, cmn.WrapError(cmn.KindOperationFailed, err, "open coordinator store %s", f.coordinatorDBPath)
	}
	return store, store.Close, nil
}

func resolveIndexNames(ctx context.Context, r repo.Repository, snapshot string, allowlist []string) ([]string, error) {
	refs, err := r.ListIndices(ctx, snapshot)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindOperationFailed, err, "list indices in snapshot %s", snapshot)
	}
	allowed := allowlistOrNil(allowlist)
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if allowed != nil && !contains(allowed, ref.Name) {
			continue
		}
		names = append(names, ref.Name)
	}
	return names, nil
}

func contains(xs []string, x string) bool {
	for _, s := range xs {
		if s == x {
			return true
		}
	}
	return false
}

// seedWorkItems creates one UNASSIGNED work item per shard of indexName,
// idempotently (CreateIfAbsent), so restarting the same run never
// duplicates or loses a shard's accounting.
func seedWorkItems(ctx context.Context, store coordinator.Store, r repo.Repository, snapshot, indexName string) error {
	shards, err := r.ListShards(ctx, snapshot, indexName)
	if err != nil {
		return cmn.WrapError(cmn.KindOperationFailed, err, "list shards for %s", indexName)
	}
	for _, shard := range shards {
		id := fmt.Sprintf("%s/%d", indexName, shard)
		if _, err := store.CreateIfAbsent(ctx, id, coordinator.Body{
			State:  coordinator.Unassigned,
			Cursor: -1,
		}); err != nil {
			return cmn.WrapError(cmn.KindOperationFailed, err, "seed work item %s", id)
		}
	}
	return nil
}

// noWorkReadyRetryDelay is how long reindexIndex sleeps before retrying
// Acquire after coordinator.ErrNoWorkReadyNow, per spec §4.3's "retryable
// after a short sleep" -- distinct from ErrNoMoreWork, which is terminal.
const noWorkReadyRetryDelay = 2 * time.Second

// reindexIndex drains every shard work item belonging to indexName through
// acquire -> unpack -> pipeline.Run -> complete, until the coordinator
// reports no more work for this run.
func reindexIndex(ctx context.Context, coord *coordinator.Coordinator, r repo.Repository, f *cliFlags, indexName string, pipelineCfg pipeline.Config, dispatcher *pipeline.Dispatcher, metricsReg *stats.Registry) (pipeline.Result, int, error) {
	var total pipeline.Result
	attempted := 0
	unpacker := repo.NewUnpacker(r)

	for {
		lease, err := coord.Acquire(ctx)
		if err != nil {
			if errors.Is(err, coordinator.ErrNoMoreWork) {
				break
			}
			if errors.Is(err, coordinator.ErrNoWorkReadyNow) {
				select {
				case <-time.After(noWorkReadyRetryDelay):
					continue
				case <-ctx.Done():
					return total, attempted, ctx.Err()
				}
			}
			return total, attempted, err
		}
		if !strings.HasPrefix(lease.ID, indexName+"/") {
			continue
		}

		shard := 0
		fmt.Sscanf(lease.ID[len(indexName)+1:], "%d", &shard)

		dir, err := unpacker.Unpack(ctx, f.snapshotName, indexName, shard, f.workDir)
		if err != nil {
			glog.Warningf("rfsworker: unpack %s: %v, deferring", lease.ID, err)
			continue
		}
		if metricsReg != nil {
			metricsReg.ShardsUnpacked.Inc()
		}

		rdr, err := lucene.Open(dir, indexName, lease.Cursor)
		if err != nil {
			return total, attempted, cmn.WrapError(cmn.KindShardUnpackFailed, err, "open reader for %s", lease.ID)
		}

		docs := make(chan pipeline.Doc, 128)
		go pumpDocs(ctx, rdr, docs, metricsReg)

		checkpoint := func(ctx context.Context, ordinal int64) error {
			return coord.PublishCheckpoint(ctx, lease, ordinal)
		}
		res, err := pipeline.Run(ctx, pipelineCfg, docs, nil, dispatcher, checkpoint)
		_ = rdr.Close()
		if err != nil {
			return total, attempted, err
		}

		attempted += res.Succeeded + len(res.Failed)
		total.Succeeded += res.Succeeded
		total.Failed = append(total.Failed, res.Failed...)

		if err := coord.Complete(ctx, lease); err != nil {
			return total, attempted, err
		}
	}
	return total, attempted, nil
}

func pumpDocs(ctx context.Context, rdr *lucene.Reader, out chan<- pipeline.Doc, metricsReg *stats.Registry) {
	defer close(out)
	for {
		d, err := rdr.Next(ctx)
		if err != nil {
			if err != io.EOF {
				glog.Warningf("rfsworker: reader: %v", err)
			}
			return
		}
		if metricsReg != nil {
			metricsReg.DocsRead.Inc()
		}
		select {
		case out <- pipeline.Doc{
			IndexName:      d.IndexName,
			DocID:          d.DocID,
			SourceJSON:     d.SourceJSON,
			SegmentOrdinal: d.SegmentOrdinal,
		}:
		case <-ctx.Done():
			return
		}
	}
}
