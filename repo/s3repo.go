package repo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/golang/glog"
	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/version"
)

// The s3* constants below implement spec §4.1's S3 retry policy: 3
// attempts, initial 1s, max 10s backoff on 5xx, 429 and transient network
// errors; other 4xx are fatal.
const (
	s3MaxAttempts    = 3
	s3InitialBackoff = time.Second
	s3MaxBackoff     = 10 * time.Second
)

// S3Repo is an S3-backed snapshot repository: s3://bucket/prefix mirrors
// the filesystem layout of spec §6. localDir is recorded at construction
// but not used: every manifest and blob read goes to S3, and nothing is
// cached on local disk.
type S3Repo struct {
	bucket   string
	prefix   string
	localDir string
	client   *s3.S3
	decoder  ManifestDecoder
}

var _ Repository = (*S3Repo)(nil)

// NewS3Repo parses a "s3://bucket/prefix" URI and builds a repository
// backed by it, grounded on the teacher's backend provider construction
// (ais/backend/ais.go's client-per-purpose style) adapted to AWS S3.
func NewS3Repo(uri, region, localDir string, sourceVersion version.Version) (*S3Repo, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return nil, cmn.NewError(cmn.KindInvalidParameter, "s3 repo uri %q must start with s3://", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	bucket := parts[0]
	prefix := ""
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, cmn.WrapError(cmn.KindInvalidParameter, err, "create aws session for region %q", region)
	}
	dec, err := DecoderFor(sourceVersion)
	if err != nil {
		return nil, err
	}
	return &S3Repo{
		bucket:   bucket,
		prefix:   prefix,
		localDir: localDir,
		client:   s3.New(sess),
		decoder:  dec,
	}, nil
}

func (r *S3Repo) key(parts ...string) string {
	full := append([]string{r.prefix}, parts...)
	return strings.TrimPrefix(path.Join(full...), "/")
}

// getObjectWithRetry implements the backoff policy from spec §4.1: 5xx, 429
// and transient network errors retry up to s3MaxAttempts times with
// exponential backoff capped at s3MaxBackoff; other 4xx are fatal
// immediately.
func (r *S3Repo) getObjectWithRetry(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < s3MaxAttempts; attempt++ {
		out, err := r.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			defer out.Body.Close()
			return io.ReadAll(out.Body)
		}
		lastErr = err
		if !isRetryableS3Err(err) {
			return nil, cmn.WrapError(cmn.KindInvalidResponse, err, "non-retryable get of s3://%s/%s", r.bucket, key)
		}
		backoff := time.Duration(math.Min(
			float64(s3InitialBackoff)*math.Pow(2, float64(attempt)),
			float64(s3MaxBackoff),
		))
		glog.Warningf("s3 get %s/%s attempt %d failed: %v, retrying in %s", r.bucket, key, attempt+1, err, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, cmn.WrapError(cmn.KindTransientIO, lastErr, "get s3://%s/%s exhausted %d attempts", r.bucket, key, s3MaxAttempts)
}

func isRetryableS3Err(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return true // network-level error: treat as transient
	}
	if reqErr, ok := aerr.(awserr.RequestFailure); ok {
		code := reqErr.StatusCode()
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return true
}

func (r *S3Repo) latestIndexN(ctx context.Context) (*SnapshotManifest, error) {
	listOut, err := r.client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(r.key("index-")),
	})
	if err != nil {
		return nil, cmn.WrapError(cmn.KindTransientIO, err, "list index-N objects")
	}
	best := -1
	var bestKey string
	for _, obj := range listOut.Contents {
		base := path.Base(aws.StringValue(obj.Key))
		n, err := strconv.Atoi(strings.TrimPrefix(base, "index-"))
		if err != nil {
			continue
		}
		if n > best {
			best, bestKey = n, aws.StringValue(obj.Key)
		}
	}
	if best < 0 {
		return nil, cmn.NewError(cmn.KindShardUnpackFailed, "no index-N manifest found under s3://%s/%s", r.bucket, r.prefix)
	}
	raw, err := r.getObjectWithRetry(ctx, bestKey)
	if err != nil {
		return nil, err
	}
	return r.decoder.DecodeIndexN(raw)
}

func (r *S3Repo) ListSnapshots(ctx context.Context) ([]string, error) {
	m, err := r.latestIndexN(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(m.Snapshots)
	return m.Snapshots, nil
}

func (r *S3Repo) ListIndices(ctx context.Context, snapshot string) ([]IndexRef, error) {
	m, err := r.latestIndexN(ctx)
	if err != nil {
		return nil, err
	}
	var refs []IndexRef
	for name, uuid := range m.Indices {
		if _, ok := m.Shards[shardsKey(snapshot, uuid)]; ok {
			refs = append(refs, IndexRef{Name: name, UUID: uuid})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func (r *S3Repo) ListShards(ctx context.Context, snapshot, indexName string) ([]int, error) {
	m, err := r.latestIndexN(ctx)
	if err != nil {
		return nil, err
	}
	uuid, ok := m.Indices[indexName]
	if !ok {
		return nil, cmn.NewError(cmn.KindShardUnpackFailed, "unknown index %q", indexName)
	}
	shards := append([]int(nil), m.Shards[shardsKey(snapshot, uuid)]...)
	sort.Ints(shards)
	return shards, nil
}

func (r *S3Repo) ShardManifest(ctx context.Context, snapshot, indexName string, shard int) ([]ShardFileInfo, error) {
	m, err := r.latestIndexN(ctx)
	if err != nil {
		return nil, err
	}
	uuid, ok := m.Indices[indexName]
	if !ok {
		return nil, cmn.NewError(cmn.KindShardUnpackFailed, "unknown index %q", indexName)
	}
	key := r.key("indices", uuid, strconv.Itoa(shard), fmt.Sprintf("snap-%s.dat", snapshot))
	raw, err := r.getObjectWithRetry(ctx, key)
	if err != nil {
		return nil, err
	}
	var raws rawShardManifest
	if err := cmn.Unmarshal(raw, &raws); err != nil {
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "decode shard manifest %s", key)
	}
	out := make([]ShardFileInfo, 0, len(raws.Files))
	for _, f := range raws.Files {
		out = append(out, ShardFileInfo{
			Name:         f.Name,
			PhysicalName: f.PhysicalName,
			Length:       f.Length,
			Checksum:     f.Checksum,
			PartSize:     f.PartSize,
			MetaHash:     f.MetaHash,
			Parts:        f.Parts,
		})
	}
	return out, nil
}

func (r *S3Repo) Blob(ctx context.Context, indexUUID string, shard int, partName string) (io.ReadCloser, error) {
	key := r.key("indices", indexUUID, strconv.Itoa(shard), partName)
	raw, err := r.getObjectWithRetry(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (r *S3Repo) GlobalMetadataBlob(ctx context.Context, snapshot string) ([]byte, error) {
	return r.getObjectWithRetry(ctx, r.key(fmt.Sprintf("meta-%s.dat", snapshot)))
}

func (r *S3Repo) IndexMetadataBlob(ctx context.Context, snapshot, indexUUID string) ([]byte, error) {
	m, err := r.latestIndexN(ctx)
	if err != nil {
		return nil, err
	}
	indexName := ""
	for name, uuid := range m.Indices {
		if uuid == indexUUID {
			indexName = name
			break
		}
	}
	return r.getObjectWithRetry(ctx, r.key("indices", indexUUID, fmt.Sprintf("meta-%s.dat", indexName)))
}
