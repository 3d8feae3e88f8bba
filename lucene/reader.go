package lucene

import (
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// sourceField is the stored-fields name holding the document's _source
// bytes, the only field value this reader ever returns.
const sourceField = "_source"

// nestedPathField marks a stored-fields record as an internal Lucene
// child document of a parent/child (nested) hierarchy; such records never
// correspond to an OpenSearch/Elasticsearch document in their own right
// and are always skipped.
const nestedPathField = "_nested_path"

// idField holds the external document id, read alongside _source so the
// reindex pipeline's bulk action line can reference it without a second
// pass over the same stored record.
const idField = "_id"

// LuceneDocument is one document read from a shard, ready to be (optionally)
// transformed and dispatched by the reindex pipeline.
type LuceneDocument struct {
	IndexName      string
	DocID          string
	SourceJSON     []byte
	SegmentOrdinal int64
	IsLive         bool
}

// Reader produces a lazy, restartable sequence of LuceneDocument records
// from one prepared shard directory, per §4.2. Create with Open, then call
// Next until it returns io.EOF; Close releases held segment files even if
// the caller abandons iteration early via ctx cancellation.
type Reader struct {
	dir       string
	indexName string
	infos     *segmentInfos
	segIdx    int
	seg       *segmentHandle
	ordinal   int64
	checkpoint int64
	closed    bool
}

// Open prepares a Reader over dir. resumeAfter is the last checkpointed
// segmentOrdinal from a prior attempt (or -1 for a fresh read); documents
// with segmentOrdinal ≤ resumeAfter are skipped without being emitted,
// per §4.3's checkpoint-resume contract.
func Open(dir, indexName string, resumeAfter int64) (*Reader, error) {
	infos, err := readSegmentInfos(dir)
	if err != nil {
		return nil, err
	}
	return &Reader{
		dir:        dir,
		indexName:  indexName,
		infos:      infos,
		ordinal:    -1,
		checkpoint: resumeAfter,
	}, nil
}

// Next returns the next eligible document, or io.EOF once the shard is
// exhausted. Deleted docs, soft-deleted docs, and nested-child docs are
// skipped transparently; their ordinals are still consumed so resumption
// stays deterministic across restarts.
func (r *Reader) Next(ctx context.Context) (*LuceneDocument, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.seg == nil {
			if r.segIdx >= len(r.infos.segments) {
				return nil, io.EOF
			}
			seg, err := openSegment(r.dir, r.infos.segments[r.segIdx])
			if err != nil {
				return nil, err
			}
			r.seg = seg
		}

		fields, localDocID, err := r.seg.iter.Next()
		if err == io.EOF {
			if cerr := r.seg.close(); cerr != nil {
				glog.Warningf("lucene: error closing segment %s: %v", r.seg.info.name, cerr)
			}
			r.seg = nil
			r.segIdx++
			continue
		}
		if err != nil {
			_ = r.seg.close()
			r.seg = nil
			return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "read stored fields")
		}

		r.ordinal++
		ord := r.ordinal
		if ord <= r.checkpoint {
			continue
		}
		if !r.seg.isLive(localDocID) {
			continue
		}
		if r.seg.info.softDeletesField != "" {
			if _, deleted := fields[r.seg.info.softDeletesField]; deleted {
				continue
			}
		}
		if _, isChild := fields[nestedPathField]; isChild {
			continue
		}

		src, ok := fields[sourceField]
		if !ok {
			continue
		}
		return &LuceneDocument{
			IndexName:      r.indexName,
			DocID:          string(fields[idField]),
			SourceJSON:     src,
			SegmentOrdinal: ord,
			IsLive:         true,
		}, nil
	}
}

// Close releases the currently-open segment, if any. Safe to call more
// than once and safe to call after Next has already returned io.EOF.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.seg != nil {
		err := r.seg.close()
		r.seg = nil
		return err
	}
	return nil
}
