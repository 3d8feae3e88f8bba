// Package pipeline implements the document reindex pipeline of §4.4:
// reader -> transform pool -> accumulator -> dispatcher, wired over
// bounded channels so a slow downstream stage backpressures the reader
// rather than buffering unboundedly.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package pipeline

import (
	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/cmn/debug"
)

// Doc is one document as it flows downstream of the transform pool: the
// action line's identity plus the (possibly reshaped) source bytes.
type Doc struct {
	IndexName      string
	DocID          string
	SourceJSON     []byte
	SegmentOrdinal int64
}

// actionLine renders the bulk action line for d: {"index":{"_id":"..."}}.
func (d Doc) actionLine() []byte {
	return cmn.MustMarshal(struct {
		Index struct {
			ID string `json:"_id"`
		} `json:"index"`
	}{Index: struct {
		ID string `json:"_id"`
	}{ID: d.DocID}})
}

// wireSize is the number of bytes d contributes to a bulk request body:
// action line + newline, source line + newline. Matches §4.4's accounting
// ("each doc's serialized length plus one byte for the newline
// separator") applied to both lines a document occupies in the request.
func (d Doc) wireSize() int64 {
	return int64(len(d.actionLine())) + 1 + int64(len(d.SourceJSON)) + 1
}

// Batch is an in-flight accumulation of documents destined for a single
// index's _bulk endpoint.
type Batch struct {
	IndexName  string
	Docs       []Doc
	ByteSize   int64
	MaxOrdinal int64
}

func NewBatch(indexName string) *Batch {
	return &Batch{IndexName: indexName, MaxOrdinal: -1}
}

// Add appends d to the batch and updates its running byte size and
// highest-seen segment ordinal (the value the dispatcher checkpoints
// after a successful bulk).
func (b *Batch) Add(d Doc) {
	debug.Assert(d.IndexName == b.IndexName, "batch ", b.IndexName, " got doc for ", d.IndexName)
	b.Docs = append(b.Docs, d)
	b.ByteSize += d.wireSize()
	if d.SegmentOrdinal > b.MaxOrdinal {
		b.MaxOrdinal = d.SegmentOrdinal
	}
}

// Ready reports whether the batch has reached either accumulation bound
// of §4.4: count >= maxDocsPerBulk or byteSum >= maxBytesPerBulk.
func (b *Batch) Ready(maxDocs int, maxBytes int64) bool {
	return len(b.Docs) >= maxDocs || b.ByteSize >= maxBytes
}

func (b *Batch) Empty() bool { return len(b.Docs) == 0 }

// Body renders the batch as a line-delimited JSON bulk request body.
func (b *Batch) Body() []byte {
	out := make([]byte, 0, b.ByteSize)
	for _, d := range b.Docs {
		out = append(out, d.actionLine()...)
		out = append(out, '\n')
		out = append(out, d.SourceJSON...)
		out = append(out, '\n')
	}
	return out
}
