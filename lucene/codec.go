// Package lucene implements the lazy, restartable Lucene stored-fields
// reader of §4.2: given a prepared shard directory, it yields documents in
// ascending segment order, tolerating codecs it has never heard of.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package lucene

import (
	"os"
	"sync"
)

// StoredFieldsFormat opens a forward-only iterator over one segment's
// stored fields. Only the stored-fields surface is modeled: this reader
// never consumes term vectors, points, or the doc-values/KNN vector
// formats, per §4.2's note that "vectors are never consumed by this
// reader."
type StoredFieldsFormat interface {
	OpenIterator(fd *os.File, docCount int) (StoredFieldsIterator, error)
}

// StoredFieldsIterator yields one document's stored field map per call, in
// ascending local-doc-id order, until io.EOF.
type StoredFieldsIterator interface {
	Next() (fields map[string][]byte, localDocID int, err error)
}

// Codec names a registered (name, format) pair. Real Lucene codec names
// ("Lucene84", "Lucene94", a proprietary "BWC-kNN900" vector codec, ...)
// are matched against this table; an unrecognized name never fails the
// reader -- it falls back.
type Codec struct {
	Name          string
	StoredFields  StoredFieldsFormat
}

// registry is a name -> Codec table populated by each concrete codec's
// init(), the same registration shape as the teacher's xaction/xreg
// kind registry: a flat map keyed by a string discriminator, no
// reflection, no inheritance (per the redesign note against a class
// hierarchy of per-version readers).
var registry = map[string]*Codec{}

func RegisterCodec(c *Codec) { registry[c.Name] = c }

// fallbackCache memoizes the synthesized fallback codec per unknown name,
// required by §4.2's codec-tolerance contract ("cached per unknown name
// within the process").
var (
	fallbackMu    sync.Mutex
	fallbackCache = map[string]*Codec{}
)

// baseCodec is the nearest-version codec every fallback delegates
// stored-fields reads to. Lucene's stored-fields file format has been
// stable in shape since Lucene 5, so one base suffices for the fallback's
// purpose: reading stored fields from a segment whose codec name the
// reader does not statically recognize.
var baseCodec *Codec

// SetBaseCodec installs the codec a synthesized fallback delegates to.
// Called once at startup by the concrete codec registering itself as the
// newest known format.
func SetBaseCodec(c *Codec) { baseCodec = c }

// CodecFor resolves name to a registered Codec, synthesizing and caching a
// fallback when name is unrecognized. Per §4.2 step 2, the fallback
// delegates all formats it is asked for to baseCodec and never fails
// merely because the declared codec name is unfamiliar.
func CodecFor(name string) *Codec {
	if c, ok := registry[name]; ok {
		return c
	}
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	if c, ok := fallbackCache[name]; ok {
		return c
	}
	fb := &Codec{Name: name, StoredFields: baseCodec.StoredFields}
	fallbackCache[name] = fb
	return fb
}
