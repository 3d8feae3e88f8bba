// Package repo implements the snapshot repository (§4.1): enumerating
// snapshots/indices/shards from a versioned on-disk or S3-backed layout,
// and reconstructing a single shard's Lucene directory on local disk.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package repo

import (
	"fmt"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/opensearch-project/reindex-from-snapshot/version"
)

// IndexRef names one index within a snapshot.
type IndexRef struct {
	Name string
	UUID string
}

// ShardFileInfo is one logical file belonging to a shard, as recorded in
// its snap-<snapshot>.dat manifest. Files whose Name begins with "v__" are
// virtual: their content is MetaHash itself, never stored as blob parts.
type ShardFileInfo struct {
	Name         string
	PhysicalName string
	Length       int64
	Checksum     string
	PartSize     int64
	MetaHash     []byte
	Parts        []string
}

const virtualFilePrefix = "v__"

// IsVirtual reports whether f's content is its MetaHash bytes rather than
// concatenated blob parts.
func (f ShardFileInfo) IsVirtual() bool {
	return len(f.Name) >= len(virtualFilePrefix) && f.Name[:len(virtualFilePrefix)] == virtualFilePrefix
}

// SnapshotManifest is the decoded form of the repository's index-N file:
// the latest repository-wide manifest enumerating snapshots and indices.
type SnapshotManifest struct {
	Snapshots []string
	// Indices maps index name to its per-snapshot UUID, matching
	// spec §3's "index -> UUID" enumeration.
	Indices map[string]string
	// Shards maps "<snapshot>/<indexUUID>" to the list of shard numbers
	// recorded for that index within that snapshot.
	Shards map[string][]int
}

func shardsKey(snapshot, indexUUID string) string { return snapshot + "/" + indexUUID }

// rawIndexN is the on-the-wire shape of a repository-N manifest. Both the
// ES 6.8 and ES 7.10+ layouts serialize to this same shape once decoded,
// and the single jsonIndexNDecoder below parses it for every supported
// version; decoderTable keeps the per-version slot pluggable.
type rawIndexN struct {
	Snapshots []struct {
		Name    string `json:"name"`
		Indices []string `json:"indices"`
	} `json:"snapshots"`
	IndexMetadata map[string]struct {
		ID     string         `json:"id"`
		Shards map[string]int `json:"shard_generations"` // shard number (string) -> generation, length implies shard count
	} `json:"indices"`
}

// ManifestDecoder decodes a repository's raw index-N bytes into a
// SnapshotManifest. Implementations are keyed by source version in the
// table below rather than by a class hierarchy (spec §9's redesign note).
type ManifestDecoder interface {
	DecodeIndexN(raw []byte) (*SnapshotManifest, error)
}

type jsonIndexNDecoder struct{}

func (jsonIndexNDecoder) DecodeIndexN(raw []byte) (*SnapshotManifest, error) {
	var r rawIndexN
	if err := cmn.Unmarshal(raw, &r); err != nil {
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "decode index-N manifest")
	}
	m := &SnapshotManifest{
		Indices: make(map[string]string, len(r.IndexMetadata)),
		Shards:  make(map[string][]int),
	}
	for _, snap := range r.Snapshots {
		m.Snapshots = append(m.Snapshots, snap.Name)
	}
	for name, meta := range r.IndexMetadata {
		m.Indices[name] = meta.ID
		shardCount := len(meta.Shards)
		shards := make([]int, shardCount)
		for i := range shards {
			shards[i] = i
		}
		for _, snap := range r.Snapshots {
			for _, idxName := range snap.Indices {
				if idxName == name {
					m.Shards[shardsKey(snap.Name, meta.ID)] = shards
				}
			}
		}
	}
	return m, nil
}

// decoderTable is the version -> decoder dispatch table named in spec §9
// ("dispatch is table-driven on the Version value. Avoid reflection.").
// ES 6.8 and ES 7.10+/OS share the same modern index-N envelope per spec
// §4.1, so one decoder implementation currently serves both; the table
// still keys on version so a future divergent format gets its own
// decoder without touching call sites.
var decoderTable = []struct {
	match   func(version.Version) bool
	decoder ManifestDecoder
}{
	{func(v version.Version) bool { return v.IsES68() }, jsonIndexNDecoder{}},
	{func(v version.Version) bool { return v.IsES7X() }, jsonIndexNDecoder{}},
	{func(v version.Version) bool { return v.IsOS1X() || v.IsOS2X() }, jsonIndexNDecoder{}},
}

// DecoderFor returns the manifest decoder registered for v, or an
// UnsupportedVersion error per spec §7 ("no transformer for version
// pair... fatal at startup").
func DecoderFor(v version.Version) (ManifestDecoder, error) {
	for _, entry := range decoderTable {
		if entry.match(v) {
			return entry.decoder, nil
		}
	}
	return nil, cmn.NewError(cmn.KindUnsupportedVersion, "no snapshot-manifest decoder registered for %s", fmt.Sprint(v))
}
