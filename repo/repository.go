package repo

import (
	"context"
	"io"
)

// Repository is the abstract snapshot-repository surface of spec §4.1,
// implemented by fsrepo (local filesystem) and s3repo (S3-backed).
type Repository interface {
	ListSnapshots(ctx context.Context) ([]string, error)
	ListIndices(ctx context.Context, snapshot string) ([]IndexRef, error)
	ListShards(ctx context.Context, snapshot, indexName string) ([]int, error)
	ShardManifest(ctx context.Context, snapshot, indexName string, shard int) ([]ShardFileInfo, error)
	// Blob opens a streaming reader for one blob part belonging to a shard.
	Blob(ctx context.Context, indexUUID string, shard int, partName string) (io.ReadCloser, error)
	// GlobalMetadataBlob returns the repository-wide meta-<snapshot>.dat
	// bytes: legacy templates, component templates, index templates, and
	// aliases (§4.5's readGlobalMetadata source).
	GlobalMetadataBlob(ctx context.Context, snapshot string) ([]byte, error)
	// IndexMetadataBlob returns one index's meta-<index>.dat bytes:
	// settings, mappings, and aliases (§4.5's readIndexMetadata source).
	IndexMetadataBlob(ctx context.Context, snapshot, indexUUID string) ([]byte, error)
}

// rawShardManifest is the on-disk shape of a shard's snap-<snapshot>.dat
// file: the per-shard file list referenced by spec §3's ShardFileInfo.
type rawShardManifest struct {
	Files []struct {
		Name         string   `json:"name"`
		PhysicalName string   `json:"physical_name"`
		Length       int64    `json:"length"`
		Checksum     string   `json:"checksum"`
		PartSize     int64    `json:"part_size"`
		MetaHash     []byte   `json:"written_by_hash,omitempty"`
		Parts        []string `json:"parts,omitempty"`
	} `json:"files"`
}
