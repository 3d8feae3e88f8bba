package repo

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"
	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// unpackBufSize matches the buffered-copy chunking dsort/extract/tar.go
// uses when streaming shard blob content, large enough to amortize
// syscall overhead without holding an outsized buffer per shard.
const unpackBufSize = 256 * 1024

// minFreeBytes is the floor below which Unpack refuses to start writing a
// new shard, grounded on the teacher's fs.GetCapStatus pattern of failing
// fast rather than filling a mountpath.
const minFreeBytes = 512 * 1024 * 1024

// checkDiskCapacity fails fast with a non-retryable error if destRoot's
// filesystem has less than minFreeBytes free, rather than discovering the
// problem partway through writing blob parts.
func checkDiskCapacity(destRoot string) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(destRoot, &stat); err != nil {
		if os.IsNotExist(err) {
			return nil // destRoot not yet created; Unpack checks again after MkdirAll
		}
		return cmn.WrapError(cmn.KindShardUnpackFailed, err, "statfs %s", destRoot)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeBytes {
		return cmn.NewError(cmn.KindShardUnpackFailed, "insufficient free space on %s: %d bytes available, %d required", destRoot, free, uint64(minFreeBytes))
	}
	return nil
}

// Unpacker reconstructs one shard's Lucene directory on local disk from a
// Repository's manifest and blob parts, per spec §4.1's unpack protocol.
type Unpacker struct {
	repo Repository
}

func NewUnpacker(repo Repository) *Unpacker { return &Unpacker{repo: repo} }

// Unpack materializes shard (snapshot, indexName, shard) under
// <destRoot>/<indexName>/<shard>/, creating that directory exclusively so
// two workers racing for the same shard never interleave writes into one.
// Virtual files (ShardFileInfo.IsVirtual) are written as their MetaHash
// bytes verbatim; physical files are reconstructed by concatenating blob
// parts in order, verified against the manifest's checksum and length.
// Once the shard directory exists, any failure removes it again. Write,
// blob-part read, length and checksum errors return ShardUnpackFailed; a
// canceled context and errors from the repository's ShardManifest and
// ListIndices calls are returned unchanged.
func (u *Unpacker) Unpack(ctx context.Context, snapshot, indexName string, shard int, destRoot string) (dir string, err error) {
	if err := checkDiskCapacity(destRoot); err != nil {
		return "", err
	}

	files, err := u.repo.ShardManifest(ctx, snapshot, indexName, shard)
	if err != nil {
		return "", err
	}

	dir = filepath.Join(destRoot, indexName, fmt.Sprint(shard))
	if mkErr := os.MkdirAll(filepath.Dir(dir), 0o755); mkErr != nil {
		return "", cmn.WrapError(cmn.KindShardUnpackFailed, mkErr, "create parent of %s", dir)
	}
	if capErr := checkDiskCapacity(destRoot); capErr != nil {
		return "", capErr
	}
	if mkErr := os.Mkdir(dir, 0o755); mkErr != nil {
		return "", cmn.WrapError(cmn.KindShardUnpackFailed, mkErr, "exclusively create shard dir %s", dir)
	}
	// The failure returns below set the named result dir to "", so the
	// cleanup keeps its own copy of the path.
	shardDir := dir
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(shardDir); rmErr != nil {
				glog.Errorf("unpack: failed to remove partial shard dir %s after error %v: %v", shardDir, err, rmErr)
			}
		}
	}()

	indexUUID, uuidErr := u.indexUUID(ctx, snapshot, indexName)
	if uuidErr != nil {
		return "", uuidErr
	}

	for _, f := range files {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if f.IsVirtual() {
			if werr := u.writeVirtual(dir, f); werr != nil {
				return "", werr
			}
			continue
		}
		if werr := u.writePhysical(ctx, dir, indexUUID, shard, f); werr != nil {
			return "", werr
		}
	}
	glog.V(4).Infof("unpack: %s/%s/%d -> %s (%d files)", snapshot, indexName, shard, dir, len(files))
	return dir, nil
}

func (u *Unpacker) indexUUID(ctx context.Context, snapshot, indexName string) (string, error) {
	refs, err := u.repo.ListIndices(ctx, snapshot)
	if err != nil {
		return "", err
	}
	for _, ref := range refs {
		if ref.Name == indexName {
			return ref.UUID, nil
		}
	}
	return "", cmn.NewError(cmn.KindShardUnpackFailed, "index %q not present in snapshot %q", indexName, snapshot)
}

func (u *Unpacker) writeVirtual(dir string, f ShardFileInfo) error {
	path := filepath.Join(dir, f.PhysicalName)
	if err := os.WriteFile(path, f.MetaHash, 0o644); err != nil {
		return cmn.WrapError(cmn.KindShardUnpackFailed, err, "write virtual file %s", f.Name)
	}
	return nil
}

func (u *Unpacker) writePhysical(ctx context.Context, dir, indexUUID string, shard int, f ShardFileInfo) error {
	path := filepath.Join(dir, f.PhysicalName)
	out, err := os.Create(path)
	if err != nil {
		return cmn.WrapError(cmn.KindShardUnpackFailed, err, "create %s", path)
	}
	defer out.Close()

	hasher := xxhash.New64()
	w := io.MultiWriter(out, hasher)
	buf := make([]byte, unpackBufSize)

	parts := f.Parts
	if len(parts) == 0 {
		parts = []string{f.PhysicalName}
	}
	var total int64
	for _, part := range parts {
		n, err := u.copyPart(ctx, w, indexUUID, shard, part, buf)
		if err != nil {
			return cmn.WrapError(cmn.KindShardUnpackFailed, err, "copy blob part %s for file %s", part, f.Name)
		}
		total += n
	}

	if f.Length > 0 && total != f.Length {
		return cmn.NewError(cmn.KindShardUnpackFailed, "file %s: expected %d bytes, wrote %d", f.Name, f.Length, total)
	}
	if f.Checksum != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if got != f.Checksum {
			return cmn.NewError(cmn.KindShardUnpackFailed, "file %s: checksum mismatch, want %s got %s", f.Name, f.Checksum, got)
		}
	}
	return nil
}

func (u *Unpacker) copyPart(ctx context.Context, w io.Writer, indexUUID string, shard int, partName string, buf []byte) (int64, error) {
	rc, err := u.repo.Blob(ctx, indexUUID, shard, partName)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if hasLZ4Suffix(partName) {
		r = lz4Reader(rc)
	}
	return io.CopyBuffer(w, r, buf)
}
