package repo

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/OneOfOne/xxhash"
)

type fakeRepository struct {
	indices []IndexRef
	files   map[string][]ShardFileInfo // key: indexName
	blobs   map[string][]byte          // key: indexUUID/partName
}

func (f *fakeRepository) ListSnapshots(context.Context) ([]string, error) { return nil, nil }
func (f *fakeRepository) ListIndices(context.Context, string) ([]IndexRef, error) {
	return f.indices, nil
}
func (f *fakeRepository) ListShards(context.Context, string, string) ([]int, error) { return nil, nil }
func (f *fakeRepository) ShardManifest(_ context.Context, _, indexName string, _ int) ([]ShardFileInfo, error) {
	return f.files[indexName], nil
}
func (f *fakeRepository) Blob(_ context.Context, indexUUID string, shard int, partName string) (io.ReadCloser, error) {
	key := indexUUID + "/" + partName
	_ = shard
	b, ok := f.blobs[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}
func (f *fakeRepository) GlobalMetadataBlob(context.Context, string) ([]byte, error)       { return nil, nil }
func (f *fakeRepository) IndexMetadataBlob(context.Context, string, string) ([]byte, error) { return nil, nil }

var _ Repository = (*fakeRepository)(nil)

func TestUnpackReconstructsVirtualAndPhysicalFiles(t *testing.T) {
	physContent := []byte("segment bytes go here")
	hasher := xxhash.New64()
	hasher.Write(physContent)
	checksum := hex.EncodeToString(hasher.Sum(nil))

	repo := &fakeRepository{
		indices: []IndexRef{{Name: "logs", UUID: "uuid-1"}},
		files: map[string][]ShardFileInfo{
			"logs": {
				{Name: "v__segments_N", PhysicalName: "segments_N", MetaHash: []byte("virtual content")},
				{Name: "_0.si", PhysicalName: "_0.si", Length: int64(len(physContent)), Checksum: checksum, Parts: []string{"_0.si"}},
			},
		},
		blobs: map[string][]byte{
			"uuid-1/_0.si": physContent,
		},
	}

	destRoot := t.TempDir()
	u := NewUnpacker(repo)
	dir, err := u.Unpack(context.Background(), "snap-1", "logs", 0, destRoot)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "segments_N"))
	if err != nil {
		t.Fatalf("read virtual file: %v", err)
	}
	if string(got) != "virtual content" {
		t.Fatalf("expected virtual content, got %q", got)
	}

	got, err = os.ReadFile(filepath.Join(dir, "_0.si"))
	if err != nil {
		t.Fatalf("read physical file: %v", err)
	}
	if !bytes.Equal(got, physContent) {
		t.Fatalf("expected reconstructed physical content, got %q", got)
	}
}

func TestUnpackFailsOnChecksumMismatch(t *testing.T) {
	repo := &fakeRepository{
		indices: []IndexRef{{Name: "logs", UUID: "uuid-1"}},
		files: map[string][]ShardFileInfo{
			"logs": {
				{Name: "_0.si", PhysicalName: "_0.si", Length: 4, Checksum: "deadbeef", Parts: []string{"_0.si"}},
			},
		},
		blobs: map[string][]byte{
			"uuid-1/_0.si": []byte("oops"),
		},
	}

	destRoot := t.TempDir()
	u := NewUnpacker(repo)
	_, err := u.Unpack(context.Background(), "snap-1", "logs", 0, destRoot)
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
}

func TestUnpackRemovesPartialDirOnFailure(t *testing.T) {
	repo := &fakeRepository{
		indices: []IndexRef{{Name: "logs", UUID: "uuid-1"}},
		files: map[string][]ShardFileInfo{
			"logs": {
				{Name: "_0.si", PhysicalName: "_0.si", Length: 4, Parts: []string{"_0.si"}},
			},
		},
		blobs: map[string][]byte{}, // missing blob forces writePhysical to fail
	}

	destRoot := t.TempDir()
	u := NewUnpacker(repo)
	_, err := u.Unpack(context.Background(), "snap-1", "logs", 0, destRoot)
	if err == nil {
		t.Fatal("expected unpack to fail when blob part is missing")
	}
	dir := filepath.Join(destRoot, "logs", "0")
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Fatalf("expected partial shard dir to be removed, got stat err %v", statErr)
	}
}
