package lucene

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// vintReader decodes Lucene's variable-length integer encodings (vint,
// vlong, length-prefixed UTF-8 strings) from a buffered stream, the same
// framing every segment-level file in a Lucene directory uses.
type vintReader struct {
	r   *bufio.Reader
	err error
}

func newVintReader(r io.Reader) *vintReader {
	return &vintReader{r: bufio.NewReaderSize(r, 64*1024)}
}

func (v *vintReader) readByte() byte {
	if v.err != nil {
		return 0
	}
	b, err := v.r.ReadByte()
	if err != nil {
		v.err = err
	}
	return b
}

func (v *vintReader) readVInt() int {
	shift := 0
	result := 0
	for {
		b := v.readByte()
		if v.err != nil {
			return 0
		}
		result |= int(b&0x7f) << shift
		if b&0x80 == 0 {
			return result
		}
		shift += 7
	}
}

func (v *vintReader) readVLong() int64 {
	shift := 0
	var result int64
	for {
		b := v.readByte()
		if v.err != nil {
			return 0
		}
		result |= int64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result
		}
		shift += 7
	}
}

func (v *vintReader) readString() string {
	n := v.readVInt()
	if v.err != nil || n == 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(v.r, buf); err != nil {
		v.err = err
		return ""
	}
	return string(buf)
}

func (v *vintReader) readFixed32() uint32 {
	var buf [4]byte
	if _, err := io.ReadFull(v.r, buf[:]); err != nil {
		v.err = err
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}

// segmentInfo describes one segment recorded in a shard's commit point.
type segmentInfo struct {
	name             string
	codecName        string
	docCount         int
	delCount         int
	hasDeletions     bool
	softDeletesField string
}

// segmentInfos is the ordered commit point of a shard: the list of live
// segments as of the snapshot.
type segmentInfos struct {
	segments []segmentInfo
}

const segmentsFilePrefix = "segments_"

// readSegmentInfos locates and parses the highest-generation segments_N
// file in dir. Unlike a live index, a snapshot-restored shard directory
// has exactly one commit point, so "highest generation" and "the one file
// present" coincide; the generation scan keeps the reader correct if a
// future unpack step ever leaves more than one behind.
func readSegmentInfos(dir string) (*segmentInfos, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "read shard dir %s", dir)
	}
	best := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > len(segmentsFilePrefix) && name[:len(segmentsFilePrefix)] == segmentsFilePrefix {
			// Generations have no leading zeros, so a longer name is a
			// higher generation ("segments_10" beats "segments_9").
			if len(name) > len(best) || (len(name) == len(best) && name > best) {
				best = name
			}
		}
	}
	if best == "" {
		return nil, cmn.NewError(cmn.KindShardUnpackFailed, "no segments_N file in %s", dir)
	}
	f, err := os.Open(filepath.Join(dir, best))
	if err != nil {
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "open %s", best)
	}
	defer f.Close()

	vr := newVintReader(f)
	_ = vr.readFixed32() // codec header magic, unused beyond framing
	_ = vr.readString()  // codec name of the SegmentInfos format itself
	_ = vr.readVInt()    // format version
	segCount := vr.readVInt()

	infos := &segmentInfos{segments: make([]segmentInfo, 0, segCount)}
	for i := 0; i < segCount; i++ {
		si := segmentInfo{
			name:      vr.readString(),
			codecName: vr.readString(),
			docCount:  vr.readVInt(),
		}
		si.hasDeletions = vr.readByte() != 0
		si.delCount = vr.readVInt()
		si.softDeletesField = vr.readString()
		if vr.err != nil {
			return nil, cmn.WrapError(cmn.KindShardUnpackFailed, vr.err, "parse segment %d of %s", i, best)
		}
		infos.segments = append(infos.segments, si)
	}
	return infos, nil
}

// segmentHandle is an open segment: its stored-fields file and the live
// docs bitset used to skip deleted documents.
type segmentHandle struct {
	info     segmentInfo
	codec    *Codec
	storedFD *os.File
	liveDocs *bitSet // nil means "all docs live"
	iter     StoredFieldsIterator
}

func openSegment(dir string, info segmentInfo) (*segmentHandle, error) {
	codec := CodecFor(info.codecName)
	fdPath := filepath.Join(dir, fmt.Sprintf("%s.fdt", info.name))
	fd, err := os.Open(fdPath)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "open stored fields %s", fdPath)
	}
	var live *bitSet
	if info.hasDeletions {
		live, err = readLiveDocs(dir, info)
		if err != nil {
			fd.Close()
			return nil, err
		}
	}
	it, err := codec.StoredFields.OpenIterator(fd, info.docCount)
	if err != nil {
		fd.Close()
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "open stored fields iterator for segment %s", info.name)
	}
	return &segmentHandle{info: info, codec: codec, storedFD: fd, liveDocs: live, iter: it}, nil
}

func (s *segmentHandle) close() error {
	return s.storedFD.Close()
}

func (s *segmentHandle) isLive(localDocID int) bool {
	if s.liveDocs == nil {
		return true
	}
	return s.liveDocs.Get(localDocID)
}

// bitSet is a fixed-size live-docs bitmap, one bit per document ordinal in
// the segment.
type bitSet struct {
	bits []byte
	n    int
}

func newBitSet(n int) *bitSet {
	return &bitSet{bits: make([]byte, (n+7)/8), n: n}
}

func (b *bitSet) Set(i int) { b.bits[i/8] |= 1 << uint(i%8) }
func (b *bitSet) Get(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.bits[i/8]&(1<<uint(i%8)) != 0
}

// readLiveDocs parses the <segment>.liv file, a fixed-size bitset with one
// bit per doc ordinal: unset means deleted. Absent entirely when
// info.hasDeletions is false.
func readLiveDocs(dir string, info segmentInfo) (*bitSet, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s.liv", info.name))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindShardUnpackFailed, err, "read live docs %s", path)
	}
	bs := &bitSet{bits: raw, n: info.docCount}
	return bs, nil
}
