package lucene

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// vintWriter is the test-only mirror of vintReader, used to author fake
// segment files in the exact framing Reader expects.
type vintWriter struct{ buf bytes.Buffer }

func (w *vintWriter) writeByte(b byte) { w.buf.WriteByte(b) }

func (w *vintWriter) writeVInt(n int) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			w.buf.WriteByte(b | 0x80)
		} else {
			w.buf.WriteByte(b)
			return
		}
	}
}

func (w *vintWriter) writeString(s string) {
	w.writeVInt(len(s))
	w.buf.WriteString(s)
}

func (w *vintWriter) writeFixed32(v uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	w.buf.Write(buf[:])
}

func writeSegmentsFile(t *testing.T, dir string, segs []segmentInfo) {
	t.Helper()
	w := &vintWriter{}
	w.writeFixed32(0xC0DE)
	w.writeString("segments")
	w.writeVInt(1)
	w.writeVInt(len(segs))
	for _, s := range segs {
		w.writeString(s.name)
		w.writeString(s.codecName)
		w.writeVInt(s.docCount)
		if s.hasDeletions {
			w.writeByte(1)
		} else {
			w.writeByte(0)
		}
		w.writeVInt(s.delCount)
		w.writeString(s.softDeletesField)
	}
	if err := os.WriteFile(filepath.Join(dir, "segments_1"), w.buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeStoredFields(t *testing.T, dir, segName string, docs []map[string]string) {
	t.Helper()
	w := &vintWriter{}
	for _, doc := range docs {
		w.writeVInt(len(doc))
		for k, v := range doc {
			w.writeString(k)
			w.writeVInt(len(v))
			w.buf.WriteString(v)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, segName+".fdt"), w.buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReaderSkipsDeletedSoftDeletedAndNestedDocs(t *testing.T) {
	dir := t.TempDir()
	seg := segmentInfo{
		name:             "_0",
		codecName:        "Lucene94",
		docCount:         4,
		hasDeletions:     true,
		softDeletesField: "__soft_deletes",
	}
	writeSegmentsFile(t, dir, []segmentInfo{seg})

	// doc0: live, root -> emitted
	// doc1: hard-deleted via liv bitset -> skipped
	// doc2: soft-deleted -> skipped
	// doc3: nested child -> skipped
	docs := []map[string]string{
		{idField: "doc0", sourceField: `{"a":1}`},
		{idField: "doc1", sourceField: `{"a":2}`},
		{idField: "doc2", sourceField: `{"a":3}`, "__soft_deletes": "1"},
		{idField: "doc3", sourceField: `{"a":4}`, nestedPathField: "parent.child"},
	}
	writeStoredFields(t, dir, seg.name, docs)

	live := newBitSet(4)
	live.Set(0)
	live.Set(2)
	live.Set(3)
	if err := os.WriteFile(filepath.Join(dir, seg.name+".liv"), live.bits, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(dir, "my-index", -1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.DocID != "doc0" || string(got.SourceJSON) != `{"a":1}` {
		t.Fatalf("unexpected doc: %+v", got)
	}
	if got.SegmentOrdinal != 0 {
		t.Fatalf("expected first emitted ordinal 0, got %d", got.SegmentOrdinal)
	}

	_, err = r.Next(context.Background())
	if err != io.EOF {
		t.Fatalf("expected io.EOF after the single live root doc, got %v", err)
	}
}

func TestReaderResumesAfterCheckpoint(t *testing.T) {
	dir := t.TempDir()
	seg := segmentInfo{name: "_0", codecName: "Lucene94", docCount: 3}
	writeSegmentsFile(t, dir, []segmentInfo{seg})
	writeStoredFields(t, dir, seg.name, []map[string]string{
		{idField: "doc0", sourceField: `{"a":0}`},
		{idField: "doc1", sourceField: `{"a":1}`},
		{idField: "doc2", sourceField: `{"a":2}`},
	})

	r, err := Open(dir, "idx", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	got, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.DocID != "doc1" {
		t.Fatalf("expected resume to skip ordinal 0, got %s", got.DocID)
	}
}
