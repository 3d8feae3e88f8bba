package pipeline

import "testing"

func TestBatchReadyOnCount(t *testing.T) {
	b := NewBatch("my-index")
	for i := 0; i < 3; i++ {
		b.Add(Doc{IndexName: "my-index", DocID: "d", SourceJSON: []byte(`{}`), SegmentOrdinal: int64(i)})
	}
	if b.Ready(5, 1<<30) {
		t.Fatalf("batch should not be ready yet")
	}
	b.Add(Doc{IndexName: "my-index", DocID: "d", SourceJSON: []byte(`{}`), SegmentOrdinal: 3})
	b.Add(Doc{IndexName: "my-index", DocID: "d", SourceJSON: []byte(`{}`), SegmentOrdinal: 4})
	if !b.Ready(5, 1<<30) {
		t.Fatalf("batch should be ready once count threshold reached")
	}
	if b.MaxOrdinal != 4 {
		t.Fatalf("expected MaxOrdinal 4, got %d", b.MaxOrdinal)
	}
}

func TestBatchReadyOnBytes(t *testing.T) {
	b := NewBatch("my-index")
	big := make([]byte, 100)
	b.Add(Doc{IndexName: "my-index", DocID: "d0", SourceJSON: big})
	if b.Ready(1000, 50) == false {
		t.Fatalf("batch should be ready once byte threshold exceeded")
	}
}

func TestBatchBodyIsLineDelimited(t *testing.T) {
	b := NewBatch("my-index")
	b.Add(Doc{IndexName: "my-index", DocID: "abc", SourceJSON: []byte(`{"f":1}`)})
	body := string(b.Body())
	want := "{\"index\":{\"_id\":\"abc\"}}\n{\"f\":1}\n"
	if body != want {
		t.Fatalf("body mismatch:\ngot:  %q\nwant: %q", body, want)
	}
}
