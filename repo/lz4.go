package repo

import (
	"io"

	"github.com/pierrec/lz4/v3"
)

// lz4Reader wraps a blob-part reader that is LZ4-frame compressed on the
// wire, the compression some snapshot repositories apply to blob parts
// before upload. Detected by the ".lz4" suffix on the part's physical name.
func lz4Reader(r io.Reader) io.Reader {
	return lz4.NewReader(r)
}

func hasLZ4Suffix(name string) bool {
	const suffix = ".lz4"
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}
