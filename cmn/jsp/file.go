// Package jsp (JSON persistence) provides checksummed save/load of
// arbitrary JSON-encoded structures to local disk, used for the worker's
// per-shard resume marker in its work directory.
/*
 * Copyright (c) 2024, OpenSearch Contributors. All rights reserved.
 */
package jsp

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/glog"
	"github.com/opensearch-project/reindex-from-snapshot/cmn"
)

// signature|version prefix, followed by an 8-byte xxhash64 of the payload,
// followed by the raw JSON payload. Grounded on cmn/jsp/file.go's
// signature+version+checksum framing.
const (
	signature = "rfsjsp"
	version   = 1
)

var ErrBadChecksum = fmt.Errorf("jsp: checksum mismatch")

// Save atomically writes v as checksummed JSON to filepath: encode to a
// temp file in the same directory, then rename over the target, exactly
// the way cmn/jsp/file.go's Save avoids partial writes being observed.
func Save(filepath string, v interface{}) (err error) {
	payload, err := cmn.Marshal(v)
	if err != nil {
		return err
	}
	tmp := filepath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := os.Remove(tmp); rmErr != nil {
				glog.Errorf("jsp: failed to remove temp file %s after error %v: %v", tmp, err, rmErr)
			}
		}
	}()

	if _, err = f.WriteString(signature); err != nil {
		_ = f.Close()
		return err
	}
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], version)
	if _, err = f.Write(verBuf[:]); err != nil {
		_ = f.Close()
		return err
	}
	sum := xxhash.Checksum64(payload)
	var sumBuf [8]byte
	binary.BigEndian.PutUint64(sumBuf[:], sum)
	if _, err = f.Write(sumBuf[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err = f.Write(payload); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath)
}

// Load reads and verifies a file written by Save, unmarshaling the payload
// into v. A checksum mismatch removes the corrupt file and returns
// ErrBadChecksum, mirroring cmn/jsp/file.go's Load behavior on bad
// checksums.
func Load(filepath string, v interface{}) error {
	raw, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	hdrLen := len(signature) + 4 + 8
	if len(raw) < hdrLen {
		return fmt.Errorf("jsp: %s: truncated header", filepath)
	}
	if string(raw[:len(signature)]) != signature {
		return fmt.Errorf("jsp: %s: bad signature", filepath)
	}
	off := len(signature)
	ver := binary.BigEndian.Uint32(raw[off : off+4])
	if ver != version {
		return fmt.Errorf("jsp: %s: unsupported version %d", filepath, ver)
	}
	off += 4
	wantSum := binary.BigEndian.Uint64(raw[off : off+8])
	off += 8
	payload := raw[off:]
	gotSum := xxhash.Checksum64(payload)
	if gotSum != wantSum {
		if rmErr := os.Remove(filepath); rmErr != nil {
			glog.Errorf("jsp: bad checksum on %s, failed to remove: %v", filepath, rmErr)
		} else {
			glog.Errorf("jsp: bad checksum, removed %s", filepath)
		}
		return ErrBadChecksum
	}
	return cmn.Unmarshal(payload, v)
}
