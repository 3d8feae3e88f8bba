package coordinator

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensearch-project/reindex-from-snapshot/cmn"
	"github.com/tidwall/buntdb"
)

// keyPrefix namespaces work-item keys within the embedded store, leaving
// room for the coordinator to eventually share a buntdb file with other
// local state.
const keyPrefix = "wi:"

func itemKey(id string) string { return keyPrefix + id }

// BuntdbStore is the embedded, in-process Store implementation: a single
// worker (or a small fleet sharing one coordinator process, as in a local
// dry run) keeps all work-item state in a buntdb database rather than
// standing up a separate coordination service.
type BuntdbStore struct {
	db *buntdb.DB
}

var _ Store = (*BuntdbStore)(nil)

// OpenBuntdbStore opens (creating if absent) a buntdb file at path. Pass
// ":memory:" for an ephemeral, process-local store.
func OpenBuntdbStore(path string) (*BuntdbStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cmn.WrapError(cmn.KindOperationFailed, err, "open buntdb store %s", path)
	}
	return &BuntdbStore{db: db}, nil
}

func (s *BuntdbStore) Close() error { return s.db.Close() }

// encodeEnvelope frames a version counter ahead of the msgp-encoded body,
// the on-disk shape one buntdb value holds.
func encodeEnvelope(version int64, body Body) (string, error) {
	buf, err := body.MarshalMsg(nil)
	if err != nil {
		return "", err
	}
	out := make([]byte, 8+len(buf))
	binary.BigEndian.PutUint64(out[:8], uint64(version))
	copy(out[8:], buf)
	return string(out), nil
}

func decodeEnvelope(raw string) (int64, Body, error) {
	b := []byte(raw)
	if len(b) < 8 {
		return 0, Body{}, fmt.Errorf("coordinator: truncated envelope")
	}
	version := int64(binary.BigEndian.Uint64(b[:8]))
	var body Body
	if _, err := body.UnmarshalMsg(b[8:]); err != nil {
		return 0, Body{}, err
	}
	return version, body, nil
}

func (s *BuntdbStore) CreateIfAbsent(_ context.Context, id string, body Body) (bool, error) {
	created := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Get(itemKey(id))
		if err == nil {
			return nil // already present, not created
		}
		if !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
		val, encErr := encodeEnvelope(0, body)
		if encErr != nil {
			return encErr
		}
		if _, _, setErr := tx.Set(itemKey(id), val, nil); setErr != nil {
			return setErr
		}
		created = true
		return nil
	})
	if err != nil {
		return false, cmn.WrapError(cmn.KindOperationFailed, err, "create-if-absent %s", id)
	}
	return created, nil
}

func (s *BuntdbStore) Read(_ context.Context, id string) (Body, int64, error) {
	var version int64
	var body Body
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(itemKey(id))
		if err != nil {
			return err
		}
		version, body, err = decodeEnvelope(raw)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return Body{}, 0, cmn.NewError(cmn.KindInvalidParameter, "unknown work item %s", id)
	}
	if err != nil {
		return Body{}, 0, cmn.WrapError(cmn.KindOperationFailed, err, "read %s", id)
	}
	return body, version, nil
}

func (s *BuntdbStore) CASUpdate(_ context.Context, id string, expectedVersion int64, newBody Body) (bool, error) {
	ok := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(itemKey(id))
		if err != nil {
			return err
		}
		curVersion, _, err := decodeEnvelope(raw)
		if err != nil {
			return err
		}
		if curVersion != expectedVersion {
			return nil // stale caller, not an error: ok stays false
		}
		val, err := encodeEnvelope(curVersion+1, newBody)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(itemKey(id), val, nil); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, cmn.WrapError(cmn.KindOperationFailed, err, "cas-update %s", id)
	}
	return ok, nil
}

func (s *BuntdbStore) QueryUnassigned(_ context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyPrefix+"*", func(key, val string) bool {
			_, body, err := decodeEnvelope(val)
			if err != nil {
				return true // skip corrupt entries rather than fail the whole scan
			}
			eligible := body.State == Unassigned || (body.State == Leased && body.LeaseExpiry.Before(now))
			if eligible {
				ids = append(ids, strings.TrimPrefix(key, keyPrefix))
			}
			return len(ids) < limit
		})
	})
	if err != nil {
		return nil, cmn.WrapError(cmn.KindOperationFailed, err, "query unassigned")
	}
	return ids, nil
}

func (s *BuntdbStore) Stats(_ context.Context) (Stats, error) {
	var stats Stats
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(keyPrefix+"*", func(_, val string) bool {
			_, body, err := decodeEnvelope(val)
			if err != nil {
				return true
			}
			stats.Total++
			if body.State == Completed {
				stats.Completed++
			}
			return true
		})
	})
	if err != nil {
		return Stats{}, cmn.WrapError(cmn.KindOperationFailed, err, "compute stats")
	}
	return stats, nil
}
