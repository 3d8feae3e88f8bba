package coordinator

import (
	"time"

	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg and UnmarshalMsg hand-encode Body using tinylib/msgp's
// append/read primitives directly, the compact binary framing
// BuntdbStore persists work-item bodies as -- smaller and faster to
// decode on every lease-renewal tick than a JSON round-trip.
func (b Body) MarshalMsg(buf []byte) ([]byte, error) {
	buf = msgp.AppendMapHeader(buf, 5)
	buf = msgp.AppendString(buf, "state")
	buf = msgp.AppendString(buf, string(b.State))
	buf = msgp.AppendString(buf, "owner")
	buf = msgp.AppendString(buf, b.Owner)
	buf = msgp.AppendString(buf, "leaseExpiry")
	buf = msgp.AppendTime(buf, b.LeaseExpiry)
	buf = msgp.AppendString(buf, "attemptCounter")
	buf = msgp.AppendInt(buf, b.AttemptCounter)
	buf = msgp.AppendString(buf, "cursor")
	buf = msgp.AppendInt64(buf, b.Cursor)
	return buf, nil
}

func (b *Body) UnmarshalMsg(buf []byte) ([]byte, error) {
	n, buf, err := msgp.ReadMapHeaderBytes(buf)
	if err != nil {
		return buf, err
	}
	for i := uint32(0); i < n; i++ {
		var key string
		key, buf, err = msgp.ReadStringBytes(buf)
		if err != nil {
			return buf, err
		}
		switch key {
		case "state":
			var s string
			s, buf, err = msgp.ReadStringBytes(buf)
			b.State = ItemState(s)
		case "owner":
			b.Owner, buf, err = msgp.ReadStringBytes(buf)
		case "leaseExpiry":
			var t time.Time
			t, buf, err = msgp.ReadTimeBytes(buf)
			b.LeaseExpiry = t
		case "attemptCounter":
			b.AttemptCounter, buf, err = msgp.ReadIntBytes(buf)
		case "cursor":
			b.Cursor, buf, err = msgp.ReadInt64Bytes(buf)
		default:
			buf, err = msgp.Skip(buf)
		}
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}
