package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const formatVersion byte = 1

var (
	ErrCorrupt = errors.New("swrcache: corrupt envelope")
	magic4     = [...]byte{'S', 'W', 'R', 'C'}
)

// Envelope is the unit stored in both cache tiers: the codec-encoded value
// plus the freshness and versioning metadata the coordinator acts on.
// Timestamps are absolute unix milliseconds; zero means "not set" (an entry
// with ExpiresAt == 0 never expires by time).
type Envelope struct {
	Version     uint64 // per-key counter value at write time
	Fingerprint uint64 // content hash of Payload
	ExpiresAt   int64  // unix ms; 0 => never expires
	StaleUntil  int64  // unix ms; 0 => no stale window beyond ExpiresAt
	Payload     []byte
}

// Fresh reports whether the envelope has not expired at the given time.
func (e Envelope) Fresh(at time.Time) bool {
	return e.ExpiresAt == 0 || at.UnixMilli() < e.ExpiresAt
}

// InStaleWindow reports whether the envelope is expired but still inside its
// stale-while-revalidate window.
func (e Envelope) InStaleWindow(at time.Time) bool {
	if e.Fresh(at) {
		return false
	}
	return at.UnixMilli() < e.StaleUntil
}

// Servable reports whether the value may still be handed to callers, fresh
// or stale.
func (e Envelope) Servable(at time.Time) bool {
	return e.Fresh(at) || e.InStaleWindow(at)
}

const headerLen = 4 + 1 + 8 + 8 + 8 + 8 + 4

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Marshal renders the envelope as:
//
//	magic(4) | fmt(1) | version(u64 be) | fingerprint(u64 be)
//	| expiresAt(i64 be) | staleUntil(i64 be) | plen(u32 be) | payload(plen)
func Marshal(e Envelope) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(e.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(formatVersion)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], e.Version)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], e.Fingerprint)
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.ExpiresAt))
	buf.Write(u8[:])

	binary.BigEndian.PutUint64(u8[:], uint64(e.StaleUntil))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])

	buf.Write(e.Payload)
	return buf.Bytes()
}

// Unmarshal parses an envelope strictly. Anything that is not an exact,
// well-formed record (bad magic, unknown format byte, truncated buffer,
// trailing bytes) yields ErrCorrupt; callers treat that as "key absent".
// Payload aliases b (no copy).
func Unmarshal(b []byte) (Envelope, error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != formatVersion {
		return Envelope{}, ErrCorrupt
	}

	off := 5

	var e Envelope
	e.Version = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	e.Fingerprint = binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	e.ExpiresAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.StaleUntil = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen != len(b)-off { // exact length only; trailing junk is corruption
		return Envelope{}, ErrCorrupt
	}
	if plen > 0 {
		e.Payload = b[off : off+plen]
	}
	return e, nil
}
