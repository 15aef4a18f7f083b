package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func mustUnmarshal(t *testing.T, b []byte) Envelope {
	t.Helper()
	e, err := Unmarshal(b)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	return e
}

func TestRoundTrip(t *testing.T) {
	cases := []Envelope{
		{},
		{Version: 1, Fingerprint: 42, ExpiresAt: 1000, StaleUntil: 3000, Payload: []byte("hello")},
		{Version: math.MaxUint64, Fingerprint: math.MaxUint64, ExpiresAt: math.MaxInt64, StaleUntil: math.MaxInt64, Payload: []byte{0, 1, 2, 3, 4}},
		{Version: 7, Payload: nil}, // no expiry, empty payload
	}
	for _, want := range cases {
		got := mustUnmarshal(t, Marshal(want))
		if got.Version != want.Version || got.Fingerprint != want.Fingerprint {
			t.Fatalf("meta mismatch: got %+v want %+v", got, want)
		}
		if got.ExpiresAt != want.ExpiresAt || got.StaleUntil != want.StaleUntil {
			t.Fatalf("time mismatch: got %+v want %+v", got, want)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, want.Payload)
		}
	}
}

func TestRejectsTrailingBytes(t *testing.T) {
	enc := Marshal(Envelope{Version: 7, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD) // junk after payload
	if _, err := Unmarshal(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestCorruptHeadersAndLengths(t *testing.T) {
	enc := Marshal(Envelope{Version: 1, Fingerprint: 2, Payload: []byte("abc")})

	// bad magic
	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Unmarshal(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	// unknown format version
	badFmt := append([]byte(nil), enc...)
	badFmt[4] = formatVersion + 1
	if _, err := Unmarshal(badFmt); err == nil {
		t.Fatalf("expected error on unknown format version")
	}

	// plen announcing more than available
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[headerLen-4:headerLen], uint32(len("abc")+1))
	if _, err := Unmarshal(tooLong); err == nil {
		t.Fatalf("expected error on plen beyond buffer")
	}

	// truncated buffer
	trunc := enc[:len(enc)-1]
	if _, err := Unmarshal(trunc); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}

	// arbitrary short garbage
	if _, err := Unmarshal([]byte("not-an-envelope")); err == nil {
		t.Fatalf("expected error on garbage input")
	}
}

func TestZeroCopyPayload(t *testing.T) {
	enc := Marshal(Envelope{Payload: []byte("Z")})
	e := mustUnmarshal(t, enc)
	if len(e.Payload) != 1 {
		t.Fatalf("unexpected payload len")
	}
	// mutate decoded payload; should mutate the underlying enc bytes
	e.Payload[0] = 'Q'
	e2 := mustUnmarshal(t, enc)
	if e2.Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}

func TestFreshness(t *testing.T) {
	at := time.UnixMilli(5000)

	fresh := Envelope{ExpiresAt: 6000, StaleUntil: 9000}
	if !fresh.Fresh(at) || fresh.InStaleWindow(at) || !fresh.Servable(at) {
		t.Fatalf("fresh envelope misclassified")
	}

	stale := Envelope{ExpiresAt: 4000, StaleUntil: 9000}
	if stale.Fresh(at) || !stale.InStaleWindow(at) || !stale.Servable(at) {
		t.Fatalf("stale-in-window envelope misclassified")
	}

	dead := Envelope{ExpiresAt: 3000, StaleUntil: 4000}
	if dead.Fresh(at) || dead.InStaleWindow(at) || dead.Servable(at) {
		t.Fatalf("past-stale envelope misclassified")
	}

	forever := Envelope{} // no expiry at all
	if !forever.Fresh(at) || !forever.Servable(at) {
		t.Fatalf("never-expiring envelope misclassified")
	}

	// expiry boundary is exclusive: at == ExpiresAt means expired
	edge := Envelope{ExpiresAt: 5000, StaleUntil: 5000}
	if edge.Fresh(at) || edge.Servable(at) {
		t.Fatalf("boundary envelope should be expired and unservable")
	}
}
