package swrcache

import (
	"context"
	"errors"
	"testing"
)

func newTestTracker(t *testing.T) (*versionTracker, *memStore) {
	t.Helper()
	st := newMemStore(newFakeClock())
	return newVersionTracker(st, NopLogger{}, NopHooks{}), st
}

func TestVersionMissingCounterIsZero(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	v, reachable := tr.current(ctx, "k")
	if v != 0 || !reachable {
		t.Fatalf("current = (%d, %v), want (0, true)", v, reachable)
	}
}

func TestVersionAdvanceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)

	if v := tr.advance(ctx, "k"); v != 1 {
		t.Fatalf("first advance = %d, want 1", v)
	}
	if v := tr.advance(ctx, "k"); v != 2 {
		t.Fatalf("second advance = %d, want 2", v)
	}
	if v, reachable := tr.current(ctx, "k"); v != 2 || !reachable {
		t.Fatalf("current = (%d, %v), want (2, true)", v, reachable)
	}
	if raw, ok := st.raw("version:k"); !ok || string(raw) != "2" {
		t.Fatalf("durable counter = %q, want 2", raw)
	}
}

func TestVersionBumpElidesOnSameFingerprint(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)

	v1 := tr.advance(ctx, "k") // simulate the first write

	// identical content: version unchanged, counter untouched
	if v := tr.bump(ctx, "k", 0xABCD, 0xABCD, v1, true); v != v1 {
		t.Fatalf("elided bump = %d, want %d", v, v1)
	}
	if raw, _ := st.raw("version:k"); string(raw) != "1" {
		t.Fatalf("counter = %q, want 1", raw)
	}

	// changed content increments
	if v := tr.bump(ctx, "k", 0xBEEF, 0xABCD, v1, true); v != 2 {
		t.Fatalf("bump = %d, want 2", v)
	}

	// no previous envelope: always increments, even for "same" fingerprint
	if v := tr.bump(ctx, "k", 0xBEEF, 0xBEEF, 0, false); v != 3 {
		t.Fatalf("bump without prior = %d, want 3", v)
	}
}

func TestVersionOutageUsesLocalFloor(t *testing.T) {
	ctx := context.Background()
	tr, st := newTestTracker(t)

	tr.advance(ctx, "k") // durable counter = 1

	outage := errors.New("down")
	st.failOp("incr", outage)
	st.failOp("get", outage)

	if v := tr.advance(ctx, "k"); v != 2 {
		t.Fatalf("outage advance = %d, want floor 2", v)
	}
	if v, reachable := tr.current(ctx, "k"); v != 2 || reachable {
		t.Fatalf("outage current = (%d, %v), want (2, false)", v, reachable)
	}

	// store returns with its stale pre-outage counter; the floor wins
	st.heal()
	if v, reachable := tr.current(ctx, "k"); v != 2 || !reachable {
		t.Fatalf("healed current = (%d, %v), want (2, true)", v, reachable)
	}
}

func TestVersionGarbageCounterDegrades(t *testing.T) {
	ctx := context.Background()
	st := newMemStore(newFakeClock())
	hooks := newRecHooks()
	tr := newVersionTracker(st, NopLogger{}, hooks)

	if err := st.Set(ctx, "version:k", []byte("zzz"), 0); err != nil {
		t.Fatal(err)
	}
	if v, reachable := tr.current(ctx, "k"); v != 0 || reachable {
		t.Fatalf("current = (%d, %v), want (0, false)", v, reachable)
	}

	hooks.mu.Lock()
	n := len(hooks.versionKeys)
	hooks.mu.Unlock()
	if n != 1 {
		t.Fatalf("VersionDegraded hooks = %d, want 1", n)
	}
}

func TestVersionNilStoreIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	tr := newVersionTracker(nil, NopLogger{}, NopHooks{})

	if v := tr.advance(ctx, "k"); v != 1 {
		t.Fatalf("advance = %d, want 1", v)
	}
	if v, reachable := tr.current(ctx, "k"); v != 1 || reachable {
		t.Fatalf("current = (%d, %v), want (1, false)", v, reachable)
	}
}
