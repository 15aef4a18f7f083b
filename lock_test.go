package swrcache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLocks(t *testing.T) (*lockCoordinator, *memStore, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	st := newMemStore(clk)
	return newLockCoordinator(st, NopLogger{}, NopHooks{}, clk.Now), st, clk
}

func TestLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLocks(t)

	token, ok := l.acquire(ctx, "k", time.Minute)
	if !ok || token == "" {
		t.Fatalf("first acquire failed")
	}
	if _, ok := l.acquire(ctx, "k", time.Minute); ok {
		t.Fatalf("second acquire succeeded while held")
	}

	l.release(ctx, "k", token)
	if _, ok := l.acquire(ctx, "k", time.Minute); !ok {
		t.Fatalf("acquire after release failed")
	}
}

func TestLockReleaseRequiresToken(t *testing.T) {
	ctx := context.Background()
	l, st, _ := newTestLocks(t)

	token, ok := l.acquire(ctx, "k", time.Minute)
	if !ok {
		t.Fatalf("acquire failed")
	}

	// a stranger's release must not free someone else's lock
	l.release(ctx, "k", "not-the-token")
	if _, held := st.raw("lock:k"); !held {
		t.Fatalf("foreign release deleted the lock")
	}
	if _, ok := l.acquire(ctx, "k", time.Minute); ok {
		t.Fatalf("lock was lost to a foreign release")
	}

	l.release(ctx, "k", token)
	if _, held := st.raw("lock:k"); held {
		t.Fatalf("owner release did not delete the lock")
	}
}

func TestLockExpiresByTTL(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newTestLocks(t)

	if _, ok := l.acquire(ctx, "k", time.Second); !ok {
		t.Fatalf("acquire failed")
	}
	clk.Advance(2 * time.Second)

	// a crashed holder's lock is reaped by its TTL
	if _, ok := l.acquire(ctx, "k", time.Second); !ok {
		t.Fatalf("acquire after ttl expiry failed")
	}
}

func TestLockFallsBackInProcess(t *testing.T) {
	ctx := context.Background()
	l, st, clk := newTestLocks(t)
	st.failAll(errors.New("down"))

	token, ok := l.acquire(ctx, "k", time.Second)
	if !ok {
		t.Fatalf("in-process acquire failed during outage")
	}
	if _, ok := l.acquire(ctx, "k", time.Second); ok {
		t.Fatalf("in-process lock did not exclude")
	}

	l.release(ctx, "k", token)
	if _, ok := l.acquire(ctx, "k", time.Second); !ok {
		t.Fatalf("in-process acquire after release failed")
	}

	// local locks expire too
	clk.Advance(2 * time.Second)
	if _, ok := l.acquire(ctx, "k", time.Second); !ok {
		t.Fatalf("in-process acquire after expiry failed")
	}
}

func TestLockNilStoreIsLocal(t *testing.T) {
	ctx := context.Background()
	clk := newFakeClock()
	l := newLockCoordinator(nil, NopLogger{}, NopHooks{}, clk.Now)

	if _, ok := l.acquire(ctx, "k", time.Minute); !ok {
		t.Fatalf("acquire failed")
	}
	if _, ok := l.acquire(ctx, "k", time.Minute); ok {
		t.Fatalf("no exclusion without a store")
	}
	l.forget("k")
	if _, ok := l.acquire(ctx, "k", time.Minute); !ok {
		t.Fatalf("forget did not clear the lock")
	}
}
