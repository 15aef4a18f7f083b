package swrcache

import (
	"context"
	"strconv"
	"sync"

	"github.com/unkn0wn-root/swrcache/store"
)

// versionKey derives the durable counter key for a cache key.
func versionKey(key string) string { return versionPrefix + key }

// versionTracker maintains the per-key monotonic counter used to detect that
// another process wrote newer data. The authoritative counter lives in the
// durable tier (version:<key>, no TTL - an expiring counter could restart
// below an observed value and break monotonicity). Every observation raises
// an in-process floor so that the tracker keeps answering, monotonically,
// when the durable tier is unreachable.
type versionTracker struct {
	store store.Store // nil => local-only mode
	log   Logger
	hooks Hooks

	mu    sync.Mutex
	floor map[string]uint64
}

func newVersionTracker(s store.Store, log Logger, hooks Hooks) *versionTracker {
	return &versionTracker{
		store: s,
		log:   log,
		hooks: hooks,
		floor: make(map[string]uint64),
	}
}

// current returns the key's counter and whether the durable tier answered.
// Missing counter => 0. On durable errors the best-known local floor is
// returned with reachable=false, which callers treat as "no opinion".
func (t *versionTracker) current(ctx context.Context, key string) (uint64, bool) {
	if t.store == nil {
		return t.local(key), false
	}

	b, ok, err := t.store.Get(ctx, versionKey(key))
	if err != nil {
		t.degraded(key, err)
		return t.local(key), false
	}
	if !ok {
		return t.raise(key, 0), true
	}
	n, perr := strconv.ParseUint(string(b), 10, 64)
	if perr != nil {
		// foreign bytes under version:<key>; the counter cannot be trusted
		t.degraded(key, perr)
		return t.local(key), false
	}
	return t.raise(key, n), true
}

// bump returns the version a new envelope should carry. When the new
// fingerprint matches the previous one the previous version is returned
// unchanged, so repeated identical recomputation does not invalidate other
// processes' local copies. Otherwise the counter is atomically incremented.
func (t *versionTracker) bump(ctx context.Context, key string, newFP, prevFP, prevVersion uint64, hadPrev bool) uint64 {
	if hadPrev && newFP == prevFP {
		return t.raise(key, prevVersion)
	}
	return t.advance(ctx, key)
}

// advance unconditionally increments the counter. Used by bump on content
// change and by invalidation, which must supersede every copy regardless of
// fingerprints.
func (t *versionTracker) advance(ctx context.Context, key string) uint64 {
	if t.store != nil {
		n, err := t.store.Incr(ctx, versionKey(key))
		if err == nil {
			return t.raise(key, uint64(n))
		}
		t.degraded(key, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.floor[key]++
	return t.floor[key]
}

// raise lifts the local floor to at least v and returns the floor. The floor
// never decreases; a durable counter that somehow went backwards (data loss)
// is papered over locally so versions stay monotonic for this process.
func (t *versionTracker) raise(key string, v uint64) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v > t.floor[key] {
		t.floor[key] = v
	}
	return t.floor[key]
}

func (t *versionTracker) local(key string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.floor[key]
}

func (t *versionTracker) degraded(key string, err error) {
	t.hooks.VersionDegraded(key, err)
	t.log.Warn("version counter unavailable, using local floor", Fields{"key": key, "err": err})
}
