package swrcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/swrcache/store"
)

// lockKey derives the durable lock key for a cache key.
func lockKey(key string) string { return lockPrefix + key }

type localLock struct {
	token   string
	expires time.Time
}

// lockCoordinator hands out short-lived, uniquely-tokened mutual-exclusion
// locks per key so that, fleet-wide, ideally one process recomputes a key at
// a time. Durable mode is an atomic set-if-absent with TTL; the token proves
// ownership on release (an expired lock may already belong to someone else,
// so release is compare-and-delete, never a blind delete).
//
// When the durable tier is absent or erroring, an in-process advisory lock
// with the same semantics takes over. That still collapses refreshes within
// this process; cross-process exclusion is simply unavailable then.
type lockCoordinator struct {
	store store.Store // nil => local-only mode
	log   Logger
	hooks Hooks
	now   func() time.Time

	mu   sync.Mutex
	held map[string]localLock
}

func newLockCoordinator(s store.Store, log Logger, hooks Hooks, now func() time.Time) *lockCoordinator {
	return &lockCoordinator{
		store: s,
		log:   log,
		hooks: hooks,
		now:   now,
		held:  make(map[string]localLock),
	}
}

// acquire attempts to take the lock for key. It returns a fresh token on
// success; ok=false means another holder has it and the caller should wait
// or degrade, never block.
func (l *lockCoordinator) acquire(ctx context.Context, key string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()

	if l.store != nil {
		ok, err := l.store.SetNX(ctx, lockKey(key), []byte(token), ttl)
		if err == nil {
			return token, ok
		}
		l.hooks.StoreDegraded("setnx", err)
		l.log.Debug("durable lock unavailable, using in-process lock", Fields{"key": key, "err": err})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return "", false
	}
	l.held[key] = localLock{token: token, expires: now.Add(ttl)}
	return token, true
}

// release frees the lock only while it still holds token. Failures are
// swallowed; the TTL is the backstop for a holder that crashed or whose
// release was lost.
func (l *lockCoordinator) release(ctx context.Context, key, token string) {
	if token == "" {
		return
	}

	if l.store != nil {
		if err := l.store.CompareDel(ctx, lockKey(key), []byte(token)); err != nil {
			l.hooks.StoreDegraded("compare_del", err)
			l.log.Debug("lock release failed, ttl will reap it", Fields{"key": key, "err": err})
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur.token == token {
		delete(l.held, key)
	}
}

// forget drops in-process lock bookkeeping for key without touching the
// durable tier. Used by invalidation.
func (l *lockCoordinator) forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}
