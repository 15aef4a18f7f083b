package swrcache

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/unkn0wn-root/swrcache/internal/wire"
)

// localTier is the in-process cache: a bounded LRU of key -> envelope.
// It is the fastest tier and private to one process; cross-process coherency
// is layered on top by the coordinator via the version tracker.
//
// All writes go through adopt, which enforces the replacement invariant: an
// envelope is only ever replaced by one with an equal-or-greater version.
// The wrapper mutex makes the check-then-replace atomic; the LRU's own
// locking is not enough for that.
type localTier struct {
	mu  sync.Mutex
	lru *lru.Cache[string, wire.Envelope]
}

func newLocalTier(entries int) (*localTier, error) {
	l, err := lru.New[string, wire.Envelope](entries)
	if err != nil {
		return nil, err
	}
	return &localTier{lru: l}, nil
}

func (t *localTier) get(key string) (wire.Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Get(key)
}

// adopt stores env unless a newer envelope is already held. Equal versions
// replace: a refresh that produced identical content keeps its version but
// carries new deadlines, and those must land.
func (t *localTier) adopt(key string, env wire.Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.lru.Peek(key); ok && env.Version < held.Version {
		return false
	}
	t.lru.Add(key, env)
	return true
}

func (t *localTier) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Remove(key)
}

// removePrefix drops every held key starting with prefix and returns the
// removed keys so the coordinator can clear related bookkeeping.
func (t *localTier) removePrefix(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for _, k := range t.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			t.lru.Remove(k)
			removed = append(removed, k)
		}
	}
	return removed
}

func (t *localTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}
