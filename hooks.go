package swrcache

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the cache calls them on hot
// paths. Wrap with hooks/async to offload slow sinks.
type Hooks interface {
	// A stored record was deleted by the cache on read.
	// reason is "corrupt" (bad wire framing) or "decode" (codec rejected the payload).
	SelfHeal(key, reason string)

	// An expired-but-servable value was returned. refreshing reports whether
	// this call also started the background refresh (false means another
	// holder is already refreshing, or the serve came from the contention
	// fallback).
	StaleServed(key string, refreshing bool)

	// A background refresh finished. err is nil on success; on failure the
	// previously cached value stays in place.
	RefreshDone(key string, err error)

	// The refresh lock was held elsewhere and this process entered the
	// bounded poll for the winner's write.
	LockWait(key string)

	// Both lock attempts failed and the loader ran without mutual exclusion
	// (duplicate computation is possible).
	UnlockedLoad(key string)

	// A durable-tier operation failed and the cache carried on with its
	// in-process fallbacks. op is one of get/set/del/setnx/compare_del/scan.
	StoreDegraded(op string, err error)

	// The version counter was unreachable or unreadable and the in-process
	// floor answered instead.
	VersionDegraded(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)       {}
func (NopHooks) StaleServed(string, bool)      {}
func (NopHooks) RefreshDone(string, error)     {}
func (NopHooks) LockWait(string)               {}
func (NopHooks) UnlockedLoad(string)           {}
func (NopHooks) StoreDegraded(string, error)   {}
func (NopHooks) VersionDegraded(string, error) {}
