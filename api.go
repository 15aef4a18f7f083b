package swrcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/store"
)

// Loader computes the authoritative value for a key when no tier holds a
// sufficiently fresh copy. It must tolerate being called more than once for
// the same key under contention (at-most-once is best-effort, not a hard
// guarantee) and its result must be encodable by the configured codec.
// Loader errors propagate unchanged to the Get caller and never corrupt
// cached state.
type Loader[V any] func(ctx context.Context) (V, error)

// Meta describes the envelope a value was served from.
type Meta struct {
	// Version is the per-key counter value the envelope was written at.
	// Two reads with equal versions observed the same underlying write.
	Version uint64
	// Stale reports that the value was served from the stale-while-revalidate
	// window (or past it, under FallbackServeStale).
	Stale bool
	// ExpiresAt / StaleUntil are the envelope deadlines. Zero means the entry
	// never expires by time.
	ExpiresAt  time.Time
	StaleUntil time.Time
}

// ContentionPolicy decides what Get does when both lock attempts fail on the
// cold path: every poll came back empty and someone else still holds the
// refresh lock.
type ContentionPolicy int

const (
	// FallbackLoad calls the loader without a lock, accepting the small risk
	// of duplicate computation rather than serving nothing. The default.
	FallbackLoad ContentionPolicy = iota
	// FallbackServeStale returns the previously-held value even past its
	// stale window (load-shedding); the loader runs unlocked only when no
	// previous value exists at all.
	FallbackServeStale
)

// NoExpiry disables time-based expiry for one call, overriding a non-zero
// constructor default: WithTTL(NoExpiry).
const NoExpiry = time.Duration(-1)

// NoStaleWindow disables stale-while-revalidate serving for one call:
// WithStaleFor(NoStaleWindow) makes the entry unservable as soon as it
// expires.
const NoStaleWindow = time.Duration(-1)

// Option tunes a single Get/GetWithMeta/Set call.
type Option func(*perCallOptions)

type perCallOptions struct {
	ttl      time.Duration
	staleFor time.Duration
	lockTTL  time.Duration
}

// WithTTL sets how long the value is fresh. Zero keeps the constructor
// default; NoExpiry (any negative value) means the entry never expires.
func WithTTL(d time.Duration) Option { return func(o *perCallOptions) { o.ttl = d } }

// WithStaleFor sets the stale-while-revalidate window, measured from the
// write: the value may still be served until max(ttl, window) after it was
// stored. Zero keeps the constructor default (itself defaulting to twice the
// TTL); NoStaleWindow disables stale serving.
func WithStaleFor(d time.Duration) Option { return func(o *perCallOptions) { o.staleFor = d } }

// WithLockTTL bounds the per-key refresh lock and the contention poll. Zero
// keeps the constructor default (12s). Floored at 1s.
func WithLockTTL(d time.Duration) Option { return func(o *perCallOptions) { o.lockTTL = d } }

// Cache is the multi-tier stale-while-revalidate cache coordinator.
// V is the caller's value type; serialization is handled by a pluggable
// Codec[V].
type Cache[V any] interface {
	// Get returns the cached value for key, invoking load only when no tier
	// holds a sufficiently fresh copy. Expired-but-within-window values are
	// returned immediately while a refresh runs in the background.
	Get(ctx context.Context, key string, load Loader[V], opts ...Option) (V, error)

	// GetWithMeta is Get plus the envelope metadata the value was served from.
	GetWithMeta(ctx context.Context, key string, load Loader[V], opts ...Option) (V, Meta, error)

	// Set stores value directly, bumping the key's version only when the
	// content actually changed. Used by out-of-band warm-up paths.
	Set(ctx context.Context, key string, value V, opts ...Option) error

	// Invalidate removes the key everywhere and bumps its version so every
	// process recognizes its copy as superseded on next access.
	Invalidate(ctx context.Context, key string)

	// InvalidatePrefix invalidates every key starting with prefix, local and
	// durable. An empty prefix is a no-op.
	InvalidatePrefix(ctx context.Context, prefix string)

	// Close stops new work, waits for in-flight loads and background
	// refreshes, and optionally closes the store (Options.CloseStore).
	Close(ctx context.Context) error
}

// Options tune the behavior of the cache. Only Codec is required; a nil
// Store degrades the cache to local-only, single-process semantics without
// raising errors.
type Options[V any] struct {
	// Required
	Codec c.Codec[V]

	// Store is the shared durable tier. nil => in-process tiers only: no
	// cross-process coherency, version counters and locks fall back to
	// process-local state.
	Store store.Store

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	LocalEntries    int              // local LRU bound; 0 => 1024
	DefaultTTL      time.Duration    // 0 => entries never expire; negative treated as 0
	DefaultStaleFor time.Duration    // 0 => 2x the ttl; negative => no stale window
	DefaultLockTTL  time.Duration    // 0 => 12s; floored at 1s
	PollInterval    time.Duration    // contention poll tick; 0 => 100ms
	MaxLockPolls    int              // poll attempts; 0 => lockTTL / PollInterval
	OnContention    ContentionPolicy // default FallbackLoad
	CloseStore      bool             // Close also closes Store
}

// New builds a Cache from opts.
func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
