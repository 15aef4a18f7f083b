// Package store defines the durable-tier abstraction used by swrcache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no prepended or
// appended metadata, no re-encoding, no mutation). If a store performs
// internal transforms (e.g., compression), they MUST be fully reversed so that
// the bytes returned by Get are identical to the bytes provided to Set.
//
// Every operation reports failure explicitly; the cache treats any error as
// "the durable tier has no opinion" and falls back to its in-process state.
// The "lock:" and "version:" key prefixes are owned by swrcache. External code
// MUST NOT write values under these prefixes; foreign writes may be treated as
// corruption by strict envelope validation and deleted.
package store

import (
	"context"
	"time"
)

// Store is a shared key-value store with TTLs and the single-key atomic
// primitives the cache coordinates through. Implementations must be safe for
// concurrent use. No multi-key transactional behavior is assumed anywhere.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote errors come back as (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL.
	// ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Incr atomically increments the integer counter at key (missing => 0)
	// and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// SetNX stores value with ttl only when key is absent. ok reports
	// whether this call performed the write.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// CompareDel deletes key only when its current value equals value.
	// The comparison and delete are atomic.
	CompareDel(ctx context.Context, key string, value []byte) error

	// ScanPrefix returns every key that starts with prefix.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
