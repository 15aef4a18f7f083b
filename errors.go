package swrcache

import "errors"

var (
	// ErrEmptyKey reports an empty cache key or prefix.
	ErrEmptyKey = errors.New("swrcache: empty key")

	// ErrNilLoader reports a Get/GetWithMeta call without a loader.
	ErrNilLoader = errors.New("swrcache: nil loader")

	// ErrReservedKey reports a key under the "lock:" or "version:" namespace,
	// which the cache keeps for its own bookkeeping.
	ErrReservedKey = errors.New("swrcache: reserved key prefix")

	// ErrClosed reports use of the cache after Close.
	ErrClosed = errors.New("swrcache: cache closed")
)
