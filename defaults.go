package swrcache

import "time"

const (
	defaultLockTTL      = 12 * time.Second
	minLockTTL          = time.Second
	defaultPollInterval = 100 * time.Millisecond
	defaultLocalEntries = 1024

	// stale window default when a TTL is set but no window is given
	staleFactor = 2
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
