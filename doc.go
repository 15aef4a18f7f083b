// Package swrcache implements a two-tier read-through cache with
// stale-while-revalidate semantics and cross-process coherency.
//
// Components:
//   - Store: shared durable tier with TTL, counters and locks (e.g. Redis).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Local tier: bounded in-process LRU holding decoded-ready envelopes.
//
// Every value travels as a versioned envelope. A per-key counter in the
// durable tier is the source of truth for "how new is new": a local copy
// whose version falls behind the counter is dropped or replaced, so a write
// or invalidation in one process is visible everywhere on the next read.
//
// Keys:
//
//	<key>          - the cached record
//	version:<key>  - monotonic version counter
//	lock:<key>     - refresh lock (token value, short TTL)
//
// Freshness is three-state. A fresh hit is served as-is. A value past its
// TTL but inside the stale window is served immediately while one winner
// refreshes it in the background. Past the window, callers collapse into a
// single loader call per process, coordinated across processes by the
// refresh lock.
//
// The durable tier is an accelerator, not a dependency: when it is down or
// absent the cache degrades to per-process operation and keeps serving.
package swrcache
