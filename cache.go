package swrcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/swrcache/codec"
	"github.com/unkn0wn-root/swrcache/internal/wire"
	"github.com/unkn0wn-root/swrcache/store"
)

const (
	lockPrefix    = "lock:"
	versionPrefix = "version:"
)

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.HasPrefix(key, lockPrefix) || strings.HasPrefix(key, versionPrefix) {
		return ErrReservedKey
	}
	return nil
}

type cache[V any] struct {
	codec codec.Codec[V]
	store store.Store // nil => local-only degraded mode
	log   Logger
	hooks Hooks

	local    *localTier
	versions *versionTracker
	locks    *lockCoordinator

	defaultTTL      time.Duration
	defaultStaleFor time.Duration
	defaultLockTTL  time.Duration
	pollInterval    time.Duration
	maxLockPolls    int
	policy          ContentionPolicy
	closeStore      bool

	sf singleflight.Group
	wg sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	now func() time.Time // injectable clock for tests
}

var _ Cache[any] = (*cache[any])(nil)

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("swrcache: codec is required")
	}
	if opts.LocalEntries < 0 {
		return nil, fmt.Errorf("swrcache: LocalEntries must not be negative")
	}
	if opts.PollInterval < 0 {
		return nil, fmt.Errorf("swrcache: PollInterval must not be negative")
	}
	if opts.MaxLockPolls < 0 {
		return nil, fmt.Errorf("swrcache: MaxLockPolls must not be negative")
	}

	c := &cache[V]{
		codec:      opts.Codec,
		store:      opts.Store,
		policy:     opts.OnContention,
		closeStore: opts.CloseStore,
		now:        time.Now,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.defaultTTL = opts.DefaultTTL
	if c.defaultTTL < 0 {
		c.defaultTTL = 0
	}
	c.defaultStaleFor = opts.DefaultStaleFor
	c.defaultLockTTL = coalesce(opts.DefaultLockTTL, defaultLockTTL)
	if c.defaultLockTTL < minLockTTL {
		c.defaultLockTTL = minLockTTL
	}
	c.pollInterval = coalesce(opts.PollInterval, defaultPollInterval)
	c.maxLockPolls = opts.MaxLockPolls

	local, err := newLocalTier(coalesce(opts.LocalEntries, defaultLocalEntries))
	if err != nil {
		return nil, fmt.Errorf("swrcache: local tier: %w", err)
	}
	c.local = local
	c.versions = newVersionTracker(opts.Store, c.log, c.hooks)
	c.locks = newLockCoordinator(opts.Store, c.log, c.hooks, func() time.Time { return c.now() })
	return c, nil
}

// callOptions are the fully resolved knobs for one call.
type callOptions struct {
	ttl      time.Duration // 0 => never expires
	staleFor time.Duration // serve window from write time; 0 => none beyond ttl
	lockTTL  time.Duration
	maxPolls int
}

func (c *cache[V]) resolve(opts []Option) callOptions {
	var per perCallOptions
	for _, o := range opts {
		if o != nil {
			o(&per)
		}
	}

	ro := callOptions{
		ttl:      coalesce(per.ttl, c.defaultTTL),
		staleFor: coalesce(per.staleFor, c.defaultStaleFor),
		lockTTL:  coalesce(per.lockTTL, c.defaultLockTTL),
	}
	if ro.ttl < 0 {
		ro.ttl = 0
	}
	switch {
	case ro.ttl == 0:
		ro.staleFor = 0 // never expires, the window is moot
	case ro.staleFor == 0:
		ro.staleFor = staleFactor * ro.ttl
	case ro.staleFor < 0:
		ro.staleFor = 0 // stale serving explicitly disabled
	}
	if ro.lockTTL < minLockTTL {
		ro.lockTTL = minLockTTL
	}
	ro.maxPolls = c.maxLockPolls
	if ro.maxPolls <= 0 {
		ro.maxPolls = int(ro.lockTTL / c.pollInterval)
		if ro.maxPolls < 1 {
			ro.maxPolls = 1
		}
	}
	return ro
}

func (o callOptions) deadlines(now time.Time) (expiresAt, staleUntil int64) {
	if o.ttl <= 0 {
		return 0, 0
	}
	expiresAt = now.Add(o.ttl).UnixMilli()
	staleUntil = expiresAt
	if o.staleFor > o.ttl {
		staleUntil = now.Add(o.staleFor).UnixMilli()
	}
	return expiresAt, staleUntil
}

// recordTTL is the durable record's expiry: it must cover the whole stale
// window, not just the fresh period.
func (o callOptions) recordTTL() time.Duration {
	if o.ttl <= 0 {
		return 0
	}
	if o.staleFor > o.ttl {
		return o.staleFor
	}
	return o.ttl
}

func metaOf(env wire.Envelope, stale bool) Meta {
	m := Meta{Version: env.Version, Stale: stale}
	if env.ExpiresAt != 0 {
		m.ExpiresAt = time.UnixMilli(env.ExpiresAt)
	}
	if env.StaleUntil != 0 {
		m.StaleUntil = time.UnixMilli(env.StaleUntil)
	}
	return m
}

// differs reports whether env is a different stored record than prior. A
// refresh that recomputed identical content keeps the fingerprint and the
// version but moves the deadlines, so those count too.
func differs(env, prior wire.Envelope, hadPrior bool) bool {
	if !hadPrior {
		return true
	}
	return env.Fingerprint != prior.Fingerprint ||
		env.Version != prior.Version ||
		env.ExpiresAt != prior.ExpiresAt
}

func (c *cache[V]) isClosed() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.closed
}

// beginWork registers in-flight work so Close can drain it. Returns false
// once the cache is closed.
func (c *cache[V]) beginWork() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *cache[V]) Get(ctx context.Context, key string, load Loader[V], opts ...Option) (V, error) {
	v, _, err := c.GetWithMeta(ctx, key, load, opts...)
	return v, err
}

func (c *cache[V]) GetWithMeta(ctx context.Context, key string, load Loader[V], opts ...Option) (V, Meta, error) {
	var zero V
	if c.isClosed() {
		return zero, Meta{}, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return zero, Meta{}, err
	}
	if load == nil {
		return zero, Meta{}, ErrNilLoader
	}
	ro := c.resolve(opts)

	env, ok := c.lookup(ctx, key)
	if ok {
		now := c.now()
		switch {
		case env.Fresh(now):
			v, err := c.decodeEnvelope(ctx, key, env)
			if err == nil {
				return v, metaOf(env, false), nil
			}
			ok = false // self-healed, reload below
		case env.InStaleWindow(now):
			v, err := c.decodeEnvelope(ctx, key, env)
			if err == nil {
				refreshing := c.refreshAsync(ctx, key, load, ro, env)
				c.hooks.StaleServed(key, refreshing)
				return v, metaOf(env, true), nil
			}
			ok = false
		}
	}
	return c.coldPath(ctx, key, load, ro, env, ok)
}

// lookup returns the envelope freshness should be evaluated on, after
// reconciling the local copy against the shared version counter and falling
// through to the durable tier on a local miss. This is where one process
// observes another process's write without waiting for its own TTL to lapse.
func (c *cache[V]) lookup(ctx context.Context, key string) (wire.Envelope, bool) {
	local, hasLocal := c.local.get(key)
	if c.store == nil {
		return local, hasLocal
	}

	if hasLocal {
		cur, reachable := c.versions.current(ctx, key)
		if !reachable || cur <= local.Version {
			return local, true
		}
		// superseded: another process wrote or invalidated this key
		remote, found, err := c.durableGet(ctx, key)
		if err != nil {
			return local, true // durable has no opinion, keep what we hold
		}
		if found && remote.Version >= cur {
			c.local.adopt(key, remote)
			c.log.Debug("adopted newer envelope from durable tier", Fields{"key": key, "version": remote.Version})
			return remote, true
		}
		// the record is gone or the successor write is still in flight
		c.local.remove(key)
		return wire.Envelope{}, false
	}

	remote, found, err := c.durableGet(ctx, key)
	if err != nil || !found {
		return wire.Envelope{}, false
	}
	if cur, reachable := c.versions.current(ctx, key); reachable && remote.Version < cur {
		// doomed record: an invalidation bumped the counter but its delete
		// failed, or the successor write is still in flight. Do not
		// resurrect it; its replacement will land under a current version.
		return wire.Envelope{}, false
	}
	c.local.adopt(key, remote)
	return remote, true
}

// anyTier returns the best copy either tier holds: the local envelope when
// it is still fresh, otherwise the durable record if it is at least as new.
// Used by the poll and re-check paths to spot another holder's write landing.
func (c *cache[V]) anyTier(ctx context.Context, key string) (wire.Envelope, bool) {
	local, ok := c.local.get(key)
	if ok && local.Fresh(c.now()) {
		return local, true
	}
	if c.store == nil {
		return local, ok
	}
	remote, found, err := c.durableGet(ctx, key)
	if err != nil || !found || remote.Version < local.Version {
		return local, ok
	}
	// a record behind the counter is doomed (failed invalidation delete);
	// adopting it here would resurrect what Invalidate already superseded
	if cur, reachable := c.versions.current(ctx, key); reachable && remote.Version < cur {
		return local, ok
	}
	c.local.adopt(key, remote)
	return remote, true
}

// durableGet reads and strictly decodes the durable record for key. Corrupt
// or foreign bytes are deleted (self-heal) and reported as absent; transport
// errors are returned so callers can treat them as "no opinion".
func (c *cache[V]) durableGet(ctx context.Context, key string) (wire.Envelope, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.hooks.StoreDegraded("get", err)
		c.log.Debug("durable read failed", Fields{"key": key, "err": err})
		return wire.Envelope{}, false, err
	}
	if !ok {
		return wire.Envelope{}, false, nil
	}
	env, derr := wire.Unmarshal(raw)
	if derr != nil {
		c.hooks.SelfHeal(key, "corrupt")
		c.log.Warn("corrupt durable record removed", Fields{"key": key})
		if delErr := c.store.Del(ctx, key); delErr != nil {
			c.hooks.StoreDegraded("del", delErr)
		}
		return wire.Envelope{}, false, nil
	}
	return env, true, nil
}

// decodeEnvelope turns an envelope's payload back into a value. A payload
// the codec rejects is self-healed exactly like corrupt wire bytes: removed
// from both tiers and treated as absent.
func (c *cache[V]) decodeEnvelope(ctx context.Context, key string, env wire.Envelope) (V, error) {
	v, err := c.codec.Decode(env.Payload)
	if err == nil {
		return v, nil
	}
	c.hooks.SelfHeal(key, "decode")
	c.log.Warn("undecodable cached value removed", Fields{"key": key, "err": err})
	c.local.remove(key)
	if c.store != nil {
		if derr := c.store.Del(ctx, key); derr != nil {
			c.hooks.StoreDegraded("del", derr)
		}
	}
	return v, err
}

// refreshAsync starts a stale-while-revalidate refresh if this process wins
// the refresh lock, and reports whether it did. The stale value is served
// either way; refresh errors go to hooks and the log, never to a caller.
func (c *cache[V]) refreshAsync(ctx context.Context, key string, load Loader[V], ro callOptions, prior wire.Envelope) bool {
	token, ok := c.locks.acquire(ctx, key, ro.lockTTL)
	if !ok {
		return false // another holder is already on it
	}

	// the refresh outlives the request that triggered it
	rctx := context.WithoutCancel(ctx)
	if !c.beginWork() {
		c.locks.release(rctx, key, token)
		return false
	}
	go func() {
		defer c.wg.Done()
		defer c.locks.release(rctx, key, token)

		v, err := load(rctx)
		if err != nil {
			c.hooks.RefreshDone(key, err)
			c.log.Warn("background refresh failed, stale value stays", Fields{"key": key, "err": err})
			return
		}
		if _, err := c.write(rctx, key, v, ro, prior.Fingerprint, prior.Version, true); err != nil {
			c.hooks.RefreshDone(key, err)
			c.log.Error("background refresh write failed", Fields{"key": key, "err": err})
			return
		}
		c.hooks.RefreshDone(key, nil)
	}()
	return true
}

type flightOutcome[V any] struct {
	value V
	meta  Meta
}

// coldPath runs the miss/doubly-stale load, collapsing concurrent callers
// for the same key into one lock/poll/load sequence per process.
func (c *cache[V]) coldPath(ctx context.Context, key string, load Loader[V], ro callOptions, prior wire.Envelope, hadPrior bool) (V, Meta, error) {
	var zero V
	ch := c.sf.DoChan(key, func() (any, error) {
		if !c.beginWork() {
			return nil, ErrClosed
		}
		defer c.wg.Done()
		// the flight may serve callers other than the one whose ctx this is
		v, meta, err := c.coldLoad(context.WithoutCancel(ctx), key, load, ro, prior, hadPrior)
		if err != nil {
			return nil, err
		}
		return flightOutcome[V]{value: v, meta: meta}, nil
	})

	select {
	case <-ctx.Done():
		return zero, Meta{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, Meta{}, res.Err
		}
		out := res.Val.(flightOutcome[V])
		return out.value, out.meta, nil
	}
}

// coldLoad is the two-stage acquire/poll/retry ladder of the cold path.
func (c *cache[V]) coldLoad(ctx context.Context, key string, load Loader[V], ro callOptions, prior wire.Envelope, hadPrior bool) (V, Meta, error) {
	var zero V

	// a refresh may have landed while this call queued behind the flight
	now := c.now()
	if env, ok := c.lookup(ctx, key); ok && env.Servable(now) && differs(env, prior, hadPrior) {
		if v, err := c.decodeEnvelope(ctx, key, env); err == nil {
			return v, metaOf(env, !env.Fresh(now)), nil
		}
	}

	if token, ok := c.locks.acquire(ctx, key, ro.lockTTL); ok {
		return c.loadLocked(ctx, key, load, ro, prior, hadPrior, token)
	}

	// someone else is computing this key; watch both tiers for their write
	c.hooks.LockWait(key)
	c.log.Debug("refresh lock held elsewhere, polling for the winner's write", Fields{"key": key})
	if v, meta, ok := c.pollForWinner(ctx, key, ro, prior, hadPrior); ok {
		return v, meta, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, Meta{}, err
	}

	if token, ok := c.locks.acquire(ctx, key, ro.lockTTL); ok {
		return c.loadLocked(ctx, key, load, ro, prior, hadPrior, token)
	}

	if c.policy == FallbackServeStale && hadPrior {
		if v, err := c.decodeEnvelope(ctx, key, prior); err == nil {
			c.hooks.StaleServed(key, false)
			c.log.Warn("lock contention exhausted, serving stale value", Fields{"key": key})
			return v, metaOf(prior, true), nil
		}
	}

	c.hooks.UnlockedLoad(key)
	c.log.Warn("lock contention exhausted, loading without lock", Fields{"key": key})
	return c.loadLocked(ctx, key, load, ro, prior, hadPrior, "")
}

// pollForWinner waits, at a fixed interval and for a bounded number of
// attempts, for another process's refresh to land in either tier.
func (c *cache[V]) pollForWinner(ctx context.Context, key string, ro callOptions, prior wire.Envelope, hadPrior bool) (V, Meta, bool) {
	var zero V
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for attempt := 0; attempt < ro.maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return zero, Meta{}, false
		case <-timer.C:
		}

		if env, ok := c.anyTier(ctx, key); ok && env.Fresh(c.now()) && differs(env, prior, hadPrior) {
			if v, err := c.decodeEnvelope(ctx, key, env); err == nil {
				return v, metaOf(env, false), true
			}
		}

		if attempt < ro.maxPolls-1 {
			timer.Reset(c.pollInterval)
		}
	}
	return zero, Meta{}, false
}

// loadLocked calls the loader and stores the result. token may be empty on
// the unlocked contention fallback; when a lock is held the tiers are checked
// once more first, because a racing winner may have finished between our
// poll and this acquire.
func (c *cache[V]) loadLocked(ctx context.Context, key string, load Loader[V], ro callOptions, prior wire.Envelope, hadPrior bool, token string) (V, Meta, error) {
	var zero V
	if token != "" {
		defer c.locks.release(ctx, key, token)

		if env, ok := c.anyTier(ctx, key); ok && env.Fresh(c.now()) && differs(env, prior, hadPrior) {
			if v, err := c.decodeEnvelope(ctx, key, env); err == nil {
				return v, metaOf(env, false), nil
			}
		}
	}

	v, err := load(ctx)
	if err != nil {
		// loader errors propagate verbatim; nothing is written
		return zero, Meta{}, err
	}
	env, err := c.write(ctx, key, v, ro, prior.Fingerprint, prior.Version, hadPrior)
	if err != nil {
		return zero, Meta{}, err
	}
	return v, metaOf(env, false), nil
}

// write encodes the value, decides the version (bumping only on content
// change), and lands the envelope in both tiers. Durable write failures
// degrade the entry to local-only; only encode errors are returned.
func (c *cache[V]) write(ctx context.Context, key string, v V, ro callOptions, prevFP, prevVersion uint64, hadPrev bool) (wire.Envelope, error) {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return wire.Envelope{}, fmt.Errorf("swrcache: encode %q: %w", key, err)
	}

	fp := xxhash.Sum64(payload)
	env := wire.Envelope{
		Version:     c.versions.bump(ctx, key, fp, prevFP, prevVersion, hadPrev),
		Fingerprint: fp,
		Payload:     payload,
	}
	env.ExpiresAt, env.StaleUntil = ro.deadlines(c.now())

	c.local.adopt(key, env)
	if c.store != nil {
		if serr := c.store.Set(ctx, key, wire.Marshal(env), ro.recordTTL()); serr != nil {
			c.hooks.StoreDegraded("set", serr)
			c.log.Warn("durable write failed, entry is local-only", Fields{"key": key, "err": serr})
		}
	}
	return env, nil
}

func (c *cache[V]) Set(ctx context.Context, key string, value V, opts ...Option) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}
	ro := c.resolve(opts)
	prior, hadPrior := c.anyTier(ctx, key)
	_, err := c.write(ctx, key, value, ro, prior.Fingerprint, prior.Version, hadPrior)
	return err
}

func (c *cache[V]) Invalidate(ctx context.Context, key string) {
	if c.isClosed() || validateKey(key) != nil {
		return
	}

	c.local.remove(key)
	c.locks.forget(key)
	c.sf.Forget(key)

	// bump before delete: a reader racing this call must never see a counter
	// that still matches the doomed record
	v := c.versions.advance(ctx, key)
	if c.store != nil {
		if err := c.store.Del(ctx, key); err != nil {
			c.hooks.StoreDegraded("del", err)
			c.log.Warn("durable delete failed, version bump still supersedes the record", Fields{"key": key, "err": err})
		}
	}
	c.log.Debug("invalidated key (bumped version + cleared record)", Fields{"key": key, "newVersion": v})
}

func (c *cache[V]) InvalidatePrefix(ctx context.Context, prefix string) {
	if c.isClosed() || prefix == "" {
		return
	}

	targets := make(map[string]struct{})
	for _, k := range c.local.removePrefix(prefix) {
		targets[k] = struct{}{}
	}
	if c.store != nil {
		keys, err := c.store.ScanPrefix(ctx, prefix)
		if err != nil {
			c.hooks.StoreDegraded("scan", err)
			c.log.Warn("prefix scan failed, durable entries not enumerated", Fields{"prefix": prefix, "err": err})
		}
		for _, k := range keys {
			if strings.HasPrefix(k, lockPrefix) || strings.HasPrefix(k, versionPrefix) {
				continue // reserved bookkeeping, never an invalidation target
			}
			targets[k] = struct{}{}
		}
	}
	if len(targets) == 0 {
		return
	}

	del := make([]string, 0, len(targets))
	for k := range targets {
		c.locks.forget(k)
		c.sf.Forget(k)
		c.versions.advance(ctx, k)
		del = append(del, k)
	}
	if c.store != nil {
		if err := c.store.Del(ctx, del...); err != nil {
			c.hooks.StoreDegraded("del", err)
			c.log.Warn("durable prefix delete failed, version bumps still supersede the records", Fields{"prefix": prefix, "err": err})
		}
	}
	c.log.Debug("invalidated prefix", Fields{"prefix": prefix, "keys": len(del)})
}

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if c.store != nil && c.closeStore {
		return c.store.Close(ctx)
	}
	return nil
}
