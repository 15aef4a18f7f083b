package loghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling to avoid floods on hot keys; 0/1 = log all.
	SelfHealEvery   uint64
	StaleServeEvery uint64
	LockWaitEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

// Hooks logs cache events through a swrcache.Logger, so any of the log/
// adapters (zap, slog, logrus) can sit behind it.
type Hooks struct {
	l    swrcache.Logger
	opts Options

	selfHealCtr   atomic.Uint64
	staleServeCtr atomic.Uint64
	lockWaitCtr   atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l swrcache.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Warn("swrcache.self_heal", swrcache.Fields{
		"key":    h.redact(key),
		"reason": reason,
	})
}

func (h *Hooks) StaleServed(key string, refreshing bool) {
	if h.l == nil || !sample(h.opts.StaleServeEvery, &h.staleServeCtr) {
		return
	}
	h.l.Debug("swrcache.stale_served", swrcache.Fields{
		"key":        h.redact(key),
		"refreshing": refreshing,
	})
}

func (h *Hooks) RefreshDone(key string, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("swrcache.refresh_failed", swrcache.Fields{
			"key": h.redact(key),
			"err": err,
		})
		return
	}
	h.l.Debug("swrcache.refresh_done", swrcache.Fields{"key": h.redact(key)})
}

func (h *Hooks) LockWait(key string) {
	if h.l == nil || !sample(h.opts.LockWaitEvery, &h.lockWaitCtr) {
		return
	}
	h.l.Debug("swrcache.lock_wait", swrcache.Fields{"key": h.redact(key)})
}

func (h *Hooks) UnlockedLoad(key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.unlocked_load", swrcache.Fields{"key": h.redact(key)})
}

func (h *Hooks) StoreDegraded(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.store_degraded", swrcache.Fields{
		"op":  op,
		"err": err,
	})
}

func (h *Hooks) VersionDegraded(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.version_degraded", swrcache.Fields{
		"key": h.redact(key),
		"err": err,
	})
}
