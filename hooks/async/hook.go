// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/swrcache"
//	"github.com/unkn0wn-root/swrcache/codec"
//	"github.com/unkn0wn-root/swrcache/hooks/async"
//	"github.com/unkn0wn-root/swrcache/hooks/loghooks"
//
// )
//
//	raw := loghooks.New(logger, loghooks.Options{
//	    SelfHealEvery:   10, // sample logs: ~every 10th self-heal
//	    StaleServeEvery: 100,
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := swrcache.New[User](swrcache.Options[User]{
//	    Store: st,
//	    Codec: codec.JSON[User]{},
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/swrcache"
)

type Hooks struct {
	inner swrcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)          { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) StaleServed(k string, rf bool) { h.try(func() { h.inner.StaleServed(k, rf) }) }
func (h *Hooks) RefreshDone(k string, err error) {
	h.try(func() { h.inner.RefreshDone(k, err) })
}
func (h *Hooks) LockWait(k string)     { h.try(func() { h.inner.LockWait(k) }) }
func (h *Hooks) UnlockedLoad(k string) { h.try(func() { h.inner.UnlockedLoad(k) }) }
func (h *Hooks) StoreDegraded(op string, err error) {
	h.try(func() { h.inner.StoreDegraded(op, err) })
}
func (h *Hooks) VersionDegraded(k string, err error) {
	h.try(func() { h.inner.VersionDegraded(k, err) })
}
