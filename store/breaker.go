package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker wraps a Store with a circuit breaker. After enough consecutive
// failures the breaker opens and every durable call fails fast, so the cache
// degrades to its in-process fallbacks immediately instead of stalling on a
// dead backend for a full network timeout per operation.
//
// Close always reaches the inner store, open or not.
type Breaker struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
}

var _ Store = (*Breaker)(nil)

type BreakerConfig struct {
	Name                string                                      // identifies the breaker in callbacks; "" => "swrcache-store"
	ConsecutiveFailures uint32                                      // failures that trip the breaker; 0 => 5
	Timeout             time.Duration                               // open -> half-open delay; 0 => gobreaker default (60s)
	MaxRequests         uint32                                      // probe budget while half-open; 0 => 1
	Interval            time.Duration                               // closed-state counter reset period; 0 => never reset
	OnStateChange       func(name string, from, to gobreaker.State) // optional
}

func NewBreaker(inner Store, cfg BreakerConfig) *Breaker {
	name := cfg.Name
	if name == "" {
		name = "swrcache-store"
	}
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	if cfg.OnStateChange != nil {
		st.OnStateChange = cfg.OnStateChange
	}

	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker[any](st)}
}

// do runs fn through the breaker. Context errors are returned before touching
// the breaker so caller-side cancellation neither trips nor probes it.
func (b *Breaker) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

func (b *Breaker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := b.do(ctx, func() error {
		var err error
		val, ok, err = b.inner.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

func (b *Breaker) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.do(ctx, func() error {
		return b.inner.Set(ctx, key, value, ttl)
	})
}

func (b *Breaker) Del(ctx context.Context, keys ...string) error {
	return b.do(ctx, func() error {
		return b.inner.Del(ctx, keys...)
	})
}

func (b *Breaker) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.do(ctx, func() error {
		var err error
		n, err = b.inner.Incr(ctx, key)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (b *Breaker) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := b.do(ctx, func() error {
		var err error
		ok, err = b.inner.SetNX(ctx, key, value, ttl)
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (b *Breaker) CompareDel(ctx context.Context, key string, value []byte) error {
	return b.do(ctx, func() error {
		return b.inner.CompareDel(ctx, key, value)
	})
}

func (b *Breaker) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := b.do(ctx, func() error {
		var err error
		keys, err = b.inner.ScanPrefix(ctx, prefix)
		return err
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *Breaker) Close(ctx context.Context) error {
	return b.inner.Close(ctx)
}

// State exposes the current breaker state, mainly for health endpoints.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }
