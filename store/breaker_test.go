package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("backend down")

// flakyStore counts calls and fails them all while down is set.
type flakyStore struct {
	down   atomic.Bool
	calls  atomic.Int64
	closed atomic.Bool
}

var _ Store = (*flakyStore)(nil)

func (f *flakyStore) tick() error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return nil
}

func (f *flakyStore) Get(context.Context, string) ([]byte, bool, error) {
	if err := f.tick(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (f *flakyStore) Set(context.Context, string, []byte, time.Duration) error {
	return f.tick()
}

func (f *flakyStore) Del(context.Context, ...string) error { return f.tick() }

func (f *flakyStore) Incr(context.Context, string) (int64, error) {
	if err := f.tick(); err != nil {
		return 0, err
	}
	return 1, nil
}

func (f *flakyStore) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	if err := f.tick(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *flakyStore) CompareDel(context.Context, string, []byte) error { return f.tick() }

func (f *flakyStore) ScanPrefix(context.Context, string) ([]string, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakyStore) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{}
	inner.down.Store(true)

	b := NewBreaker(inner, BreakerConfig{ConsecutiveFailures: 3})

	for i := 0; i < 3; i++ {
		_, _, err := b.Get(ctx, "k")
		require.ErrorIs(t, err, errDown)
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	before := inner.calls.Load()
	_, _, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before, inner.calls.Load(), "open breaker must not reach the backend")

	// every operation short-circuits the same way
	assert.ErrorIs(t, b.Set(ctx, "k", nil, 0), gobreaker.ErrOpenState)
	assert.ErrorIs(t, b.Del(ctx, "k"), gobreaker.ErrOpenState)
	_, err = b.Incr(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	_, err = b.SetNX(ctx, "k", nil, 0)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.ErrorIs(t, b.CompareDel(ctx, "k", nil), gobreaker.ErrOpenState)
	_, err = b.ScanPrefix(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{}
	inner.down.Store(true)

	b := NewBreaker(inner, BreakerConfig{ConsecutiveFailures: 2, Timeout: 50 * time.Millisecond})

	for i := 0; i < 2; i++ {
		_, _, _ = b.Get(ctx, "k")
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	inner.down.Store(false)
	time.Sleep(80 * time.Millisecond)

	_, _, err := b.Get(ctx, "k")
	require.NoError(t, err, "half-open probe should reach the recovered backend")
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerMissIsNotFailure(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{}
	b := NewBreaker(inner, BreakerConfig{ConsecutiveFailures: 2})

	for i := 0; i < 20; i++ {
		_, ok, err := b.Get(ctx, "absent")
		require.NoError(t, err)
		require.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State(), "misses must not trip the breaker")
}

func TestBreakerContextPrecheck(t *testing.T) {
	inner := &flakyStore{}
	b := NewBreaker(inner, BreakerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inner.calls.Load(), "cancelled context must not reach the backend")
}

func TestBreakerCloseBypasses(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{}
	inner.down.Store(true)

	b := NewBreaker(inner, BreakerConfig{ConsecutiveFailures: 1})
	_, _, _ = b.Get(ctx, "k")
	require.Equal(t, gobreaker.StateOpen, b.State())

	require.NoError(t, b.Close(ctx))
	assert.True(t, inner.closed.Load(), "Close must reach the inner store even when open")
}
