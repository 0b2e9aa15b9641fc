package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	lm := NewLockManager()
	lm.now = func() time.Time { return now }

	unlock, err := lm.Acquire(ctx, "listing:1", time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "listing:1", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = lm.Acquire(ctx, "listing:2", time.Second)
	require.NoError(t, err, "different keys are independent")

	unlock()
	unlock()
	unlock2, err := lm.Acquire(ctx, "listing:1", time.Second)
	require.NoError(t, err)

	// A stale unlock from the previous holder must not release the new one.
	unlock()
	_, err = lm.Acquire(ctx, "listing:1", time.Second)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	unlock2()

	_, err = lm.Acquire(ctx, "listing:3", time.Second)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = lm.Acquire(ctx, "listing:3", time.Second)
	require.NoError(t, err, "expired lock can be taken over")
}

func TestSignalBusPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := NewSignalBus()

	exact, err := bus.Subscribe(ctx, "listings")
	require.NoError(t, err)
	pattern, err := bus.Subscribe(ctx, "list*")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, "listings", []byte("hello")))
	require.NoError(t, bus.Publish(ctx, "other", []byte("ignored")))

	assert.Equal(t, []byte("hello"), <-exact)
	assert.Equal(t, []byte("hello"), <-pattern)

	cancel()
	_, ok := <-exact
	assert.False(t, ok, "channel closes after cancel")
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	bus := NewSignalBus()
	bus.maxLen = 2

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "events", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "events", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[0].Payload))

	msgs, err = bus.StreamRead(ctx, "events", msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", string(msgs[0].Payload))
}

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	s := NewIdempotencyStore()
	s.now = func() time.Time { return now }

	rec, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.Save(ctx, "k", domain.IdempotencyRecord{StatusCode: 201, Body: []byte("ok"), ExpiresAt: now.Add(time.Minute)}))
	rec, err = s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 201, rec.StatusCode)

	now = now.Add(2 * time.Minute)
	rec, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, rec)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, s.data)
}

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	rl := NewRateLimiter()
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "ip", 3, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := rl.Allow(ctx, "ip", 3, time.Second)
	assert.False(t, ok)

	now = now.Add(1500 * time.Millisecond)
	ok, _ = rl.Allow(ctx, "ip", 3, time.Second)
	assert.True(t, ok)
}
