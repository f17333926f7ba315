package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStoreForTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	clock := newClock()
	return NewRedisStore(client, "test").WithClock(clock.Now), mr, clock
}

func TestRedisStoreBeginCompleteReplay(t *testing.T) {
	store, mr, _ := newRedisStoreForTest(t)
	ctx := context.Background()
	user := uuid.New()

	res, err := store.Begin(ctx, params("k1", &user))
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
	assert.True(t, mr.Exists("test:k1"))
	assert.Equal(t, DefaultTTL, mr.TTL("test:k1"))

	res, err = store.Begin(ctx, params("k1", &user))
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, res.State)

	body := []byte(`{"success":true}`)
	require.NoError(t, store.Complete(ctx, "k1", CachedResponse{StatusCode: 201, ContentType: "application/json", Body: body}))
	assert.ErrorIs(t, store.Complete(ctx, "k1", CachedResponse{StatusCode: 500}), ErrNotInProgress)

	res, err = store.Begin(ctx, params("k1", &user))
	require.NoError(t, err)
	assert.Equal(t, StateReplay, res.State)
	require.NotNil(t, res.Cached)
	assert.Equal(t, 201, res.Cached.StatusCode)
	assert.Equal(t, "application/json", res.Cached.ContentType)
	assert.Equal(t, body, res.Cached.Body)
}

func TestRedisStoreOwnershipAndHash(t *testing.T) {
	store, _, _ := newRedisStoreForTest(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	_, err := store.Begin(ctx, params("k1", &alice))
	require.NoError(t, err)

	res, err := store.Begin(ctx, params("k1", &bob))
	require.NoError(t, err)
	assert.Equal(t, StateConflict, res.State)

	p := params("k1", &alice)
	p.RequestHash = "other"
	res, err = store.Begin(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, res.State)
	assert.True(t, res.HashMismatch)
}

func TestRedisStoreTakesOverStaleInProgress(t *testing.T) {
	store, _, clock := newRedisStoreForTest(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, params("k1", nil))
	require.NoError(t, err)

	clock.Advance(DefaultStaleAfter)
	res, err := store.Begin(ctx, params("k1", nil))
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)
	assert.True(t, res.Reclaimed)

	res, err = store.Begin(ctx, params("k1", nil))
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, res.State)
}

func TestRedisStoreKeyExpires(t *testing.T) {
	store, mr, _ := newRedisStoreForTest(t)
	ctx := context.Background()

	_, err := store.Begin(ctx, params("k1", nil))
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "k1", CachedResponse{StatusCode: 201}))

	mr.FastForward(DefaultTTL + time.Second)

	res, err := store.Begin(ctx, params("k1", nil))
	require.NoError(t, err)
	assert.Equal(t, StateNew, res.State)

	n, err := store.PurgeExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}
