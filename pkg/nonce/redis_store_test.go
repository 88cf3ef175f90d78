package nonce

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, zap.NewNop())
}

func redisTestRecord(value string, ttl time.Duration) *Record {
	nowMs := time.Now().UnixMilli()
	return &Record{
		Nonce:       value,
		Status:      StatusActive,
		IssuedAtMs:  nowMs,
		ExpiresAtMs: nowMs + ttl.Milliseconds(),
	}
}

func TestRedisStore_PutGetRoundtrip(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	record := redisTestRecord("abc123", time.Minute)
	require.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, record.Nonce, got.Nonce)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, record.IssuedAtMs, got.IssuedAtMs)
	assert.Equal(t, record.ExpiresAtMs, got.ExpiresAtMs)
	assert.Zero(t, got.UsedAtMs)
}

func TestRedisStore_PutConditionalOnAbsence(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, redisTestRecord("abc123", time.Minute)))
	err := store.Put(ctx, redisTestRecord("abc123", time.Minute))
	assert.ErrorIs(t, err, ErrNonceExists)
}

func TestRedisStore_GetNotFound(t *testing.T) {
	store := newRedisTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestRedisStore_UpdateStatus(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, redisTestRecord("abc123", time.Minute)))

	usedAt := time.Now().UnixMilli()
	require.NoError(t, store.UpdateStatus(ctx, "abc123", StatusActive, StatusUsed, usedAt))

	got, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, got.Status)
	assert.Equal(t, usedAt, got.UsedAtMs)

	err = store.UpdateStatus(ctx, "abc123", StatusActive, StatusUsed, usedAt)
	assert.ErrorIs(t, err, ErrStatusConflict)

	err = store.UpdateStatus(ctx, "missing", StatusActive, StatusUsed, usedAt)
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestRedisStore_Counts(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, redisTestRecord("live1", time.Minute)))
	require.NoError(t, store.Put(ctx, redisTestRecord("live2", time.Minute)))
	require.NoError(t, store.Put(ctx, redisTestRecord("spent", time.Minute)))
	require.NoError(t, store.UpdateStatus(ctx, "spent", StatusActive, StatusUsed, time.Now().UnixMilli()))

	stale := redisTestRecord("stale", time.Minute)
	stale.ExpiresAtMs = time.Now().UnixMilli() - 1000
	require.NoError(t, store.Put(ctx, stale))

	active, err := store.CountByStatus(ctx, StatusActive)
	require.NoError(t, err)
	assert.EqualValues(t, 3, active)

	used, err := store.CountByStatus(ctx, StatusUsed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)

	expired, err := store.CountExpired(ctx, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)
}

func TestRedisStore_DeleteExpiredBefore(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, redisTestRecord("live", time.Minute)))

	stale := redisTestRecord("stale", time.Minute)
	stale.ExpiresAtMs = time.Now().UnixMilli() - 1000
	require.NoError(t, store.Put(ctx, stale))

	spentStale := redisTestRecord("spentstale", time.Minute)
	spentStale.ExpiresAtMs = time.Now().UnixMilli() - 1000
	require.NoError(t, store.Put(ctx, spentStale))
	require.NoError(t, store.UpdateStatus(ctx, "spentstale", StatusActive, StatusUsed, time.Now().UnixMilli()))

	removed, err := store.DeleteExpiredBefore(ctx, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNonceNotFound)
	_, err = store.Get(ctx, "spentstale")
	assert.ErrorIs(t, err, ErrNonceNotFound)
	_, err = store.Get(ctx, "live")
	assert.NoError(t, err)

	// Idempotent.
	removed, err = store.DeleteExpiredBefore(ctx, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.EqualValues(t, 0, removed)
}
