package nonce

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRecord(value string, issuedAtMs, expiresAtMs int64) *Record {
	return &Record{
		Nonce:       value,
		Status:      StatusActive,
		IssuedAtMs:  issuedAtMs,
		ExpiresAtMs: expiresAtMs,
	}
}

func TestMemoryStore_PutConditionalOnAbsence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := activeRecord("abc", 1000, 2000)
	require.NoError(t, store.Put(ctx, record))

	err := store.Put(ctx, activeRecord("abc", 1500, 2500))
	assert.ErrorIs(t, err, ErrNonceExists)

	// The original record is untouched.
	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, got.IssuedAtMs)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, activeRecord("abc", 1000, 2000)))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	got.Status = StatusUsed

	again, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, again.Status)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, activeRecord("abc", 1000, 2000)))

	require.NoError(t, store.UpdateStatus(ctx, "abc", StatusActive, StatusUsed, 1500))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusUsed, got.Status)
	assert.EqualValues(t, 1500, got.UsedAtMs)

	// A second conditional transition fails with a conflict, which is
	// distinct from not-found.
	err = store.UpdateStatus(ctx, "abc", StatusActive, StatusUsed, 1600)
	assert.ErrorIs(t, err, ErrStatusConflict)

	err = store.UpdateStatus(ctx, "missing", StatusActive, StatusUsed, 1600)
	assert.ErrorIs(t, err, ErrNonceNotFound)
}

func TestMemoryStore_Counts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, activeRecord("live", 1000, 5000)))
	require.NoError(t, store.Put(ctx, activeRecord("stale", 1000, 2000)))
	require.NoError(t, store.Put(ctx, activeRecord("spent", 1000, 5000)))
	require.NoError(t, store.UpdateStatus(ctx, "spent", StatusActive, StatusUsed, 1500))

	active, err := store.CountByStatus(ctx, StatusActive)
	require.NoError(t, err)
	assert.EqualValues(t, 2, active)

	used, err := store.CountByStatus(ctx, StatusUsed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, used)

	// Only ACTIVE records count as expired.
	expired, err := store.CountExpired(ctx, 3000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, expired)
}

func TestMemoryStore_DeleteExpiredBefore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, activeRecord("live", 1000, 5000)))
	require.NoError(t, store.Put(ctx, activeRecord("stale", 1000, 2000)))
	require.NoError(t, store.Put(ctx, activeRecord("spentstale", 1000, 2500)))
	require.NoError(t, store.UpdateStatus(ctx, "spentstale", StatusActive, StatusUsed, 1500))

	removed, err := store.DeleteExpiredBefore(ctx, 3000)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNonceNotFound)
	_, err = store.Get(ctx, "spentstale")
	assert.ErrorIs(t, err, ErrNonceNotFound)
	_, err = store.Get(ctx, "live")
	assert.NoError(t, err)
}
