package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingTokenStore_CreateAndGet(t *testing.T) {
	db := testDB(t)
	tokens := NewPairingTokenStore(db)
	ctx := context.Background()

	expires := time.Now().Add(5 * time.Minute)
	created, err := tokens.Create(ctx, "tok-1", expires)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)
	assert.False(t, created.Consumed())

	got, err := tokens.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.False(t, got.Consumed())
}

func TestPairingTokenStore_GetMissing(t *testing.T) {
	db := testDB(t)

	_, err := NewPairingTokenStore(db).GetByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPairingTokenStore_ConsumeIsFirstWins(t *testing.T) {
	db := testDB(t)
	tokens := NewPairingTokenStore(db)
	ctx := context.Background()

	created, err := tokens.Create(ctx, "tok-1", time.Now().Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, tokens.Consume(ctx, created.ID))

	got, err := tokens.GetByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.True(t, got.Consumed())

	// A second consumption attempt finds no live row.
	assert.ErrorIs(t, tokens.Consume(ctx, created.ID), ErrNotFound)
}

func TestPairingTokenStore_LatestActive(t *testing.T) {
	db := testDB(t)
	tokens := NewPairingTokenStore(db)
	ctx := context.Background()
	now := time.Now()

	_, err := tokens.LatestActive(ctx, now)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tokens.Create(ctx, "expired", now.Add(-time.Minute))
	require.NoError(t, err)
	consumed, err := tokens.Create(ctx, "consumed", now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, tokens.Consume(ctx, consumed.ID))
	live, err := tokens.Create(ctx, "live", now.Add(time.Minute))
	require.NoError(t, err)

	got, err := tokens.LatestActive(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
}
