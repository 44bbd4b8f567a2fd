package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/cart"
	"github.com/xenking/cloud-kitchen/internal/domain/checkout"
)

func setupStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionStore(client, "kitchen:", time.Hour), mr
}

func TestLoad_Empty(t *testing.T) {
	store, _ := setupStore(t)

	sess, err := store.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, sess.Cart.IsEmpty())
	assert.Nil(t, sess.Flow)
	assert.Zero(t, sess.Version)
}

func TestSaveLoad(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	sess := checkout.NewSession()
	require.NoError(t, sess.Cart.AddItem(cart.Product{ID: "p1", Name: "Ramen", Price: decimal.RequireFromString("12")}))
	sess.Flow = checkout.NewFlow([]address.Address{{ID: "home", IsDefault: true}})
	require.NoError(t, store.Save(ctx, "alice", sess))
	assert.Equal(t, int64(1), sess.Version)

	loaded, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Equal(t, 1, loaded.Cart.TotalItems())
	step, ok := loaded.Flow.Step().(checkout.AddressStep)
	require.True(t, ok)
	assert.Equal(t, "home", step.SelectedID)

	assert.True(t, mr.Exists("kitchen:session:alice"))
	assert.Equal(t, time.Hour, mr.TTL("kitchen:session:alice"))
}

func TestSave_Conflict(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	first, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	second, err := store.Load(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "alice", first))
	assert.ErrorIs(t, store.Save(ctx, "alice", second), checkout.ErrSessionConflict)

	reloaded, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "alice", reloaded))
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestSave_Expires(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	sess := checkout.NewSession()
	require.NoError(t, sess.Cart.AddItem(cart.Product{ID: "p1", Price: decimal.NewFromInt(1)}))
	require.NoError(t, store.Save(ctx, "alice", sess))

	mr.FastForward(2 * time.Hour)

	loaded, err := store.Load(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, loaded.Cart.IsEmpty())
	assert.Zero(t, loaded.Version)
}

func TestLock(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "alice", time.Minute)
	require.NoError(t, err)

	_, err = store.Lock(ctx, "alice", time.Minute)
	assert.ErrorIs(t, err, checkout.ErrLocked)

	other, err := store.Lock(ctx, "bob", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists("kitchen:lock:alice"))

	unlock, err = store.Lock(ctx, "alice", time.Minute)
	require.NoError(t, err)
	unlock()
}

func TestLock_ReleaseKeepsForeignLock(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	unlock, err := store.Lock(ctx, "alice", time.Second)
	require.NoError(t, err)

	// The lock expired and another request took it.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("kitchen:lock:alice", "someone-else"))

	unlock()
	got, err := mr.Get("kitchen:lock:alice")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}
