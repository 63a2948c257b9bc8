package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/mercado-field/api/internal/domain"
)

var fixedNow = time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)

func newCache(t *testing.T, ttl time.Duration) (*CartCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewCartCache(client, ttl)
	require.NoError(t, err)
	return c, mr
}

func TestCartCacheRoundTrip(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	cart := domain.Cart{
		UserID: "u1",
		Total:  decimal.RequireFromString("22.50"),
		Lines: []domain.CartLine{
			{ID: "cl_1", UserID: "u1", ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), CreatedAt: fixedNow, UpdatedAt: fixedNow},
			{ID: "cl_2", UserID: "u1", ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("2.50"), CreatedAt: fixedNow, UpdatedAt: fixedNow},
		},
	}
	require.NoError(t, c.Set(ctx, cart))
	assert.Equal(t, time.Minute, mr.TTL("cart:u1"))

	got, ok, err := c.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Lines, 2)
	assert.True(t, got.Total.Equal(cart.Total))
	assert.Equal(t, "p2", got.Lines[1].ProductID)
	assert.Equal(t, "u1", got.Lines[0].UserID)
	assert.True(t, got.Lines[0].UnitPrice.Equal(decimal.RequireFromString("10")))

	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire")
}

func TestCartCacheInvalidateMany(t *testing.T) {
	c, mr := newCache(t, 0)
	ctx := context.Background()

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, c.Set(ctx, domain.Cart{UserID: id, Total: decimal.Zero}))
	}
	assert.Equal(t, DefaultCartTTL, mr.TTL("cart:u1"))

	require.NoError(t, c.Invalidate(ctx, "u1", " ", "u3"))
	assert.False(t, mr.Exists("cart:u1"))
	assert.True(t, mr.Exists("cart:u2"))
	assert.False(t, mr.Exists("cart:u3"))
	require.NoError(t, c.Invalidate(ctx))
}

func TestCartCacheCorruptEntryIsMiss(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	require.NoError(t, mr.Set("cart:u1", "{not json"))

	_, ok, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCartCacheUnavailable(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	mr.Close()

	_, _, err := c.Get(context.Background(), "u1")
	assert.Error(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
