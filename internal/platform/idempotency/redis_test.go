package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client)
	require.NoError(t, err)
	return store, mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	outcome, _, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)

	outcome, _, err = store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInFlight, outcome)

	_, _, err = store.Reserve(ctx, "k1", "other", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	resp := Response{StatusCode: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"now"}}, Body: []byte(`{}`)}
	require.NoError(t, store.Complete(ctx, "k1", "fp", resp, fixedTime, time.Hour))

	outcome, rec, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplay, outcome)
	assert.Equal(t, http.StatusCreated, rec.StatusCode)
	assert.Equal(t, []string{"application/json"}, rec.Headers["Content-Type"])
	assert.NotContains(t, rec.Headers, "Date")

	assert.Equal(t, time.Hour, mr.TTL(redisKeyPrefix+"k1"))
	mr.FastForward(2 * time.Hour)
	outcome, _, err = store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome, "expired keys are reusable")
}

func TestRedisStoreCompleteRejectsForeignFingerprint(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, _, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	err = store.Complete(ctx, "k1", "intruder", Response{StatusCode: http.StatusOK}, fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestRedisStoreRelease(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, _, err := store.Reserve(ctx, "k1", "fp", fixedTime, time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "k1"))
	assert.False(t, mr.Exists(redisKeyPrefix+"k1"))
}
