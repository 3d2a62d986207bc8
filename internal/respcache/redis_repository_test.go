package respcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/respcache"
)

func newRedisRepo(t *testing.T) (*respcache.RedisRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return respcache.NewRedisRepository(client), mr
}

func TestRedisRoundTrip(t *testing.T) {
	repo, _ := newRedisRepo(t)
	ctx := context.Background()
	data := testData()

	require.NoError(t, repo.Put(ctx, "metno", testCoord, testWindow, data, time.Now().Add(time.Hour)))

	got, ok, err := repo.Get(ctx, "metno", testCoord, testWindow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, 15.5, got[0].Temperature)
	assert.True(t, got[0].Time.Equal(data[0].Time))
}

func TestRedisMissingKey(t *testing.T) {
	repo, _ := newRedisRepo(t)

	_, ok, err := repo.Get(context.Background(), "metno", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisEntryExpires(t *testing.T) {
	repo, mr := newRedisRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "metno", testCoord, testWindow, testData(), time.Now().Add(time.Minute)))

	mr.FastForward(2 * time.Minute)

	_, ok, err := repo.Get(ctx, "metno", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPutRejectsPastExpiry(t *testing.T) {
	repo, _ := newRedisRepo(t)

	err := repo.Put(context.Background(), "metno", testCoord, testWindow, testData(), time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, respcache.ErrPastExpiry)
}

func TestRedisPurgeExpiredIsNoop(t *testing.T) {
	repo, _ := newRedisRepo(t)

	purged, err := repo.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, purged)
}
