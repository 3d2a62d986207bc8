package respcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/respcache"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

func TestMemoryRoundTrip(t *testing.T) {
	repo := respcache.NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "openmeteo", testCoord, testWindow, testData(), time.Now().Add(time.Hour)))

	got, ok, err := repo.Get(ctx, "openmeteo", testCoord, testWindow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 2)
}

func TestMemoryExpiredEntryRemovedOnRead(t *testing.T) {
	repo := respcache.NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "openmeteo", testCoord, testWindow, testData(), time.Now().Add(10*time.Millisecond)))
	time.Sleep(20 * time.Millisecond)

	_, ok, err := repo.Get(ctx, "openmeteo", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, repo.Len())
}

func TestMemoryPurgeExpired(t *testing.T) {
	repo := respcache.NewMemoryRepository()
	ctx := context.Background()

	otherWindow := weather.NewWindow(testWindow.Start.Add(time.Hour), testWindow.End.Add(time.Hour))

	require.NoError(t, repo.Put(ctx, "openmeteo", testCoord, testWindow, testData(), time.Now().Add(10*time.Millisecond)))
	require.NoError(t, repo.Put(ctx, "openmeteo", testCoord, otherWindow, testData(), time.Now().Add(time.Hour)))

	time.Sleep(20 * time.Millisecond)

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, 1, repo.Len())
}
