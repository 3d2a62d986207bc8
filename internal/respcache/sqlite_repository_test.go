package respcache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/database"
	"github.com/fairwaycast/fairwaycast/internal/respcache"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

func newSQLiteRepo(t *testing.T) *respcache.SQLiteRepository {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return respcache.NewSQLiteRepository(db)
}

func TestSQLiteRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	data := testData()

	require.NoError(t, repo.Put(ctx, "aemet", testCoord, testWindow, data, time.Now().Add(time.Hour)))

	got, ok, err := repo.Get(ctx, "aemet", testCoord, testWindow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)

	assert.True(t, got[0].Time.Equal(data[0].Time))
	assert.Equal(t, 15.5, got[0].Temperature)
	require.NotNil(t, got[0].PrecipitationProb)
	assert.Equal(t, 30.0, *got[0].PrecipitationProb)
	assert.Equal(t, weather.ConditionClearSkyDay, got[0].Code)
	assert.Equal(t, time.Hour, got[0].BlockDuration)
}

func TestSQLiteMissingKey(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, ok, err := repo.Get(context.Background(), "aemet", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteExpiredEntryIsAbsentAndRemoved(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "aemet", testCoord, testWindow, testData(), time.Now().Add(1100*time.Millisecond)))

	// Wait past expiry (second-granularity storage).
	time.Sleep(1200 * time.Millisecond)

	_, ok, err := repo.Get(ctx, "aemet", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, ok)

	// The stale row was purged on read.
	exists, err := repo.Contains(ctx, "aemet", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLitePutRejectsPastExpiry(t *testing.T) {
	repo := newSQLiteRepo(t)

	err := repo.Put(context.Background(), "aemet", testCoord, testWindow, testData(), time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, respcache.ErrPastExpiry)
}

func TestSQLitePutOverwrites(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	first := testData()
	require.NoError(t, repo.Put(ctx, "aemet", testCoord, testWindow, first, time.Now().Add(time.Hour)))

	second := testData()[:1]
	second[0].Temperature = 20.0
	require.NoError(t, repo.Put(ctx, "aemet", testCoord, testWindow, second, time.Now().Add(time.Hour)))

	got, ok, err := repo.Get(ctx, "aemet", testCoord, testWindow)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, 20.0, got[0].Temperature)
}

func TestSQLiteProvidersAreIsolated(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, "aemet", testCoord, testWindow, testData(), time.Now().Add(time.Hour)))

	_, ok, err := repo.Get(ctx, "ipma", testCoord, testWindow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLitePurgeExpired(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	otherWindow := weather.NewWindow(testWindow.Start.Add(time.Hour), testWindow.End.Add(time.Hour))

	require.NoError(t, repo.Put(ctx, "aemet", testCoord, testWindow, testData(), time.Now().Add(1100*time.Millisecond)))
	require.NoError(t, repo.Put(ctx, "aemet", testCoord, otherWindow, testData(), time.Now().Add(time.Hour)))

	time.Sleep(1200 * time.Millisecond)

	purged, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, ok, err := repo.Get(ctx, "aemet", testCoord, otherWindow)
	require.NoError(t, err)
	assert.True(t, ok, "unexpired entry must survive the sweep")
}
