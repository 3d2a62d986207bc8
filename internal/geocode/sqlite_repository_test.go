package geocode_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/database"
	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/geocode"
)

func newSQLiteRepo(t *testing.T) *geocode.SQLiteRepository {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return geocode.NewSQLiteRepository(db)
}

func TestSQLiteGeocodeRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	want := geocode.Result{
		Address:     "madrid, spain",
		Coordinate:  geo.Coordinate{Lat: 40.4167, Lon: -3.7036},
		DisplayName: "Madrid, Spain",
	}
	require.NoError(t, repo.Put(ctx, want, time.Now().Add(time.Hour)))

	got, ok, err := repo.Get(ctx, "madrid, spain")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Coordinate, got.Coordinate)
	assert.Equal(t, want.DisplayName, got.DisplayName)
}

func TestSQLiteGeocodeMiss(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, ok, err := repo.Get(context.Background(), "unknown town")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteGeocodeExpiry(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	result := geocode.Result{
		Address:    "lisbon",
		Coordinate: geo.Coordinate{Lat: 38.7223, Lon: -9.1393},
	}
	require.NoError(t, repo.Put(ctx, result, time.Now().Add(-time.Minute)))

	_, ok, err := repo.Get(ctx, "lisbon")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteGeocodePurgeExpired(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, geocode.Result{Address: "old"}, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.Put(ctx, geocode.Result{Address: "fresh"}, time.Now().Add(time.Hour)))

	removed, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok, err := repo.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}
