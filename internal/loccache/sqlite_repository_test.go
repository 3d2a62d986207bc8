package loccache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwaycast/fairwaycast/internal/database"
	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/loccache"
)

func newSQLiteRepo(t *testing.T) *loccache.SQLiteRepository {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return loccache.NewSQLiteRepository(db)
}

func testMapping() loccache.Mapping {
	return loccache.Mapping{
		Provider:   "aemet",
		Coordinate: geo.Coordinate{Lat: 40.4168, Lon: -3.7038},
		Code:       "28079",
		Name:       "Madrid",
		Resolved:   geo.Coordinate{Lat: 40.4165, Lon: -3.7026},
		DistanceKm: 0.11,
		UpdatedAt:  time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteMappingRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	want := testMapping()

	require.NoError(t, repo.PutMapping(ctx, want))

	got, ok, err := repo.GetMapping(ctx, "aemet", want.Coordinate)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Resolved, got.Resolved)
	assert.Equal(t, want.DistanceKm, got.DistanceKm)
	assert.True(t, got.UpdatedAt.Equal(want.UpdatedAt))
}

func TestSQLiteMappingMiss(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, ok, err := repo.GetMapping(context.Background(), "aemet", geo.Coordinate{Lat: 1, Lon: 1})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteMappingUpsert(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	m := testMapping()
	require.NoError(t, repo.PutMapping(ctx, m))

	m.Code = "28080"
	m.DistanceKm = 0.5
	require.NoError(t, repo.PutMapping(ctx, m))

	got, ok, err := repo.GetMapping(ctx, "aemet", m.Coordinate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "28080", got.Code)
	assert.Equal(t, 0.5, got.DistanceKm)
}

func TestSQLiteMappingProviderIsolation(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.PutMapping(ctx, testMapping()))

	_, ok, err := repo.GetMapping(ctx, "ipma", testMapping().Coordinate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteMappingRoundsCoordinate(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	m := testMapping()
	m.Coordinate = geo.Coordinate{Lat: 40.41679, Lon: -3.70381}
	require.NoError(t, repo.PutMapping(ctx, m))

	// A lookup with the already-rounded coordinate finds the same row.
	got, ok, err := repo.GetMapping(ctx, "aemet", geo.Coordinate{Lat: 40.4168, Lon: -3.7038})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.Code, got.Code)
}

func TestSQLiteCatalogueRoundTrip(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	want := loccache.Catalogue{
		Provider: "aemet",
		SetType:  "municipalities",
		Entries: []loccache.Entry{
			{Code: "28079", Name: "Madrid", Coordinate: geo.Coordinate{Lat: 40.4168, Lon: -3.7038}},
			{Code: "08019", Name: "Barcelona", Coordinate: geo.Coordinate{Lat: 41.3874, Lon: 2.1686}},
		},
		FetchedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.PutCatalogue(ctx, want, time.Now().Add(time.Hour)))

	got, ok, err := repo.GetCatalogue(ctx, "aemet", "municipalities")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Entries, got.Entries)
	assert.True(t, got.FetchedAt.Equal(want.FetchedAt))
}

func TestSQLiteCatalogueExpiry(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	c := loccache.Catalogue{Provider: "aemet", SetType: "municipalities",
		Entries: []loccache.Entry{{Code: "28079"}}}
	require.NoError(t, repo.PutCatalogue(ctx, c, time.Now().Add(1100*time.Millisecond)))

	_, ok, err := repo.GetCatalogue(ctx, "aemet", "municipalities")
	require.NoError(t, err)
	require.True(t, ok)

	// RFC3339 has second precision, so cross a full second boundary.
	time.Sleep(2200 * time.Millisecond)

	_, ok, err = repo.GetCatalogue(ctx, "aemet", "municipalities")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLitePurgeExpiredCatalogues(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	expired := loccache.Catalogue{Provider: "aemet", SetType: "municipalities",
		Entries: []loccache.Entry{{Code: "a"}}}
	fresh := loccache.Catalogue{Provider: "ipma", SetType: "locations",
		Entries: []loccache.Entry{{Code: "b"}}}

	require.NoError(t, repo.PutCatalogue(ctx, expired, time.Now().Add(-time.Hour)))
	require.NoError(t, repo.PutCatalogue(ctx, fresh, time.Now().Add(time.Hour)))

	removed, err := repo.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, ok, err := repo.GetCatalogue(ctx, "ipma", "locations")
	require.NoError(t, err)
	assert.True(t, ok)
}
