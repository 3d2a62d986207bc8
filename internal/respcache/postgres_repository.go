package respcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// PostgresRepository is the shared-store implementation of Repository, for
// deployments where several replicas share one cache.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a response cache over a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get returns the cached samples if present and unexpired, deleting expired
// rows as a side effect.
func (r *PostgresRepository) Get(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window) ([]weather.Datum, bool, error) {
	key := Key(provider, coord, window)

	var payload string
	var expires time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT data, expires FROM weather_cache WHERE key = $1`, key,
	).Scan(&payload, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read weather_cache: %w", err)
	}

	if !expires.After(time.Now()) {
		if _, err := r.pool.Exec(ctx, `DELETE FROM weather_cache WHERE key = $1`, key); err != nil {
			return nil, false, fmt.Errorf("delete stale weather_cache row: %w", err)
		}
		return nil, false, nil
	}

	var data []weather.Datum
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		_, _ = r.pool.Exec(ctx, `DELETE FROM weather_cache WHERE key = $1`, key)
		return nil, false, fmt.Errorf("decode cached forecast: %w", err)
	}

	return data, true, nil
}

// Put upserts a cache entry. The expiry must be strictly in the future.
func (r *PostgresRepository) Put(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window, data []weather.Datum, expires time.Time) error {
	if !expires.After(time.Now()) {
		return ErrPastExpiry
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO weather_cache (key, data, expires) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, expires = EXCLUDED.expires`,
		Key(provider, coord, window), string(payload), expires.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write weather_cache: %w", err)
	}
	return nil
}

// PurgeExpired bulk-deletes all expired entries.
func (r *PostgresRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM weather_cache WHERE expires <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge weather_cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
