package respcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// SQLiteRepository is the embedded-store implementation of Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a response cache over an opened SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the cached samples if present and unexpired. An expired row
// is deleted as a side effect and reported as absent.
func (r *SQLiteRepository) Get(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window) ([]weather.Datum, bool, error) {
	key := Key(provider, coord, window)

	var payload, expiresRaw string
	err := r.db.QueryRowContext(ctx,
		`SELECT data, expires FROM weather_cache WHERE key = ?`, key,
	).Scan(&payload, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read weather_cache: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, expiresRaw)
	if err != nil {
		// Unparseable expiry means a corrupt row; drop it.
		_ = r.deleteKey(ctx, key)
		return nil, false, nil
	}

	if !expires.After(time.Now()) {
		if err := r.deleteKey(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	var data []weather.Datum
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		_ = r.deleteKey(ctx, key)
		return nil, false, fmt.Errorf("decode cached forecast: %w", err)
	}

	return data, true, nil
}

// Put upserts a cache entry. The expiry must be strictly in the future.
func (r *SQLiteRepository) Put(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window, data []weather.Datum, expires time.Time) error {
	if !expires.After(time.Now()) {
		return ErrPastExpiry
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO weather_cache (key, data, expires) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires = excluded.expires`,
		Key(provider, coord, window), string(payload), expires.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write weather_cache: %w", err)
	}
	return nil
}

// PurgeExpired bulk-deletes all expired entries.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM weather_cache WHERE expires <= ?`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("purge weather_cache: %w", err)
	}
	return res.RowsAffected()
}

// Contains reports whether a row for the key exists, expired or not. Used
// by tests verifying lazy purge-on-read.
func (r *SQLiteRepository) Contains(ctx context.Context, provider string, coord geo.Coordinate, window weather.Window) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM weather_cache WHERE key = ?`,
		Key(provider, coord, window),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) deleteKey(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM weather_cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete stale weather_cache row: %w", err)
	}
	return nil
}
