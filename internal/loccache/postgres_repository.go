package loccache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

// PostgresRepository is the shared-store implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a location cache over a pgx pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetMapping returns the cached mapping for a provider and coordinate.
func (r *PostgresRepository) GetMapping(ctx context.Context, provider string, coord geo.Coordinate) (*Mapping, bool, error) {
	coord = coord.Round4()

	var m Mapping
	err := r.pool.QueryRow(ctx,
		`SELECT location_code, location_name, resolved_lat, resolved_lon, distance, last_updated
		 FROM location_mappings
		 WHERE service = $1 AND lat = $2 AND lon = $3`,
		provider, coord.Lat, coord.Lon,
	).Scan(&m.Code, &m.Name, &m.Resolved.Lat, &m.Resolved.Lon, &m.DistanceKm, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read location_mappings: %w", err)
	}

	m.Provider = provider
	m.Coordinate = coord
	return &m, true, nil
}

// PutMapping upserts a mapping for its provider and rounded coordinate.
func (r *PostgresRepository) PutMapping(ctx context.Context, m Mapping) error {
	coord := m.Coordinate.Round4()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO location_mappings
		   (service, lat, lon, location_code, location_name, resolved_lat, resolved_lon, distance, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (service, lat, lon) DO UPDATE SET
		   location_code = EXCLUDED.location_code,
		   location_name = EXCLUDED.location_name,
		   resolved_lat = EXCLUDED.resolved_lat,
		   resolved_lon = EXCLUDED.resolved_lon,
		   distance = EXCLUDED.distance,
		   last_updated = EXCLUDED.last_updated`,
		m.Provider, coord.Lat, coord.Lon,
		m.Code, m.Name, m.Resolved.Lat, m.Resolved.Lon, m.DistanceKm, m.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("write location_mappings: %w", err)
	}
	return nil
}

// GetCatalogue returns the provider's catalogue blob if unexpired, deleting
// expired blobs on read.
func (r *PostgresRepository) GetCatalogue(ctx context.Context, provider, setType string) (*Catalogue, bool, error) {
	var payload, expiresRaw string
	err := r.pool.QueryRow(ctx,
		`SELECT data, expires FROM location_sets WHERE service = $1 AND set_type = $2`,
		provider, setType,
	).Scan(&payload, &expiresRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read location_sets: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, expiresRaw)
	if err != nil || !expires.After(time.Now()) {
		if _, delErr := r.pool.Exec(ctx,
			`DELETE FROM location_sets WHERE service = $1 AND set_type = $2`, provider, setType,
		); delErr != nil {
			return nil, false, fmt.Errorf("delete stale location_sets row: %w", delErr)
		}
		return nil, false, nil
	}

	var c Catalogue
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		_, _ = r.pool.Exec(ctx,
			`DELETE FROM location_sets WHERE service = $1 AND set_type = $2`, provider, setType)
		return nil, false, fmt.Errorf("decode catalogue blob: %w", err)
	}

	return &c, true, nil
}

// PutCatalogue upserts a catalogue blob.
func (r *PostgresRepository) PutCatalogue(ctx context.Context, c Catalogue, expires time.Time) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode catalogue blob: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO location_sets (service, set_type, data, expires) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (service, set_type) DO UPDATE SET data = EXCLUDED.data, expires = EXCLUDED.expires`,
		c.Provider, c.SetType, string(payload), expires.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write location_sets: %w", err)
	}
	return nil
}

// PurgeExpired removes expired catalogue blobs.
func (r *PostgresRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM location_sets WHERE expires <= $1`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("purge location_sets: %w", err)
	}
	return tag.RowsAffected(), nil
}
