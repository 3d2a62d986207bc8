package loccache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/geo"
)

// SQLiteRepository is the embedded-store implementation of Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a location cache over an opened SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetMapping returns the cached mapping for a provider and coordinate.
func (r *SQLiteRepository) GetMapping(ctx context.Context, provider string, coord geo.Coordinate) (*Mapping, bool, error) {
	coord = coord.Round4()

	var m Mapping
	var updatedRaw string
	err := r.db.QueryRowContext(ctx,
		`SELECT location_code, location_name, resolved_lat, resolved_lon, distance, last_updated
		 FROM location_mappings
		 WHERE service = ? AND lat = ? AND lon = ?`,
		provider, coord.Lat, coord.Lon,
	).Scan(&m.Code, &m.Name, &m.Resolved.Lat, &m.Resolved.Lon, &m.DistanceKm, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read location_mappings: %w", err)
	}

	m.Provider = provider
	m.Coordinate = coord
	if t, err := time.Parse(time.RFC3339, updatedRaw); err == nil {
		m.UpdatedAt = t
	}

	return &m, true, nil
}

// PutMapping upserts a mapping for its provider and rounded coordinate.
func (r *SQLiteRepository) PutMapping(ctx context.Context, m Mapping) error {
	coord := m.Coordinate.Round4()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO location_mappings
		   (service, lat, lon, location_code, location_name, resolved_lat, resolved_lon, distance, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(service, lat, lon) DO UPDATE SET
		   location_code = excluded.location_code,
		   location_name = excluded.location_name,
		   resolved_lat = excluded.resolved_lat,
		   resolved_lon = excluded.resolved_lon,
		   distance = excluded.distance,
		   last_updated = excluded.last_updated`,
		m.Provider, coord.Lat, coord.Lon,
		m.Code, m.Name, m.Resolved.Lat, m.Resolved.Lon, m.DistanceKm,
		m.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write location_mappings: %w", err)
	}
	return nil
}

// GetCatalogue returns the provider's catalogue blob if unexpired, deleting
// expired blobs on read.
func (r *SQLiteRepository) GetCatalogue(ctx context.Context, provider, setType string) (*Catalogue, bool, error) {
	var payload, expiresRaw string
	err := r.db.QueryRowContext(ctx,
		`SELECT data, expires FROM location_sets WHERE service = ? AND set_type = ?`,
		provider, setType,
	).Scan(&payload, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read location_sets: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, expiresRaw)
	if err != nil || !expires.After(time.Now()) {
		if _, delErr := r.db.ExecContext(ctx,
			`DELETE FROM location_sets WHERE service = ? AND set_type = ?`, provider, setType,
		); delErr != nil {
			return nil, false, fmt.Errorf("delete stale location_sets row: %w", delErr)
		}
		return nil, false, nil
	}

	var c Catalogue
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		_, _ = r.db.ExecContext(ctx,
			`DELETE FROM location_sets WHERE service = ? AND set_type = ?`, provider, setType)
		return nil, false, fmt.Errorf("decode catalogue blob: %w", err)
	}

	return &c, true, nil
}

// PutCatalogue upserts a catalogue blob.
func (r *SQLiteRepository) PutCatalogue(ctx context.Context, c Catalogue, expires time.Time) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode catalogue blob: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO location_sets (service, set_type, data, expires) VALUES (?, ?, ?, ?)
		 ON CONFLICT(service, set_type) DO UPDATE SET data = excluded.data, expires = excluded.expires`,
		c.Provider, c.SetType, string(payload), expires.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write location_sets: %w", err)
	}
	return nil
}

// PurgeExpired removes expired catalogue blobs.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM location_sets WHERE expires <= ?`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("purge location_sets: %w", err)
	}
	return res.RowsAffected()
}
