package geocode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type resultMetadata struct {
	DisplayName string `json:"display_name"`
}

// SQLiteRepository is the embedded-store implementation of Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a geocode cache over an opened SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns the cached result for an address, deleting expired rows on
// read.
func (r *SQLiteRepository) Get(ctx context.Context, address string) (*Result, bool, error) {
	address = NormalizeAddress(address)

	var result Result
	var expiresRaw string
	var metadataRaw sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT lat, lon, expires, metadata FROM location_cache WHERE address = ?`,
		address,
	).Scan(&result.Coordinate.Lat, &result.Coordinate.Lon, &expiresRaw, &metadataRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read location_cache: %w", err)
	}

	expires, err := time.Parse(time.RFC3339, expiresRaw)
	if err != nil || !expires.After(time.Now()) {
		if _, delErr := r.db.ExecContext(ctx,
			`DELETE FROM location_cache WHERE address = ?`, address,
		); delErr != nil {
			return nil, false, fmt.Errorf("delete stale location_cache row: %w", delErr)
		}
		return nil, false, nil
	}

	result.Address = address
	if metadataRaw.Valid && metadataRaw.String != "" {
		var meta resultMetadata
		if err := json.Unmarshal([]byte(metadataRaw.String), &meta); err == nil {
			result.DisplayName = meta.DisplayName
		}
	}

	return &result, true, nil
}

// Put upserts a result keyed by its normalized address.
func (r *SQLiteRepository) Put(ctx context.Context, result Result, expires time.Time) error {
	metadata, err := json.Marshal(resultMetadata{DisplayName: result.DisplayName})
	if err != nil {
		return fmt.Errorf("encode geocode metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO location_cache (address, lat, lon, expires, metadata) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
		   lat = excluded.lat,
		   lon = excluded.lon,
		   expires = excluded.expires,
		   metadata = excluded.metadata`,
		NormalizeAddress(result.Address),
		result.Coordinate.Lat, result.Coordinate.Lon,
		expires.UTC().Format(time.RFC3339),
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("write location_cache: %w", err)
	}
	return nil
}

// PurgeExpired removes expired geocode rows.
func (r *SQLiteRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM location_cache WHERE expires <= ?`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("purge location_cache: %w", err)
	}
	return res.RowsAffected()
}
