// Package database provides the embedded SQLite cache store and the
// optional shared Postgres pool.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

// sqliteSchema holds the cache tables. Keys encode provider + rounded
// coordinate + window boundaries; reads self-heal expired rows so the
// schema needs no triggers.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS weather_cache (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weather_cache_expires ON weather_cache(expires)`,

	`CREATE TABLE IF NOT EXISTS location_cache (
		address TEXT PRIMARY KEY,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		expires TIMESTAMP NOT NULL,
		metadata TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS location_mappings (
		service TEXT NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		location_code TEXT NOT NULL,
		location_name TEXT NOT NULL DEFAULT '',
		resolved_lat REAL NOT NULL DEFAULT 0,
		resolved_lon REAL NOT NULL DEFAULT 0,
		distance REAL NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		UNIQUE(service, lat, lon)
	)`,

	`CREATE TABLE IF NOT EXISTS location_sets (
		service TEXT NOT NULL,
		set_type TEXT NOT NULL,
		data TEXT NOT NULL,
		expires TEXT NOT NULL,
		UNIQUE(service, set_type)
	)`,
}

// OpenSQLite opens (or creates) the embedded store at the given path and
// initializes the schema. The returned handle is pooled and safe for
// concurrent use; callers pass per-operation contexts.
func OpenSQLite(path string) (*sql.DB, error) {
	// busy_timeout keeps concurrent writers from surfacing SQLITE_BUSY as
	// cache errors; WAL lets readers proceed during a write.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("initialize sqlite schema: %w", err)
		}
	}

	return db, nil
}

// PostgresConfig holds connection configuration for a shared cache store.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConnectionString returns the PostgreSQL connection string.
func (c PostgresConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS weather_cache (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weather_cache_expires ON weather_cache(expires)`,

	`CREATE TABLE IF NOT EXISTS location_cache (
		address TEXT PRIMARY KEY,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		expires TIMESTAMPTZ NOT NULL,
		metadata TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS location_mappings (
		service TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		location_code TEXT NOT NULL,
		location_name TEXT NOT NULL DEFAULT '',
		resolved_lat DOUBLE PRECISION NOT NULL DEFAULT 0,
		resolved_lon DOUBLE PRECISION NOT NULL DEFAULT 0,
		distance DOUBLE PRECISION NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL,
		UNIQUE(service, lat, lon)
	)`,

	`CREATE TABLE IF NOT EXISTS location_sets (
		service TEXT NOT NULL,
		set_type TEXT NOT NULL,
		data TEXT NOT NULL,
		expires TEXT NOT NULL,
		UNIQUE(service, set_type)
	)`,
}

// ConnectPostgres creates a pgx connection pool and initializes the cache
// schema. Intended for deployments sharing one cache across replicas.
func ConnectPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns) //nolint:gosec // bounded by config validation
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns) //nolint:gosec // bounded by config validation
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("initialize postgres schema: %w", err)
		}
	}

	return pool, nil
}
