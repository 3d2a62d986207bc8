// Package main provides the entrypoint for the fairwaycast API server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/api"
	"github.com/fairwaycast/fairwaycast/internal/api/handler"
	"github.com/fairwaycast/fairwaycast/internal/config"
	"github.com/fairwaycast/fairwaycast/internal/database"
	"github.com/fairwaycast/fairwaycast/internal/geocode"
	"github.com/fairwaycast/fairwaycast/internal/loccache"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/respcache"
	"github.com/fairwaycast/fairwaycast/internal/telemetry"
	"github.com/fairwaycast/fairwaycast/internal/weather"
	"github.com/fairwaycast/fairwaycast/internal/weather/aemet"
	"github.com/fairwaycast/fairwaycast/internal/weather/ipma"
	"github.com/fairwaycast/fairwaycast/internal/weather/metno"
	"github.com/fairwaycast/fairwaycast/internal/weather/openmeteo"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "fairwaycast-api"

	configPath := flag.String("config", os.Getenv("FAIRWAYCAST_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := newLogger(cfg.Log, serviceName)
	log.Info().
		Str("build_time", BuildTime).
		Msg("starting fairwaycast API")

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	stores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache stores")
	}
	defer stores.Close()

	resolver := loccache.NewResolver(loccache.ResolverConfig{
		Repository: stores.Locations,
		Logger:     log,
	})

	registry := resilience.NewRegistry()
	adapters := buildAdapters(cfg, resolver, registry, log)
	if len(adapters) == 0 {
		log.Fatal().Msg("no forecast providers enabled")
	}

	svc := weather.NewService(weather.ServiceConfig{
		Adapters: adapters,
		Cache:    stores.Responses,
		Logger:   log,
	})

	var geocoder handler.Geocoder
	if cfg.Geocode.Enabled {
		client := resilience.NewClient(resilience.DefaultClientConfig("nominatim"))
		registry.Register("nominatim", client)
		geocoder = geocode.NewNominatim(geocode.NominatimConfig{
			BaseURL:    cfg.Geocode.BaseURL,
			UserAgent:  cfg.Providers.UserAgent,
			HTTPDoer:   client,
			Repository: stores.Geocode,
			CacheTTL:   cfg.Geocode.CacheTTL,
			Logger:     log,
		})
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ForecastService: svc,
		Geocoder:        geocoder,
		Registry:        registry,
		Stats:           svc,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Int("providers", len(adapters)).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func newLogger(cfg config.LogConfig, service string) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout)
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	return logger.Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("version", Version).
		Logger()
}

// stores bundles the persistence handles behind the three cache layers.
type cacheStores struct {
	Responses respcache.Repository
	Locations loccache.Repository
	Geocode   geocode.Repository

	closers []func() error
}

func (s *cacheStores) Close() {
	for _, c := range s.closers {
		_ = c()
	}
}

// openStores wires the configured backend. Redis only holds the volatile
// forecast responses; location mappings and geocode results stay in the
// embedded store so a cache flush cannot lose them.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*cacheStores, error) {
	s := &cacheStores{}

	switch cfg.Store.Backend {
	case "postgres":
		pool, err := database.ConnectPostgres(ctx, database.PostgresConfig{
			Host:            cfg.Store.Postgres.Host,
			Port:            cfg.Store.Postgres.Port,
			User:            cfg.Store.Postgres.User,
			Password:        cfg.Store.Postgres.Password,
			Database:        cfg.Store.Postgres.Database,
			SSLMode:         cfg.Store.Postgres.SSLMode,
			MaxOpenConns:    cfg.Store.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Store.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })

		s.Responses = respcache.NewPostgresRepository(pool)
		s.Locations = loccache.NewPostgresRepository(pool)

		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			pool.Close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.Geocode = geocode.NewSQLiteRepository(db)

		log.Info().
			Str("host", cfg.Store.Postgres.Host).
			Str("database", cfg.Store.Postgres.Database).
			Msg("postgres store connected")

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.Responses = respcache.NewRedisRepository(client)

		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.Locations = loccache.NewSQLiteRepository(db)
		s.Geocode = geocode.NewSQLiteRepository(db)

		log.Info().
			Str("addr", cfg.Store.Redis.Addr).
			Msg("redis response cache connected")

	default:
		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)

		s.Responses = respcache.NewSQLiteRepository(db)
		s.Locations = loccache.NewSQLiteRepository(db)
		s.Geocode = geocode.NewSQLiteRepository(db)

		log.Info().
			Str("path", cfg.Store.SQLitePath).
			Msg("sqlite store opened")
	}

	return s, nil
}

// buildAdapters creates the enabled provider adapters in priority order:
// regional providers first, the global fallback last.
func buildAdapters(cfg *config.Config, resolver *loccache.Resolver, registry *resilience.Registry, log zerolog.Logger) []weather.Adapter {
	var adapters []weather.Adapter

	if cfg.Providers.AEMET.Enabled {
		client := resilience.NewClient(resilience.DefaultClientConfig(aemet.Name))
		registry.Register(aemet.Name, client)
		adapter, err := aemet.New(aemet.Config{
			BaseURL:         cfg.Providers.AEMET.BaseURL,
			APIKey:          cfg.Providers.AEMET.APIKey,
			HTTPDoer:        client,
			Resolver:        resolver,
			MaxDistanceKm:   cfg.Providers.AEMET.MaxDistanceKm,
			MinCallInterval: cfg.Providers.AEMET.MinCallInterval,
			Logger:          log,
		})
		if err != nil {
			log.Error().Err(err).Msg("aemet adapter disabled")
		} else {
			adapters = append(adapters, adapter)
		}
	}

	if cfg.Providers.IPMA.Enabled {
		client := resilience.NewClient(resilience.DefaultClientConfig(ipma.Name))
		registry.Register(ipma.Name, client)
		adapters = append(adapters, ipma.New(ipma.Config{
			BaseURL:         cfg.Providers.IPMA.BaseURL,
			HTTPDoer:        client,
			Resolver:        resolver,
			MaxDistanceKm:   cfg.Providers.IPMA.MaxDistanceKm,
			MinCallInterval: cfg.Providers.IPMA.MinCallInterval,
			Logger:          log,
		}))
	}

	if cfg.Providers.MetNo.Enabled {
		client := resilience.NewClient(resilience.DefaultClientConfig(metno.Name))
		registry.Register(metno.Name, client)
		adapter, err := metno.New(metno.Config{
			BaseURL:   cfg.Providers.MetNo.BaseURL,
			UserAgent: cfg.Providers.UserAgent,
			HTTPDoer:  client,
			Logger:    log,
		})
		if err != nil {
			log.Error().Err(err).Msg("metno adapter disabled")
		} else {
			adapters = append(adapters, adapter)
		}
	}

	if cfg.Providers.OpenMeteo.Enabled {
		client := resilience.NewClient(resilience.DefaultClientConfig(openmeteo.Name))
		registry.Register(openmeteo.Name, client)
		adapters = append(adapters, openmeteo.New(openmeteo.Config{
			BaseURL:  cfg.Providers.OpenMeteo.BaseURL,
			HTTPDoer: client,
			Logger:   log,
		}))
	}

	return adapters
}
