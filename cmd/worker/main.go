// Package main provides the entrypoint for the fairwaycast maintenance
// worker. It sweeps expired cache rows and refreshes provider location
// catalogues on a schedule.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/config"
	"github.com/fairwaycast/fairwaycast/internal/database"
	"github.com/fairwaycast/fairwaycast/internal/geocode"
	"github.com/fairwaycast/fairwaycast/internal/loccache"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/respcache"
	"github.com/fairwaycast/fairwaycast/internal/weather/aemet"
	"github.com/fairwaycast/fairwaycast/internal/weather/ipma"
	"github.com/fairwaycast/fairwaycast/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "fairwaycast-worker"

	configPath := flag.String("config", os.Getenv("FAIRWAYCAST_CONFIG"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting fairwaycast worker")

	ctx := context.Background()

	purgers, resolver, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache stores")
	}
	defer closeStores()

	maintenance := worker.NewMaintenance(worker.MaintenanceConfig{
		Config: worker.Config{
			PurgeInterval:     cfg.Worker.PurgeInterval,
			CatalogueInterval: cfg.Worker.CatalogueInterval,
		},
		Logger:     log,
		Purgers:    purgers,
		Resolver:   resolver,
		Catalogues: buildCatalogueTargets(cfg, resolver, log),
	})

	if err := maintenance.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start maintenance scheduler")
	}
	log.Info().
		Dur("purge_interval", cfg.Worker.PurgeInterval).
		Dur("catalogue_interval", cfg.Worker.CatalogueInterval).
		Msg("maintenance scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	maintenance.Stop()
	log.Info().Msg("worker stopped")
}

// openStores opens the configured backend and returns the purgers in the
// order they are swept, plus the catalogue resolver. Redis entries expire
// server-side, so only the relational stores need purging there.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) ([]worker.NamedPurger, *loccache.Resolver, func(), error) {
	var (
		purgers []worker.NamedPurger
		locRepo loccache.Repository
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

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
			return nil, nil, nil, err
		}
		closers = append(closers, func() error { pool.Close(); return nil })

		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, db.Close)

		locRepo = loccache.NewPostgresRepository(pool)
		purgers = append(purgers,
			worker.NamedPurger{Name: "responses", Purger: respcache.NewPostgresRepository(pool)},
			worker.NamedPurger{Name: "locations", Purger: locRepo},
			worker.NamedPurger{Name: "geocode", Purger: geocode.NewSQLiteRepository(db)},
		)

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, client.Close)

		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			closeAll()
			return nil, nil, nil, err
		}
		closers = append(closers, db.Close)

		locRepo = loccache.NewSQLiteRepository(db)
		purgers = append(purgers,
			worker.NamedPurger{Name: "locations", Purger: locRepo},
			worker.NamedPurger{Name: "geocode", Purger: geocode.NewSQLiteRepository(db)},
		)

	default:
		db, err := database.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, db.Close)

		locRepo = loccache.NewSQLiteRepository(db)
		purgers = append(purgers,
			worker.NamedPurger{Name: "responses", Purger: respcache.NewSQLiteRepository(db)},
			worker.NamedPurger{Name: "locations", Purger: locRepo},
			worker.NamedPurger{Name: "geocode", Purger: geocode.NewSQLiteRepository(db)},
		)
	}

	resolver := loccache.NewResolver(loccache.ResolverConfig{
		Repository: locRepo,
		Logger:     log,
	})

	return purgers, resolver, closeAll, nil
}

// buildCatalogueTargets lists the provider catalogues the worker keeps
// fresh. Only providers that resolve through a catalogue appear here.
func buildCatalogueTargets(cfg *config.Config, resolver *loccache.Resolver, log zerolog.Logger) []worker.CatalogueTarget {
	var targets []worker.CatalogueTarget

	if cfg.Providers.AEMET.Enabled {
		adapter, err := aemet.New(aemet.Config{
			BaseURL:         cfg.Providers.AEMET.BaseURL,
			APIKey:          cfg.Providers.AEMET.APIKey,
			HTTPDoer:        resilience.NewClient(resilience.DefaultClientConfig(aemet.Name)),
			Resolver:        resolver,
			MinCallInterval: cfg.Providers.AEMET.MinCallInterval,
			Logger:          log,
		})
		if err != nil {
			log.Error().Err(err).Msg("aemet catalogue refresh disabled")
		} else {
			targets = append(targets, worker.CatalogueTarget{
				Provider: aemet.Name,
				SetType:  aemet.CatalogueSetType,
				Fetch:    adapter.FetchCatalogue,
			})
		}
	}

	if cfg.Providers.IPMA.Enabled {
		adapter := ipma.New(ipma.Config{
			BaseURL:         cfg.Providers.IPMA.BaseURL,
			HTTPDoer:        resilience.NewClient(resilience.DefaultClientConfig(ipma.Name)),
			Resolver:        resolver,
			MinCallInterval: cfg.Providers.IPMA.MinCallInterval,
			Logger:          log,
		})
		targets = append(targets, worker.CatalogueTarget{
			Provider: ipma.Name,
			SetType:  ipma.CatalogueSetType,
			Fetch:    adapter.FetchCatalogue,
		})
	}

	return targets
}
