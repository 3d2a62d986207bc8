// Package worker runs the background maintenance jobs: cache sweeps and
// provider catalogue refresh.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/loccache"
)

// Purger sweeps expired rows from a cache store.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NamedPurger pairs a purger with a label for logging and metrics.
type NamedPurger struct {
	Name   string
	Purger Purger
}

// CatalogueTarget is a provider catalogue to refresh ahead of its TTL.
type CatalogueTarget struct {
	Provider string
	SetType  string
	Fetch    loccache.CatalogueFunc
}

// Config holds the maintenance schedule.
type Config struct {
	// PurgeInterval is how often expired cache rows are swept.
	// Default: 1h.
	PurgeInterval time.Duration

	// CatalogueInterval is how often provider catalogues are refreshed.
	// Default: 7 days, well inside the 30-day blob TTL.
	CatalogueInterval time.Duration

	// JobTimeout bounds a single run. Default: 5m.
	JobTimeout time.Duration
}

// Metrics tracks maintenance run statistics.
type Metrics struct {
	mu sync.RWMutex

	PurgeRuns        int64
	PurgedRows       int64
	CatalogueRuns    int64
	CatalogueErrors  int64
	LastRunAt        time.Time
	LastRunDuration  time.Duration
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		PurgeRuns:       m.PurgeRuns,
		PurgedRows:      m.PurgedRows,
		CatalogueRuns:   m.CatalogueRuns,
		CatalogueErrors: m.CatalogueErrors,
		LastRunAt:       m.LastRunAt,
		LastRunDuration: m.LastRunDuration,
	}
}

// Maintenance is the scheduled cache maintenance job.
type Maintenance struct {
	config     Config
	logger     zerolog.Logger
	purgers    []NamedPurger
	resolver   *loccache.Resolver
	catalogues []CatalogueTarget
	scheduler  *gocron.Scheduler
	metrics    *Metrics
}

// MaintenanceConfig holds dependencies for the maintenance job.
type MaintenanceConfig struct {
	Config     Config
	Logger     zerolog.Logger
	Purgers    []NamedPurger
	Resolver   *loccache.Resolver
	Catalogues []CatalogueTarget
}

// NewMaintenance creates the maintenance job.
func NewMaintenance(cfg MaintenanceConfig) *Maintenance {
	if cfg.Config.PurgeInterval <= 0 {
		cfg.Config.PurgeInterval = time.Hour
	}
	if cfg.Config.CatalogueInterval <= 0 {
		cfg.Config.CatalogueInterval = 7 * 24 * time.Hour
	}
	if cfg.Config.JobTimeout <= 0 {
		cfg.Config.JobTimeout = 5 * time.Minute
	}

	return &Maintenance{
		config:     cfg.Config,
		logger:     cfg.Logger.With().Str("component", "maintenance").Logger(),
		purgers:    cfg.Purgers,
		resolver:   cfg.Resolver,
		catalogues: cfg.Catalogues,
		scheduler:  gocron.NewScheduler(time.UTC),
		metrics:    &Metrics{},
	}
}

// Start schedules the jobs and runs the scheduler in the background.
func (m *Maintenance) Start() error {
	if _, err := m.scheduler.Every(m.config.PurgeInterval).Do(m.runPurge); err != nil {
		return err
	}
	if len(m.catalogues) > 0 {
		if _, err := m.scheduler.Every(m.config.CatalogueInterval).Do(m.runCatalogueRefresh); err != nil {
			return err
		}
	}

	m.scheduler.StartAsync()
	m.logger.Info().
		Dur("purge_interval", m.config.PurgeInterval).
		Dur("catalogue_interval", m.config.CatalogueInterval).
		Int("purgers", len(m.purgers)).
		Int("catalogues", len(m.catalogues)).
		Msg("maintenance scheduled")
	return nil
}

// Stop halts the scheduler. Running jobs finish.
func (m *Maintenance) Stop() {
	m.scheduler.Stop()
}

// Metrics returns a snapshot of the run counters.
func (m *Maintenance) Metrics() Metrics {
	return m.metrics.Snapshot()
}

// RunOnce performs one purge sweep and one catalogue refresh synchronously.
func (m *Maintenance) RunOnce(ctx context.Context) {
	m.purge(ctx)
	m.refreshCatalogues(ctx)
}

func (m *Maintenance) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.JobTimeout)
	defer cancel()
	m.purge(ctx)
}

func (m *Maintenance) runCatalogueRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.JobTimeout)
	defer cancel()
	m.refreshCatalogues(ctx)
}

func (m *Maintenance) purge(ctx context.Context) {
	start := time.Now()
	var total int64

	for _, p := range m.purgers {
		removed, err := p.Purger.PurgeExpired(ctx)
		if err != nil {
			m.logger.Error().Err(err).Str("cache", p.Name).Msg("purge failed")
			continue
		}
		if removed > 0 {
			m.logger.Info().Str("cache", p.Name).Int64("removed", removed).Msg("purged expired rows")
		}
		total += removed
	}

	m.metrics.mu.Lock()
	m.metrics.PurgeRuns++
	m.metrics.PurgedRows += total
	m.metrics.LastRunAt = start
	m.metrics.LastRunDuration = time.Since(start)
	m.metrics.mu.Unlock()
}

func (m *Maintenance) refreshCatalogues(ctx context.Context) {
	if m.resolver == nil {
		return
	}

	start := time.Now()
	var failures int64

	for _, target := range m.catalogues {
		err := m.resolver.RefreshCatalogue(ctx, target.Provider, target.SetType, target.Fetch)
		if err != nil {
			failures++
			m.logger.Error().Err(err).
				Str("provider", target.Provider).
				Str("set_type", target.SetType).
				Msg("catalogue refresh failed")
			continue
		}
		m.logger.Info().
			Str("provider", target.Provider).
			Str("set_type", target.SetType).
			Msg("catalogue refreshed")
	}

	m.metrics.mu.Lock()
	m.metrics.CatalogueRuns++
	m.metrics.CatalogueErrors += failures
	m.metrics.LastRunAt = start
	m.metrics.LastRunDuration = time.Since(start)
	m.metrics.mu.Unlock()
}
