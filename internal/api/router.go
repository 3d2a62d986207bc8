// Package api provides the HTTP API for the forecast service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fairwaycast/fairwaycast/internal/api/handler"
	"github.com/fairwaycast/fairwaycast/internal/api/middleware"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	ForecastService handler.ForecastService
	Geocoder        handler.Geocoder
	Registry        *resilience.Registry
	Stats           handler.StatsSource
}

// NewRouter creates a chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware, order matters: the request ID must exist before
	// tracing and logging reference it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	forecastHandler := handler.NewForecastHandler(cfg.ForecastService, cfg.Geocoder)
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Stats)

	forecastRateLimit := middleware.RateLimitByIP(middleware.ForecastRateLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/forecast", func(r chi.Router) {
			r.Use(forecastRateLimit)
			r.Get("/", forecastHandler.GetForecast)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/providers", opsHandler.Providers)
		})
	})

	return r
}
