package handler

import (
	"net/http"
	"time"

	"github.com/fairwaycast/fairwaycast/internal/api/response"
	"github.com/fairwaycast/fairwaycast/internal/provider/resilience"
	"github.com/fairwaycast/fairwaycast/internal/weather"
)

// StatsSource exposes per-provider attempt counters.
type StatsSource interface {
	Stats() []weather.ProviderStats
}

// OpsHandler serves the operational surface.
type OpsHandler struct {
	version   string
	buildTime string
	startedAt time.Time
	registry  *resilience.Registry
	stats     StatsSource
}

// NewOpsHandler creates a new ops handler.
func NewOpsHandler(version, buildTime string, registry *resilience.Registry, stats StatsSource) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		startedAt: time.Now(),
		registry:  registry,
		stats:     stats,
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	Uptime    string `json:"uptime"`
}

// HealthCheck handles GET /v1/ops/health.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, healthResponse{
		Status:    "ok",
		Version:   h.version,
		BuildTime: h.buildTime,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
	})
}

type providersResponse struct {
	Providers []*resilience.ProviderHealth `json:"providers"`
	Stats     []weather.ProviderStats      `json:"stats"`
}

// Providers handles GET /v1/ops/providers: circuit breaker health plus the
// aggregator's per-provider attempt counters.
func (h *OpsHandler) Providers(w http.ResponseWriter, r *http.Request) {
	out := providersResponse{}
	if h.registry != nil {
		out.Providers = h.registry.GetAllHealth()
	}
	if h.stats != nil {
		out.Stats = h.stats.Stats()
	}
	response.JSON(w, r, http.StatusOK, out)
}
