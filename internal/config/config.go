// Package config loads service configuration from a YAML file with
// environment overrides. Secrets come from the environment (optionally via
// a .env file); the YAML carries everything else.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Geocode   GeocodeConfig   `mapstructure:"geocode"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is a zerolog level name: debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `mapstructure:"pretty"`
}

// StoreConfig selects and configures the cache backend.
type StoreConfig struct {
	// Backend is sqlite, postgres or redis.
	Backend string `mapstructure:"backend"`

	// SQLitePath is the embedded store path.
	SQLitePath string `mapstructure:"sqlite_path"`

	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig holds shared-store connection settings.
type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the redis response-cache settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig holds per-provider adapter settings.
type ProvidersConfig struct {
	UserAgent string         `mapstructure:"user_agent"`
	AEMET     ProviderConfig `mapstructure:"aemet"`
	IPMA      ProviderConfig `mapstructure:"ipma"`
	MetNo     ProviderConfig `mapstructure:"metno"`
	OpenMeteo ProviderConfig `mapstructure:"openmeteo"`
}

// ProviderConfig holds one provider's settings. Zero values fall back to
// the adapter defaults.
type ProviderConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	MaxDistanceKm   float64       `mapstructure:"max_distance_km"`
	MinCallInterval time.Duration `mapstructure:"min_call_interval"`
}

// GeocodeConfig holds the Nominatim geocoder settings.
type GeocodeConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BaseURL  string        `mapstructure:"base_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// WorkerConfig holds the maintenance schedule.
type WorkerConfig struct {
	PurgeInterval     time.Duration `mapstructure:"purge_interval"`
	CatalogueInterval time.Duration `mapstructure:"catalogue_interval"`
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from the given YAML file (optional) and the
// environment. Environment variables use the FAIRWAYCAST_ prefix with
// underscores, e.g. FAIRWAYCAST_STORE_BACKEND overrides store.backend.
func Load(path string) (*Config, error) {
	// Secrets travel via .env in development; missing files are fine.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FAIRWAYCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.sqlite_path", "fairwaycast.db")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.ssl_mode", "disable")
	v.SetDefault("store.redis.addr", "localhost:6379")

	v.SetDefault("providers.user_agent", "fairwaycast/1.0 (+https://github.com/fairwaycast/fairwaycast)")
	v.SetDefault("providers.metno.enabled", true)
	v.SetDefault("providers.openmeteo.enabled", true)
	v.SetDefault("providers.aemet.enabled", false)
	v.SetDefault("providers.ipma.enabled", true)

	v.SetDefault("geocode.enabled", true)

	v.SetDefault("worker.purge_interval", time.Hour)
	v.SetDefault("worker.catalogue_interval", 7*24*time.Hour)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "fairwaycast")
	v.SetDefault("telemetry.sample_rate", 0.1)
}

// Validate checks invariants that would otherwise surface as runtime
// failures.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("store.backend must be sqlite, postgres or redis, got %q", c.Store.Backend)
	}

	if c.Providers.AEMET.Enabled && c.Providers.AEMET.APIKey == "" {
		return fmt.Errorf("providers.aemet.api_key is required when aemet is enabled")
	}
	if c.Providers.MetNo.Enabled && c.Providers.UserAgent == "" {
		return fmt.Errorf("providers.user_agent is required when metno is enabled")
	}

	return nil
}
