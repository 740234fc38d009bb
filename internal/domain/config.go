package domain

import "time"

// Config holds the complete Kestrel configuration.
// It is built once at startup and passed by pointer; nothing mutates it afterwards.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server" json:"server"`

	// Tier determines feature availability
	Tier Tier `mapstructure:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository" json:"repository"`
	Cache      CacheConfig      `mapstructure:"cache" json:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus" json:"eventBus"`
	Rating     RatingConfig     `mapstructure:"rating" json:"rating"`
	RiskScorer RiskScorerConfig `mapstructure:"risk_scorer" json:"riskScorer"`
	Worker     WorkerConfig     `mapstructure:"worker" json:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host" json:"host"`
	Port         int    `mapstructure:"port" json:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `mapstructure:"write_timeout" json:"writeTimeout"` // seconds
}

// RatingConfig tunes the rating pipeline.
type RatingConfig struct {
	// SLATarget is the soft per-calculation latency budget. Advisory only.
	SLATarget time.Duration `mapstructure:"sla_target" json:"slaTarget"`

	// DefaultMaxDiscountRate caps stacked discounts unless a jurisdiction is stricter.
	DefaultMaxDiscountRate float64 `mapstructure:"default_max_discount_rate" json:"defaultMaxDiscountRate"`

	// LatencyWindow is how many recent calculations feed the percentiles.
	LatencyWindow int `mapstructure:"latency_window" json:"latencyWindow"`

	// Currency of every premium amount.
	Currency string `mapstructure:"currency" json:"currency"`
}

// RiskScorerConfig configures the optional AI risk scorer.
type RiskScorerConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	URL     string        `mapstructure:"url" json:"url"`
	APIKey  string        `mapstructure:"api_key" json:"-"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// WorkerConfig configures the recalculation worker.
type WorkerConfig struct {
	Enabled       bool     `mapstructure:"enabled" json:"enabled"`
	Jurisdictions []string `mapstructure:"jurisdictions" json:"jurisdictions"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	ServiceName  string `mapstructure:"service_name" json:"serviceName"`
	ExporterType string `mapstructure:"exporter_type" json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `mapstructure:"endpoint" json:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" json:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process LRU
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 50000,
			LocalTTL:     5 * time.Minute,
			RateTTL:      time.Hour,
			TerritoryTTL: 24 * time.Hour,
			MinimumTTL:   time.Hour,
			ResultTTL:    10 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rating: RatingConfig{
			SLATarget:              50 * time.Millisecond,
			DefaultMaxDiscountRate: 0.40,
			LatencyWindow:          1000,
			Currency:               "USD",
		},
		RiskScorer: RiskScorerConfig{
			Enabled: false,
			Timeout: 20 * time.Millisecond,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.EnableTwoPhase = true
	cfg.Cache.LocalMaxSize = 10000
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
