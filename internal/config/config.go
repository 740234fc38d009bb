// Package config loads the service configuration from an optional YAML file
// and KESTREL_* environment variables on top of the tier defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is the prefix of every environment override.
// rating.sla_target is read from KESTREL_RATING_SLA_TARGET.
const EnvPrefix = "KESTREL"

// ErrInvalid is returned when a loaded value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. The tier defaults are chosen from the tier key so a
// file or KESTREL_TIER=pro starts from ProConfig.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		cfg = domain.ProConfig()
	}
	setDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override
// keys the file does not mention.
func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("tier", string(cfg.Tier))

	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	v.SetDefault("repository.driver", cfg.Repository.Driver)
	v.SetDefault("repository.sqlite_path", cfg.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", cfg.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", cfg.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", cfg.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", cfg.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", cfg.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", cfg.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", cfg.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", cfg.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", cfg.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", cfg.Cache.EnableTwoPhase)
	v.SetDefault("cache.rate_ttl", cfg.Cache.RateTTL)
	v.SetDefault("cache.territory_ttl", cfg.Cache.TerritoryTTL)
	v.SetDefault("cache.minimum_ttl", cfg.Cache.MinimumTTL)
	v.SetDefault("cache.result_ttl", cfg.Cache.ResultTTL)

	v.SetDefault("event_bus.type", cfg.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)

	v.SetDefault("rating.sla_target", cfg.Rating.SLATarget)
	v.SetDefault("rating.default_max_discount_rate", cfg.Rating.DefaultMaxDiscountRate)
	v.SetDefault("rating.latency_window", cfg.Rating.LatencyWindow)
	v.SetDefault("rating.currency", cfg.Rating.Currency)

	v.SetDefault("risk_scorer.enabled", cfg.RiskScorer.Enabled)
	v.SetDefault("risk_scorer.url", cfg.RiskScorer.URL)
	v.SetDefault("risk_scorer.api_key", cfg.RiskScorer.APIKey)
	v.SetDefault("risk_scorer.timeout", cfg.RiskScorer.Timeout)

	v.SetDefault("worker.enabled", cfg.Worker.Enabled)
	v.SetDefault("worker.jurisdictions", cfg.Worker.Jurisdictions)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.exporter_type", cfg.Tracing.ExporterType)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

// Validate rejects values no component can run with.
func Validate(cfg *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(cfg.Tier == domain.TierCommunity || cfg.Tier == domain.TierPro, "tier %q", cfg.Tier)
	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536, "server.port %d", cfg.Server.Port)
	check(cfg.Repository.Driver == "sqlite" || cfg.Repository.Driver == "postgres", "repository.driver %q", cfg.Repository.Driver)
	check(cfg.Cache.Type == "memory" || cfg.Cache.Type == "redis", "cache.type %q", cfg.Cache.Type)
	check(cfg.Cache.Type != "redis" || cfg.Cache.RedisAddr != "", "cache.redis_addr is required for redis")
	check(cfg.EventBus.Type == "channel" || cfg.EventBus.Type == "nats", "event_bus.type %q", cfg.EventBus.Type)
	check(cfg.EventBus.Type != "nats" || cfg.EventBus.NATSUrl != "", "event_bus.nats_url is required for nats")
	check(cfg.Rating.SLATarget > 0, "rating.sla_target must be positive")
	check(cfg.Rating.DefaultMaxDiscountRate > 0 && cfg.Rating.DefaultMaxDiscountRate <= 1,
		"rating.default_max_discount_rate %v not in (0, 1]", cfg.Rating.DefaultMaxDiscountRate)
	check(cfg.Rating.Currency != "", "rating.currency is required")
	check(!cfg.RiskScorer.Enabled || cfg.RiskScorer.URL != "", "risk_scorer.url is required when enabled")

	return errors.Join(errs...)
}
