// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"
	// Embedded zone data so outreach.timezone resolves on minimal images.
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	DB        DBConfig        `mapstructure:"db"`
	Outreach  OutreachConfig  `mapstructure:"outreach"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	ReadTimeoutSeconds    int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds   int `mapstructure:"write_timeout_seconds"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Table                  string `mapstructure:"table"`
	SettingsTable          string `mapstructure:"settings_table"`
	SettingsKey            string `mapstructure:"settings_key"`
	Migrate                bool   `mapstructure:"migrate"`
}

// OutreachConfig holds the fallback settings used until the backend settings
// load, plus policy switches.
type OutreachConfig struct {
	Timezone        string `mapstructure:"timezone"`
	BusinessPhone   string `mapstructure:"business_phone"`
	DisplayNumber   string `mapstructure:"display_number"`
	DailyLimit      int    `mapstructure:"daily_limit"`
	LimitScanInvite int    `mapstructure:"limit_scan_invite"`
	LimitApify      int    `mapstructure:"limit_apify"`
	DedupFailOpen   bool   `mapstructure:"dedup_fail_open"`
}

// ThrottleConfig configures the in-memory cooldown limiter. Zero disables a knob.
type ThrottleConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	HourlyLimit     int `mapstructure:"hourly_limit"`
}

// PubSubConfig holds metadata for send notifications. Empty TopicName
// disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BreakerConfig tunes the circuit breaker around the backend.
type BreakerConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MaxRequests     uint32  `mapstructure:"max_requests"`
	IntervalSeconds int     `mapstructure:"interval_seconds"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MinRequests     uint32  `mapstructure:"min_requests"`
	FailureRatio    float64 `mapstructure:"failure_ratio"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceVersion string `mapstructure:"service_version"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := outreach.DefaultSettings()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 10)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("server.request_timeout_seconds", 10)
	// AutomaticEnv only sees keys viper already knows about.
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.table", "whatsapp_outreach")
	v.SetDefault("db.settings_table", "app_settings")
	v.SetDefault("db.settings_key", "whatsapp_outreach")
	v.SetDefault("db.migrate", false)
	v.SetDefault("outreach.timezone", "America/Mexico_City")
	v.SetDefault("outreach.business_phone", defaults.BusinessPhone)
	v.SetDefault("outreach.display_number", defaults.DisplayNumber)
	v.SetDefault("outreach.daily_limit", defaults.DailyLimitGlobal)
	v.SetDefault("outreach.limit_scan_invite", defaults.PerSourceLimits[outreach.SourceScanInvite])
	v.SetDefault("outreach.limit_apify", defaults.PerSourceLimits[outreach.SourceApify])
	v.SetDefault("outreach.dedup_fail_open", false)
	v.SetDefault("throttle.cooldown_seconds", 0)
	v.SetDefault("throttle.hourly_limit", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_requests", 3)
	v.SetDefault("breaker.interval_seconds", 60)
	v.SetDefault("breaker.timeout_seconds", 30)
	v.SetDefault("breaker.min_requests", 10)
	v.SetDefault("breaker.failure_ratio", 0.6)
	v.SetDefault("telemetry.tracing_enabled", true)
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Outreach.DailyLimit < 0 || c.Outreach.LimitScanInvite < 0 || c.Outreach.LimitApify < 0 {
		return fmt.Errorf("outreach limits must be >= 0")
	}
	if c.Throttle.CooldownSeconds < 0 || c.Throttle.HourlyLimit < 0 {
		return fmt.Errorf("throttle.cooldown_seconds and throttle.hourly_limit must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Breaker.Enabled && (c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1) {
		return fmt.Errorf("breaker.failure_ratio must be in (0, 1]")
	}
	return nil
}

// Location resolves the business timezone that cuts quota days.
func (c Config) Location() (*time.Location, error) {
	name := c.Outreach.Timezone
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("outreach.timezone %q: %w", name, err)
	}
	return loc, nil
}

// DefaultSettings converts the outreach section into the settings used until
// the backend settings load.
func (c Config) DefaultSettings() outreach.Settings {
	return outreach.Settings{
		BusinessPhone:    c.Outreach.BusinessPhone,
		DisplayNumber:    c.Outreach.DisplayNumber,
		DailyLimitGlobal: c.Outreach.DailyLimit,
		PerSourceLimits: map[outreach.Source]int{
			outreach.SourceScanInvite: c.Outreach.LimitScanInvite,
			outreach.SourceApify:      c.Outreach.LimitApify,
		},
	}
}

// Cooldown returns the per-message cooldown.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Throttle.CooldownSeconds) * time.Second
}

// ConnLifetime returns the pool connection lifetime.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}

// RequestTimeout bounds each HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
