package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Realtime  RealtimeConfig  `yaml:"realtime" mapstructure:"realtime"`
	Risk      RiskConfig      `yaml:"risk" mapstructure:"risk"`
	Location  LocationConfig  `yaml:"location" mapstructure:"location"`
	Geofence  GeofenceConfig  `yaml:"geofence" mapstructure:"geofence"`
	Incidents IncidentsConfig `yaml:"incidents" mapstructure:"incidents"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Status    StatusConfig    `yaml:"status" mapstructure:"status"`
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the safety backend client.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retry       RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures retries of idempotent backend reads.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the backend circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RealtimeConfig configures the alert channel.
type RealtimeConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	URL                string `yaml:"url" mapstructure:"url"`
	ReconnectInitialMs int    `yaml:"reconnect_initial_ms" mapstructure:"reconnect_initial_ms"`
	ReconnectMaxMs     int    `yaml:"reconnect_max_ms" mapstructure:"reconnect_max_ms"`
	WriteTimeoutSecs   int    `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// RiskConfig configures the area-risk oracle.
type RiskConfig struct {
	Enabled      bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	Threshold    float64 `yaml:"threshold" mapstructure:"threshold"`
	RadiusMeters float64 `yaml:"radius_meters" mapstructure:"radius_meters"`
	CacheTTLSecs int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// LocationConfig configures the foreground and background feeds.
type LocationConfig struct {
	Accuracy                         string  `yaml:"accuracy" mapstructure:"accuracy"`
	TimeIntervalMs                   int     `yaml:"time_interval_ms" mapstructure:"time_interval_ms"`
	DistanceIntervalMeters           float64 `yaml:"distance_interval_meters" mapstructure:"distance_interval_meters"`
	BackgroundTimeIntervalMs         int     `yaml:"background_time_interval_ms" mapstructure:"background_time_interval_ms"`
	BackgroundDistanceIntervalMeters float64 `yaml:"background_distance_interval_meters" mapstructure:"background_distance_interval_meters"`
	UploadPerMinute                  int     `yaml:"upload_per_minute" mapstructure:"upload_per_minute"`
	TrackFile                        string  `yaml:"track_file" mapstructure:"track_file"`
}

// GeofenceConfig configures zone evaluation.
type GeofenceConfig struct {
	CheckIntervalSecs int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	RefreshSchedule   string `yaml:"refresh_schedule" mapstructure:"refresh_schedule"`
	ZonesFile         string `yaml:"zones_file" mapstructure:"zones_file"`
}

// IncidentsConfig configures the incident window.
type IncidentsConfig struct {
	RadiusMeters float64 `yaml:"radius_meters" mapstructure:"radius_meters"`
	MaxAlerts    int     `yaml:"max_alerts" mapstructure:"max_alerts"`
}

// NotifyConfig configures local notification sinks.
type NotifyConfig struct {
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookTimeoutSecs int    `yaml:"webhook_timeout_secs" mapstructure:"webhook_timeout_secs"`
}

// StoreConfig configures local persisted state.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StatusConfig configures the local status endpoint. Port 0 disables it.
type StatusConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SessionConfig configures token renewal.
type SessionConfig struct {
	RefreshSkewSecs    int `yaml:"refresh_skew_secs" mapstructure:"refresh_skew_secs"`
	RefreshTimeoutSecs int `yaml:"refresh_timeout_secs" mapstructure:"refresh_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CheckInterval returns the safety-check cadence.
func (g GeofenceConfig) CheckInterval() time.Duration {
	return time.Duration(g.CheckIntervalSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SAFEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "http://localhost:4000/api")
	v.SetDefault("api.timeout_secs", 15)
	v.SetDefault("api.retry.max_attempts", 3)
	v.SetDefault("api.retry.initial_backoff_ms", 500)
	v.SetDefault("api.retry.max_backoff_ms", 5000)
	v.SetDefault("api.circuit.failure_threshold", 5)
	v.SetDefault("api.circuit.reset_timeout_secs", 30)
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.url", "ws://localhost:4000/ws")
	v.SetDefault("realtime.reconnect_initial_ms", 1000)
	v.SetDefault("realtime.reconnect_max_ms", 30000)
	v.SetDefault("realtime.write_timeout_secs", 10)
	v.SetDefault("risk.enabled", true)
	v.SetDefault("risk.base_url", "http://localhost:5000")
	v.SetDefault("risk.threshold", 0.7)
	v.SetDefault("risk.radius_meters", 1000)
	v.SetDefault("risk.cache_ttl_secs", 300)
	v.SetDefault("location.accuracy", "high")
	v.SetDefault("location.time_interval_ms", 5000)
	v.SetDefault("location.distance_interval_meters", 10)
	v.SetDefault("location.background_time_interval_ms", 60000)
	v.SetDefault("location.background_distance_interval_meters", 100)
	v.SetDefault("location.upload_per_minute", 12)
	v.SetDefault("geofence.check_interval_secs", 30)
	v.SetDefault("geofence.refresh_schedule", "@every 10m")
	v.SetDefault("incidents.radius_meters", 5000)
	v.SetDefault("incidents.max_alerts", 50)
	v.SetDefault("notify.webhook_timeout_secs", 10)
	v.SetDefault("store.path", "safewatch.db")
	v.SetDefault("status.port", 0)
	v.SetDefault("status.allowed_origins", []string{})
	v.SetDefault("session.refresh_skew_secs", 60)
	v.SetDefault("session.refresh_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks URLs and intervals.
func (c *Config) Validate() error {
	if err := checkURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Realtime.Enabled {
		if err := checkURL("realtime.url", c.Realtime.URL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Risk.Enabled {
		if err := checkURL("risk.base_url", c.Risk.BaseURL, "http", "https"); err != nil {
			return err
		}
		if c.Risk.Threshold < 0 || c.Risk.Threshold > 1 {
			return eris.Errorf("config: risk.threshold must be within [0,1], got %v", c.Risk.Threshold)
		}
	}
	if c.Notify.WebhookURL != "" {
		if err := checkURL("notify.webhook_url", c.Notify.WebhookURL, "http", "https"); err != nil {
			return err
		}
	}
	if c.Location.TimeIntervalMs <= 0 || c.Location.BackgroundTimeIntervalMs <= 0 {
		return eris.New("config: location time intervals must be positive")
	}
	if c.Location.DistanceIntervalMeters < 0 || c.Location.BackgroundDistanceIntervalMeters < 0 {
		return eris.New("config: location distance intervals must not be negative")
	}
	if c.Geofence.CheckIntervalSecs <= 0 {
		return eris.New("config: geofence.check_interval_secs must be positive")
	}
	if c.Incidents.MaxAlerts <= 0 {
		return eris.New("config: incidents.max_alerts must be positive")
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return eris.Errorf("config: status.port out of range: %d", c.Status.Port)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return eris.Wrapf(err, "config: parse %s", key)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return eris.Errorf("config: %s must be a %s URL, got %q", key, strings.Join(schemes, "/"), raw)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
