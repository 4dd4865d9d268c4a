// Package config loads and validates catalog crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/extract/selector"
	"github.com/JakeFAU/tcg-catalog-crawler/internal/policy/ratelimit"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Archive and notify providers.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderLog    = "log"
	ProviderPubSub = "pubsub"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	DB      DBConfig                       `mapstructure:"db"`
	Fetch   FetchConfig                    `mapstructure:"fetch"`
	Drain   DrainConfig                    `mapstructure:"drain"`
	Archive ArchiveConfig                  `mapstructure:"archive"`
	Notify  NotifyConfig                   `mapstructure:"notify"`
	Metrics MetricsConfig                  `mapstructure:"metrics"`
	Server  ServerConfig                   `mapstructure:"server"`
	Logging LoggingConfig                  `mapstructure:"logging"`
	Sources map[string]selector.Definition `mapstructure:"sources"`
}

// DBConfig controls access to the frontier store.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// FetchConfig configures both page fetchers.
type FetchConfig struct {
	UserAgent           string            `mapstructure:"user_agent"`
	TimeoutSeconds      int               `mapstructure:"timeout_seconds"`
	RespectRobots       bool              `mapstructure:"respect_robots"`
	Headers             map[string]string `mapstructure:"headers"`
	HeadlessMaxParallel int               `mapstructure:"headless_max_parallel"`
	NavTimeoutSeconds   int               `mapstructure:"nav_timeout_seconds"`
	// HeadlessWaitSelector must match before a rendered page is captured.
	HeadlessWaitSelector string `mapstructure:"headless_wait_selector"`
	HeadlessScroll       bool   `mapstructure:"headless_scroll"`
	// PromoteHeadless refetches application-shell pages through the browser.
	PromoteHeadless  bool `mapstructure:"promote_headless"`
	PromoteThreshold int  `mapstructure:"promote_threshold"`
}

// DrainConfig paces claim loops.
type DrainConfig struct {
	// ClaimDelay is slept between lease claims.
	ClaimDelay    time.Duration `mapstructure:"claim_delay"`
	MaxItems      int           `mapstructure:"max_items"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Hosts         []HostRate    `mapstructure:"hosts"`
}

// HostRate overrides the drain rate for one host. Hosts are a list rather
// than a map because viper splits map keys on dots.
type HostRate struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ArchiveConfig selects where raw pages and images are written.
type ArchiveConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseDir      string `mapstructure:"base_dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	SkipExisting bool   `mapstructure:"skip_existing"`
}

// NotifyConfig selects where sync events are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig configures pushgateway delivery for batch commands.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

// ServerConfig controls the status server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional file and CATALOG_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
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
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("fetch.user_agent", "tcg-catalog-crawler/0.1")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.headless_max_parallel", 1)
	v.SetDefault("fetch.nav_timeout_seconds", 30)
	v.SetDefault("fetch.promote_threshold", 2048)
	v.SetDefault("drain.claim_delay", time.Second)
	v.SetDefault("drain.max_items", 0)
	v.SetDefault("drain.rate_per_second", 1.0)
	v.SetDefault("drain.burst", 1)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.topic", "catalog-sync")
	v.SetDefault("metrics.job", "tcg-catalog-crawler")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("db.driver %q must be postgres or memory", c.DB.Driver))
	}
	if c.DB.MinConns > c.DB.MaxConns {
		errs = append(errs, errors.New("db.min_conns must be <= db.max_conns"))
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("fetch.timeout_seconds must be > 0"))
	}
	if c.Fetch.HeadlessMaxParallel <= 0 {
		errs = append(errs, errors.New("fetch.headless_max_parallel must be > 0"))
	}
	if c.Drain.ClaimDelay < 0 || c.Drain.MaxItems < 0 || c.Drain.RatePerSecond < 0 {
		errs = append(errs, errors.New("drain settings must not be negative"))
	}
	switch c.Archive.Provider {
	case ProviderNone, "":
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local provider"))
		}
	case ProviderGCS:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.provider %q must be none, local or gcs", c.Archive.Provider))
	}
	switch c.Notify.Provider {
	case ProviderNone, "", ProviderLog:
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			errs = append(errs, errors.New("notify.project_id and notify.topic are required for pubsub"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.provider %q must be none, log or pubsub", c.Notify.Provider))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	for name, def := range c.Sources {
		if _, err := selector.New(name, def); err != nil {
			errs = append(errs, fmt.Errorf("sources.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Source builds the named selector source.
func (c Config) Source(name string) (*selector.Source, error) {
	def, ok := c.Sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}
	src, err := selector.New(name, def)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	return src, nil
}

// FetchTimeout converts the fetch timeout to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout to a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Fetch.NavTimeoutSeconds) * time.Second
}

// FetchHeaders returns the configured request headers.
func (c Config) FetchHeaders() http.Header {
	h := make(http.Header, len(c.Fetch.Headers))
	for k, v := range c.Fetch.Headers {
		h.Set(k, v)
	}
	return h
}

// RateLimit returns the limiter settings for the drain loop.
func (c Config) RateLimit() ratelimit.Config {
	hosts := make(map[string]ratelimit.HostLimit, len(c.Drain.Hosts))
	for _, h := range c.Drain.Hosts {
		hosts[h.Host] = ratelimit.HostLimit{RPS: h.RPS, Burst: h.Burst}
	}
	return ratelimit.Config{
		DefaultRPS:   c.Drain.RatePerSecond,
		DefaultBurst: c.Drain.Burst,
		Hosts:        hosts,
	}
}
