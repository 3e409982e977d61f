// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pricewatch/internal/logging"
	"github.com/JakeFAU/pricewatch/internal/scheduler"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// EnvPrefix prefixes every environment override, e.g. PRICEWATCH_SERVER_PORT.
const EnvPrefix = "PRICEWATCH"

const dateLayout = "2006-01-02"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Auth       AuthConfig        `mapstructure:"auth"`
	Logging    logging.Config    `mapstructure:"logging"`
	Scheduler  SchedulerConfig   `mapstructure:"scheduler"`
	Scrape     ScrapeConfig      `mapstructure:"scrape"`
	Listing    ListingConfig     `mapstructure:"listing"`
	Cache      CacheConfig       `mapstructure:"cache"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Mail       MailConfig        `mapstructure:"mail"`
	PubSub     PubSubConfig      `mapstructure:"pubsub"`
	Telemetry  TelemetryConfig   `mapstructure:"telemetry"`
	SaleEvents []SaleEventConfig `mapstructure:"sale_events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig sets the daily trigger.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Time     string `mapstructure:"time"`
	Timezone string `mapstructure:"timezone"`
}

// ScrapeConfig tunes scrape sessions and planning.
type ScrapeConfig struct {
	DefaultDepth   int     `mapstructure:"default_depth"`
	MaxDepth       int     `mapstructure:"max_depth"`
	MatchThreshold float64 `mapstructure:"match_threshold"`
	FreshnessDays  int     `mapstructure:"freshness_days"`
}

// ListingConfig selects and configures the listing source.
type ListingConfig struct {
	Backend           string        `mapstructure:"backend"`
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	ShowBrowser       bool          `mapstructure:"show_browser"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ChallengeAttempts int           `mapstructure:"challenge_attempts"`
	AnswerLength      int           `mapstructure:"answer_length"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PageRate          float64       `mapstructure:"page_rate"`
	PageBurst         int           `mapstructure:"page_burst"`
	FetchAvailability bool          `mapstructure:"fetch_availability"`
}

// CacheConfig selects the ephemeral result cache.
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig addresses the redis cache backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// StorageConfig selects where challenge snapshots are kept.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory repositories.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// MailConfig selects the alert transport.
type MailConfig struct {
	Backend  string `mapstructure:"backend"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	TLS      bool   `mapstructure:"tls"`
}

// PubSubConfig holds the Pub/Sub project and topics.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	AlertTopic string `mapstructure:"alert_topic"`
	BatchTopic string `mapstructure:"batch_topic"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	ServiceName    string `mapstructure:"service_name"`
}

// SaleEventConfig is one calendar window with inclusive YYYY-MM-DD bounds.
type SaleEventConfig struct {
	Name  string `mapstructure:"name"`
	Start string `mapstructure:"start"`
	End   string `mapstructure:"end"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.time", "03:00")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scrape.default_depth", tracker.DefaultDepth)
	v.SetDefault("scrape.max_depth", tracker.MaxDepth)
	v.SetDefault("scrape.match_threshold", 75.0)
	v.SetDefault("scrape.freshness_days", 7)
	v.SetDefault("listing.backend", "headless")
	v.SetDefault("listing.base_url", "https://www.amazon.com")
	v.SetDefault("listing.user_agent", "")
	v.SetDefault("listing.navigation_timeout", "45s")
	v.SetDefault("listing.show_browser", false)
	v.SetDefault("listing.settle_delay", "2s")
	v.SetDefault("listing.challenge_attempts", 10)
	v.SetDefault("listing.answer_length", 6)
	v.SetDefault("listing.poll_interval", "1s")
	v.SetDefault("listing.page_rate", 0.5)
	v.SetDefault("listing.page_burst", 1)
	v.SetDefault("listing.fetch_availability", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.redis.address", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "pricewatch:results:")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.base_dir", "data/challenges")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("mail.backend", "log")
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 587)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.tls", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.alert_topic", "price-alerts")
	v.SetDefault("pubsub.batch_topic", "")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "pricewatch")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := scheduler.CronSpec(c.Scheduler.Time); err != nil {
		return fmt.Errorf("scheduler.time: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Scrape.MaxDepth < 1 || c.Scrape.MaxDepth > tracker.MaxDepth {
		return fmt.Errorf("scrape.max_depth must be between 1 and %d", tracker.MaxDepth)
	}
	if c.Scrape.DefaultDepth < 1 || c.Scrape.DefaultDepth > c.Scrape.MaxDepth {
		return fmt.Errorf("scrape.default_depth must be between 1 and scrape.max_depth")
	}
	if c.Scrape.MatchThreshold <= 0 || c.Scrape.MatchThreshold > 100 {
		return fmt.Errorf("scrape.match_threshold must be within (0,100]")
	}
	if c.Scrape.FreshnessDays < 1 {
		return fmt.Errorf("scrape.freshness_days must be > 0")
	}
	switch c.Listing.Backend {
	case "headless", "colly":
	default:
		return fmt.Errorf("listing.backend must be headless or colly, got %q", c.Listing.Backend)
	}
	if c.Listing.BaseURL == "" {
		return fmt.Errorf("listing.base_url is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("cache.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local or gcs, got %q", c.Storage.Backend)
	}
	switch c.Mail.Backend {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.From == "" {
			return fmt.Errorf("mail.host and mail.from are required for the smtp backend")
		}
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.AlertTopic == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.alert_topic are required for the pubsub mail backend")
		}
	default:
		return fmt.Errorf("mail.backend must be smtp, pubsub or log, got %q", c.Mail.Backend)
	}
	if c.PubSub.BatchTopic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.batch_topic is set")
	}
	if _, err := c.Calendar(); err != nil {
		return err
	}
	return nil
}

// Location resolves the scheduler timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// Calendar parses the configured sale events. It returns nil when none are
// configured, leaving the built-in calendar in force.
func (c Config) Calendar() ([]tracker.SaleEvent, error) {
	if len(c.SaleEvents) == 0 {
		return nil, nil
	}
	events := make([]tracker.SaleEvent, 0, len(c.SaleEvents))
	for i, ev := range c.SaleEvents {
		name := strings.TrimSpace(ev.Name)
		if name == "" {
			return nil, fmt.Errorf("sale_events[%d].name is required", i)
		}
		start, err := time.Parse(dateLayout, ev.Start)
		if err != nil {
			return nil, fmt.Errorf("sale_events[%d].start: %w", i, err)
		}
		end, err := time.Parse(dateLayout, ev.End)
		if err != nil {
			return nil, fmt.Errorf("sale_events[%d].end: %w", i, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("sale_events[%d]: end before start", i)
		}
		events = append(events, tracker.SaleEvent{Name: name, Start: start, End: end})
	}
	return events, nil
}
