// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
)

// DefaultUserAgent is a current desktop Chrome; the patent site serves
// degraded markup to unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Search    SearchConfig    `mapstructure:"search"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
	MaxResultsLimit       int      `mapstructure:"max_results_limit"`
	CORSAllowedOrigins    []string `mapstructure:"cors_allowed_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RateLimitConfig is the per-client token bucket on extraction routes.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CrawlerConfig governs how runs fetch pages.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	AcceptLanguage    string `mapstructure:"accept_language"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	PolitenessDelayMs int    `mapstructure:"politeness_delay_ms"`
	MaxResultsDefault int    `mapstructure:"max_results_default"`
	FetchMode         string `mapstructure:"fetch_mode"`
}

// SearchConfig names the search endpoints.
type SearchConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	AlternateBaseURL string `mapstructure:"alternate_base_url"`
	AlternateEnabled bool   `mapstructure:"alternate_enabled"`
}

// HeadlessConfig configures the browser fetch mode.
type HeadlessConfig struct {
	ExecPath             string `mapstructure:"exec_path"`
	NavTimeoutSeconds    int    `mapstructure:"nav_timeout_seconds"`
	WaitTimeoutSeconds   int    `mapstructure:"wait_timeout_seconds"`
	LaunchTimeoutSeconds int    `mapstructure:"launch_timeout_seconds"`
}

// StorageConfig selects where session results are kept.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to Postgres when storage.backend is postgres.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig controls access to Redis when storage.backend is redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// TTLHours expires session keys; zero keeps them forever.
	TTLHours int `mapstructure:"ttl_hours"`
}

// PubSubConfig holds metadata for run-completion notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NATSConfig is the alternative notice transport to Pub/Sub.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// WorkerConfig sizes the run queue.
type WorkerConfig struct {
	QueueDepth int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PATENTS")
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
	v.SetDefault("server.request_timeout_seconds", 600)
	v.SetDefault("server.max_results_limit", 50)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("ratelimit.requests_per_second", 2)
	v.SetDefault("ratelimit.burst", 4)
	v.SetDefault("crawler.user_agent", DefaultUserAgent)
	v.SetDefault("crawler.accept_language", "en-US,en;q=0.9")
	v.SetDefault("crawler.timeout_seconds", 60)
	v.SetDefault("crawler.politeness_delay_ms", 600)
	v.SetDefault("crawler.max_results_default", 5)
	v.SetDefault("crawler.fetch_mode", string(crawler.FetchModeAuto))
	v.SetDefault("search.base_url", "https://patents.google.com")
	v.SetDefault("search.alternate_base_url", "https://www.google.com")
	v.SetDefault("search.alternate_enabled", true)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.wait_timeout_seconds", 10)
	v.SetDefault("headless.launch_timeout_seconds", 30)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local_dir", "./data/sessions")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "sessions")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "patent_sessions")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl_hours", 0)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "patents.runs")
	v.SetDefault("worker.queue_depth", 16)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.MaxResultsDefault < 0 {
		return fmt.Errorf("crawler.max_results_default must be >= 0")
	}
	if _, err := crawler.ParseFetchMode(c.Crawler.FetchMode); err != nil {
		return fmt.Errorf("crawler.fetch_mode: %w", err)
	}
	if c.Search.BaseURL == "" {
		return fmt.Errorf("search.base_url is required")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "none":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
		if c.Redis.TTLHours < 0 {
			return fmt.Errorf("redis.ttl_hours must be >= 0")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.NATS.URL != "" {
		if c.PubSub.TopicName != "" {
			return fmt.Errorf("configure either pubsub.topic_name or nats.url, not both")
		}
		if c.NATS.Subject == "" {
			return fmt.Errorf("nats.subject is required when nats.url is set")
		}
	}
	return nil
}

// RunDefaults converts crawler settings into the engine's run defaults.
func (c Config) RunDefaults() crawler.RunConfig {
	mode, _ := crawler.ParseFetchMode(c.Crawler.FetchMode)
	delay := time.Duration(c.Crawler.PolitenessDelayMs) * time.Millisecond
	if c.Crawler.PolitenessDelayMs == 0 {
		delay = -1
	}
	return crawler.RunConfig{
		FetchMode:       mode,
		Timeout:         time.Duration(c.Crawler.TimeoutSeconds) * time.Second,
		PolitenessDelay: delay,
	}
}

// RequestTimeout bounds one API extraction request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
