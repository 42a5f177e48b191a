package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/jobtracker/internal/model"
)

// Config is the root configuration for the job tracker.
type Config struct {
	USAJobs      USAJobsConfig
	Store        StoreConfig
	Cache        CacheConfig
	Schedule     ScheduleConfig
	Retry        RetryConfig
	RateLimit    RateLimitConfig
	Notification NotificationConfig
	HTTP         HTTPConfig
}

// USAJobsConfig holds the source API endpoint and credentials.
type USAJobsConfig struct {
	BaseURL        string        `env:"JOBTRACKER_USAJOBS_BASE_URL"`
	APIUser        string        `env:"API_USER"` // sent as User-Agent
	APIKey         string        `env:"API_KEY"`
	ResultsPerPage int           `env:"JOBTRACKER_USAJOBS_RESULTS_PER_PAGE"`
	MaxPages       int           `env:"JOBTRACKER_USAJOBS_MAX_PAGES"`
	Concurrency    int           `env:"JOBTRACKER_USAJOBS_CONCURRENCY"`
	Timeout        time.Duration `env:"JOBTRACKER_USAJOBS_TIMEOUT"`
}

// RequireCredentials reports whether the API user and key needed for a
// search are present.
func (u USAJobsConfig) RequireCredentials() error {
	if u.APIUser == "" || u.APIKey == "" {
		return fmt.Errorf("usajobs.api_user and usajobs.api_key are required (or set API_USER and API_KEY)")
	}
	return nil
}

// StoreConfig selects and configures the record store backend.
type StoreConfig struct {
	Driver     string        `env:"JOBTRACKER_STORE_DRIVER"` // sqlite, postgres, mongo or memory
	Path       string        `env:"JOBTRACKER_STORE_PATH"`   // sqlite file
	URL        string        `env:"JOBTRACKER_STORE_URL"`    // postgres URL
	MongoURI   string        `env:"MONGO_URI"`
	Database   string        `env:"JOBTRACKER_STORE_DATABASE"`
	Collection string        `env:"JOBTRACKER_STORE_COLLECTION"`
	OpTimeout  time.Duration `env:"JOBTRACKER_STORE_OP_TIMEOUT"`
}

// CacheConfig enables the Redis search cache when RedisURL is set.
type CacheConfig struct {
	RedisURL string        `env:"JOBTRACKER_REDIS_URL"`
	TTL      time.Duration `env:"JOBTRACKER_CACHE_TTL"`
}

// ScheduleConfig lists the queries the scheduler runs and how often.
type ScheduleConfig struct {
	Spec    string `env:"JOBTRACKER_SCHEDULE"`
	Queries []model.Query
}

// RetryConfig controls retries of transient upstream failures.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// RateLimitConfig sets the minimum gap between requests to one source.
type RateLimitConfig struct {
	MinDelay time.Duration `env:"JOBTRACKER_RATE_LIMIT_MIN_DELAY"`
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type" env:"JOBTRACKER_NOTIFICATION_TYPE"` // "log" or "slack"
	WebhookURL string `yaml:"webhook_url" env:"SLACK_WEBHOOK_URL"`     // required if type is "slack"
}

type HTTPConfig struct {
	Addr string `env:"JOBTRACKER_HTTP_ADDR"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

const (
	defaultStorePath      = "jobtracker.db"
	defaultDatabase       = "job_tracker"
	defaultCollection     = "jobs"
	defaultOpTimeout      = 30 * time.Second
	defaultCacheTTL       = 15 * time.Minute
	defaultSpec           = "@every 6h"
	defaultMaxRetries     = 3
	defaultBaseDelay      = 2 * time.Second
	defaultMaxDelay       = 30 * time.Second
	defaultMinDelay       = 1 * time.Second
	defaultHTTPAddr       = ":5000"
	defaultUSAJobsTimeout = 30 * time.Second
)

// rawConfig is used for YAML unmarshaling (snake_case fields and durations as strings).
type rawConfig struct {
	USAJobs      rawUSAJobsConfig   `yaml:"usajobs"`
	Store        rawStoreConfig     `yaml:"store"`
	Cache        rawCacheConfig     `yaml:"cache"`
	Schedule     rawScheduleConfig  `yaml:"schedule"`
	Retry        rawRetryConfig     `yaml:"retry"`
	RateLimit    rawRateLimitConfig `yaml:"rate_limit"`
	Notification NotificationConfig `yaml:"notification"`
	HTTP         rawHTTPConfig      `yaml:"http"`
}

type rawUSAJobsConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIUser        string `yaml:"api_user"`
	APIKey         string `yaml:"api_key"`
	ResultsPerPage int    `yaml:"results_per_page"`
	MaxPages       int    `yaml:"max_pages"`
	Concurrency    int    `yaml:"concurrency"`
	Timeout        string `yaml:"timeout"`
}

type rawStoreConfig struct {
	Driver     string `yaml:"driver"`
	Path       string `yaml:"path"`
	URL        string `yaml:"url"`
	MongoURI   string `yaml:"mongo_uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	OpTimeout  string `yaml:"op_timeout"`
}

type rawCacheConfig struct {
	RedisURL string `yaml:"redis_url"`
	TTL      string `yaml:"ttl"`
}

type rawScheduleConfig struct {
	Spec    string        `yaml:"spec"`
	Queries []model.Query `yaml:"queries"`
}

type rawRetryConfig struct {
	MaxRetries *int   `yaml:"max_retries"`
	BaseDelay  string `yaml:"base_delay"`
	MaxDelay   string `yaml:"max_delay"`
}

type rawRateLimitConfig struct {
	MinDelay string `yaml:"min_delay"`
}

type rawHTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML config at path, applies defaults and environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	var raw rawConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg, err := fromRaw(raw)
	if err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromRaw(raw rawConfig) (*Config, error) {
	usajobsTimeout, err := durationOr(raw.USAJobs.Timeout, defaultUSAJobsTimeout, "usajobs.timeout")
	if err != nil {
		return nil, err
	}
	opTimeout, err := durationOr(raw.Store.OpTimeout, defaultOpTimeout, "store.op_timeout")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := durationOr(raw.Cache.TTL, defaultCacheTTL, "cache.ttl")
	if err != nil {
		return nil, err
	}
	baseDelay, err := durationOr(raw.Retry.BaseDelay, defaultBaseDelay, "retry.base_delay")
	if err != nil {
		return nil, err
	}
	maxDelay, err := durationOr(raw.Retry.MaxDelay, defaultMaxDelay, "retry.max_delay")
	if err != nil {
		return nil, err
	}
	minDelay, err := durationOr(raw.RateLimit.MinDelay, defaultMinDelay, "rate_limit.min_delay")
	if err != nil {
		return nil, err
	}

	maxRetries := defaultMaxRetries
	if raw.Retry.MaxRetries != nil {
		maxRetries = *raw.Retry.MaxRetries
	}

	notification := raw.Notification
	if notification.Type == "" {
		notification.Type = "log"
	}

	return &Config{
		USAJobs: USAJobsConfig{
			BaseURL:        raw.USAJobs.BaseURL,
			APIUser:        raw.USAJobs.APIUser,
			APIKey:         raw.USAJobs.APIKey,
			ResultsPerPage: raw.USAJobs.ResultsPerPage,
			MaxPages:       raw.USAJobs.MaxPages,
			Concurrency:    raw.USAJobs.Concurrency,
			Timeout:        usajobsTimeout,
		},
		Store: StoreConfig{
			Driver:     stringOr(raw.Store.Driver, DriverSQLite),
			Path:       stringOr(raw.Store.Path, defaultStorePath),
			URL:        raw.Store.URL,
			MongoURI:   raw.Store.MongoURI,
			Database:   stringOr(raw.Store.Database, defaultDatabase),
			Collection: stringOr(raw.Store.Collection, defaultCollection),
			OpTimeout:  opTimeout,
		},
		Cache: CacheConfig{
			RedisURL: raw.Cache.RedisURL,
			TTL:      cacheTTL,
		},
		Schedule: ScheduleConfig{
			Spec:    stringOr(raw.Schedule.Spec, defaultSpec),
			Queries: raw.Schedule.Queries,
		},
		Retry: RetryConfig{
			MaxRetries: maxRetries,
			BaseDelay:  baseDelay,
			MaxDelay:   maxDelay,
		},
		RateLimit:    RateLimitConfig{MinDelay: minDelay},
		Notification: notification,
		HTTP:         HTTPConfig{Addr: stringOr(raw.HTTP.Addr, defaultHTTPAddr)},
	}, nil
}

func durationOr(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case DriverSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.Store.URL == "" {
			return fmt.Errorf("store.url is required for the postgres driver")
		}
	case DriverMongo:
		if cfg.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri (or MONGO_URI) is required for the mongo driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of sqlite, postgres, mongo, memory; got %q", cfg.Store.Driver)
	}
	if cfg.Store.OpTimeout <= 0 {
		return fmt.Errorf("store.op_timeout must be positive, got %v", cfg.Store.OpTimeout)
	}

	if cfg.Cache.RedisURL != "" && cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", cfg.Cache.TTL)
	}

	for i, q := range cfg.Schedule.Queries {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("schedule.queries[%d]: %w", i, err)
		}
	}

	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseDelay <= 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base_delay <= max_delay, got %v and %v", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	if cfg.RateLimit.MinDelay < 0 {
		return fmt.Errorf("rate_limit.min_delay must not be negative, got %v", cfg.RateLimit.MinDelay)
	}
	if cfg.USAJobs.Timeout <= 0 {
		return fmt.Errorf("usajobs.timeout must be positive, got %v", cfg.USAJobs.Timeout)
	}

	switch cfg.Notification.Type {
	case "log":
	case "slack":
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	default:
		return fmt.Errorf("notification.type must be \"log\" or \"slack\", got %q", cfg.Notification.Type)
	}

	return nil
}
