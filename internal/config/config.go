package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/amazon-search-scraper/internal/consumer"
	"github.com/maltedev/amazon-search-scraper/internal/crawler"
	"github.com/maltedev/amazon-search-scraper/internal/database"
	"github.com/maltedev/amazon-search-scraper/internal/fetch"
	"github.com/maltedev/amazon-search-scraper/internal/models"
	"github.com/maltedev/amazon-search-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-search-scraper/internal/scraper"
	"github.com/maltedev/amazon-search-scraper/internal/storage"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Policy   PolicyConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Output   OutputConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ScraperConfig struct {
	BaseURL        string
	MinDelay       time.Duration
	MaxDelay       time.Duration
	ThrottledDelay time.Duration
	// MaxAttempts caps consecutive failed attempts per page; negative retries forever.
	MaxAttempts    int
	MaxElapsed     time.Duration
	MaxPages       int
	RequestTimeout time.Duration
	DefaultTarget  int
	UserAgents     []string
}

type PolicyConfig struct {
	FailOpen bool
	// UserAgent is sent when fetching robots.txt; rules are always evaluated for "*".
	UserAgent string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

func (d DatabaseConfig) Database() database.Config {
	return database.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.DBName,
		SSLMode:  d.SSLMode,
		MaxConns: d.MaxConns,
	}
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	PollInterval  time.Duration
	BatchSize     int
	ConsumerGroup string
	ConsumerName  string
}

type OutputConfig struct {
	Dir    string
	Suffix string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8084),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			BaseURL:        getEnvOrDefault("SCRAPER_BASE_URL", crawler.DefaultBaseURL),
			MinDelay:       getDurationOrDefault("SCRAPER_MIN_DELAY", ratelimit.DefaultMinDelay),
			MaxDelay:       getDurationOrDefault("SCRAPER_MAX_DELAY", ratelimit.DefaultMaxDelay),
			ThrottledDelay: getDurationOrDefault("SCRAPER_THROTTLED_DELAY", ratelimit.DefaultThrottledDelay),
			MaxAttempts:    getIntOrDefault("SCRAPER_MAX_ATTEMPTS", crawler.DefaultMaxAttempts),
			MaxElapsed:     getDurationOrDefault("SCRAPER_MAX_ELAPSED", 0),
			MaxPages:       getIntOrDefault("SCRAPER_MAX_PAGES", 0),
			RequestTimeout: getDurationOrDefault("SCRAPER_TIMEOUT", 30*time.Second),
			DefaultTarget:  getIntOrDefault("SCRAPER_DEFAULT_TARGET", models.DefaultTargetCount),
			UserAgents:     getStringSliceOrDefault("SCRAPER_USER_AGENTS", fetch.DefaultUserAgents()),
		},
		Policy: PolicyConfig{
			FailOpen:  getBoolOrDefault("ROBOTS_FAIL_OPEN", false),
			UserAgent: getEnvOrDefault("ROBOTS_USER_AGENT", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "amazon_search"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			Stream:        getEnvOrDefault("REDIS_STREAM", database.DefaultTargetStream),
			PollInterval:  getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:     getIntOrDefault("RELAY_BATCH_SIZE", 100),
			ConsumerGroup: getEnvOrDefault("REDIS_CONSUMER_GROUP", consumer.DefaultGroup),
			ConsumerName:  getEnvOrDefault("REDIS_CONSUMER_NAME", consumer.DefaultConsumer),
		},
		Output: OutputConfig{
			Dir:    getEnvOrDefault("OUTPUT_DIR", "."),
			Suffix: getEnvOrDefault("OUTPUT_SUFFIX", storage.DefaultSuffix),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: SERVER_PORT %d out of range", ErrInvalidConfig, c.Server.Port)
	}

	u, err := url.Parse(c.Scraper.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: SCRAPER_BASE_URL must be an absolute http(s) URL", ErrInvalidConfig)
	}

	if c.Scraper.MinDelay < 0 || c.Scraper.ThrottledDelay < 0 {
		return fmt.Errorf("%w: delays cannot be negative", ErrInvalidConfig)
	}
	if c.Scraper.MinDelay > c.Scraper.MaxDelay {
		return fmt.Errorf("%w: SCRAPER_MIN_DELAY cannot be greater than SCRAPER_MAX_DELAY", ErrInvalidConfig)
	}
	if c.Scraper.MaxPages < 0 {
		return fmt.Errorf("%w: SCRAPER_MAX_PAGES cannot be negative", ErrInvalidConfig)
	}
	if c.Scraper.DefaultTarget < 1 {
		return fmt.Errorf("%w: SCRAPER_DEFAULT_TARGET must be at least 1", ErrInvalidConfig)
	}
	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("%w: SCRAPER_USER_AGENTS cannot be empty", ErrInvalidConfig)
	}

	if c.Redis.BatchSize < 1 {
		return fmt.Errorf("%w: RELAY_BATCH_SIZE must be at least 1", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or text", ErrInvalidConfig)
	}

	return nil
}

// Retry translates the attempt and elapsed limits for the fetch loop.
func (s ScraperConfig) Retry() crawler.RetryPolicy {
	return crawler.RetryPolicy{MaxAttempts: s.MaxAttempts, MaxElapsed: s.MaxElapsed}
}

func (c *Config) ScraperOptions() scraper.Options {
	return scraper.Options{
		BaseURL:         c.Scraper.BaseURL,
		MinDelay:        c.Scraper.MinDelay,
		MaxDelay:        c.Scraper.MaxDelay,
		ThrottledDelay:  c.Scraper.ThrottledDelay,
		Retry:           c.Scraper.Retry(),
		MaxPages:        c.Scraper.MaxPages,
		RequestTimeout:  c.Scraper.RequestTimeout,
		UserAgents:      c.Scraper.UserAgents,
		RobotsFailOpen:  c.Policy.FailOpen,
		RobotsUserAgent: c.Policy.UserAgent,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
