package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/maltedev/stall-scraper/internal/parser"
)

type Config struct {
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Database DatabaseConfig
	Server   ServerConfig
	Notify   NotifyConfig
	Logging  LoggingConfig
}

type ScraperConfig struct {
	StartURL   string
	MaxPages   int
	MaxRetries int
	RetryDelay time.Duration
	// PageDelay and PageDelayMax bound the pause between listing pages.
	PageDelay    time.Duration
	PageDelayMax time.Duration
	Timeout      time.Duration
	Proxy        string
	UserAgent    string
	ImageDir     string
	ImageWorkers int
	// FetchMode is "http" or "browser".
	FetchMode string
	Selectors parser.Selectors
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
}

type CacheConfig struct {
	// Type is "redis" or "memory".
	Type          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	PriceTTL      time.Duration
}

type StorageConfig struct {
	// Type is "json", "postgres" or "sqlite".
	Type       string
	Dir        string
	Pretty     bool
	SQLitePath string
}

type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

type ServerConfig struct {
	OpsAddr         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type NotifyConfig struct {
	// Stream is the Redis stream receiving events. Empty disables publishing.
	Stream string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Scraper: ScraperConfig{
			MaxPages:     1,
			MaxRetries:   3,
			RetryDelay:   time.Second,
			PageDelay:    time.Second,
			Timeout:      30 * time.Second,
			ImageDir:     "./images",
			ImageWorkers: 1,
			FetchMode:    "http",
			Selectors:    parser.DefaultSelectors(),
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			Locale:         "en-US",
		},
		Cache: CacheConfig{
			Type:      "redis",
			RedisAddr: "localhost:6379",
			PriceTTL:  time.Hour,
		},
		Storage: StorageConfig{
			Type:       "json",
			Dir:        ".",
			Pretty:     true,
			SQLitePath: "catalog.db",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			DBName:   "stall_scraper",
			SSLMode:  "disable",
			MaxConns: 5,
		},
		Server: ServerConfig{
			OpsAddr:         ":9090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and finally the environment. An empty path falls back to
// SCRAPER_CONFIG_FILE.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("SCRAPER_CONFIG_FILE")
	}
	if path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		file.apply(cfg)
	}

	cfg.applyEnv()

	if cfg.Scraper.PageDelayMax == 0 {
		cfg.Scraper.PageDelayMax = cfg.Scraper.PageDelay
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	s := &c.Scraper
	s.StartURL = getEnvOrDefault("SCRAPER_START_URL", s.StartURL)
	s.MaxPages = getIntOrDefault("SCRAPER_MAX_PAGES", s.MaxPages)
	s.MaxRetries = getIntOrDefault("SCRAPER_MAX_RETRIES", s.MaxRetries)
	s.RetryDelay = getDurationOrDefault("SCRAPER_RETRY_DELAY", s.RetryDelay)
	s.PageDelay = getDurationOrDefault("SCRAPER_PAGE_DELAY", s.PageDelay)
	s.PageDelayMax = getDurationOrDefault("SCRAPER_PAGE_DELAY_MAX", s.PageDelayMax)
	s.Timeout = getDurationOrDefault("SCRAPER_TIMEOUT", s.Timeout)
	s.Proxy = getEnvOrDefault("SCRAPER_PROXY", s.Proxy)
	s.UserAgent = getEnvOrDefault("SCRAPER_USER_AGENT", s.UserAgent)
	s.ImageDir = getEnvOrDefault("SCRAPER_IMAGE_DIR", s.ImageDir)
	s.ImageWorkers = getIntOrDefault("SCRAPER_IMAGE_WORKERS", s.ImageWorkers)
	s.FetchMode = getEnvOrDefault("SCRAPER_FETCH_MODE", s.FetchMode)

	b := &c.Browser
	b.Headless = getBoolOrDefault("BROWSER_HEADLESS", b.Headless)
	b.Timeout = getDurationOrDefault("BROWSER_TIMEOUT", b.Timeout)
	b.Locale = getEnvOrDefault("BROWSER_LOCALE", b.Locale)

	ca := &c.Cache
	ca.Type = getEnvOrDefault("CACHE_TYPE", ca.Type)
	ca.RedisAddr = getEnvOrDefault("REDIS_ADDR", ca.RedisAddr)
	ca.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", ca.RedisPassword)
	ca.RedisDB = getIntOrDefault("REDIS_DB", ca.RedisDB)
	ca.KeyPrefix = getEnvOrDefault("CACHE_KEY_PREFIX", ca.KeyPrefix)
	ca.PriceTTL = getDurationOrDefault("CACHE_PRICE_TTL", ca.PriceTTL)

	st := &c.Storage
	st.Type = getEnvOrDefault("STORAGE_TYPE", st.Type)
	st.Dir = getEnvOrDefault("STORAGE_DIR", st.Dir)
	st.Pretty = getBoolOrDefault("STORAGE_PRETTY", st.Pretty)
	st.SQLitePath = getEnvOrDefault("SQLITE_PATH", st.SQLitePath)

	db := &c.Database
	db.URL = getEnvOrDefault("DATABASE_URL", db.URL)
	db.Host = getEnvOrDefault("DB_HOST", db.Host)
	db.Port = getIntOrDefault("DB_PORT", db.Port)
	db.User = getEnvOrDefault("DB_USER", db.User)
	db.Password = getEnvOrDefault("DB_PASSWORD", db.Password)
	db.DBName = getEnvOrDefault("DB_NAME", db.DBName)
	db.SSLMode = getEnvOrDefault("DB_SSL_MODE", db.SSLMode)
	db.MaxConns = getIntOrDefault("DB_MAX_CONNS", db.MaxConns)

	c.Server.OpsAddr = getEnvOrDefault("OPS_ADDR", c.Server.OpsAddr)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Notify.Stream = getEnvOrDefault("NOTIFY_STREAM", c.Notify.Stream)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("SCRAPER_MAX_PAGES must be at least 1")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	if c.Scraper.ImageWorkers < 1 {
		return fmt.Errorf("SCRAPER_IMAGE_WORKERS must be at least 1")
	}

	if c.Scraper.PageDelay < 0 {
		return fmt.Errorf("SCRAPER_PAGE_DELAY cannot be negative")
	}

	if c.Scraper.PageDelay > c.Scraper.PageDelayMax {
		return fmt.Errorf("SCRAPER_PAGE_DELAY cannot be greater than SCRAPER_PAGE_DELAY_MAX")
	}

	switch c.Scraper.FetchMode {
	case "http", "browser":
	default:
		return fmt.Errorf("unknown SCRAPER_FETCH_MODE %q", c.Scraper.FetchMode)
	}

	switch c.Cache.Type {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}

	if c.Cache.PriceTTL < 0 {
		return fmt.Errorf("CACHE_PRICE_TTL cannot be negative")
	}

	switch c.Storage.Type {
	case "json", "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q", c.Storage.Type)
	}

	return nil
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
