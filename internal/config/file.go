package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/stall-scraper/internal/parser"
)

// FileConfig is the YAML configuration file. Unset keys keep their defaults
// and environment variables override everything set here.
type FileConfig struct {
	Scraper struct {
		StartURL     string           `yaml:"start_url"`
		MaxPages     int              `yaml:"max_pages"`
		MaxRetries   *int             `yaml:"max_retries"`
		RetryDelay   time.Duration    `yaml:"retry_delay"`
		PageDelay    time.Duration    `yaml:"page_delay"`
		PageDelayMax time.Duration    `yaml:"page_delay_max"`
		Timeout      time.Duration    `yaml:"timeout"`
		Proxy        string           `yaml:"proxy"`
		UserAgent    string           `yaml:"user_agent"`
		ImageDir     string           `yaml:"image_dir"`
		ImageWorkers int              `yaml:"image_workers"`
		FetchMode    string           `yaml:"fetch_mode"`
		Selectors    parser.Selectors `yaml:"selectors"`
	} `yaml:"scraper"`
	Cache struct {
		Type      string        `yaml:"type"`
		RedisAddr string        `yaml:"redis_addr"`
		RedisDB   int           `yaml:"redis_db"`
		KeyPrefix string        `yaml:"key_prefix"`
		PriceTTL  time.Duration `yaml:"price_ttl"`
	} `yaml:"cache"`
	Storage struct {
		Type       string `yaml:"type"`
		Dir        string `yaml:"dir"`
		Pretty     *bool  `yaml:"pretty"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Notify struct {
		Stream string `yaml:"stream"`
	} `yaml:"notify"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadFile reads the YAML file at path. A missing file yields an empty
// FileConfig, not an error. A file that exists but cannot be parsed is an
// error.
func LoadFile(path string) (*FileConfig, error) {
	var cfg FileConfig

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

func (f *FileConfig) apply(c *Config) {
	s := f.Scraper
	setString(&c.Scraper.StartURL, s.StartURL)
	setInt(&c.Scraper.MaxPages, s.MaxPages)
	if s.MaxRetries != nil {
		c.Scraper.MaxRetries = *s.MaxRetries
	}
	setDuration(&c.Scraper.RetryDelay, s.RetryDelay)
	setDuration(&c.Scraper.PageDelay, s.PageDelay)
	setDuration(&c.Scraper.PageDelayMax, s.PageDelayMax)
	setDuration(&c.Scraper.Timeout, s.Timeout)
	setString(&c.Scraper.Proxy, s.Proxy)
	setString(&c.Scraper.UserAgent, s.UserAgent)
	setString(&c.Scraper.ImageDir, s.ImageDir)
	setInt(&c.Scraper.ImageWorkers, s.ImageWorkers)
	setString(&c.Scraper.FetchMode, s.FetchMode)

	// Selectors are merged field by field so a file can override just one.
	sel := &c.Scraper.Selectors
	setString(&sel.Item, s.Selectors.Item)
	setString(&sel.Title, s.Selectors.Title)
	setString(&sel.TitleAttr, s.Selectors.TitleAttr)
	setString(&sel.TitleFallback, s.Selectors.TitleFallback)
	setString(&sel.Price, s.Selectors.Price)
	setString(&sel.ImageContainer, s.Selectors.ImageContainer)
	setString(&sel.Link, s.Selectors.Link)
	setString(&sel.NextPage, s.Selectors.NextPage)

	setString(&c.Cache.Type, f.Cache.Type)
	setString(&c.Cache.RedisAddr, f.Cache.RedisAddr)
	setInt(&c.Cache.RedisDB, f.Cache.RedisDB)
	setString(&c.Cache.KeyPrefix, f.Cache.KeyPrefix)
	setDuration(&c.Cache.PriceTTL, f.Cache.PriceTTL)

	setString(&c.Storage.Type, f.Storage.Type)
	setString(&c.Storage.Dir, f.Storage.Dir)
	if f.Storage.Pretty != nil {
		c.Storage.Pretty = *f.Storage.Pretty
	}
	setString(&c.Storage.SQLitePath, f.Storage.SQLitePath)

	setString(&c.Database.URL, f.Database.URL)
	setString(&c.Notify.Stream, f.Notify.Stream)
	setString(&c.Logging.Level, f.Logging.Level)
	setString(&c.Logging.Format, f.Logging.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
