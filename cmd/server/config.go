package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/ripdb/pkg/images"
	"github.com/hazyhaar/ripdb/pkg/source"
)

// envPrefix prefixes every environment override, e.g. RIPDB_ADDR.
const envPrefix = "RIPDB_"

const spreadsheetID = "1gpsN-yRIKQ24q9vrTYoNJGsKRUkyQsBxWD6Y4VEdOmE"

type config struct {
	Addr           string          `yaml:"addr"             env:"ADDR"`
	LogLevel       string          `yaml:"log_level"        env:"LOG_LEVEL"`
	SourceDB       string          `yaml:"source_db"        env:"SOURCE_DB"`
	CheckInterval  time.Duration   `yaml:"check_interval"   env:"CHECK_INTERVAL"`
	RejectLogLimit int             `yaml:"reject_log_limit" env:"REJECT_LOG_LIMIT"`
	SheetsAPIKey   string          `yaml:"sheets_api_key"   env:"SHEETS_API_KEY"`
	Sources        []source.Source `yaml:"sources"`
	Fetch          fetchConfig     `yaml:"fetch"            envPrefix:"FETCH_"`
	Images         imagesConfig    `yaml:"images"           envPrefix:"IMAGES_"`
}

type fetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"         env:"TIMEOUT"`
	Attempts      int           `yaml:"attempts"        env:"ATTEMPTS"`
	BackoffBase   time.Duration `yaml:"backoff_base"    env:"BACKOFF_BASE"`
	Proxies       []string      `yaml:"proxies"         env:"PROXIES"         envSeparator:","`
	NoProxies     bool          `yaml:"no_proxies"      env:"NO_PROXIES"`
	Preflight     bool          `yaml:"preflight"       env:"PREFLIGHT"`
	CacheTTL      time.Duration `yaml:"cache_ttl"       env:"CACHE_TTL"`
	SheetsAPIBase string        `yaml:"sheets_api_base" env:"SHEETS_API_BASE"`
}

type imagesConfig struct {
	Enabled    bool          `yaml:"enabled"     env:"ENABLED"`
	APIBase    string        `yaml:"api_base"    env:"API_BASE"`
	RESTBase   string        `yaml:"rest_base"   env:"REST_BASE"`
	BatchSize  int           `yaml:"batch_size"  env:"BATCH_SIZE"`
	BatchDelay time.Duration `yaml:"batch_delay" env:"BATCH_DELAY"`
	Timeout    time.Duration `yaml:"timeout"     env:"TIMEOUT"`
}

func defaultConfig() config {
	return config{
		Addr:          ":8420",
		LogLevel:      "info",
		CheckInterval: time.Hour,
		Sources: []source.Source{
			{
				ID:          "primary-csv",
				Kind:        source.KindCSV,
				Description: "Combined death scenes CSV",
				URL:         "http://bliskioptyk.pl/combined.csv",
			},
			{
				ID:            "sheets-api",
				Kind:          source.KindSheetsAPI,
				Description:   "Death scenes spreadsheet, values API",
				SpreadsheetID: spreadsheetID,
				Range:         source.DefaultRange,
			},
			{
				ID:            "sheets-csv",
				Kind:          source.KindSheetsCSV,
				Description:   "Death scenes spreadsheet, CSV export",
				SpreadsheetID: spreadsheetID,
				GID:           "142347631",
			},
		},
		Fetch: fetchConfig{
			Timeout:     source.DefaultTimeout,
			Attempts:    source.DefaultAttempts,
			BackoffBase: source.DefaultBackoffBase,
			CacheTTL:    source.DefaultCacheTTL,
		},
		Images: imagesConfig{
			Enabled:    true,
			BatchSize:  images.DefaultBatchSize,
			BatchDelay: images.DefaultBatchDelay,
			Timeout:    images.DefaultTimeout,
		},
	}
}

// loadConfig reads path over the defaults, then applies RIPDB_*
// environment overrides. A missing file is not an error.
func loadConfig(path string, logger *slog.Logger) (config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Info("no config file, using defaults", "path", path)
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	cfg.applyAPIKey()
	return cfg, nil
}

func (c config) validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("source %d: missing id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("source %s: duplicate id", s.ID)
		}
		seen[s.ID] = true
		switch s.Kind {
		case source.KindCSV:
			if s.URL == "" {
				return fmt.Errorf("source %s: csv source needs a url", s.ID)
			}
		case source.KindSheetsAPI, source.KindSheetsCSV:
			if s.SpreadsheetID == "" && s.URL == "" {
				return fmt.Errorf("source %s: needs a spreadsheet_id or url", s.ID)
			}
		default:
			return fmt.Errorf("source %s: unknown kind %q", s.ID, s.Kind)
		}
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// applyAPIKey hands the shared Sheets key to API sources without their own.
func (c *config) applyAPIKey() {
	if c.SheetsAPIKey == "" {
		return
	}
	for i := range c.Sources {
		if c.Sources[i].Kind == source.KindSheetsAPI && c.Sources[i].APIKey == "" {
			c.Sources[i].APIKey = c.SheetsAPIKey
		}
	}
}

func (c config) fetchOptions() source.Config {
	return source.Config{
		Timeout:       c.Fetch.Timeout,
		Attempts:      c.Fetch.Attempts,
		BackoffBase:   c.Fetch.BackoffBase,
		Proxies:       c.Fetch.Proxies,
		NoProxies:     c.Fetch.NoProxies,
		Preflight:     c.Fetch.Preflight,
		CacheTTL:      c.Fetch.CacheTTL,
		SheetsAPIBase: c.Fetch.SheetsAPIBase,
	}
}

func (c config) imageOptions() images.Config {
	return images.Config{
		APIBase:    c.Images.APIBase,
		RESTBase:   c.Images.RESTBase,
		BatchSize:  c.Images.BatchSize,
		BatchDelay: c.Images.BatchDelay,
		Timeout:    c.Images.Timeout,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}
