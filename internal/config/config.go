// Package config provides unified configuration loading for the remediation
// engine. Supports YAML files, environment variables, and programmatic
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the remediation engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Validator     ValidatorConfig     `yaml:"validator"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Cache         CacheConfig         `yaml:"cache"`
	Tagger        TaggerConfig        `yaml:"tagger"`
	Scanner       ScannerConfig       `yaml:"scanner"`
	Suggestions   SuggestionsConfig   `yaml:"suggestions"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds control-plane HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// ValidatorConfig holds file validation limits and the thresholds of the
// scanned-vs-structured classifier.
type ValidatorConfig struct {
	MaxFileSize int64 `yaml:"max_file_size"`
	// MinCharsPerPage is the average extractable characters per page below
	// which a document is classified as scanned.
	MinCharsPerPage int `yaml:"min_chars_per_page"`
	// LargeFileSize and MaxBytesPerChar classify large files with very low
	// text-to-size ratio as scanned.
	LargeFileSize   int64 `yaml:"large_file_size"`
	MaxBytesPerChar int64 `yaml:"max_bytes_per_char"`
}

// LedgerConfig holds credit ledger store settings.
type LedgerConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds suggestion cache settings.
type CacheConfig struct {
	Driver string        `yaml:"driver"` // memory or redis
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// TaggerConfig holds structure-tagger collaborator settings.
type TaggerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ScannerConfig holds issue-scanner collaborator settings.
type ScannerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	Ruleset string        `yaml:"ruleset"`
}

// SuggestionsConfig holds suggestion generation settings.
type SuggestionsConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxPerRun bounds how many remaining issues get generated guidance.
	MaxPerRun int `yaml:"max_per_run"`
	// Pacing is the delay inserted between consecutive backend calls.
	Pacing time.Duration `yaml:"pacing"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for
// development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Validator: ValidatorConfig{
			MaxFileSize:     50 * 1024 * 1024,
			MinCharsPerPage: 120,
			LargeFileSize:   5 * 1024 * 1024,
			MaxBytesPerChar: 4096,
		},
		Ledger: LedgerConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/remediation-ledger.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver: "memory",
			TTL:    24 * time.Hour,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Tagger: TaggerConfig{
			BaseURL: "http://localhost:9011",
			Timeout: 120 * time.Second,
		},
		Scanner: ScannerConfig{
			BaseURL: "http://localhost:9012",
			Timeout: 120 * time.Second,
			Ruleset: "wcag-2.1-aa",
		},
		Suggestions: SuggestionsConfig{
			BaseURL:   "http://localhost:9013",
			Model:     "default",
			Timeout:   60 * time.Second,
			MaxPerRun: 25,
			Pacing:    500 * time.Millisecond,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Ledger.Driver != "sqlite" && c.Ledger.Driver != "postgres" {
		return fmt.Errorf("invalid ledger driver: %s", c.Ledger.Driver)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}
	if c.Validator.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size must be positive")
	}
	if c.Validator.MinCharsPerPage < 0 {
		return fmt.Errorf("min_chars_per_page must not be negative")
	}
	if c.Suggestions.MaxPerRun < 0 {
		return fmt.Errorf("suggestions max_per_run must not be negative")
	}
	return nil
}

// LedgerDSN returns the connection string for the configured ledger driver.
func (c *Config) LedgerDSN() string {
	if c.Ledger.Driver == "sqlite" {
		return c.Ledger.SQLite.Path
	}
	return c.Ledger.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LEDGER_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Ledger.Driver = "sqlite"
			cfg.Ledger.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Ledger.Driver = "postgres"
			cfg.Ledger.Postgres.DSN = v
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}
	if v := os.Getenv("TAGGER_URL"); v != "" {
		cfg.Tagger.BaseURL = v
	}
	if v := os.Getenv("TAGGER_API_KEY"); v != "" {
		cfg.Tagger.APIKey = v
	}
	if v := os.Getenv("SCANNER_URL"); v != "" {
		cfg.Scanner.BaseURL = v
	}
	if v := os.Getenv("SCANNER_API_KEY"); v != "" {
		cfg.Scanner.APIKey = v
	}
	if v := os.Getenv("SUGGESTIONS_URL"); v != "" {
		cfg.Suggestions.BaseURL = v
	}
	if v := os.Getenv("SUGGESTIONS_API_KEY"); v != "" {
		cfg.Suggestions.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
