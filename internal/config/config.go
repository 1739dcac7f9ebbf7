// Package config defines the application configuration, its defaults and
// validation. Values come from defaults, an optional YAML file and MIMIC_*
// environment variables, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Behavior BehaviorConfig `mapstructure:"behavior" yaml:"behavior"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// StoreConfig selects and configures the profile store backend.
type StoreConfig struct {
	// Backend is one of "memory", "file" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Dir is the profile directory for the file backend. Empty means
	// ~/.mimic/profiles.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// DatabaseURL is the pgx connection string for the postgres backend.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	UserAgent         string         `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ViewportConfig fixes the browser window dimensions.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BehaviorConfig tunes the behavioral core. Seed zero means a
// time-derived seed per process.
type BehaviorConfig struct {
	Seed          int64          `mapstructure:"seed" yaml:"seed"`
	CacheCapacity int            `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	CacheTTL      time.Duration  `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Learning      LearningConfig `mapstructure:"learning" yaml:"learning"`
}

// LearningConfig controls profile drift across completed sessions.
type LearningConfig struct {
	Enabled                bool    `mapstructure:"enabled" yaml:"enabled"`
	PlateauSessions        int     `mapstructure:"plateau_sessions" yaml:"plateau_sessions"`
	ErrorReductionFactor   float64 `mapstructure:"error_reduction_factor" yaml:"error_reduction_factor"`
	SpeedImprovementFactor float64 `mapstructure:"speed_improvement_factor" yaml:"speed_improvement_factor"`
}

// SessionConfig bounds concurrent session execution.
type SessionConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// StartRate limits session launches per second across workers.
	StartRate float64       `mapstructure:"start_rate" yaml:"start_rate"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mimic")
	v.SetDefault("logger.log_file", "mimic.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "")
	v.SetDefault("store.database_url", "")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 900)
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Behavior --
	v.SetDefault("behavior.seed", 0)
	v.SetDefault("behavior.cache_capacity", 64)
	v.SetDefault("behavior.cache_ttl", "5m")
	v.SetDefault("behavior.learning.enabled", true)
	v.SetDefault("behavior.learning.plateau_sessions", 50)
	v.SetDefault("behavior.learning.error_reduction_factor", 0.98)
	v.SetDefault("behavior.learning.speed_improvement_factor", 1.005)

	// -- Session --
	v.SetDefault("session.concurrency", 1)
	v.SetDefault("session.start_rate", 0.5)
	v.SetDefault("session.timeout", "10m")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("store.database_url", "MIMIC_STORE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the URL if Unmarshal didn't pick it up
	if cfg.Store.Backend == "postgres" && cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = os.Getenv("MIMIC_STORE_DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive integers")
	}
	if c.Behavior.CacheCapacity < 1 {
		return fmt.Errorf("behavior.cache_capacity must be at least 1")
	}
	if c.Behavior.CacheTTL <= 0 {
		return fmt.Errorf("behavior.cache_ttl must be a positive duration")
	}
	if err := c.Behavior.Learning.Validate(); err != nil {
		return fmt.Errorf("behavior.learning configuration invalid: %w", err)
	}
	if c.Session.Concurrency <= 0 {
		return fmt.Errorf("session.concurrency must be a positive integer")
	}
	if c.Session.StartRate <= 0 {
		return fmt.Errorf("session.start_rate must be greater than 0")
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session.timeout must be a positive duration")
	}
	return nil
}

// Validate checks the store backend selection.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "memory", "file":
	case "postgres":
		if s.DatabaseURL == "" {
			return fmt.Errorf("database URL is required for the postgres backend. Ensure MIMIC_STORE_DATABASE_URL is set")
		}
	default:
		return fmt.Errorf("backend must be one of memory, file or postgres, got %q", s.Backend)
	}
	return nil
}

// Validate checks the learning factor bounds.
func (l *LearningConfig) Validate() error {
	if l.PlateauSessions < 0 {
		return fmt.Errorf("plateau_sessions must not be negative")
	}
	if l.ErrorReductionFactor <= 0 || l.ErrorReductionFactor > 1 {
		return fmt.Errorf("error_reduction_factor must be in (0, 1]")
	}
	if l.SpeedImprovementFactor < 1 {
		return fmt.Errorf("speed_improvement_factor must be at least 1")
	}
	return nil
}
