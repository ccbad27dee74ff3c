// Package config loads and validates waybacker configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/waybacker/internal/store"
	"github.com/JakeFAU/waybacker/internal/store/postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Wayback WaybackConfig `mapstructure:"wayback"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StoreConfig locates the cache and selects its metadata backend.
type StoreConfig struct {
	Dir      string         `mapstructure:"dir"`
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig is used when store.backend is postgres.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// RetryConfig bounds every archive request.
type RetryConfig struct {
	Attempts     int `mapstructure:"attempts"`
	DelaySeconds int `mapstructure:"delay_seconds"`
}

// Delay returns the pause between failed attempts.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelaySeconds) * time.Second
}

// WaybackConfig configures requests to the archive.
type WaybackConfig struct {
	AvailabilityURL string `mapstructure:"availability_url"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes    int    `mapstructure:"max_body_bytes"`
	// RequestsPerSecond paces requests per archive host; zero disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Timeout returns the per-request timeout.
func (w WaybackConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the optional log file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	FilePath    string `mapstructure:"file_path"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAYBACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

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

// bindLegacyEnv keeps the short variable names older deployments use. The
// prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	legacy := map[string]string{
		"store.dir":           "WAYBACKER_DIR",
		"store.backend":       "WAYBACKER_DB",
		"retry.delay_seconds": "WAYBACKER_SLEEP",
	}
	for key, name := range legacy {
		prefixed := "WAYBACKER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.dir", defaultStoreDir())
	v.SetDefault("store.backend", store.BackendLevelDB)
	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", postgres.DefaultTable)
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay_seconds", 15*60)
	v.SetDefault("wayback.availability_url", "https://archive.org/wayback/available")
	v.SetDefault("wayback.user_agent", "waybacker/0.1")
	v.SetDefault("wayback.timeout_seconds", 60)
	v.SetDefault("wayback.max_body_bytes", 0)
	v.SetDefault("wayback.requests_per_second", 0)
	v.SetDefault("wayback.burst", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.compress", true)
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "waybacker"
	}
	return filepath.Join(home, "waybacker")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Store.Dir) == "" {
		return fmt.Errorf("store.dir is required")
	}
	if !slices.Contains(store.Backends(), c.Store.Backend) {
		return fmt.Errorf("%q: \"store.backend\" must be one of: %s", c.Store.Backend, strings.Join(store.Backends(), ", "))
	}
	if c.Store.Backend == store.BackendPostgres && c.Store.Postgres.DSN == "" {
		return fmt.Errorf("store.postgres.dsn is required when store.backend is postgres")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1")
	}
	if c.Retry.DelaySeconds < 0 {
		return fmt.Errorf("retry.delay_seconds must be >= 0")
	}
	if c.Wayback.TimeoutSeconds <= 0 {
		return fmt.Errorf("wayback.timeout_seconds must be > 0")
	}
	if c.Wayback.MaxBodyBytes < 0 {
		return fmt.Errorf("wayback.max_body_bytes must be >= 0")
	}
	if c.Wayback.RequestsPerSecond < 0 {
		return fmt.Errorf("wayback.requests_per_second must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}
