// Package config loads the server configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/billing-engine/generic"
	"github.com/warp/billing-engine/logging"
)

// Environment overrides, applied after the file.
const (
	EnvListenAddr  = "BILLING_LISTEN_ADDR"
	EnvStoreDriver = "BILLING_STORE_DRIVER"
	EnvSQLitePath  = "BILLING_SQLITE_PATH"
	EnvPostgresDSN = "BILLING_POSTGRES_DSN"
	EnvLogLevel    = "BILLING_LOG_LEVEL"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Store   StoreConfig    `yaml:"store"`
	Pricing PricingConfig  `yaml:"pricing"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Logging logging.Config `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"-"`
	WriteTimeout    time.Duration `yaml:"-"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ReadTimeoutRaw     string `yaml:"read_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int    `yaml:"max_conns"`
}

type PricingConfig struct {
	// DefaultCurrency applies to rate cards authored without a currency.
	DefaultCurrency string `yaml:"default_currency"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:         ":8080",
			AllowedOrigins:     []string{"*"},
			ReadTimeoutRaw:     "15s",
			WriteTimeoutRaw:    "15s",
			ShutdownTimeoutRaw: "10s",
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			SQLitePath: "./billing.db",
		},
		Pricing: PricingConfig{DefaultCurrency: string(generic.DefaultCurrency)},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads .env files into the environment without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Server.ListenAddr, EnvListenAddr)
	override(&c.Store.Driver, EnvStoreDriver)
	override(&c.Store.SQLitePath, EnvSQLitePath)
	override(&c.Store.PostgresDSN, EnvPostgresDSN)
	override(&c.Logging.Level, EnvLogLevel)
}

func (c *Config) validateAndNormalize() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr must be set")
	}
	var err error
	if c.Server.ReadTimeout, err = parseDurationAllowEmpty(c.Server.ReadTimeoutRaw); err != nil {
		return fmt.Errorf("config: server.read_timeout: %w", err)
	}
	if c.Server.WriteTimeout, err = parseDurationAllowEmpty(c.Server.WriteTimeoutRaw); err != nil {
		return fmt.Errorf("config: server.write_timeout: %w", err)
	}
	if c.Server.ShutdownTimeout, err = parseDurationAllowEmpty(c.Server.ShutdownTimeoutRaw); err != nil {
		return fmt.Errorf("config: server.shutdown_timeout: %w", err)
	}

	if err := c.Store.validateAndNormalize(); err != nil {
		return err
	}

	c.Pricing.DefaultCurrency = string(generic.NormalizeCurrency(c.Pricing.DefaultCurrency))

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("config: metrics.path must start with /")
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

func (s *StoreConfig) validateAndNormalize() error {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch s.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("config: store.sqlite_path must be set for driver %s", DriverSQLite)
		}
	case DriverPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn must be set for driver %s", DriverPostgres)
		}
	default:
		return fmt.Errorf("config: store.driver %q is not one of memory, sqlite, postgres", s.Driver)
	}
	if s.MaxConns < 0 {
		return fmt.Errorf("config: store.max_conns must not be negative, got %d", s.MaxConns)
	}
	return nil
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
