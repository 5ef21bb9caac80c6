// Package config loads gateway settings from flags, environment and an
// optional config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pgf-fleet/pgfgate/upstream"
)

// EnvPrefix prefixes every environment override (PGF_PORT, PGF_LEDGER_BACKEND, ...).
const EnvPrefix = "PGF"

// UpstreamEnv is the variable the console deployment already uses for the
// backend host.
const UpstreamEnv = "NEXT_PUBLIC_API_BASE_URL"

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerBbolt    = "bbolt"
	LedgerRedis    = "redis"
	LedgerPostgres = "postgres"
)

// Config holds the gateway configuration.
type Config struct {
	Port           int            `mapstructure:"port"`
	LogLevel       string         `mapstructure:"log_level"`
	TLSCert        string         `mapstructure:"tls_cert"`
	TLSKey         string         `mapstructure:"tls_key"`
	Upstream       UpstreamConfig `mapstructure:"upstream"`
	Cookies        CookieConfig   `mapstructure:"cookies"`
	Ledger         LedgerConfig   `mapstructure:"ledger"`
	TrustedProxies []string       `mapstructure:"trusted_proxies"`
	RefreshMargin  time.Duration  `mapstructure:"refresh_margin"`
}

type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type CookieConfig struct {
	Secure bool `mapstructure:"secure"`
}

// LedgerConfig selects where session records live.
type LedgerConfig struct {
	Backend     string `mapstructure:"backend"`
	DataDir     string `mapstructure:"data_dir"`
	RedisURL    string `mapstructure:"redis_url"`
	PostgresURL string `mapstructure:"postgres_url"`
	// Secret derives the record key. Empty means a random per-process key,
	// which is fine for the memory backend only.
	Secret string `mapstructure:"secret"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"port":             "port",
	"log-level":        "log_level",
	"tls-cert":         "tls_cert",
	"tls-key":          "tls_key",
	"upstream":         "upstream.base_url",
	"upstream-timeout": "upstream.timeout",
	"secure-cookies":   "cookies.secure",
	"ledger":           "ledger.backend",
	"data-dir":         "ledger.data_dir",
	"redis-url":        "ledger.redis_url",
	"postgres-url":     "ledger.postgres_url",
	"trusted-proxies":  "trusted_proxies",
	"refresh-margin":   "refresh_margin",
}

// Load reads configuration. configPath may be empty; flags may be nil.
// Only flags the user actually set override environment and file values.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("upstream.base_url", UpstreamEnv, EnvPrefix+"_UPSTREAM_BASE_URL"); err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")
	v.SetDefault("upstream.base_url", upstream.DefaultBaseURL)
	v.SetDefault("upstream.timeout", 30*time.Second)
	v.SetDefault("cookies.secure", false)
	v.SetDefault("ledger.backend", LedgerMemory)
	v.SetDefault("ledger.data_dir", "./data")
	v.SetDefault("ledger.redis_url", "")
	v.SetDefault("ledger.postgres_url", "")
	v.SetDefault("ledger.secret", "")
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("refresh_margin", 5*time.Minute)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("tls_cert and tls_key must be set together"))
	}
	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerBbolt:
		if c.Ledger.DataDir == "" {
			errs = append(errs, errors.New("ledger.data_dir is required for the bbolt ledger"))
		}
	case LedgerRedis:
		if c.Ledger.RedisURL == "" {
			errs = append(errs, errors.New("ledger.redis_url is required for the redis ledger"))
		}
	case LedgerPostgres:
		if c.Ledger.PostgresURL == "" {
			errs = append(errs, errors.New("ledger.postgres_url is required for the postgres ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	if c.Ledger.Backend != LedgerMemory && c.Ledger.Secret == "" {
		errs = append(errs, fmt.Errorf("ledger.secret is required for the %s ledger", c.Ledger.Backend))
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return lvl, nil
}
