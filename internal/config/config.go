// Package config reads the storefront client configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Token store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	APIURL         string        `env:"STOREFRONT_API_URL,required"`
	RequestTimeout time.Duration `env:"STOREFRONT_REQUEST_TIMEOUT" envDefault:"15s"`

	TokenStore string `env:"STOREFRONT_TOKEN_STORE" envDefault:"sqlite"`
	SQLitePath string `env:"STOREFRONT_SQLITE_PATH" envDefault:"storefront.db"`

	RedisAddr     string        `env:"STOREFRONT_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"STOREFRONT_REDIS_PASSWORD"`
	RedisDB       int           `env:"STOREFRONT_REDIS_DB" envDefault:"0"`
	RedisPrefix   string        `env:"STOREFRONT_REDIS_PREFIX" envDefault:"storefront"`
	RedisTTL      time.Duration `env:"STOREFRONT_REDIS_TTL" envDefault:"720h"`

	BreakerFailures uint32        `env:"STOREFRONT_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"STOREFRONT_BREAKER_COOLDOWN" envDefault:"30s"`

	LogLevel  string `env:"STOREFRONT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"STOREFRONT_LOG_FORMAT" envDefault:"text"`

	TracingEnabled bool   `env:"STOREFRONT_TRACING_ENABLED" envDefault:"true"`
	OTLPEndpoint   string `env:"STOREFRONT_OTLP_ENDPOINT"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom is Load over an explicit set of variables.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.TokenStore = strings.ToLower(strings.TrimSpace(cfg.TokenStore))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("STOREFRONT_API_URL %q must be an absolute http(s) URL", c.APIURL))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("STOREFRONT_REQUEST_TIMEOUT must be positive"))
	}

	// The payment ledger lives in SQLite whichever token store is chosen.
	if c.SQLitePath == "" {
		errs = append(errs, errors.New("STOREFRONT_SQLITE_PATH is required"))
	}

	switch c.TokenStore {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("STOREFRONT_REDIS_ADDR is required for the redis token store"))
		}
		if c.RedisDB < 0 {
			errs = append(errs, errors.New("STOREFRONT_REDIS_DB must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("STOREFRONT_TOKEN_STORE %q: want %s, %s or %s", c.TokenStore, StoreMemory, StoreRedis, StoreSQLite))
	}

	if c.BreakerFailures == 0 {
		errs = append(errs, errors.New("STOREFRONT_BREAKER_FAILURES must be at least 1"))
	}
	if c.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("STOREFRONT_BREAKER_COOLDOWN must be positive"))
	}
	if c.OTLPEndpoint != "" {
		if u, err := url.Parse(c.OTLPEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("STOREFRONT_OTLP_ENDPOINT %q must be an absolute URL", c.OTLPEndpoint))
		}
	}
	return errors.Join(errs...)
}
