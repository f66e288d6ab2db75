package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the environment-driven settings shared by every command.
// Command-line flags are applied on top of it by the cli package.
type Config struct {
	Network        string        `env:"MIRROR_NETWORK" envDefault:"mainnet"`
	BaseURL        string        `env:"MIRROR_BASE_URL"`
	APIKey         string        `env:"MIRROR_API_KEY"`
	CacheDir       string        `env:"MIRROR_CACHE_DIR"`
	Store          string        `env:"MIRROR_STORE" envDefault:"none"`
	RateLimit      float64       `env:"MIRROR_RATE_LIMIT" envDefault:"20"`
	PollPeriod     time.Duration `env:"MIRROR_POLL_PERIOD" envDefault:"5s"`
	MaxUpdateCount int           `env:"MIRROR_MAX_UPDATES" envDefault:"10"`
	PageSize       int           `env:"MIRROR_PAGE_SIZE" envDefault:"10"`
	OTelEndpoint   string        `env:"MIRROR_OTEL_ENDPOINT"`
}

// LoadConfig parses the environment into a Config and fills derived defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize validates the config and resolves the base URL and cache dir.
func (c *Config) Normalize() error {
	if c.BaseURL == "" {
		base, ok := NetworkBaseURLs[c.Network]
		if !ok {
			return fmt.Errorf("unknown network '%s' (set MIRROR_BASE_URL for custom networks)", c.Network)
		}
		c.BaseURL = base
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.CacheDir == "" {
		c.CacheDir = CacheRoot()
	}
	switch c.Store {
	case "", StoreNone:
		c.Store = StoreNone
	case StoreFilesystem, StoreSQLite:
	default:
		return fmt.Errorf("unknown store '%s' (expected none, fs or sqlite)", c.Store)
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = PageLimit
	}
	if c.PageSize > MaxPageLimit {
		c.PageSize = MaxPageLimit
	}
	return nil
}
