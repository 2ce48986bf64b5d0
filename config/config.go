// Package config loads the registry settings from built-in defaults, an optional
// dotenv file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	extErrors "github.com/pkg/errors"
)

// Environment names
const (
	EnvDevelopment string = "development"
	EnvProduction         = "production"
)

// Config holds every tunable of the registry
type Config struct {
	Env             string        `koanf:"env"`
	HTTPAddr        string        `koanf:"http_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	PostgresURI    string `koanf:"postgres_uri"`
	DBMaxOpenConns int    `koanf:"db_max_open_conns"`
	DBMaxIdleConns int    `koanf:"db_max_idle_conns"`

	// HeartbeatMinutes is the reporting cadence handed to servers on registration
	HeartbeatMinutes int `koanf:"heartbeat_minutes"`
	// TimeoutMultiple of the heartbeat interval after which a silent server is expired
	TimeoutMultiple int           `koanf:"timeout_multiple"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
	DefaultHours    []int         `koanf:"default_hours"`

	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	SentryDSN string `koanf:"sentry_dsn"`
}

// DefaultHours are the statistics windows used when a caller supplies none:
// 12h, 1d, 2d, 1w, 2w, 30d, 60d, 180d and 365d.
var DefaultHours = []int{12, 24, 48, 168, 336, 720, 1440, 4320, 8760}

// longest lookback whose start still fits in a time.Duration
const maxHours = int(math.MaxInt64 / int64(time.Hour))

func defaultConfig() Config {
	return Config{
		Env:               EnvDevelopment,
		HTTPAddr:          ":3000",
		ShutdownTimeout:   10 * time.Second,
		DBMaxOpenConns:    20,
		DBMaxIdleConns:    1,
		HeartbeatMinutes:  15,
		TimeoutMultiple:   2,
		SweepInterval:     15 * time.Minute,
		DefaultHours:      append([]int(nil), DefaultHours...),
		CORSOrigins:       []string{"*"},
		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
	}
}

var listKeys = map[string]bool{
	"default_hours": true,
	"cors_origins":  true,
}

var knownKeys = map[string]bool{
	"env":                 true,
	"http_addr":           true,
	"shutdown_timeout":    true,
	"postgres_uri":        true,
	"db_max_open_conns":   true,
	"db_max_idle_conns":   true,
	"heartbeat_minutes":   true,
	"timeout_multiple":    true,
	"sweep_interval":      true,
	"default_hours":       true,
	"cors_origins":        true,
	"rate_limit_requests": true,
	"rate_limit_window":   true,
	"sentry_dsn":          true,
}

// envTransform maps POSTGRES_URI to postgres_uri and splits list values on commas.
// Variables the registry does not know about are dropped.
func envTransform(key, value string) (string, interface{}) {
	key = strings.ToLower(key)
	if !knownKeys[key] {
		return "", nil
	}
	if listKeys[key] {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}

// Load reads dotFile into the environment if it exists, then builds the Config
func Load(dotFile string) (*Config, error) {
	if dotFile != "" {
		if err := godotenv.Load(dotFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, extErrors.Wrap(err, "Cannot load configurations from "+dotFile)
		}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, extErrors.Wrap(err, "Cannot load default configurations")
	}
	if err := k.Load(env.ProviderWithValue("", ".", envTransform), nil); err != nil {
		return nil, extErrors.Wrap(err, "Cannot load configurations from environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode configurations")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the registry cannot run with
func (c *Config) Validate() error {
	if len(c.PostgresURI) == 0 {
		return fmt.Errorf("POSTGRES_URI is required")
	}
	if c.HeartbeatMinutes <= 0 {
		return fmt.Errorf("HEARTBEAT_MINUTES must be positive, got %d", c.HeartbeatMinutes)
	}
	if c.TimeoutMultiple <= 0 {
		return fmt.Errorf("TIMEOUT_MULTIPLE must be positive, got %d", c.TimeoutMultiple)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if len(c.DefaultHours) == 0 {
		return fmt.Errorf("DEFAULT_HOURS must not be empty")
	}
	for _, h := range c.DefaultHours {
		if h <= 0 {
			return fmt.Errorf("DEFAULT_HOURS entries must be positive, got %d", h)
		}
		if h > maxHours {
			return fmt.Errorf("DEFAULT_HOURS entries must not exceed %d, got %d", maxHours, h)
		}
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative, got %d", c.RateLimitRequests)
	}
	if c.RateLimitRequests > 0 && c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	return nil
}

// IsProduction reports whether the registry runs with production logging and reporting
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// HeartbeatInterval is the cadence servers are asked to report at
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatMinutes) * time.Minute
}

// Timeout is how long a server may stay silent before the sweep expires it
func (c *Config) Timeout() time.Duration {
	return c.HeartbeatInterval() * time.Duration(c.TimeoutMultiple)
}
