package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Libraries LibraryConfig
	Sandbox   SandboxConfig
	Demo      DemoConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// LibraryConfig controls where rendering libraries and skeleton scripts come from.
type LibraryConfig struct {
	CatalogPath  string        `envconfig:"LIBRARY_CATALOG" default:""`
	StaticRoot   string        `envconfig:"STATIC_ROOT" default:"./public"`
	AllowedHosts []string      `envconfig:"LIBRARY_ALLOW" default:"https://cdn.jsdelivr.net/**,https://d3js.org/**,https://esm.sh/**,/static/**"`
	FetchTimeout time.Duration `envconfig:"LIBRARY_FETCH_TIMEOUT" default:"30s"`
	FetchRPS     float64       `envconfig:"LIBRARY_FETCH_RPS" default:"0"`
}

// SandboxConfig controls snippet execution.
type SandboxConfig struct {
	// Timeout of zero leaves snippet execution unbounded.
	Timeout      time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"0"`
	ContainerID  string        `envconfig:"CONTAINER_ID" default:"viz"`
	ImportPolicy string        `envconfig:"IMPORT_POLICY" default:"rewrite"`
	PoolSize     int           `envconfig:"SANDBOX_POOL_SIZE" default:"2"`
}

// DemoConfig controls the bundled demonstration snippet run at startup.
type DemoConfig struct {
	Enabled bool   `envconfig:"DEMO_ENABLED" default:"true"`
	Path    string `envconfig:"DEMO_PATH" default:"./public/demo.js"`
}

// Load loads configuration from a .env file (if present) and environment variables.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
		},
		Libraries: LibraryConfig{
			StaticRoot: "./public",
			AllowedHosts: []string{
				"https://cdn.jsdelivr.net/**",
				"https://d3js.org/**",
				"https://esm.sh/**",
				"/static/**",
			},
			FetchTimeout: 30 * time.Second,
		},
		Sandbox: SandboxConfig{
			ContainerID:  "viz",
			ImportPolicy: "rewrite",
			PoolSize:     2,
		},
		Demo: DemoConfig{
			Enabled: true,
			Path:    "./public/demo.js",
		},
	}
}
