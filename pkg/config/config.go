// Package config loads application configuration from VANTAGE_* environment
// variables, with an optional YAML file for per-route rate-limit overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vantagecms/vantage/pkg/middleware"
	"github.com/vantagecms/vantage/pkg/observability"
	"github.com/vantagecms/vantage/pkg/signing"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Signing   signing.Config
	Token     TokenConfig
	RateLimit RateLimitConfig
	LogLevel  observability.LogLevel
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string
	MetricsAddr     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the quota store connection settings
type RedisConfig struct {
	URL string
}

// TokenConfig holds token issuance settings
type TokenConfig struct {
	Issuer   string
	Audience string
	TTL      time.Duration
}

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	DefaultLimit   int
	Window         time.Duration
	KeyPrefix      string
	RouteLimitFile string
	RouteLimits    map[string]middleware.RouteLimit
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("VANTAGE_HTTP_ADDR", ":8080"),
			MetricsAddr:     getEnv("VANTAGE_METRICS_ADDR", ":9090"),
			ReadTimeout:     getEnvDuration("VANTAGE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("VANTAGE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("VANTAGE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("VANTAGE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("VANTAGE_DATABASE_URL", ""),
			MaxOpenConns: getEnvInt("VANTAGE_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("VANTAGE_DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL: getEnv("VANTAGE_REDIS_URL", ""),
		},
		Signing: signing.Config{
			PrivateKeyPEM: getEnv("VANTAGE_JWT_PRIVATE_KEY", ""),
			PublicKeyPEM:  getEnv("VANTAGE_JWT_PUBLIC_KEY", ""),
			KeyDir:        getEnv("VANTAGE_KEY_DIR", "./keys"),
		},
		Token: TokenConfig{
			Issuer:   getEnv("VANTAGE_TOKEN_ISSUER", "https://vantage.local"),
			Audience: getEnv("VANTAGE_TOKEN_AUDIENCE", "vantage-api"),
			TTL:      getEnvDuration("VANTAGE_TOKEN_TTL", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			DefaultLimit:   getEnvInt("VANTAGE_RATE_LIMIT_DEFAULT", 300),
			Window:         getEnvDuration("VANTAGE_RATE_LIMIT_WINDOW", time.Minute),
			KeyPrefix:      getEnv("VANTAGE_RATE_LIMIT_PREFIX", "quota"),
			RouteLimitFile: getEnv("VANTAGE_ROUTE_LIMITS_FILE", ""),
		},
		LogLevel: parseLogLevel(getEnv("VANTAGE_LOG_LEVEL", "info")),
	}

	if cfg.RateLimit.RouteLimitFile != "" {
		limits, err := LoadRouteLimits(cfg.RateLimit.RouteLimitFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load route limits: %w", err)
		}
		cfg.RateLimit.RouteLimits = limits
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("VANTAGE_DATABASE_URL is required")
	}
	if (c.Signing.PrivateKeyPEM == "") != (c.Signing.PublicKeyPEM == "") {
		return fmt.Errorf("VANTAGE_JWT_PRIVATE_KEY and VANTAGE_JWT_PUBLIC_KEY must be set together")
	}
	if c.RateLimit.DefaultLimit <= 0 {
		return fmt.Errorf("VANTAGE_RATE_LIMIT_DEFAULT must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("VANTAGE_RATE_LIMIT_WINDOW must be positive")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("VANTAGE_TOKEN_TTL must be positive")
	}
	return nil
}

type routeLimitsFile struct {
	Routes map[string]struct {
		Limit  int    `yaml:"limit"`
		Window string `yaml:"window"`
	} `yaml:"routes"`
}

// LoadRouteLimits parses per-route rate-limit overrides:
//
//	routes:
//	  /api/v1/search:
//	    limit: 10
//	    window: 10s
func LoadRouteLimits(path string) (map[string]middleware.RouteLimit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file routeLimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid route limits file: %w", err)
	}

	limits := make(map[string]middleware.RouteLimit, len(file.Routes))
	for route, entry := range file.Routes {
		limit := middleware.RouteLimit{Limit: entry.Limit}
		if entry.Window != "" {
			window, err := time.ParseDuration(entry.Window)
			if err != nil {
				return nil, fmt.Errorf("route %q: invalid window %q: %w", route, entry.Window, err)
			}
			limit.Window = window
		}
		limits[route] = limit
	}
	return limits, nil
}

func parseLogLevel(value string) observability.LogLevel {
	switch strings.ToLower(value) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
