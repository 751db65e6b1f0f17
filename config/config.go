// Package config loads process configuration from the environment and an optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	ServiceName string
	Port        string

	DBDriver string
	DBDSN    string

	RateCacheFile       string
	RateSourceURL       string
	RateRefreshInterval time.Duration
	RateTimeout         time.Duration

	LogLevel  string
	LogFormat string

	CORSOrigins   []string
	DemoScenarios bool
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		ServiceName:         getenv("APP_SERVICE", "parkingd"),
		Port:                getenv("PORT", "8080"),
		DBDriver:            normalizeDriver(getenv("DB_DRIVER", "sqlite3")),
		DBDSN:               getenv("DB_DSN", "parking.db"),
		RateCacheFile:       getenv("RATE_CACHE_FILE", "uf_cache.json"),
		RateSourceURL:       getenv("RATE_SOURCE_URL", "https://mindicador.cl/api/uf"),
		RateRefreshInterval: getenvDuration("RATE_REFRESH_INTERVAL", 4*time.Hour),
		RateTimeout:         getenvDuration("RATE_TIMEOUT", 10*time.Second),
		LogLevel:            strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getenv("LOG_FORMAT", "json")),
		CORSOrigins:         splitList(getenv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		DemoScenarios:       getenvBool("DEMO_SCENARIOS", false),
	}
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func normalizeDriver(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pq":
		return "postgres"
	default:
		return "sqlite3"
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	// Bare numbers are seconds.
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
