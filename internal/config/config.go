package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the harness configuration.
type Config struct {
	CardPath     string
	HostURL      string
	HostToken    string
	RelayURL     string
	BridgeURL    string
	BridgePass   string
	UserAgent    string
	PageURL      string
	MetricsAddr  string
	LogLevel     string
	ReadyTimeout time.Duration
}

// Load reads configuration from a .env file (if present) and environment variables.
// Environment variables take precedence over .env values.
func Load(paths ...string) (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load(paths...)

	cfg := &Config{
		CardPath:     os.Getenv("CAMSTREAM_CARD"),
		HostURL:      os.Getenv("CAMSTREAM_HOST_URL"),
		HostToken:    os.Getenv("CAMSTREAM_HOST_TOKEN"),
		RelayURL:     os.Getenv("CAMSTREAM_RELAY_URL"),
		BridgeURL:    os.Getenv("CAMSTREAM_BRIDGE_URL"),
		BridgePass:   os.Getenv("CAMSTREAM_BRIDGE_PASSWORD"),
		UserAgent:    GetEnv("CAMSTREAM_USER_AGENT", "camstream"),
		PageURL:      os.Getenv("CAMSTREAM_PAGE_URL"),
		MetricsAddr:  os.Getenv("CAMSTREAM_METRICS_ADDR"),
		LogLevel:     GetEnv("LOG_LEVEL", "info"),
		ReadyTimeout: GetEnvDuration("CAMSTREAM_READY_TIMEOUT", 15*time.Second),
	}

	if cfg.CardPath == "" {
		return nil, fmt.Errorf("CAMSTREAM_CARD environment variable is required")
	}
	if cfg.HostURL != "" && cfg.HostToken == "" {
		return nil, fmt.Errorf("CAMSTREAM_HOST_TOKEN is required when CAMSTREAM_HOST_URL is set")
	}
	if cfg.PageURL == "" {
		cfg.PageURL = cfg.HostURL
	}
	return cfg, nil
}

// GetEnv returns the value of key, or fallback if unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of key, or fallback if unset or invalid.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvDuration parses key as a time.Duration ("10s") or as whole seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n := GetEnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
