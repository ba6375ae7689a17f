// internal/config/config.go
// Package config provides configuration loading and management for the report client.
// It handles environment variable parsing and provides default values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package initialization.
// In development, it loads .env and .env.local files if they exist.
// In production, it relies solely on system environment variables.
// godotenv.Load() does not override already-set variables, preserving
// OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the report client.
type Config struct {
	Env        string // Deployment environment (dev, staging, prod)
	BackendURL string // Base URL of the detection backend (http/https)
	ChannelURL string // Websocket URL of the push channel (ws/wss)

	// Submission limits
	MaxImageSize     int64    // Maximum image size in bytes (default 10 MiB)
	AllowedMimeTypes []string // Allowed MIME type prefixes for submission

	// Location acquisition
	LocationTimeout time.Duration // Per-attempt timeout for a location fix
	LocationMaxAge  time.Duration // Maximum acceptable cached-fix age
	LocationURL     string        // Optional location-bridge URL; empty uses static/no fix
	StaticLatitude  string        // Optional fixed latitude (decimal degrees)
	StaticLongitude string        // Optional fixed longitude (decimal degrees)

	// Camera
	CameraDir string // Directory the file camera reads frames from

	// Live feed
	ReconnectDelay time.Duration // Fixed delay between channel reconnect attempts
	FeedCapacity   int           // Alert buffer capacity

	// Optional integrations
	NATSURL     string // NATS server URL for the alert relay (empty disables it)
	MetricsAddr string // Address for the Prometheus endpoint (empty disables it)
}

// Default configuration values used when environment variables are not set.
const (
	defaultEnv            = "dev"
	defaultBackendURL     = "http://127.0.0.1:8000"
	defaultChannelURL     = "ws://127.0.0.1:8000/ws"
	defaultReconnectDelay = 5 * time.Second
	defaultLocTimeout     = 10 * time.Second
	defaultLocMaxAge      = 60 * time.Second
	defaultFeedCapacity   = 50
)

// Load reads environment variables and produces a Config suitable for wiring
// the client. Missing optional parameters fall back to defaults.
func Load() (Config, error) {
	cfg := Config{
		Env:             getEnv("CIVIC_ENV", defaultEnv),
		BackendURL:      getEnv("CIVIC_BACKEND_URL", defaultBackendURL),
		ChannelURL:      getEnv("CIVIC_CHANNEL_URL", defaultChannelURL),
		LocationURL:     os.Getenv("CIVIC_LOCATION_URL"),
		StaticLatitude:  os.Getenv("CIVIC_STATIC_LATITUDE"),
		StaticLongitude: os.Getenv("CIVIC_STATIC_LONGITUDE"),
		CameraDir:       os.Getenv("CIVIC_CAMERA_DIR"),
		NATSURL:         os.Getenv("CIVIC_NATS_URL"),
		MetricsAddr:     os.Getenv("CIVIC_METRICS_ADDR"),
	}

	if maxSize, exists := os.LookupEnv("CIVIC_MAX_IMAGE_SIZE"); exists && maxSize != "" {
		size, err := strconv.ParseInt(maxSize, 10, 64)
		if err != nil || size <= 0 {
			return cfg, fmt.Errorf("CIVIC_MAX_IMAGE_SIZE must be a positive integer: %q", maxSize)
		}
		cfg.MaxImageSize = size
	} else {
		cfg.MaxImageSize = 10 * 1024 * 1024
	}

	if mimeTypes, exists := os.LookupEnv("CIVIC_ALLOWED_MIME_TYPES"); exists && mimeTypes != "" {
		cfg.AllowedMimeTypes = strings.Split(mimeTypes, ",")
		for i, mimeType := range cfg.AllowedMimeTypes {
			cfg.AllowedMimeTypes[i] = strings.TrimSpace(mimeType)
		}
	} else {
		cfg.AllowedMimeTypes = []string{"image/jpeg", "image/png", "image/webp"}
	}

	cfg.LocationTimeout = getDuration("CIVIC_LOCATION_TIMEOUT", defaultLocTimeout)
	cfg.LocationMaxAge = getDuration("CIVIC_LOCATION_MAX_AGE", defaultLocMaxAge)
	cfg.ReconnectDelay = getDuration("CIVIC_RECONNECT_DELAY", defaultReconnectDelay)

	if capStr, exists := os.LookupEnv("CIVIC_FEED_CAPACITY"); exists && capStr != "" {
		c, err := strconv.Atoi(capStr)
		if err != nil || c <= 0 {
			return cfg, fmt.Errorf("CIVIC_FEED_CAPACITY must be a positive integer: %q", capStr)
		}
		cfg.FeedCapacity = c
	} else {
		cfg.FeedCapacity = defaultFeedCapacity
	}

	if !strings.HasPrefix(cfg.ChannelURL, "ws://") && !strings.HasPrefix(cfg.ChannelURL, "wss://") {
		return cfg, fmt.Errorf("CIVIC_CHANNEL_URL must be a ws:// or wss:// URL: %q", cfg.ChannelURL)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// getDuration parses a duration environment variable, returning a fallback on
// absence or parse failure.
func getDuration(key string, fallback time.Duration) time.Duration {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
