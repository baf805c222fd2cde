// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all bot daemon configuration.
type Config struct {
	// Telegram
	BotToken string

	// Server
	ListenAddr  string
	MetricsAddr string

	// Public base URL for webhook capability links, e.g. https://bot.example.com.
	// Webhook registration is disabled when empty.
	PublicBaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseURL string

	// Remote storage backend ("webdisk" or "s3", default: "webdisk")
	RemoteBackend  string
	WebDiskBaseURL string

	// Secrets
	EncryptionKey string
	JWTSecret     string

	// Transfers
	TempDir       string
	MaxUploadSize int64
	TempMaxAge    time.Duration

	// Browsing
	PageSize int

	// Per-user rate limiting
	RateLimit int
	RateBurst int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		BotToken:       envOr("BOT_TOKEN", ""),
		ListenAddr:     envOr("LISTEN_ADDR", ":8443"),
		MetricsAddr:    envOr("METRICS_ADDR", ":9091"),
		PublicBaseURL:  envOr("PUBLIC_BASE_URL", ""),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "json"),
		DatabaseURL:    envOr("DATABASE_URL", ""),
		RemoteBackend:  envOr("REMOTE_BACKEND", "webdisk"),
		WebDiskBaseURL: envOr("WEBDISK_BASE_URL", "https://cloud-api.yandex.net/v1/disk"),
		EncryptionKey:  envOr("ENCRYPTION_KEY", ""),
		JWTSecret:      envOr("JWT_SECRET", ""),
		TempDir:        envOr("TEMP_DIR", "/tmp/telegram_bot_files"),
		MaxUploadSize:  envInt64("MAX_UPLOAD_SIZE", 2*1024*1024*1024), // 2GB default
		TempMaxAge:     envDur("TEMP_MAX_AGE", 24*time.Hour),
		PageSize:       envInt("PAGE_SIZE", 10),
		RateLimit:      envInt("RATE_LIMIT", 5),
		RateBurst:      envInt("RATE_BURST", 10),
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.PublicBaseURL != "" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required when PUBLIC_BASE_URL is set")
	}

	return cfg, nil
}

// WebhooksEnabled reports whether webhook registration is available.
func (c *Config) WebhooksEnabled() bool {
	return c.PublicBaseURL != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDur(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
