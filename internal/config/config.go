// Package config loads runtime settings from the environment, optionally
// preloaded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database settings
	DatabaseDriver string // postgres | sqlite
	DatabaseURL    string

	// Sources
	SourcesFile string

	// Translation settings
	TranslationURL    string
	TranslationTarget string

	// AI settings
	AIProvider        string // mistral | gemini
	MistralAPIKey     string
	MistralModel      string
	MistralBaseURL    string
	GeminiAPIKey      string
	GeminiModel       string
	AICooldown        time.Duration
	TranslateSuppress time.Duration
	AIMaxCallsPerDay  int

	// Feed fetching
	FetchTimeout      time.Duration
	FetchMaxRedirects int
	UserAgent         string

	// Ingestion policy
	RecencyDays   int
	RetentionDays int
	ItemDelay     time.Duration

	// Image resolution
	ImageFetchTimeout  time.Duration
	ImageFetchMaxBytes int64

	// App settings
	RefreshInterval time.Duration
	DigestCacheTTL  time.Duration
	Port            string
	LogLevel        string
	Debug           bool

	// Telegram settings
	TelegramToken  string
	TelegramChatID string
}

// Load reads .env (when present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		DatabaseDriver:    strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SourcesFile:       getEnvOrDefault("SOURCES_FILE", "configs/sources.yaml"),
		TranslationURL:    getEnvOrDefault("TRANSLATION_URL", "http://libretranslate:5000/translate"),
		TranslationTarget: getEnvOrDefault("TRANSLATION_TARGET", "fr"),

		AIProvider:        strings.ToLower(getEnvOrDefault("AI_PROVIDER", "mistral")),
		MistralAPIKey:     os.Getenv("MISTRAL_API_KEY"),
		MistralModel:      getEnvOrDefault("MISTRAL_MODEL", "mistral-tiny"),
		MistralBaseURL:    getEnvOrDefault("MISTRAL_BASE_URL", "https://api.mistral.ai/v1"),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		AICooldown:        time.Duration(getEnvIntOrDefault("AI_COOLDOWN_MINUTES", 5)) * time.Minute,
		TranslateSuppress: time.Duration(getEnvIntOrDefault("TRANSLATE_SUPPRESS_MINUTES", 10)) * time.Minute,
		AIMaxCallsPerDay:  getEnvIntOrDefault("AI_MAX_CALLS_PER_DAY", 0),

		FetchTimeout:      getEnvDurationOrDefault("FETCH_TIMEOUT", 10*time.Second),
		FetchMaxRedirects: getEnvIntOrDefault("FETCH_MAX_REDIRECTS", 5),
		UserAgent:         os.Getenv("USER_AGENT"),

		RecencyDays:   getEnvIntOrDefault("RECENCY_DAYS", 7),
		RetentionDays: getEnvIntOrDefault("RETENTION_DAYS", 30),
		ItemDelay:     getEnvDurationOrDefault("ITEM_DELAY", 200*time.Millisecond),

		ImageFetchTimeout:  getEnvDurationOrDefault("IMAGE_FETCH_TIMEOUT", 5*time.Second),
		ImageFetchMaxBytes: int64(getEnvIntOrDefault("IMAGE_FETCH_MAX_BYTES", 1<<20)),

		RefreshInterval: getEnvDurationOrDefault("REFRESH_INTERVAL", 30*time.Minute),
		DigestCacheTTL:  getEnvDurationOrDefault("DIGEST_CACHE_TTL", time.Hour),
		Port:            getEnvOrDefault("PORT", "3000"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		Debug:           os.Getenv("DEBUG") == "true",

		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
	}

	if cfg.DatabaseURL == "" && cfg.DatabaseDriver == "sqlite" {
		cfg.DatabaseURL = "file:techwatch.db?_pragma=busy_timeout(5000)"
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("10s") or bare milliseconds ("200").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER must be 'postgres' or 'sqlite'")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for %s", c.DatabaseDriver)
	}
	if c.AIProvider != "mistral" && c.AIProvider != "gemini" {
		return fmt.Errorf("AI_PROVIDER must be 'mistral' or 'gemini'")
	}

	durations := map[string]time.Duration{
		"AI_COOLDOWN_MINUTES":        c.AICooldown,
		"TRANSLATE_SUPPRESS_MINUTES": c.TranslateSuppress,
		"FETCH_TIMEOUT":              c.FetchTimeout,
		"IMAGE_FETCH_TIMEOUT":        c.ImageFetchTimeout,
		"REFRESH_INTERVAL":           c.RefreshInterval,
		"DIGEST_CACHE_TTL":           c.DigestCacheTTL,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.ItemDelay < 0 {
		return fmt.Errorf("ITEM_DELAY must not be negative")
	}
	if c.RecencyDays <= 0 || c.RetentionDays <= 0 {
		return fmt.Errorf("RECENCY_DAYS and RETENTION_DAYS must be positive")
	}
	if c.FetchMaxRedirects <= 0 {
		return fmt.Errorf("FETCH_MAX_REDIRECTS must be positive")
	}
	if c.ImageFetchMaxBytes <= 0 {
		return fmt.Errorf("IMAGE_FETCH_MAX_BYTES must be positive")
	}
	return nil
}

// Recency is RecencyDays as a duration.
func (c *Config) Recency() time.Duration { return time.Duration(c.RecencyDays) * 24 * time.Hour }

// Retention is RetentionDays as a duration.
func (c *Config) Retention() time.Duration { return time.Duration(c.RetentionDays) * 24 * time.Hour }

// TelegramEnabled reports whether digest publication is configured.
func (c *Config) TelegramEnabled() bool { return c.TelegramToken != "" && c.TelegramChatID != "" }
