package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat relay service.
type Config struct {
	BindAddr        string
	ShutdownTimeout time.Duration

	MetricsNamespace string
	AllowAnyOrigin   bool

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	SessionMaxMessages   int

	RelayHistoryLimit    int
	RelayUpstreamTimeout time.Duration
	RelayMaxMessageBytes int
	RelaySystemPrompt    string

	UpstreamMode        string
	UpstreamURL         string
	UpstreamAPIKey      string
	UpstreamModel       string
	UpstreamMaxTokens   int
	UpstreamTemperature float64

	DatabaseURL string
}

// DefaultSystemPrompt is used when neither config nor the request provides one.
const DefaultSystemPrompt = "You are a helpful, concise conversational assistant."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "chatrelay"),
		AllowAnyOrigin:       false,
		ShutdownTimeout:      15 * time.Second,
		SessionTTL:           30 * time.Minute,
		SessionSweepInterval: 5 * time.Minute,
		SessionMaxMessages:   50,
		RelayHistoryLimit:    10,
		RelayUpstreamTimeout: 30 * time.Second,
		RelayMaxMessageBytes: 8192,
		RelaySystemPrompt:    envOrDefault("RELAY_SYSTEM_PROMPT", DefaultSystemPrompt),
		UpstreamMode:         envOrDefault("UPSTREAM_MODE", "auto"),
		UpstreamURL:          trimmedEnv("UPSTREAM_URL"),
		UpstreamAPIKey:       trimmedEnv("UPSTREAM_API_KEY"),
		UpstreamModel:        envOrDefault("UPSTREAM_MODEL", "gpt-4o-mini"),
		UpstreamMaxTokens:    512,
		UpstreamTemperature:  0.7,
		DatabaseURL:          trimmedEnv("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionSweepInterval, err = durationFromEnv("SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxMessages, err = intFromEnv("SESSION_MAX_MESSAGES", cfg.SessionMaxMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayHistoryLimit, err = intFromEnv("RELAY_HISTORY_LIMIT", cfg.RelayHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayUpstreamTimeout, err = durationFromEnv("RELAY_UPSTREAM_TIMEOUT", cfg.RelayUpstreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RelayMaxMessageBytes, err = intFromEnv("RELAY_MAX_MESSAGE_BYTES", cfg.RelayMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamMaxTokens, err = intFromEnv("UPSTREAM_MAX_TOKENS", cfg.UpstreamMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.UpstreamTemperature, err = floatFromEnv("UPSTREAM_TEMPERATURE", cfg.UpstreamTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < time.Second {
		return Config{}, fmt.Errorf("SESSION_TTL must be at least 1s")
	}
	if cfg.SessionSweepInterval < time.Second {
		return Config{}, fmt.Errorf("SESSION_SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.SessionMaxMessages <= 0 {
		return Config{}, fmt.Errorf("SESSION_MAX_MESSAGES must be positive")
	}
	if cfg.RelayHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("RELAY_HISTORY_LIMIT must be positive")
	}
	if cfg.RelayHistoryLimit > cfg.SessionMaxMessages {
		return Config{}, fmt.Errorf("RELAY_HISTORY_LIMIT must not exceed SESSION_MAX_MESSAGES")
	}
	if cfg.RelayUpstreamTimeout < time.Second {
		return Config{}, fmt.Errorf("RELAY_UPSTREAM_TIMEOUT must be at least 1s")
	}
	if cfg.RelayMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("RELAY_MAX_MESSAGE_BYTES must be positive")
	}
	if cfg.UpstreamMaxTokens <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_MAX_TOKENS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
