package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the lorekeeper service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// DataDir is the root directory holding the global config file and one
	// subdirectory per project (settings, subprompts, gamedata, transcript).
	DataDir string

	// DefaultModel is used for new projects and as the fallback when a
	// project does not pin one.
	DefaultModel string

	GeminiAdapterMode     string
	GeminiBaseURL         string
	GeminiRequestTimeout  time.Duration
	GeminiMaxRetries      int
	GeminiSafetyThreshold string

	// DatabaseURL switches transcript persistence from per-project JSON files
	// to PostgreSQL when set.
	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", "127.0.0.1:8270"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "lorekeeper"),
		AllowAnyOrigin:    false,
		DataDir:           envOrDefault("APP_DATA_DIR", "data"),
		DefaultModel:      envOrDefault("APP_DEFAULT_MODEL", "gemini-1.5-pro-latest"),
		GeminiAdapterMode: envOrDefault("GEMINI_ADAPTER_MODE", "auto"),
		GeminiBaseURL:     envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		// Empty means "let the API apply its own default thresholds".
		GeminiSafetyThreshold: trimmedEnv("GEMINI_SAFETY_THRESHOLD"),
		DatabaseURL:           trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:       15 * time.Second,
		GeminiRequestTimeout:  90 * time.Second,
		GeminiMaxRetries:      2,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeminiRequestTimeout, err = durationFromEnv("GEMINI_REQUEST_TIMEOUT", cfg.GeminiRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeminiMaxRetries, err = intFromEnv("GEMINI_MAX_RETRIES", cfg.GeminiMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		return Config{}, fmt.Errorf("APP_DATA_DIR must not be empty")
	}
	cfg.DataDir = filepath.Clean(cfg.DataDir)
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		return Config{}, fmt.Errorf("APP_DEFAULT_MODEL must not be empty")
	}
	if cfg.GeminiRequestTimeout < time.Second {
		return Config{}, fmt.Errorf("GEMINI_REQUEST_TIMEOUT must be at least 1s")
	}
	if cfg.GeminiMaxRetries < 0 {
		return Config{}, fmt.Errorf("GEMINI_MAX_RETRIES must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.GeminiAdapterMode)) {
	case "auto", "live", "mock":
	default:
		return Config{}, fmt.Errorf("invalid GEMINI_ADAPTER_MODE: %q (expected auto|live|mock)", cfg.GeminiAdapterMode)
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
