package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type HubConfig struct {
	Port string
	// APIKeys restricts negotiate and websocket access. Empty allows anyone.
	APIKeys []string
	// RetainLast replays the latest message of a group to clients joining it.
	RetainLast         bool
	GoroutineThreshold int
	ReadHeaderTimeout  time.Duration
	ShutdownTimeout    time.Duration
}

func LoadHubConfig() (*HubConfig, error) {
	shutdownTimeout, err := time.ParseDuration(getEnvOrDefault("HUB_SHUTDOWN_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HUB_SHUTDOWN_TIMEOUT: %w", err)
	}

	readHeaderTimeout, err := time.ParseDuration(getEnvOrDefault("HUB_READ_HEADER_TIMEOUT", "10s"))
	if err != nil {
		readHeaderTimeout = 10 * time.Second // Default to 10s on parse error
	}

	threshold, err := strconv.Atoi(getEnvOrDefault("HUB_GOROUTINE_THRESHOLD", "10000"))
	if err != nil {
		return nil, fmt.Errorf("invalid HUB_GOROUTINE_THRESHOLD: %w", err)
	}

	cfg := &HubConfig{
		Port:               getEnvOrDefault("PORT", "8080"),
		APIKeys:            splitList(os.Getenv("HUB_API_KEYS")),
		RetainLast:         getEnvOrDefault("HUB_RETAIN_LAST", "true") == "true",
		GoroutineThreshold: threshold,
		ReadHeaderTimeout:  readHeaderTimeout,
		ShutdownTimeout:    shutdownTimeout,
	}

	// Validate
	if p, err := strconv.Atoi(cfg.Port); err != nil || p < 1 || p > 65535 {
		return nil, fmt.Errorf("invalid PORT: %s (must be 1-65535)", cfg.Port)
	}
	if cfg.GoroutineThreshold < 1 {
		return nil, fmt.Errorf("invalid HUB_GOROUTINE_THRESHOLD: %d (must be >= 1)", cfg.GoroutineThreshold)
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
