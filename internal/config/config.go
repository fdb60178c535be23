// Package config reads the agent's configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the routing agent.
type Config struct {
	// CDP connection
	CDPAddress string
	CDPPort    int

	// HTTP control surface
	BindAddr string

	// Operation timeouts
	EvalTimeoutMS   int
	PickerTimeoutMS int
	RouteTimeoutMS  int

	// Persistence
	RulesFile string

	// Logging
	LogLevel string
	LogFile  string

	// Optional failure notifications (ntfy-style POST endpoint)
	NotifyURL string

	// Optional browser launch
	LaunchBrowser    bool
	BrowserBinary    string
	BrowserUserDir   string
	StartupPagesFile string
}

// Load reads configuration from environment variables and an optional
// .env file. Timeouts are floor-clamped; a hostile env var can make the
// agent slow, not broken.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		BindAddr:         getEnvOrDefault("SINKTAB_BIND_ADDR", "127.0.0.1:8096"),
		EvalTimeoutMS:    getEnvIntOrDefault("SINKTAB_EVAL_TIMEOUT_MS", 5000),
		PickerTimeoutMS:  getEnvIntOrDefault("SINKTAB_PICKER_TIMEOUT_MS", 30000),
		RouteTimeoutMS:   getEnvIntOrDefault("SINKTAB_ROUTE_TIMEOUT_MS", 15000),
		RulesFile:        getEnvOrDefault("SINKTAB_RULES_FILE", "./config/rules.json"),
		LogLevel:         strings.ToLower(getEnvOrDefault("SINKTAB_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("SINKTAB_LOG_FILE", "logs/sinktab.log"),
		NotifyURL:        getEnvOrDefault("SINKTAB_NOTIFY_URL", ""),
		LaunchBrowser:    getEnvBoolOrDefault("SINKTAB_LAUNCH_BROWSER", false),
		BrowserBinary:    getEnvOrDefault("SINKTAB_BROWSER_BINARY", ""),
		BrowserUserDir:   getEnvOrDefault("SINKTAB_BROWSER_USER_DIR", ""),
		StartupPagesFile: getEnvOrDefault("SINKTAB_STARTUP_PAGES", "./config/startup_pages.yaml"),
	}

	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.PickerTimeoutMS < 5000 {
		cfg.PickerTimeoutMS = 5000
	}
	if cfg.RouteTimeoutMS < 2000 {
		cfg.RouteTimeoutMS = 2000
	}

	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
