// Package config loads chartd settings from the environment (and an
// optional .env file) plus an optional theme YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chart daemon.
type Config struct {
	// Browser and CDP
	CDPAddress    string
	CDPPort       int
	LaunchBrowser bool
	Headless      bool
	ProfileDir    string
	EvalTimeoutMS int

	// HTTP
	BindAddr      string
	BindFallbacks []string
	PagePath      string
	PublicURL     string
	ContainerID   string
	ChartLibURL   string

	// Chart
	Market         string
	Granularity    string
	Variant        string
	ThemeFile      string
	FetchThreshold float64
	FetchDebounce  time.Duration

	// History
	UpstreamURL   string
	PageSize      int
	SyntheticSeed uint64
	SyntheticDays int
	SyntheticBand bool
	RefreshSpec   string
	RedisAddr     string
	RedisDB       int
	CacheTTL      time.Duration

	// Output
	LogLevel       string
	LogFile        string
	SnapshotDir    string
	SnapshotKeep   int
	JournalDir     string
	JournalMaxMB   int
	RelayFeedsFile string
	NtfyURL        string
}

// Load reads configuration from environment variables and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:    getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:       getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		LaunchBrowser: getEnvBoolOrDefault("CHARTD_LAUNCH_BROWSER", true),
		Headless:      getEnvBoolOrDefault("CHARTD_HEADLESS", true),
		ProfileDir:    getEnvOrDefault("CHARTD_PROFILE_DIR", "./browser_profile"),
		EvalTimeoutMS: getEnvIntOrDefault("CHARTD_EVAL_TIMEOUT_MS", 5000),

		BindAddr:      getEnvOrDefault("CHARTD_BIND_ADDR", "127.0.0.1:8190"),
		BindFallbacks: splitList(getEnvOrDefault("CHARTD_BIND_FALLBACKS", "127.0.0.1:8191,127.0.0.1:8192")),
		PagePath:      getEnvOrDefault("CHARTD_PAGE_PATH", "/chart"),
		PublicURL:     os.Getenv("CHARTD_PUBLIC_URL"),
		ContainerID:   getEnvOrDefault("CHARTD_CONTAINER_ID", "chart-host"),
		ChartLibURL:   getEnvOrDefault("CHARTD_CHART_LIB_URL", "https://unpkg.com/lightweight-charts@4.2.0/dist/lightweight-charts.standalone.production.js"),

		Market:         getEnvOrDefault("CHARTD_MARKET", "BTC-PERP"),
		Granularity:    strings.ToLower(getEnvOrDefault("CHARTD_GRANULARITY", "1h")),
		Variant:        strings.ToLower(getEnvOrDefault("CHARTD_VARIANT", "candles")),
		ThemeFile:      os.Getenv("CHARTD_THEME_FILE"),
		FetchThreshold: getEnvFloatOrDefault("CHARTD_FETCH_THRESHOLD", 50),
		FetchDebounce:  time.Duration(getEnvIntOrDefault("CHARTD_FETCH_DEBOUNCE_MS", 150)) * time.Millisecond,

		UpstreamURL:   os.Getenv("CHARTD_UPSTREAM_URL"),
		PageSize:      getEnvIntOrDefault("CHARTD_PAGE_SIZE", 300),
		SyntheticSeed: uint64(getEnvIntOrDefault("CHARTD_SYNTHETIC_SEED", 42)),
		SyntheticDays: getEnvIntOrDefault("CHARTD_SYNTHETIC_DAYS", 365),
		SyntheticBand: getEnvBoolOrDefault("CHARTD_SYNTHETIC_BAND", true),
		RefreshSpec:   getEnvOrDefault("CHARTD_REFRESH_CRON", "@every 30s"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),
		CacheTTL:      time.Duration(getEnvIntOrDefault("CHARTD_CACHE_TTL_MINUTES", 24*60)) * time.Minute,

		LogLevel:       strings.ToLower(getEnvOrDefault("CHARTD_LOG_LEVEL", "info")),
		LogFile:        getEnvOrDefault("CHARTD_LOG_FILE", "logs/chartd.log"),
		SnapshotDir:    getEnvOrDefault("SNAPSHOT_DIR", "./snapshots"),
		SnapshotKeep:   getEnvIntOrDefault("CHARTD_SNAPSHOT_KEEP", 200),
		JournalDir:     getEnvOrDefault("CHARTD_JOURNAL_DIR", "./chart_events"),
		JournalMaxMB:   getEnvIntOrDefault("CHARTD_JOURNAL_MAX_MB", 50),
		RelayFeedsFile: os.Getenv("CHARTD_RELAY_FEEDS_FILE"),
		NtfyURL:        os.Getenv("CHARTD_NTFY_URL"),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.FetchDebounce < 0 {
		return nil, fmt.Errorf("config: CHARTD_FETCH_DEBOUNCE_MS must not be negative")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("config: CHARTD_PAGE_SIZE must be positive")
	}
	if !strings.HasPrefix(cfg.PagePath, "/") {
		cfg.PagePath = "/" + cfg.PagePath
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint of the browser.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// PageURL is the address the browser loads the chart page from.
func (c *Config) PageURL(bindAddr string) string {
	base := strings.TrimRight(c.PublicURL, "/")
	if base == "" {
		base = "http://" + bindAddr
	}
	return base + c.PagePath
}

// EvalTimeout returns EvalTimeoutMS as a duration.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
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

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
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

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
