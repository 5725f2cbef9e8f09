package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("VIBEMUSIC_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: VIBEMUSIC_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("VIBEMUSIC_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: VIBEMUSIC_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("VIBEMUSIC_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: VIBEMUSIC_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("VIBEMUSIC_LOG_FORMAT", "json"),
		"Log format: json, text (env: VIBEMUSIC_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("VIBEMUSIC_DEBUG", false),
		"Enable debug mode (env: VIBEMUSIC_DEBUG)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("VIBEMUSIC_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: VIBEMUSIC_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	fmt.Printf(`%s - real-time keystroke emotion pipeline

Usage:
  %s [flags]

Flags:
`, appName, appName)
	flag.PrintDefaults()
	fmt.Printf(`
Endpoints:
  ws://<host>:<port><ws_path>   WebSocket keystroke ingestion
  http://<host>:<port>/metrics  Prometheus metrics
  http://<host>:<port>/healthz  Aggregated component health

Examples:
  %s -config configs/vibemusic.json
  %s -log-level debug -log-format text
  VIBEMUSIC_NATS_URL=nats://broker:4222 %s -config configs/prod.json
`, appName, appName, appName)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}
