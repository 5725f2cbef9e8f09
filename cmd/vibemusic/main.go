// Package main implements the entry point for the VibeMusic typing
// pipeline: a WebSocket service that turns real-time keystroke timing
// into typing statistics and emotion vectors for downstream music
// generation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Kojaewoong0504/VibeMusic-sub000/config"
	"github.com/Kojaewoong0504/VibeMusic-sub000/engine"
)

// Build information constants
const (
	Version   = "1.0.0"
	BuildTime = "dev"
	appName   = "vibemusic"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (built %s, %s)\n", appName, Version, BuildTime, runtime.Version())
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		"app", appName,
		"version", Version,
		"http_port", cfg.Server.HTTPPort,
		"ws_path", cfg.Server.WSPath)

	return eng.Run(ctx, cliCfg.ShutdownTimeout)
}

// loadConfiguration loads the config file, falling back to defaults when
// no path was given.
func loadConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	if cliCfg.ConfigPath == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("default configuration invalid: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration %s: %w", cliCfg.ConfigPath, err)
	}
	return cfg, nil
}
