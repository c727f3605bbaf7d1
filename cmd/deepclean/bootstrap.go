package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
)

// appConfig is loaded once per invocation by initializeLogging.
var appConfig *config.Config

// initializeLogging is the PersistentPreRunE hook: it loads configuration,
// applies --policy, makes sure the state directory exists and starts file
// logging.
func initializeLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	consoleLevel := ""
	if getVerbose() {
		consoleLevel = "debug"
	}

	if err := logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: consoleLevel,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	if cfg.File != "" {
		printVerbose("using config %s", cfg.File)
	}
	return nil
}

// loadConfig reads configuration once and applies the --policy override.
func loadConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	if policyFile != "" {
		abs, err := filepath.Abs(policyFile)
		if err != nil {
			return nil, fmt.Errorf("resolving policy path: %w", err)
		}
		cfg.Policy = abs
	}

	appConfig = cfg
	return cfg, nil
}

// parseRotationConfig converts the config's rotation block into a
// logging.RotationConfig. An empty or unparseable maxSize falls back to the
// logging default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	maxSize := logging.DefaultRotationConfig().MaxSize
	if rc.MaxSize != "" {
		if parsed, err := humanize.ParseBytes(rc.MaxSize); err == nil && parsed > 0 {
			maxSize = int64(parsed)
		}
	}
	return logging.RotationConfig{
		MaxSize:    maxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
}
