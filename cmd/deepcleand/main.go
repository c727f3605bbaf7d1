// Package main provides deepcleand, the background cleanup daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/daemon"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/history"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/pipeline"
)

// Set by go build -ldflags.
var version = "dev"

var (
	cfgFile string
	pidFile string
	once    bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "deepcleand",
	Short: "Run deepclean on a schedule and when new files appear",
	Long: `deepcleand runs the deepclean pipeline over every configured root on
the configured schedule, and a few seconds after new files settle in a
watched root. Runs are dry unless dryRunByDefault is false.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: search for deepclean.config.json)")
	rootCmd.Flags().StringVar(&pidFile, "pid-file", "", "PID file (default from config)")
	rootCmd.Flags().BoolVar(&once, "once", false, "run every root once and exit")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr as well")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if pidFile != "" {
		cfg.Daemon.PIDPath = pidFile
	}

	consoleLevel := ""
	if verbose {
		consoleLevel = cfg.Logging.Level
	}
	if err := logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Path:         cfg.Logging.Path,
		Components:   cfg.Logging.Components,
		ConsoleLevel: consoleLevel,
		Rotation:     rotation(cfg.Logging.Rotation),
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	logger := logging.Get("daemon")
	pidPath := cfg.PIDPath()

	if !once {
		if err := daemon.RecoverFromStaleDaemon(pidPath, cfg.HistoryPath(), logger); err != nil {
			if errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
				fmt.Fprintln(os.Stderr, "deepcleand is already running")
			}
			return err
		}
		if err := daemon.WritePIDFile(pidPath); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() {
			if err := daemon.RemovePIDFile(pidPath); err != nil {
				logger.Warn("failed to remove PID file", "path", pidPath, "error", err)
			}
			_ = daemon.RemoveStatus(daemon.StatusPath(pidPath))
		}()
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.HistoryPath())
		if err != nil {
			logger.Warn("history unavailable", "path", cfg.HistoryPath(), "error", err)
			hist = nil
		} else {
			defer func() { _ = hist.Close() }()
		}
	}

	runner := pipeline.New(pipeline.Options{
		Config:     cfg.RunConfig,
		PolicyPath: cfg.Policy,
		History:    hist,
		Logger:     logging.Get("pipeline"),
		Version:    version,
	})

	debounce := daemon.DefaultDebounce
	if cfg.Daemon.Debounce != "" {
		d, err := time.ParseDuration(cfg.Daemon.Debounce)
		if err != nil {
			return fmt.Errorf("invalid daemon.debounce %q: %w", cfg.Daemon.Debounce, err)
		}
		debounce = d
	}

	opts := daemon.Options{
		Roots:    cfg.Roots,
		DryRun:   cfg.DryRunByDefault,
		Interval: daemon.ParseSchedule(cfg.Schedule),
		Debounce: debounce,
		Watch:    cfg.Daemon.Watch,
		Logger:   logger,
	}
	if !once {
		opts.StatusPath = daemon.StatusPath(pidPath)
	}
	svc := daemon.NewService(runner, opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if once {
		return svc.RunOnce(ctx)
	}

	logger.Info("deepcleand started", "version", version, "pid", os.Getpid(), "config", cfg.File)
	if err := svc.Serve(ctx); err != nil {
		return err
	}
	logger.Info("deepcleand stopped")
	return nil
}

func rotation(rc config.RotationConfig) logging.RotationConfig {
	out := logging.DefaultRotationConfig()
	if n, err := humanize.ParseBytes(rc.MaxSize); err == nil && n > 0 {
		out.MaxSize = int64(n)
	}
	out.MaxAge = rc.MaxAge
	out.MaxBackups = rc.MaxBackups
	out.Daily = rc.Daily
	return out
}
