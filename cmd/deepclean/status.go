package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/client"
	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recent runs",
	Long: `List sealed runs, newest first.

Runs are read from the history index. When history is disabled or
unavailable, the proofs directory is scanned for manifests instead.`,
	RunE: runStatus,
}

var statusLimit int

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "l", 20, "maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	report := &output.Report{Kind: output.KindStatus}
	report.Runs, report.Warnings = recentRuns(cfg, statusLimit)

	printDaemonStatus(cfg)
	return render(report)
}

// recentRuns prefers the history index and falls back to the proofs
// directory.
func recentRuns(cfg *config.Config, limit int) ([]output.RunEntry, []string) {
	var warnings []string

	if hist := openHistory(cfg); hist != nil {
		defer func() { _ = hist.Close() }()
		records, err := hist.Recent(limit)
		if err == nil {
			return output.FromHistory(records), nil
		}
		warnings = append(warnings, fmt.Sprintf("history unreadable, listing %s instead: %v", cfg.ProofsDir, err))
	}

	entries, err := bundle.List(cfg.ProofsDir)
	if err != nil {
		return nil, append(warnings, fmt.Sprintf("listing bundles: %v", err))
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return output.FromCatalog(entries), warnings
}

func printDaemonStatus(cfg *config.Config) {
	status, err := client.Status(client.DaemonPaths{PID: cfg.PIDPath()})
	if errors.Is(err, client.ErrNotRunning) {
		printVerbose("daemon not running")
		return
	}
	if err != nil {
		printInfo("Daemon: running (status unavailable: %v)", err)
		return
	}

	last := "never"
	if !status.LastRunAt.IsZero() {
		last = humanize.Time(status.LastRunAt)
	}
	printInfo("Daemon: %s (pid %d, every %s, %d runs, last %s)", status.State, status.PID, status.Interval, status.Runs, last)
	if status.LastError != "" {
		printInfo("Daemon last error: %s", status.LastError)
	}
}
