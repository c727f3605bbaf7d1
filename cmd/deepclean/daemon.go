package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/client"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the deepcleand daemon",
	Long: `Manage the deepcleand daemon, which runs the pipeline over every
configured root on the configured schedule and shortly after new files
appear.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deepcleand daemon",
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the deepcleand daemon",
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the deepcleand daemon",
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func daemonPaths() (client.DaemonPaths, error) {
	cfg, err := loadConfig()
	if err != nil {
		return client.DaemonPaths{}, err
	}
	return client.DaemonPaths{PID: cfg.PIDPath(), Config: cfg.File}, nil
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	printVerbose("starting daemon (pid file %s)", paths.PID)
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if _, err := client.Status(paths); errors.Is(err, client.ErrNotRunning) {
		return err
	}
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	if err := client.RestartDaemon(paths); err != nil {
		return err
	}
	printInfo("Daemon restarted")
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	paths, err := daemonPaths()
	if err != nil {
		return err
	}
	status, err := client.Status(paths)
	if errors.Is(err, client.ErrNotRunning) {
		_, err = fmt.Fprintln(stdout, "Daemon is not running")
		return err
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "State:     %s\n", status.State)
	fmt.Fprintf(stdout, "PID:       %d\n", status.PID)
	fmt.Fprintf(stdout, "Started:   %s\n", status.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(stdout, "Roots:     %v\n", status.Roots)
	fmt.Fprintf(stdout, "Watching:  %t\n", status.Watching)
	fmt.Fprintf(stdout, "Interval:  %s\n", status.Interval)
	fmt.Fprintf(stdout, "Runs:      %d\n", status.Runs)
	if status.LastRunID != "" {
		fmt.Fprintf(stdout, "Last run:  %s at %s\n", status.LastRunID, status.LastRunAt.Format("2006-01-02 15:04:05 MST"))
	}
	if status.LastError != "" {
		fmt.Fprintf(stdout, "Error:     %s\n", status.LastError)
	}
	return nil
}
