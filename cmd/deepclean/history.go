package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Maintain the run index",
	Long: `Maintain the local index of sealed runs.

The index only points at bundles; pruning it never deletes archives from
the proofs directory.`,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop all but the newest index entries",
	RunE:  runHistoryPrune,
}

var historyKeep int

func init() {
	historyPruneCmd.Flags().IntVarP(&historyKeep, "keep", "k", 100, "number of newest runs to keep")

	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	hist := openHistory(cfg)
	if hist == nil {
		return errors.New("history is disabled or unavailable")
	}
	defer func() { _ = hist.Close() }()

	removed, err := hist.Prune(historyKeep)
	if err != nil {
		return err
	}
	printInfo("Removed %d history entries, kept at most %d.", removed, historyKeep)
	return nil
}
