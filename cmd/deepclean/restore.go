package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/output"
	"github.com/jamesainslie/deepclean/pkg/deepclean/quarantine"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [quarantined-path]",
	Short: "List or restore quarantined files",
	Long: `Without arguments, list the files held in quarantine.

Given a path relative to the quarantine directory, move that file back
into the root. With --all, restore everything. Existing files are never
overwritten; duplicates return to where they were found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

var (
	restoreAll  bool
	restoreRoot string
)

func init() {
	restoreCmd.Flags().BoolVarP(&restoreAll, "all", "a", false, "restore every quarantined file")
	restoreCmd.Flags().StringVar(&restoreRoot, "root", "", "root to restore into (default: first configured root)")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := quarantine.NewStore(cfg.QuarantineDir, logging.Get("quarantine"))

	if len(args) == 0 && !restoreAll {
		items, err := store.List()
		if err != nil {
			return err
		}
		return render(&output.Report{Kind: output.KindQuarantine, Quarantine: items})
	}

	root := restoreRoot
	if root == "" {
		roots, err := resolveRoots(nil, cfg)
		if err != nil {
			return err
		}
		root = roots[0]
	}

	report := &output.Report{Kind: output.KindRestore}
	var restoreErr error

	if restoreAll {
		report.Restored, restoreErr = store.RestoreAll(root)
	} else {
		target, err := store.Restore(args[0], root)
		r := quarantine.Restored{RelPath: args[0], Target: target}
		if err != nil {
			r.Error = err.Error()
			restoreErr = err
		}
		report.Restored = []quarantine.Restored{r}
	}

	if err := render(report); err != nil {
		return err
	}
	if restoreErr != nil {
		return fmt.Errorf("restore: %w", restoreErr)
	}
	return nil
}
