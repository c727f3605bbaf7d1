package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/output"
	"github.com/jamesainslie/deepclean/pkg/deepclean/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run [path...]",
	Short: "Clean roots and seal a proof bundle",
	Long: `Plan, execute and seal one run per root.

Whether files are touched follows dryRunByDefault from the config unless
--dry-run is given explicitly. Interrupting a run stops before the next
action; the bundle is still sealed and marked incomplete.`,
	RunE: runRun,
}

var anchorDir string

func init() {
	runCmd.Flags().BoolP("dry-run", "d", false, "report actions without applying them (default from config)")
	runCmd.Flags().StringVar(&anchorDir, "anchor-dir", "", "write <run-id>-anchor.json handoff files to this directory")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := resolveRoots(args, cfg)
	if err != nil {
		return err
	}

	dryRun := cfg.DryRunByDefault
	if cmd.Flags().Changed("dry-run") {
		dryRun, _ = cmd.Flags().GetBool("dry-run")
	}

	if anchorDir != "" {
		if err := os.MkdirAll(anchorDir, 0o755); err != nil {
			return fmt.Errorf("creating anchor directory: %w", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	hist := openHistory(cfg)
	if hist != nil {
		defer func() { _ = hist.Close() }()
	}
	runner := newRunner(cfg, hist)

	var errs []error
	for _, root := range roots {
		if ctx.Err() != nil {
			break
		}
		printVerbose("running %s (dry run: %t)", root, dryRun)

		out, runErr := runner.Run(ctx, root, pipeline.RunOptions{DryRun: dryRun})
		if out != nil {
			if err := renderOutcome(out); err != nil {
				return err
			}
			if err := writeAnchor(out); err != nil {
				errs = append(errs, err)
			}
		}
		if runErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", root, runErr))
		}
	}
	return errors.Join(errs...)
}

func renderOutcome(out *pipeline.Outcome) error {
	return render(&output.Report{
		Kind:       output.KindRun,
		Plan:       out.Plan,
		Results:    out.Results,
		BundlePath: out.BundlePath,
		BundleHash: out.BundleHash,
		Skipped:    out.Skipped,
		SkipReason: out.SkipReason,
		Warnings:   out.Warnings,
	})
}

func writeAnchor(out *pipeline.Outcome) error {
	if anchorDir == "" || out.Anchor == nil {
		return nil
	}
	path := filepath.Join(anchorDir, out.Anchor.RunID+"-anchor.json")
	if err := bundle.WriteAnchorRequest(path, *out.Anchor); err != nil {
		return err
	}
	printVerbose("anchor request written to %s", path)
	return nil
}
