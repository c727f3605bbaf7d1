package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/deepclean/pkg/deepclean/output"
)

var planCmd = &cobra.Command{
	Use:   "plan [path...]",
	Short: "Show the actions a run would take",
	Long: `Generate the action plan for each root without touching anything.

With no arguments every configured root is planned.`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := resolveRoots(args, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	runner := newRunner(cfg, nil)

	var errs []error
	for _, root := range roots {
		printVerbose("planning %s", root)
		plan, err := runner.Plan(ctx, root)
		if err != nil {
			errs = append(errs, fmt.Errorf("planning %s: %w", root, err))
			continue
		}
		if err := render(&output.Report{Kind: output.KindPlan, Plan: plan}); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
