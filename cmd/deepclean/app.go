package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jamesainslie/deepclean/pkg/deepclean/config"
	"github.com/jamesainslie/deepclean/pkg/deepclean/history"
	"github.com/jamesainslie/deepclean/pkg/deepclean/logging"
	"github.com/jamesainslie/deepclean/pkg/deepclean/output"
	"github.com/jamesainslie/deepclean/pkg/deepclean/pipeline"
)

// stdout is where reports are written; tests replace it.
var stdout io.Writer = os.Stdout

// render formats r with the selected formatter and writes it to stdout.
func render(r *output.Report) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return fmt.Errorf("formatting %s report: %w", r.Kind, err)
	}
	_, err = stdout.Write(buf.Bytes())
	return err
}

// openHistory opens the run index, or returns nil when history is
// disabled. A store that cannot be opened is reported and skipped: the
// proofs directory remains the source of truth.
func openHistory(cfg *config.Config) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		logging.Get("cli").Warn("history unavailable", "path", cfg.HistoryPath(), "error", err)
		printVerbose("history unavailable: %v", err)
		return nil
	}
	return store
}

// newRunner wires a pipeline runner from configuration.
func newRunner(cfg *config.Config, hist *history.Store) *pipeline.Runner {
	return pipeline.New(pipeline.Options{
		Config:     cfg.RunConfig,
		PolicyPath: cfg.Policy,
		History:    hist,
		Logger:     logging.Get("pipeline"),
		Version:    version,
	})
}

// resolveRoots returns the roots named on the command line, or the
// configured roots when none are given.
func resolveRoots(args []string, cfg *config.Config) ([]string, error) {
	roots := args
	if len(roots) == 0 {
		roots = cfg.Roots
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no roots given and none configured")
	}
	out := make([]string, len(roots))
	for i, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", r, err)
		}
		out[i] = abs
	}
	return out, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
