// Package output renders deepclean command results in the formats selected
// with -o (pretty, plain, json, yaml, paths).
//
// The package uses a registry so commands look formatters up by name:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, &output.Report{Kind: output.KindPlan, Plan: plan}); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/history"
	"github.com/jamesainslie/deepclean/pkg/deepclean/quarantine"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// Kind selects which part of a Report is rendered.
type Kind string

// Report kinds, one per command.
const (
	KindPlan       Kind = "plan"
	KindRun        Kind = "run"
	KindStatus     Kind = "status"
	KindQuarantine Kind = "quarantine"
	KindRestore    Kind = "restore"
	KindVerify     Kind = "verify"
)

// RunEntry is one sealed run as shown by status.
type RunEntry struct {
	RunID        string    `json:"runId" yaml:"runId"`
	EndTimestamp time.Time `json:"endTimestamp" yaml:"endTimestamp"`
	RootPath     string    `json:"rootPath" yaml:"rootPath"`
	DryRun       bool      `json:"dryRun" yaml:"dryRun"`
	Complete     bool      `json:"complete" yaml:"complete"`
	Summary      string    `json:"summary" yaml:"summary"`
	BundlePath   string    `json:"bundlePath" yaml:"bundlePath"`
	BundleSHA256 string    `json:"bundleSha256" yaml:"bundleSha256"`
}

// FromHistory converts history records to run entries.
func FromHistory(records []*history.Record) []RunEntry {
	out := make([]RunEntry, len(records))
	for i, r := range records {
		out[i] = RunEntry{
			RunID:        r.RunID,
			EndTimestamp: r.EndTimestamp,
			RootPath:     r.RootPath,
			DryRun:       r.DryRun,
			Complete:     r.Complete,
			Summary:      r.Summary,
			BundlePath:   r.BundlePath,
			BundleSHA256: r.BundleSHA256,
		}
	}
	return out
}

// FromCatalog converts bundles found in a proofs directory to run entries.
func FromCatalog(entries []bundle.Entry) []RunEntry {
	out := make([]RunEntry, len(entries))
	for i, e := range entries {
		out[i] = RunEntry{
			RunID:        e.RunID,
			EndTimestamp: e.EndTimestamp,
			RootPath:     e.RootPath,
			DryRun:       e.DryRun,
			Complete:     e.Complete,
			Summary:      e.Summary,
			BundlePath:   e.BundlePath,
			BundleSHA256: e.BundleSHA256,
		}
	}
	return out
}

// Report is the data a command hands to a formatter. Only the fields
// relevant to Kind are read.
type Report struct {
	Kind Kind

	// Plan is set for plan and run reports.
	Plan *types.ActionPlan

	// Results, BundlePath and BundleHash describe an executed run.
	Results    []types.ActionResult
	BundlePath string
	BundleHash string

	// Skipped is set when the run did not start, with SkipReason saying why.
	Skipped    bool
	SkipReason string

	Runs         []RunEntry
	Quarantine   []quarantine.Item
	Restored     []quarantine.Restored
	Verification *bundle.Verification

	Warnings []string
}

// Formatter is the interface that all output formatters implement.
type Formatter interface {
	// Format writes the formatted report to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// shortHash trims a hex digest for display.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func mode(dryRun bool) string {
	if dryRun {
		return "dry-run"
	}
	return "live"
}
