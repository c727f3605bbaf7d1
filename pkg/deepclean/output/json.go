package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jamesainslie/deepclean/pkg/deepclean/bundle"
	"github.com/jamesainslie/deepclean/pkg/deepclean/quarantine"
	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

type planDocument struct {
	Kind     Kind              `json:"kind"`
	Plan     *types.ActionPlan `json:"plan"`
	Warnings []string          `json:"warnings,omitempty"`
}

type runDocument struct {
	Kind       Kind                 `json:"kind"`
	Skipped    bool                 `json:"skipped"`
	SkipReason string               `json:"skipReason,omitempty"`
	Plan       *types.ActionPlan    `json:"plan,omitempty"`
	Results    []types.ActionResult `json:"results"`
	Succeeded  int                  `json:"succeeded"`
	Bundle     *bundleRef           `json:"bundle,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
}

type bundleRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

type statusDocument struct {
	Kind     Kind       `json:"kind"`
	Runs     []RunEntry `json:"runs"`
	Warnings []string   `json:"warnings,omitempty"`
}

type quarantineDocument struct {
	Kind     Kind              `json:"kind"`
	Items    []quarantine.Item `json:"items"`
	Warnings []string          `json:"warnings,omitempty"`
}

type restoreDocument struct {
	Kind     Kind                  `json:"kind"`
	Restored []quarantine.Restored `json:"restored"`
	Warnings []string              `json:"warnings,omitempty"`
}

type verifyDocument struct {
	Kind         Kind                 `json:"kind"`
	Verification *bundle.Verification `json:"verification"`
	Warnings     []string             `json:"warnings,omitempty"`
}

// document picks the shape for r.Kind. Lists are never null.
func document(r *Report) (interface{}, error) {
	switch r.Kind {
	case KindPlan:
		return planDocument{Kind: r.Kind, Plan: r.Plan, Warnings: r.Warnings}, nil
	case KindRun:
		doc := runDocument{
			Kind:       r.Kind,
			Skipped:    r.Skipped,
			SkipReason: r.SkipReason,
			Plan:       r.Plan,
			Results:    nonNil(r.Results),
			Succeeded:  types.CountSucceeded(r.Results),
			Warnings:   r.Warnings,
		}
		if r.BundlePath != "" {
			doc.Bundle = &bundleRef{Path: r.BundlePath, SHA256: r.BundleHash}
		}
		return doc, nil
	case KindStatus:
		return statusDocument{Kind: r.Kind, Runs: nonNil(r.Runs), Warnings: r.Warnings}, nil
	case KindQuarantine:
		return quarantineDocument{Kind: r.Kind, Items: nonNil(r.Quarantine), Warnings: r.Warnings}, nil
	case KindRestore:
		return restoreDocument{Kind: r.Kind, Restored: nonNil(r.Restored), Warnings: r.Warnings}, nil
	case KindVerify:
		return verifyDocument{Kind: r.Kind, Verification: r.Verification, Warnings: r.Warnings}, nil
	default:
		return nil, fmt.Errorf("unknown report kind: %q", r.Kind)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// JSONFormatter writes the report as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted report to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	doc, err := document(r)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)
