package output

import (
	"bytes"
	"fmt"
)

// PathsFormatter writes one path per line: action sources for plans and
// runs, bundle archives for status, quarantine entries and restore targets.
type PathsFormatter struct{}

// Format writes the formatted report to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Report) error {
	var paths []string

	switch r.Kind {
	case KindPlan:
		if r.Plan != nil {
			for _, a := range r.Plan.Actions {
				paths = append(paths, a.SourcePath)
			}
		}
	case KindRun:
		for _, res := range r.Results {
			paths = append(paths, res.SourcePath)
		}
	case KindStatus:
		for _, run := range r.Runs {
			paths = append(paths, run.BundlePath)
		}
	case KindQuarantine:
		for _, item := range r.Quarantine {
			paths = append(paths, item.RelPath)
		}
	case KindRestore:
		for _, item := range r.Restored {
			if item.Error == "" {
				paths = append(paths, item.Target)
			}
		}
	case KindVerify:
		if r.Verification != nil {
			paths = append(paths, r.Verification.Path)
		}
	default:
		return fmt.Errorf("unknown report kind: %q", r.Kind)
	}

	for _, p := range paths {
		w.WriteString(p)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("paths", func() Formatter {
		return &PathsFormatter{}
	})
}

// Ensure PathsFormatter implements Formatter.
var _ Formatter = (*PathsFormatter)(nil)
