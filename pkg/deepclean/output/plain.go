package output

import (
	"bytes"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// PlainFormatter writes tab-aligned tables without styling, for scripts.
type PlainFormatter struct{}

// Format writes the formatted report to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	switch r.Kind {
	case KindPlan:
		if r.Plan == nil {
			break
		}
		fmt.Fprintln(tw, "ACTION\tSOURCE\tTARGET\tREASON")
		for _, a := range r.Plan.Actions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Type, a.SourcePath, dash(a.TargetPath), a.Reason)
		}
	case KindRun:
		if r.Skipped {
			fmt.Fprintf(tw, "skipped\t%s\n", r.SkipReason)
			break
		}
		fmt.Fprintln(tw, "STATUS\tACTION\tSOURCE\tTARGET\tDETAIL")
		for _, res := range r.Results {
			status, detail := "ok", res.Reason
			if !res.Success {
				status, detail = "fail", res.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", status, res.Type, res.SourcePath, dash(res.TargetPath), detail)
		}
		if r.BundlePath != "" {
			fmt.Fprintf(tw, "bundle\t%s\t%s\n", r.BundlePath, r.BundleHash)
		}
	case KindStatus:
		fmt.Fprintln(tw, "END\tRUN\tMODE\tCOMPLETE\tSHA256\tSUMMARY")
		for _, run := range r.Runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
				run.EndTimestamp.UTC().Format(time.RFC3339), run.RunID, mode(run.DryRun), run.Complete, run.BundleSHA256, run.Summary)
		}
	case KindQuarantine:
		fmt.Fprintln(tw, "SIZE\tDUPLICATE\tPATH")
		for _, item := range r.Quarantine {
			fmt.Fprintf(tw, "%s\t%t\t%s\n", types.FormatSize(item.Size), item.Duplicate, item.RelPath)
		}
	case KindRestore:
		fmt.Fprintln(tw, "STATUS\tPATH\tTARGET")
		for _, item := range r.Restored {
			if item.Error != "" {
				fmt.Fprintf(tw, "fail\t%s\t%s\n", item.RelPath, item.Error)
				continue
			}
			fmt.Fprintf(tw, "ok\t%s\t%s\n", item.RelPath, item.Target)
		}
	case KindVerify:
		if v := r.Verification; v != nil {
			result := "match"
			if !v.Match {
				result = "mismatch"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", result, v.Actual, v.Path)
		}
	default:
		return fmt.Errorf("unknown report kind: %q", r.Kind)
	}

	for _, warning := range r.Warnings {
		fmt.Fprintf(tw, "warning\t%s\n", strings.TrimSpace(warning))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
