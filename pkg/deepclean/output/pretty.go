package output

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/deepclean/pkg/deepclean/types"
)

// PrettyFormatter renders reports for a terminal with lipgloss styling.
type PrettyFormatter struct{}

// Format writes the formatted report to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	switch r.Kind {
	case KindPlan:
		f.formatPlan(w, r)
	case KindRun:
		f.formatRun(w, r)
	case KindStatus:
		f.formatStatus(w, r)
	case KindQuarantine:
		f.formatQuarantine(w, r)
	case KindRestore:
		f.formatRestore(w, r)
	case KindVerify:
		f.formatVerify(w, r)
	default:
		return fmt.Errorf("unknown report kind: %q", r.Kind)
	}

	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatPlan(w *bytes.Buffer, r *Report) {
	if r.Plan == nil {
		w.WriteString(MutedStyle.Render("No plan") + "\n")
		return
	}
	w.WriteString(planHeader(r.Plan))
	w.WriteString("\n")

	if len(r.Plan.Actions) == 0 {
		w.WriteString(MutedStyle.Render("  Nothing to do") + "\n")
	} else {
		rows := make([][]string, len(r.Plan.Actions))
		for i, a := range r.Plan.Actions {
			rows[i] = []string{
				strings.ToUpper(string(a.Type)),
				a.FileInfo.HumanSize(),
				relTo(r.Plan.RootPath, a.SourcePath),
				relTo(r.Plan.RootPath, a.TargetPath),
				a.Reason,
			}
		}
		w.WriteString(actionTable([]string{"ACTION", "SIZE", "SOURCE", "TARGET", "REASON"}, rows, func(col int, cell string) string {
			switch col {
			case 0:
				return styleKind(cell).Render(cell)
			case 1, 4:
				return MutedStyle.Render(cell)
			default:
				return PathStyle.Render(cell)
			}
		}))
	}

	w.WriteString(FooterBox.Render(strings.Join([]string{
		label("Actions:", fmt.Sprintf("%d", len(r.Plan.Actions))),
		label("Files:", fmt.Sprintf("%d", r.Plan.FileCount)),
		MutedStyle.Render(kindCounts(r.Plan)),
	}, "  ")))
	w.WriteString("\n")
	if cats := categoryCounts(r.Plan); cats != "" {
		w.WriteString(MutedStyle.Render("  Touched files by category: "+cats) + "\n")
	}
}

func (f *PrettyFormatter) formatRun(w *bytes.Buffer, r *Report) {
	if r.Skipped {
		w.WriteString(WarningStyle.Bold(true).Render("Run skipped: "+r.SkipReason) + "\n")
		return
	}
	if r.Plan == nil {
		w.WriteString(MutedStyle.Render("No plan") + "\n")
		return
	}
	w.WriteString(planHeader(r.Plan))
	w.WriteString("\n")

	if len(r.Results) == 0 {
		w.WriteString(MutedStyle.Render("  No actions executed") + "\n")
	} else {
		rows := make([][]string, len(r.Results))
		for i, res := range r.Results {
			status := "OK"
			detail := res.Reason
			if !res.Success {
				status = "FAIL"
				detail = res.Error
			}
			rows[i] = []string{
				status,
				strings.ToUpper(string(res.Type)),
				relTo(r.Plan.RootPath, res.SourcePath),
				relTo(r.Plan.RootPath, res.TargetPath),
				detail,
			}
		}
		w.WriteString(actionTable([]string{"STATUS", "ACTION", "SOURCE", "TARGET", "DETAIL"}, rows, func(col int, cell string) string {
			switch col {
			case 0:
				if cell == "OK" {
					return SuccessStyle.Render(cell)
				}
				return ErrorStyle.Bold(true).Render(cell)
			case 1:
				return styleKind(cell).Render(cell)
			case 4:
				return MutedStyle.Render(cell)
			default:
				return PathStyle.Render(cell)
			}
		}))
	}

	succeeded := types.CountSucceeded(r.Results)
	summary := fmt.Sprintf("%d/%d succeeded", succeeded, len(r.Results))
	summaryStyle := SuccessStyle
	if succeeded < len(r.Results) {
		summaryStyle = WarningStyle
	}
	lines := []string{LabelStyle.Render("Result:") + " " + summaryStyle.Render(summary)}
	if len(r.Results) < len(r.Plan.Actions) {
		lines = append(lines, WarningStyle.Render(fmt.Sprintf("Partial run: %d of %d actions attempted", len(r.Results), len(r.Plan.Actions))))
	}
	if r.BundlePath != "" {
		lines = append(lines, label("Bundle:", r.BundlePath))
		lines = append(lines, label("SHA-256:", r.BundleHash))
	}
	w.WriteString(FooterBox.Render(strings.Join(lines, "\n")))
	w.WriteString("\n")
}

func (f *PrettyFormatter) formatStatus(w *bytes.Buffer, r *Report) {
	if len(r.Runs) == 0 {
		w.WriteString(MutedStyle.Render("  No runs recorded") + "\n")
		return
	}
	rows := make([][]string, len(r.Runs))
	for i, run := range r.Runs {
		summary := run.Summary
		if !run.Complete {
			summary += " [incomplete]"
		}
		rows[i] = []string{
			humanize.Time(run.EndTimestamp),
			run.RunID,
			mode(run.DryRun),
			shortHash(run.BundleSHA256),
			summary,
		}
	}
	w.WriteString(actionTable([]string{"WHEN", "RUN", "MODE", "BUNDLE", "SUMMARY"}, rows, func(col int, cell string) string {
		switch col {
		case 0, 3:
			return MutedStyle.Render(cell)
		case 2:
			if cell == "live" {
				return WarningStyle.Render(cell)
			}
			return LabelStyle.Render(cell)
		default:
			return ValueStyle.Render(cell)
		}
	}))
}

func (f *PrettyFormatter) formatQuarantine(w *bytes.Buffer, r *Report) {
	if len(r.Quarantine) == 0 {
		w.WriteString(MutedStyle.Render("  Quarantine is empty") + "\n")
		return
	}
	var total int64
	rows := make([][]string, len(r.Quarantine))
	for i, item := range r.Quarantine {
		kind := "quarantined"
		if item.Duplicate {
			kind = "duplicate"
		}
		total += item.Size
		rows[i] = []string{types.FormatSize(item.Size), kind, item.OriginalRelPath(), humanize.Time(item.ModTime)}
	}
	w.WriteString(actionTable([]string{"SIZE", "KIND", "PATH", "MODIFIED"}, rows, func(col int, cell string) string {
		switch col {
		case 0:
			return KindStyle.Render(cell)
		case 2:
			return PathStyle.Render(cell)
		default:
			return MutedStyle.Render(cell)
		}
	}))
	w.WriteString(FooterBox.Render(label("Items:", fmt.Sprintf("%d", len(r.Quarantine))) + "  " + label("Total:", types.FormatSize(total))))
	w.WriteString("\n")
}

func (f *PrettyFormatter) formatRestore(w *bytes.Buffer, r *Report) {
	if len(r.Restored) == 0 {
		w.WriteString(MutedStyle.Render("  Nothing restored") + "\n")
		return
	}
	for _, item := range r.Restored {
		if item.Error != "" {
			fmt.Fprintf(w, "  %s %s %s\n", ErrorStyle.Render("FAIL"), PathStyle.Render(item.RelPath), MutedStyle.Render(item.Error))
			continue
		}
		fmt.Fprintf(w, "  %s %s -> %s\n", SuccessStyle.Render("OK"), PathStyle.Render(item.RelPath), PathStyle.Render(item.Target))
	}
}

func (f *PrettyFormatter) formatVerify(w *bytes.Buffer, r *Report) {
	v := r.Verification
	if v == nil {
		w.WriteString(MutedStyle.Render("  Nothing verified") + "\n")
		return
	}
	lines := []string{label("Bundle:", v.Path)}
	if v.RunID != "" {
		lines = append(lines, label("Run:", v.RunID))
	}
	lines = append(lines, label("Expected:", v.Expected), label("Actual:", v.Actual))
	if v.Match {
		lines = append(lines, SuccessStyle.Bold(true).Render("MATCH"))
		w.WriteString(HeaderBox.Render(strings.Join(lines, "\n")))
	} else {
		lines = append(lines, ErrorStyle.Bold(true).Render("MISMATCH"))
		w.WriteString(ErrorBox.Render(strings.Join(lines, "\n")))
	}
	w.WriteString("\n")
}

func planHeader(p *types.ActionPlan) string {
	modeStyle := LabelStyle
	if !p.DryRun {
		modeStyle = WarningStyle.Bold(true)
	}
	lines := []string{
		label("Root:", p.RootPath),
		strings.Join([]string{
			label("Run:", p.RunID),
			LabelStyle.Render("Mode:") + " " + modeStyle.Render(mode(p.DryRun)),
		}, "  "),
		strings.Join([]string{
			label("Policy:", p.PolicyVersion+" "+shortHash(p.PolicyHash)),
			label("Plan:", shortHash(p.PlanHash)),
		}, "  "),
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func label(name, value string) string {
	return LabelStyle.Render(name) + " " + ValueStyle.Render(value)
}

// actionTable aligns rows on the unstyled cell widths, then styles each cell.
func actionTable(headers []string, rows [][]string, style func(col int, cell string) string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString(" ")
	for i, h := range headers {
		sb.WriteString(" ")
		sb.WriteString(TableHeaderStyle.Render(padRight(h, widths[i], i == len(headers)-1)))
	}
	sb.WriteString("\n")
	for _, row := range rows {
		sb.WriteString(" ")
		for i, cell := range row {
			sb.WriteString(" ")
			sb.WriteString(style(i, padRight(cell, widths[i], i == len(row)-1)))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func padRight(s string, width int, last bool) string {
	if last || len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

// relTo shows path relative to root when it lies underneath it.
func relTo(root, path string) string {
	if path == "" || root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// kindCounts renders "dedupe: 2  rename: 1" in a stable order.
func kindCounts(p *types.ActionPlan) string {
	counts := p.CountByKind()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s: %d", k, counts[types.ActionKind(k)])
	}
	return strings.Join(parts, "  ")
}

// categoryCounts counts the distinct files a plan touches per category.
func categoryCounts(p *types.ActionPlan) string {
	seen := make(map[string]bool)
	counts := make(map[types.Category]int)
	for _, a := range p.Actions {
		if seen[a.SourcePath] {
			continue
		}
		seen[a.SourcePath] = true
		counts[a.FileInfo.Category]++
	}
	var parts []string
	for _, c := range types.Categories {
		if n := counts[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", c, n))
		}
	}
	return strings.Join(parts, "  ")
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
