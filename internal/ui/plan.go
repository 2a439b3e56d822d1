package ui

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/papapumpkin/pulsar/internal/ansi"
	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/doctor"
	"github.com/papapumpkin/pulsar/internal/engine"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/vars"
)

// colors bundles the ANSI codes used by the summary views, emptied out
// when color is disabled.
type colors struct {
	reset, bold, dim               string
	blue, yellow, green, red, cyan string
	magenta                        string
}

func planColors(noColor bool) colors {
	if noColor {
		return colors{}
	}
	return colors{
		reset:   ansi.Reset,
		bold:    ansi.Bold,
		dim:     ansi.Dim,
		blue:    ansi.Blue,
		yellow:  ansi.Yellow,
		green:   ansi.Green,
		red:     ansi.Red,
		cyan:    ansi.Cyan,
		magenta: ansi.Magenta,
	}
}

// ValidateResult prints the outcome of plan validation.
func (p *Printer) ValidateResult(name string, stepCount int, errs []plan.ValidationError) {
	if len(errs) == 0 {
		fmt.Fprintf(os.Stderr, ansi.Green+ansi.Bold+"✓ plan %q"+ansi.Reset+" — %d step(s), no errors\n", name, stepCount)
		return
	}
	fmt.Fprintf(os.Stderr, ansi.Red+ansi.Bold+"✗ plan %q"+ansi.Reset+" — %d error(s):\n", name, len(errs))
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "  "+ansi.Red+"• "+ansi.Reset+"%s\n", e.Error())
	}
}

// DoctorResult prints per-check outcomes from a readiness chain.
func (p *Printer) DoctorResult(name string, r *doctor.Result) {
	if r.Passed {
		fmt.Fprintf(os.Stderr, ansi.Green+ansi.Bold+"✓ plan %q ready"+ansi.Reset+" — %d check(s) passed\n", name, len(r.Checks))
	} else {
		fmt.Fprintf(os.Stderr, ansi.Red+ansi.Bold+"✗ plan %q not ready"+ansi.Reset+"\n", name)
	}
	for _, c := range r.Checks {
		mark := ansi.Green + "✓" + ansi.Reset
		if !c.Passed {
			mark = ansi.Red + "✗" + ansi.Reset
		}
		fmt.Fprintf(os.Stderr, "  %s %s (%s)\n", mark, c.Name, c.Elapsed.Round(time.Millisecond))
		if !c.Passed && c.Output != "" {
			fmt.Fprintln(os.Stderr, c.Output)
		}
	}
}

// ShowPlan prints a full plan summary to stderr: waves, the critical
// path, per-step declarations, and aggregate stats.
func (p *Printer) ShowPlan(pl *plan.Plan, waves [][]string, critical []string, noColor bool) {
	c := planColors(noColor)

	fmt.Fprintf(os.Stderr, "%sPlan: %s%s\n", c.bold+c.cyan, pl.Manifest.Plan.Name, c.reset)
	if desc := pl.Manifest.Plan.Description; desc != "" {
		fmt.Fprintf(os.Stderr, "%s%s%s\n", c.dim, desc, c.reset)
	}

	fmt.Fprintf(os.Stderr, "\n%sExecution graph:%s\n", c.bold, c.reset)
	maxParallel := 0
	for wi, w := range waves {
		if len(w) > maxParallel {
			maxParallel = len(w)
		}
		fmt.Fprintf(os.Stderr, "  Wave %d: %s\n", wi+1, strings.Join(w, ", "))
	}
	if len(critical) > 1 {
		fmt.Fprintf(os.Stderr, "  %sCritical path:%s %s\n", c.dim, c.reset, strings.Join(critical, " → "))
	}

	fmt.Fprintf(os.Stderr, "\n%sSteps:%s\n", c.bold, c.reset)
	for _, s := range pl.Steps {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		fmt.Fprintf(os.Stderr, "  %s%-20s%s %s\n", c.cyan, s.ID, c.reset, title)
		if len(s.Needs) > 0 {
			fmt.Fprintf(os.Stderr, "    needs:    %s\n", strings.Join(s.Needs, ", "))
		}
		if len(s.After) > 0 {
			fmt.Fprintf(os.Stderr, "    after:    %s\n", strings.Join(s.After, ", "))
		}
		fmt.Fprintf(os.Stderr, "    writes:   %s\n", strings.Join(s.Writes, ", "))
		variants := make([]string, len(s.Variants))
		for i, v := range s.Variants {
			variants[i] = v.ID
		}
		if len(variants) > 0 {
			fmt.Fprintf(os.Stderr, "    variants: %s\n", strings.Join(variants, ", "))
		} else {
			fmt.Fprintf(os.Stderr, "    variants: %s(producer-authored)%s\n", c.dim, c.reset)
		}
		if s.Priority != 0 {
			fmt.Fprintf(os.Stderr, "    priority: %d\n", s.Priority)
		}
		if s.TimeoutSeconds > 0 {
			fmt.Fprintf(os.Stderr, "    timeout:  %ds\n", s.TimeoutSeconds)
		}
	}

	fmt.Fprintf(os.Stderr, "\n%sStats:%s %d step(s), %d wave(s), max parallelism %d\n",
		c.bold, c.reset, len(pl.Steps), len(waves), maxParallel)
	fmt.Fprintln(os.Stderr)
}

// ImpactSummary prints steps ranked by composite impact score, flagging
// the bottlenecks, then the partition into independently runnable
// tracks.
func (p *Printer) ImpactSummary(pl *plan.Plan, impact map[string]float64, tracks []dag.Track, noColor bool) {
	c := planColors(noColor)

	ids := make([]string, 0, len(impact))
	for id := range impact {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if impact[ids[i]] != impact[ids[j]] {
			return impact[ids[i]] > impact[ids[j]]
		}
		return ids[i] < ids[j]
	})

	threshold := impactThreshold(impact, ids)

	fmt.Fprintf(os.Stderr, "%sImpact: %s%s\n", c.bold+c.cyan, pl.Manifest.Plan.Name, c.reset)
	for rank, id := range ids {
		marker := ""
		if impact[id] >= threshold && impact[id] > 0 {
			marker = "  " + c.yellow + "⚠ bottleneck" + c.reset
		}
		fmt.Fprintf(os.Stderr, "  %2d. %s%-20s%s %.4f%s\n", rank+1, c.cyan, id, c.reset, impact[id], marker)
	}

	fmt.Fprintf(os.Stderr, "\n%sTracks:%s %d independent track(s)\n", c.bold, c.reset, len(tracks))
	for _, tr := range tracks {
		fmt.Fprintf(os.Stderr, "  Track %d %s(%d step(s), impact %.4f)%s\n",
			tr.ID+1, c.dim, len(tr.StepIDs), tr.AggregateImpact, c.reset)
		fmt.Fprintf(os.Stderr, "    %s\n", strings.Join(tr.StepIDs, " → "))
	}
	fmt.Fprintln(os.Stderr)
}

// impactThreshold returns the score at or above which a step counts as
// a bottleneck: the top 20th percentile, but always at least the single
// highest-scored step. ids must already be sorted by score descending.
func impactThreshold(impact map[string]float64, ids []string) float64 {
	if len(ids) == 0 {
		return 0
	}
	cutoff := len(ids) / 5
	if cutoff == 0 {
		cutoff = 1
	}
	return impact[ids[cutoff-1]]
}

// StateSummary prints the saved run state: one status line per step,
// sorted by ID, plus the run header.
func (p *Printer) StateSummary(st *plan.State, noColor bool) {
	c := planColors(noColor)

	fmt.Fprintf(os.Stderr, "%sRun %s%s %s(%s)%s\n", c.bold+c.cyan, st.RunID, c.reset, c.dim, st.PlanName, c.reset)
	fmt.Fprintf(os.Stderr, "  status:  %s\n", coloredRunStatus(st.Status, c))
	fmt.Fprintf(os.Stderr, "  started: %s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	if !st.FinishedAt.IsZero() {
		fmt.Fprintf(os.Stderr, "  finished: %s\n", st.FinishedAt.Format("2006-01-02 15:04:05"))
	}

	ids := make([]string, 0, len(st.Steps))
	for id := range st.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(os.Stderr)
	for _, id := range ids {
		ss := st.Steps[id]
		glyph, color := statusGlyph(ss.Status, c)
		line := fmt.Sprintf("  %s%s %-20s%s", color, glyph, id, c.reset)
		switch {
		case ss.Status == plan.StepSucceeded && ss.Variant != "":
			line += fmt.Sprintf(" %svia %s", c.dim, ss.Variant)
			if ss.Iterations > 1 {
				line += fmt.Sprintf(", %d iterations", ss.Iterations)
			}
			line += c.reset
		case ss.Error != "":
			line += fmt.Sprintf(" %s%s%s", c.dim, ss.Error, c.reset)
		}
		fmt.Fprintln(os.Stderr, line)
	}

	succeeded, failed, skipped, pending, running := st.Counts()
	fmt.Fprintf(os.Stderr, "\n  %d succeeded, %d failed, %d skipped, %d pending, %d running\n",
		succeeded, failed, skipped, pending, running)
}

// ReportSummary prints a finished run's report, including the variant
// fallback chains of failed steps.
func (p *Printer) ReportSummary(r *engine.Report, noColor bool) {
	c := planColors(noColor)

	fmt.Fprintf(os.Stderr, "%sRun %s%s %s(%s)%s\n", c.bold+c.cyan, r.RunID, c.reset, c.dim, r.Plan, c.reset)
	fmt.Fprintf(os.Stderr, "  status: %s\n\n", coloredRunStatus(r.Status, c))

	for _, s := range r.Steps {
		glyph, color := statusGlyph(s.Status, c)
		fmt.Fprintf(os.Stderr, "  %s%s %-20s%s", color, glyph, s.ID, c.reset)
		switch s.Status {
		case plan.StepSucceeded:
			fmt.Fprintf(os.Stderr, " %svia %s, %d iteration(s)%s", c.dim, s.Variant, s.Iterations, c.reset)
		case plan.StepFailed:
			fmt.Fprintf(os.Stderr, " %s%s: %s%s", c.red, s.ErrorKind, s.Error, c.reset)
		case plan.StepSkipped:
			fmt.Fprintf(os.Stderr, " %s%s%s", c.dim, s.SkipCause, c.reset)
		}
		fmt.Fprintln(os.Stderr)
		for _, f := range s.Failures {
			fmt.Fprintf(os.Stderr, "      %svariant %s (iteration %d): %s: %s%s\n",
				c.dim, f.Variant, f.Iteration, f.Kind, f.Reason, c.reset)
		}
	}
}

// VarsList prints the latest version of each variable with its
// provenance and a truncated value preview.
func (p *Printer) VarsList(entries []vars.Entry, noColor bool) {
	c := planColors(noColor)

	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "%s(no variables committed)%s\n", c.dim, c.reset)
		return
	}
	for _, e := range entries {
		fmt.Fprintf(os.Stderr, "  %s%-28s%s v%d %s%-6s%s %s%s/%s i%d%s  %s\n",
			c.cyan, e.Name, c.reset,
			e.Version,
			c.dim, e.Type, c.reset,
			c.dim, e.Step, e.Variant, e.Iteration, c.reset,
			previewValue(e))
	}
}

// VarsHistory prints every version of one variable, oldest first.
func (p *Printer) VarsHistory(name string, entries []vars.Entry, noColor bool) {
	c := planColors(noColor)

	fmt.Fprintf(os.Stderr, "%s%s%s\n", c.bold+c.cyan, name, c.reset)
	for _, e := range entries {
		fmt.Fprintf(os.Stderr, "  v%d  %s%s/%s iteration %d%s  %s\n",
			e.Version, c.dim, e.Step, e.Variant, e.Iteration, c.reset, previewValue(e))
	}
}

func coloredRunStatus(status plan.RunStatus, c colors) string {
	switch status {
	case plan.RunSucceeded:
		return c.green + string(status) + c.reset
	case plan.RunFailed:
		return c.red + string(status) + c.reset
	case plan.RunStopped:
		return c.yellow + string(status) + c.reset
	}
	return string(status)
}

func statusGlyph(status plan.StepStatus, c colors) (string, string) {
	switch status {
	case plan.StepSucceeded:
		return "✓", c.green
	case plan.StepFailed:
		return "✗", c.red
	case plan.StepSkipped:
		return "–", c.magenta
	case plan.StepRunning:
		return "▶", c.yellow
	default:
		return "·", c.blue
	}
}

// previewValue renders an entry's value as compact JSON, truncated for
// list display. File assets show their path instead.
func previewValue(e vars.Entry) string {
	if e.Type == vars.TypeFile {
		return e.Path
	}
	data, err := json.Marshal(e.Value)
	if err != nil {
		return fmt.Sprintf("%v", e.Value)
	}
	s := string(data)
	if utf8.RuneCountInString(s) > 48 {
		runes := []rune(s)
		s = string(runes[:45]) + "..."
	}
	return s
}
