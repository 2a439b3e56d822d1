// Package ui provides stderr-based output for pulsar: a line printer
// that follows the engine's event stream and summary views for the
// inspection commands.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/papapumpkin/pulsar/internal/ansi"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// Printer renders engine events and command output as colored lines on
// stderr. Verbose adds variant-level and commit-level detail.
type Printer struct {
	Verbose bool
}

// New returns a Printer at the given verbosity.
func New(verbose bool) *Printer {
	return &Printer{Verbose: verbose}
}

// HandleEvent prints one engine event. It is safe to pass as the
// engine's OnEvent hook; events arrive already ordered per step.
func (p *Printer) HandleEvent(evt telemetry.Event) {
	switch evt.Kind {
	case telemetry.KindRunStart:
		fmt.Fprintf(os.Stderr, ansi.Bold+ansi.Cyan+"◆ plan %s"+ansi.Reset+ansi.Dim+" — %d step(s), %d worker(s)"+ansi.Reset+"\n",
			dataString(evt.Data, "plan"), dataInt(evt.Data, "steps"), dataInt(evt.Data, "workers"))

	case telemetry.KindStepStart:
		fmt.Fprintf(os.Stderr, ansi.Blue+ansi.Bold+"▶ %s"+ansi.Reset+"\n", evt.StepID)

	case telemetry.KindVariantStart:
		if p.Verbose {
			fmt.Fprintf(os.Stderr, ansi.Dim+"  trying variant %s"+ansi.Reset+"\n", evt.Variant)
		}

	case telemetry.KindVariantOK:
		if p.Verbose {
			fmt.Fprintf(os.Stderr, ansi.Dim+"  ✓ variant %s (%d tool call(s), %dms)"+ansi.Reset+"\n",
				evt.Variant, dataInt(evt.Data, "tool_calls"), dataInt(evt.Data, "elapsed_ms"))
		}

	case telemetry.KindVariantFail:
		fmt.Fprintf(os.Stderr, ansi.Yellow+"⚠ %s variant %s failed"+ansi.Reset+ansi.Dim+" (%s) — trying next"+ansi.Reset+"\n",
			evt.StepID, evt.Variant, dataString(evt.Data, "kind"))
		if p.Verbose {
			fmt.Fprintf(os.Stderr, ansi.Dim+"  %s"+ansi.Reset+"\n", dataString(evt.Data, "reason"))
		}

	case telemetry.KindStepDone:
		detail := fmt.Sprintf(" via %s", evt.Variant)
		if n := dataInt(evt.Data, "iterations"); n > 1 {
			detail += fmt.Sprintf(", %d iterations", n)
		}
		fmt.Fprintf(os.Stderr, ansi.Green+"✓ %s"+ansi.Reset+ansi.Dim+"%s"+ansi.Reset+"\n", evt.StepID, detail)

	case telemetry.KindStepFailed:
		fmt.Fprintf(os.Stderr, ansi.Red+ansi.Bold+"✗ %s"+ansi.Reset+" — %s: %s\n",
			evt.StepID, dataString(evt.Data, "kind"), dataString(evt.Data, "error"))

	case telemetry.KindStepSkipped:
		fmt.Fprintf(os.Stderr, ansi.Magenta+"– %s skipped"+ansi.Reset+ansi.Dim+" (%s)"+ansi.Reset+"\n",
			evt.StepID, dataString(evt.Data, "cause"))

	case telemetry.KindLoopIteration:
		fmt.Fprintf(os.Stderr, ansi.Magenta+"↻ %s iteration %d"+ansi.Reset+"\n",
			evt.StepID, dataInt(evt.Data, "iteration"))
		if p.Verbose {
			if next := dataString(evt.Data, "next_instruction"); next != "" {
				fmt.Fprintf(os.Stderr, ansi.Dim+"  %s"+ansi.Reset+"\n", next)
			}
		}

	case telemetry.KindLoopAborted:
		fmt.Fprintf(os.Stderr, ansi.Yellow+ansi.Bold+"⚠ %s hit the iteration ceiling (%d)"+ansi.Reset+"\n",
			evt.StepID, dataInt(evt.Data, "budget"))

	case telemetry.KindStoreCommit:
		if p.Verbose {
			fmt.Fprintf(os.Stderr, ansi.Dim+"  committed %s"+ansi.Reset+"\n",
				strings.Join(dataStrings(evt.Data, "names"), ", "))
		}

	case telemetry.KindIntervention:
		switch dataString(evt.Data, "action") {
		case "stop":
			fmt.Fprintln(os.Stderr, ansi.Red+ansi.Bold+"■ stop requested"+ansi.Reset)
		case "pause":
			fmt.Fprintln(os.Stderr, ansi.Yellow+"⏸ run paused"+ansi.Reset)
		case "resume":
			fmt.Fprintln(os.Stderr, ansi.Green+"▶ run resumed"+ansi.Reset)
		}

	case telemetry.KindContinuation:
		p.continuation(evt)

	case telemetry.KindRunDone:
		p.runDone(evt)
	}
}

func (p *Printer) continuation(evt telemetry.Event) {
	file := dataString(evt.Data, "file")
	switch dataString(evt.Data, "action") {
	case "merged":
		fmt.Fprintf(os.Stderr, ansi.Cyan+"⟳ merged step %s"+ansi.Reset+ansi.Dim+" from %s"+ansi.Reset+"\n", evt.StepID, file)
	case "updated":
		fmt.Fprintf(os.Stderr, ansi.Cyan+"⟳ updated step %s"+ansi.Reset+ansi.Dim+" from %s"+ansi.Reset+"\n", evt.StepID, file)
	case "rejected":
		fmt.Fprintf(os.Stderr, ansi.Yellow+"⟳ rejected %s"+ansi.Reset+"\n", file)
		for _, reason := range dataStrings(evt.Data, "reasons") {
			fmt.Fprintf(os.Stderr, "  "+ansi.Yellow+"• "+ansi.Reset+"%s\n", reason)
		}
	case "ignored":
		fmt.Fprintf(os.Stderr, ansi.Dim+"⟳ ignored %s (%s)"+ansi.Reset+"\n", file, dataString(evt.Data, "reason"))
	}
}

func (p *Printer) runDone(evt telemetry.Event) {
	status := dataString(evt.Data, "status")
	color := ansi.Green
	switch status {
	case "failed":
		color = ansi.Red
	case "stopped":
		color = ansi.Yellow
	}
	fmt.Fprintf(os.Stderr, color+ansi.Bold+"◆ run %s"+ansi.Reset+ansi.Dim+" — %d succeeded, %d failed, %d skipped, %d pending"+ansi.Reset+"\n",
		status,
		dataInt(evt.Data, "succeeded"),
		dataInt(evt.Data, "failed"),
		dataInt(evt.Data, "skipped"),
		dataInt(evt.Data, "pending"))
}

// Error prints a highlighted error line.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(os.Stderr, ansi.Red+ansi.Bold+"error: "+ansi.Reset+"%s\n", msg)
}

// Info prints a dimmed informational line.
func (p *Printer) Info(msg string) {
	fmt.Fprintf(os.Stderr, ansi.Dim+"%s"+ansi.Reset+"\n", msg)
}

// Event payloads carry native values when they come straight from the
// engine and JSON-decoded ones when replayed from the event log; the
// accessors below accept both.

func dataString(data any, key string) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func dataInt(data any, key string) int {
	m, ok := data.(map[string]any)
	if !ok {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func dataStrings(data any, key string) []string {
	m, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
