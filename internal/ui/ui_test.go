package ui

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// captureStderr redirects os.Stderr to a pipe and returns the captured output.
func captureStderr(fn func()) string {
	r, w, _ := os.Pipe()
	orig := os.Stderr
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = orig

	data, _ := io.ReadAll(r)
	r.Close()
	return string(data)
}

func TestHandleEvent_RunStart(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind: telemetry.KindRunStart,
			Data: map[string]any{"plan": "nightly", "steps": 4, "workers": 2},
		})
	})
	for _, want := range []string{"nightly", "4 step(s)", "2 worker(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleEvent_StepDone(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind:    telemetry.KindStepDone,
			StepID:  "crunch",
			Variant: "b",
			Data:    map[string]any{"iterations": 3},
		})
	})
	for _, want := range []string{"✓", "crunch", "via b", "3 iterations"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleEvent_StepDone_SingleIteration(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind:    telemetry.KindStepDone,
			StepID:  "crunch",
			Variant: "a",
			Data:    map[string]any{"iterations": 1},
		})
	})
	if strings.Contains(out, "iterations") {
		t.Errorf("single iteration should not be called out:\n%s", out)
	}
}

func TestHandleEvent_VariantFail(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind:    telemetry.KindVariantFail,
			StepID:  "crunch",
			Variant: "a",
			Data:    map[string]any{"kind": "runner_fault", "reason": "eval: boom"},
		})
	})
	for _, want := range []string{"⚠", "crunch", "variant a", "runner_fault"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Reason detail is verbose-only.
	if strings.Contains(out, "eval: boom") {
		t.Errorf("reason shown without verbose:\n%s", out)
	}
}

func TestHandleEvent_VerboseDetail(t *testing.T) {
	p := New(true)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind:    telemetry.KindVariantStart,
			StepID:  "crunch",
			Variant: "a",
		})
		p.HandleEvent(telemetry.Event{
			Kind:    telemetry.KindVariantOK,
			StepID:  "crunch",
			Variant: "a",
			Data:    map[string]any{"tool_calls": 2, "elapsed_ms": int64(15)},
		})
		p.HandleEvent(telemetry.Event{
			Kind:   telemetry.KindStoreCommit,
			StepID: "crunch",
			Data:   map[string]any{"names": []string{"total_crunch_a"}},
		})
	})
	for _, want := range []string{"trying variant a", "2 tool call(s)", "committed total_crunch_a"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleEvent_QuietWithoutVerbose(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{Kind: telemetry.KindVariantStart, StepID: "s", Variant: "a"})
		p.HandleEvent(telemetry.Event{Kind: telemetry.KindVariantOK, StepID: "s", Variant: "a"})
		p.HandleEvent(telemetry.Event{Kind: telemetry.KindStoreCommit, StepID: "s", Data: map[string]any{"names": []string{"x_s_a"}}})
	})
	if out != "" {
		t.Errorf("variant chatter printed without verbose:\n%s", out)
	}
}

func TestHandleEvent_Skipped(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind:   telemetry.KindStepSkipped,
			StepID: "publish",
			Data:   map[string]any{"cause": "upstream step crunch failed"},
		})
	})
	for _, want := range []string{"publish", "skipped", "upstream step crunch failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleEvent_Interventions(t *testing.T) {
	p := New(false)
	for action, want := range map[string]string{
		"stop":   "stop requested",
		"pause":  "paused",
		"resume": "resumed",
	} {
		out := captureStderr(func() {
			p.HandleEvent(telemetry.Event{
				Kind: telemetry.KindIntervention,
				Data: map[string]any{"action": action},
			})
		})
		if !strings.Contains(out, want) {
			t.Errorf("%s: output missing %q:\n%s", action, want, out)
		}
	}
}

func TestHandleEvent_ContinuationRejected(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind: telemetry.KindContinuation,
			Data: map[string]any{
				"action":  "rejected",
				"file":    "extra.md",
				"reasons": []string{"extra.md: step c: step depends on unknown step ID"},
			},
		})
	})
	for _, want := range []string{"rejected extra.md", "unknown step ID"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHandleEvent_RunDone(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.HandleEvent(telemetry.Event{
			Kind: telemetry.KindRunDone,
			Data: map[string]any{"status": "failed", "succeeded": 2, "failed": 1, "skipped": 1, "pending": 0},
		})
	})
	for _, want := range []string{"run failed", "2 succeeded", "1 failed", "1 skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDataAccessors_JSONDecodedPayloads(t *testing.T) {
	// JSON round trips turn ints into float64 and []string into []any.
	data := map[string]any{
		"steps": float64(7),
		"plan":  "replayed",
		"names": []any{"x_s_a", "y_s_a"},
	}
	if got := dataInt(data, "steps"); got != 7 {
		t.Errorf("dataInt = %d, want 7", got)
	}
	if got := dataString(data, "plan"); got != "replayed" {
		t.Errorf("dataString = %q, want replayed", got)
	}
	if got := dataStrings(data, "names"); len(got) != 2 || got[0] != "x_s_a" {
		t.Errorf("dataStrings = %v", got)
	}
	if got := dataInt(nil, "steps"); got != 0 {
		t.Errorf("dataInt(nil) = %d, want 0", got)
	}
}

func TestErrorAndInfo(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.Error("disk full")
		p.Info("retrying")
	})
	if !strings.Contains(out, "error: ") || !strings.Contains(out, "disk full") {
		t.Errorf("Error output malformed:\n%s", out)
	}
	if !strings.Contains(out, "retrying") {
		t.Errorf("Info output malformed:\n%s", out)
	}
}
