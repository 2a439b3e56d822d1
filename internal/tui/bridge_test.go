package tui

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/papapumpkin/pulsar/internal/telemetry"
)

func TestEventMsg(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event telemetry.Event
		want  tea.Msg
	}{
		{
			name: "run_start",
			event: telemetry.Event{
				Kind:  telemetry.KindRunStart,
				RunID: "run-1",
				Data:  map[string]any{"plan": "pipeline", "steps": 3, "workers": 2},
			},
			want: MsgRunStart{RunID: "run-1", Plan: "pipeline", Steps: 3, Workers: 2},
		},
		{
			name:  "step_start",
			event: telemetry.Event{Kind: telemetry.KindStepStart, StepID: "fetch"},
			want:  MsgStepStart{StepID: "fetch"},
		},
		{
			name: "variant_ok with native payload",
			event: telemetry.Event{
				Kind:    telemetry.KindVariantOK,
				StepID:  "fetch",
				Variant: "a",
				Data:    map[string]any{"iteration": 1, "tool_calls": 2, "elapsed_ms": int64(15)},
			},
			want: MsgVariantOK{StepID: "fetch", Variant: "a", Iteration: 1, ToolCalls: 2, ElapsedMs: 15},
		},
		{
			name: "variant_fail with json-decoded payload",
			event: telemetry.Event{
				Kind:    telemetry.KindVariantFail,
				StepID:  "crunch",
				Variant: "b",
				Data: map[string]any{
					"iteration": float64(2),
					"kind":      "contract",
					"reason":    "missing write total_crunch_b",
				},
			},
			want: MsgVariantFail{
				StepID:    "crunch",
				Variant:   "b",
				Iteration: 2,
				Kind:      "contract",
				Reason:    "missing write total_crunch_b",
			},
		},
		{
			name: "step_done",
			event: telemetry.Event{
				Kind:    telemetry.KindStepDone,
				StepID:  "crunch",
				Variant: "b",
				Data:    map[string]any{"iterations": 3},
			},
			want: MsgStepDone{StepID: "crunch", Variant: "b", Iterations: 3},
		},
		{
			name: "step_skipped",
			event: telemetry.Event{
				Kind:   telemetry.KindStepSkipped,
				StepID: "publish",
				Data:   map[string]any{"cause": "needs failed: crunch"},
			},
			want: MsgStepSkipped{StepID: "publish", Cause: "needs failed: crunch"},
		},
		{
			name: "store_commit with json-decoded names",
			event: telemetry.Event{
				Kind:   telemetry.KindStoreCommit,
				StepID: "crunch",
				Data:   map[string]any{"iteration": float64(1), "names": []any{"total_crunch_b"}},
			},
			want: MsgStoreCommit{StepID: "crunch", Iteration: 1, Names: []string{"total_crunch_b"}},
		},
		{
			name: "intervention",
			event: telemetry.Event{
				Kind: telemetry.KindIntervention,
				Data: map[string]any{"action": "pause"},
			},
			want: MsgIntervention{Action: "pause"},
		},
		{
			name: "continuation with single reason",
			event: telemetry.Event{
				Kind: telemetry.KindContinuation,
				Data: map[string]any{"action": "rejected", "file": "bad.md", "reason": "unknown dependency"},
			},
			want: MsgContinuation{Action: "rejected", File: "bad.md", Reasons: []string{"unknown dependency"}},
		},
		{
			name: "run_done",
			event: telemetry.Event{
				Kind: telemetry.KindRunDone,
				Data: map[string]any{
					"status": "failed", "succeeded": 1, "failed": 1, "skipped": 1, "pending": 0,
				},
			},
			want: MsgRunDone{Status: "failed", Succeeded: 1, Failed: 1, Skipped: 1},
		},
		{
			name:  "unknown kind dropped",
			event: telemetry.Event{Kind: "bogus"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := EventMsg(tt.event)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("EventMsg() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestTailBridge_ReplaysAndFollows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, telemetry.EventsFileName)

	emitter, err := telemetry.NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	defer emitter.Close()

	// History written before the bridge attaches must be replayed.
	if err := emitter.Emit(telemetry.Event{Kind: telemetry.KindStepStart, StepID: "fetch"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got := make(chan tea.Msg, 16)
	tb := newTailBridge(func(msg tea.Msg) { got <- msg }, path)
	if err := tb.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tb.Stop()

	waitMsg := func(want tea.Msg) {
		t.Helper()
		select {
		case msg := <-got:
			if !reflect.DeepEqual(msg, want) {
				t.Fatalf("msg = %#v, want %#v", msg, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %#v", want)
		}
	}

	waitMsg(MsgStepStart{StepID: "fetch"})

	// Events appended while tailing must flow through as well.
	if err := emitter.Emit(telemetry.Event{
		Kind:    telemetry.KindStepDone,
		StepID:  "fetch",
		Variant: "a",
		Data:    map[string]any{"iterations": 1},
	}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	waitMsg(MsgStepDone{StepID: "fetch", Variant: "a", Iterations: 1})
}

func TestTailBridge_SkipsPartialLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	// First half of a record, no newline yet.
	if _, err := f.WriteString(`{"kind":"step_start",`); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := make(chan tea.Msg, 4)
	tb := newTailBridge(func(msg tea.Msg) { got <- msg }, path)
	if err := tb.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tb.Stop()

	select {
	case msg := <-got:
		t.Fatalf("unexpected message from partial line: %#v", msg)
	case <-time.After(400 * time.Millisecond):
	}

	// Completing the line delivers the whole record.
	if _, err := f.WriteString("\"step\":\"fetch\"}\n"); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case msg := <-got:
		want := MsgStepStart{StepID: "fetch"}
		if !reflect.DeepEqual(msg, want) {
			t.Errorf("msg = %#v, want %#v", msg, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for completed line")
	}
}

func TestBridgeHandle_DropsUnknownKinds(t *testing.T) {
	t.Parallel()

	// Kinds the board does not display never reach the program, so a bridge
	// with no program stays quiet for them.
	b := NewBridge(nil)
	b.Handle(telemetry.Event{Kind: "bogus"})
}
