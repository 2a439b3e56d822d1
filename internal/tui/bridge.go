// This file implements the bridges that feed telemetry events into the TUI.
// Bridge converts events handed over by the engine's event hook; TailBridge
// follows the JSONL event log of a run owned by another process.
package tui

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// Bridge forwards engine telemetry events to a running TUI program.
type Bridge struct {
	program *tea.Program
}

// NewBridge creates a bridge that sends translated events to program.
func NewBridge(p *tea.Program) *Bridge {
	return &Bridge{program: p}
}

// Handle translates a telemetry event and sends it to the TUI. It is the
// engine's event hook and must not block on the engine's account; Send only
// blocks until the program's receive loop starts.
func (b *Bridge) Handle(evt telemetry.Event) {
	if msg := EventMsg(evt); msg != nil {
		b.program.Send(msg)
	}
}

// Done signals the TUI that the engine goroutine has returned.
func (b *Bridge) Done(err error) {
	b.program.Send(MsgEngineDone{Err: err})
}

// TailBridge follows a JSONL event log and sends translated events to the
// TUI program. Unlike Bridge it replays the full event history first, so a
// board attached to a run already in progress reflects completed steps. It
// runs as a background goroutine and stops when the done channel is closed.
type TailBridge struct {
	send     func(tea.Msg)
	path     string
	done     chan struct{}
	stopOnce sync.Once
}

// NewTailBridge creates a bridge that tails the event log at path.
func NewTailBridge(p *tea.Program, path string) *TailBridge {
	return newTailBridge(p.Send, path)
}

func newTailBridge(send func(tea.Msg), path string) *TailBridge {
	return &TailBridge{
		send: send,
		path: path,
		done: make(chan struct{}),
	}
}

// Start begins tailing the event log in a background goroutine.
func (tb *TailBridge) Start() error {
	f, err := os.Open(tb.path)
	if err != nil {
		return fmt.Errorf("tail bridge: open %s: %w", tb.path, err)
	}
	go tb.tail(f)
	return nil
}

// Stop signals the tailing goroutine to exit. Safe to call multiple times.
func (tb *TailBridge) Stop() {
	tb.stopOnce.Do(func() { close(tb.done) })
}

// tail reads lines from the file, polling for new content. A line the
// writer is still appending stays pending until its newline arrives.
func (tb *TailBridge) tail(f *os.File) {
	defer f.Close()

	const pollInterval = 250 * time.Millisecond
	reader := bufio.NewReader(f)
	var pending []byte

	for {
		for {
			chunk, err := reader.ReadBytes('\n')
			pending = append(pending, chunk...)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					return
				}
				break
			}
			tb.handleLine(pending)
			pending = pending[:0]
		}

		select {
		case <-tb.done:
			return
		case <-time.After(pollInterval):
		}
	}
}

// handleLine decodes one JSONL record and forwards it. Malformed lines are
// skipped; a writer may be mid-append when we read.
func (tb *TailBridge) handleLine(line []byte) {
	var evt telemetry.Event
	if err := json.Unmarshal(line, &evt); err != nil {
		return
	}
	if msg := EventMsg(evt); msg != nil {
		tb.send(msg)
	}
}

// EventMsg translates a telemetry event into the corresponding TUI message.
// Returns nil for event kinds the TUI does not display. Payload values are
// native Go types when the event comes straight from the engine and
// JSON-decoded ones when replayed from the event log, so the accessors
// accept both.
func EventMsg(evt telemetry.Event) tea.Msg {
	data, _ := evt.Data.(map[string]any)

	switch evt.Kind {
	case telemetry.KindRunStart:
		return MsgRunStart{
			RunID:   evt.RunID,
			Plan:    evString(data, "plan"),
			Steps:   evInt(data, "steps"),
			Workers: evInt(data, "workers"),
		}
	case telemetry.KindStepStart:
		return MsgStepStart{StepID: evt.StepID}
	case telemetry.KindVariantStart:
		return MsgVariantStart{
			StepID:    evt.StepID,
			Variant:   evt.Variant,
			Iteration: evInt(data, "iteration"),
		}
	case telemetry.KindVariantOK:
		return MsgVariantOK{
			StepID:    evt.StepID,
			Variant:   evt.Variant,
			Iteration: evInt(data, "iteration"),
			ToolCalls: evInt(data, "tool_calls"),
			ElapsedMs: int64(evInt(data, "elapsed_ms")),
		}
	case telemetry.KindVariantFail:
		return MsgVariantFail{
			StepID:    evt.StepID,
			Variant:   evt.Variant,
			Iteration: evInt(data, "iteration"),
			Kind:      evString(data, "kind"),
			Reason:    evString(data, "reason"),
		}
	case telemetry.KindStepDone:
		return MsgStepDone{
			StepID:     evt.StepID,
			Variant:    evt.Variant,
			Iterations: evInt(data, "iterations"),
		}
	case telemetry.KindStepFailed:
		return MsgStepFailed{
			StepID: evt.StepID,
			Kind:   evString(data, "kind"),
			Error:  evString(data, "error"),
		}
	case telemetry.KindStepSkipped:
		return MsgStepSkipped{
			StepID: evt.StepID,
			Cause:  evString(data, "cause"),
		}
	case telemetry.KindLoopIteration:
		return MsgLoopIteration{
			StepID:      evt.StepID,
			Iteration:   evInt(data, "iteration"),
			Instruction: evString(data, "next_instruction"),
		}
	case telemetry.KindLoopAborted:
		return MsgLoopAborted{
			StepID:    evt.StepID,
			Iteration: evInt(data, "iteration"),
			Budget:    evInt(data, "budget"),
		}
	case telemetry.KindStoreCommit:
		return MsgStoreCommit{
			StepID:    evt.StepID,
			Iteration: evInt(data, "iteration"),
			Names:     evStrings(data, "names"),
		}
	case telemetry.KindIntervention:
		return MsgIntervention{Action: evString(data, "action")}
	case telemetry.KindContinuation:
		reasons := evStrings(data, "reasons")
		if len(reasons) == 0 {
			if r := evString(data, "reason"); r != "" {
				reasons = []string{r}
			}
		}
		return MsgContinuation{
			Action:  evString(data, "action"),
			File:    evString(data, "file"),
			Reasons: reasons,
		}
	case telemetry.KindRunDone:
		return MsgRunDone{
			Status:    evString(data, "status"),
			Succeeded: evInt(data, "succeeded"),
			Failed:    evInt(data, "failed"),
			Skipped:   evInt(data, "skipped"),
			Pending:   evInt(data, "pending"),
		}
	default:
		return nil
	}
}

// evString extracts a string payload value.
func evString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// evInt extracts an integer payload value across the numeric types that
// native and JSON-decoded payloads use.
func evInt(data map[string]any, key string) int {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// evStrings extracts a string slice payload value.
func evStrings(data map[string]any, key string) []string {
	if data == nil {
		return nil
	}
	switch v := data[key].(type) {
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
	default:
		return nil
	}
}
