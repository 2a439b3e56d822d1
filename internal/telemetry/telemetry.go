// Package telemetry provides a JSONL event stream for recording state transitions
// during plan runs. Every step dispatch, variant attempt, store commit, loop
// iteration, and intervention is recorded as a structured JSON event, making runs
// auditable and replayable.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventsFileName is the conventional name of the event stream inside a plan
// directory.
const EventsFileName = "pulse.events.jsonl"

// EventsFile returns the path of the event stream for the plan directory dir.
func EventsFile(dir string) string {
	return filepath.Join(dir, EventsFileName)
}

// Event kinds identify the type of telemetry event.
const (
	KindRunStart      = "run_start"
	KindRunDone       = "run_done"
	KindStepStart     = "step_start"
	KindVariantStart  = "variant_start"
	KindVariantOK     = "variant_ok"
	KindVariantFail   = "variant_fail"
	KindStepDone      = "step_done"
	KindStepFailed    = "step_failed"
	KindStepSkipped   = "step_skipped"
	KindLoopIteration = "loop_iteration"
	KindLoopAborted   = "loop_aborted"
	KindStoreCommit   = "store_commit"
	KindIntervention  = "intervention"
	KindContinuation  = "continuation"
)

// Event represents a single telemetry record. Each event carries a timestamp,
// a kind tag, and optional context identifiers (run, step, variant) along with
// arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run,omitempty"`
	StepID    string    `json:"step,omitempty"`
	Variant   string    `json:"variant,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Emitter writes telemetry events to a JSONL file. It is safe for concurrent
// use by multiple goroutines. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewEmitter creates a new Emitter that writes JSONL events to the file at
// path. The file is created if it does not exist, or appended to if it does.
func NewEmitter(path string) (*Emitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes a single event to the JSONL file, stamping the event with the
// current time if the caller left the timestamp zero. It is safe for
// concurrent use. Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}
