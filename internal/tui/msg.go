package tui

import "time"

// Run lifecycle messages, translated from telemetry events by the Bridge.

// MsgRunStart is sent when the engine begins executing a plan.
type MsgRunStart struct {
	RunID   string
	Plan    string
	Steps   int
	Workers int
}

// MsgStepStart is sent when a step is dispatched to a worker.
type MsgStepStart struct {
	StepID string
}

// MsgVariantStart is sent when a variant attempt begins.
type MsgVariantStart struct {
	StepID    string
	Variant   string
	Iteration int
}

// MsgVariantOK is sent when a variant satisfies its writes contract.
type MsgVariantOK struct {
	StepID    string
	Variant   string
	Iteration int
	ToolCalls int
	ElapsedMs int64
}

// MsgVariantFail is sent when a variant attempt fails.
type MsgVariantFail struct {
	StepID    string
	Variant   string
	Iteration int
	Kind      string
	Reason    string
}

// MsgStepDone is sent when a step completes successfully.
type MsgStepDone struct {
	StepID     string
	Variant    string
	Iterations int
}

// MsgStepFailed is sent when every variant of a step has failed.
type MsgStepFailed struct {
	StepID string
	Kind   string
	Error  string
}

// MsgStepSkipped is sent when a step is skipped because an upstream
// dependency failed.
type MsgStepSkipped struct {
	StepID string
	Cause  string
}

// MsgLoopIteration is sent when a step requests another self-correction pass.
type MsgLoopIteration struct {
	StepID      string
	Iteration   int
	Instruction string
}

// MsgLoopAborted is sent when a step exceeds its iteration budget.
type MsgLoopAborted struct {
	StepID    string
	Iteration int
	Budget    int
}

// MsgStoreCommit is sent when a step's outputs are committed to the store.
type MsgStoreCommit struct {
	StepID    string
	Iteration int
	Names     []string
}

// MsgIntervention is sent when a control file changes the run state.
// Action is one of "pause", "resume", or "stop".
type MsgIntervention struct {
	Action string
}

// MsgContinuation is sent when a plan file changes mid-run. Action is one of
// "merged", "updated", "rejected", or "ignored".
type MsgContinuation struct {
	Action  string
	File    string
	Reasons []string
}

// MsgRunDone is sent when the run reaches a terminal state.
type MsgRunDone struct {
	Status    string
	Succeeded int
	Failed    int
	Skipped   int
	Pending   int
}

// MsgEngineDone signals that the engine goroutine has returned.
type MsgEngineDone struct {
	Err error
}

// MsgTick drives the elapsed-time timer and spinner refresh.
type MsgTick struct {
	Time time.Time
}

// StepInfo carries step metadata for populating the board at startup.
type StepInfo struct {
	ID    string
	Title string
	Needs []string
	Wave  int
}
