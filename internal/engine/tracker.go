package engine

import (
	"errors"
	"fmt"

	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/plan"
)

// stepResult captures the outcome of one finished step for state saves,
// events, and the final report.
type stepResult struct {
	Variant    string
	Iterations int
	Err        error
	Kind       string
	Failures   []VariantFailure
	SkipCause  string
}

// tracker maintains step lifecycle state during a run: definitions,
// statuses, and the succeeded/terminal/in-flight sets readiness derives
// from. It is not self-synchronizing; the engine serializes all access
// through its record mutex.
type tracker struct {
	steps     map[string]plan.Step
	status    map[string]plan.StepStatus
	succeeded map[string]bool
	terminal  map[string]bool
	inFlight  map[string]bool
	results   map[string]*stepResult
}

// newTracker seeds lifecycle state from the plan and, when resuming, from
// a previously persisted run state. Steps recorded as running come back
// pending so the new run re-dispatches them.
func newTracker(p *plan.Plan, prior *plan.State) *tracker {
	t := &tracker{
		steps:     make(map[string]plan.Step, len(p.Steps)),
		status:    make(map[string]plan.StepStatus, len(p.Steps)),
		succeeded: make(map[string]bool),
		terminal:  make(map[string]bool),
		inFlight:  make(map[string]bool),
		results:   make(map[string]*stepResult),
	}
	for _, s := range p.Steps {
		t.steps[s.ID] = s
		t.status[s.ID] = plan.StepPending
	}
	if prior == nil {
		return t
	}
	for id, ss := range prior.Steps {
		if _, known := t.steps[id]; !known {
			continue
		}
		switch ss.Status {
		case plan.StepSucceeded:
			t.status[id] = plan.StepSucceeded
			t.succeeded[id] = true
			t.terminal[id] = true
			t.results[id] = &stepResult{Variant: ss.Variant, Iterations: ss.Iterations}
		case plan.StepFailed:
			t.status[id] = plan.StepFailed
			t.terminal[id] = true
			res := &stepResult{Variant: ss.Variant, Iterations: ss.Iterations, Kind: ss.ErrorKind}
			if ss.Error != "" {
				res.Err = errors.New(ss.Error)
			}
			t.results[id] = res
		case plan.StepSkipped:
			t.status[id] = plan.StepSkipped
			t.terminal[id] = true
			t.results[id] = &stepResult{SkipCause: ss.Error}
		}
	}
	return t
}

func (t *tracker) has(id string) bool {
	_, ok := t.steps[id]
	return ok
}

// add registers a continuation step in pending state.
func (t *tracker) add(s plan.Step) {
	t.steps[s.ID] = s
	t.status[s.ID] = plan.StepPending
}

// eligible returns ready steps that have not been dispatched yet, in
// dispatch order.
func (t *tracker) eligible(g *dag.DAG) []string {
	var out []string
	for _, id := range g.Ready(t.succeeded, t.terminal) {
		if t.inFlight[id] {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (t *tracker) markDispatched(id string) {
	t.inFlight[id] = true
	t.status[id] = plan.StepRunning
}

// markInterrupted returns a dispatched step to pending. Used when the run
// context is canceled while the step is mid-flight.
func (t *tracker) markInterrupted(id string) {
	delete(t.inFlight, id)
	t.status[id] = plan.StepPending
}

func (t *tracker) markSucceeded(id string, res *stepResult) {
	delete(t.inFlight, id)
	t.status[id] = plan.StepSucceeded
	t.succeeded[id] = true
	t.terminal[id] = true
	t.results[id] = res
}

func (t *tracker) markFailed(id string, res *stepResult) {
	delete(t.inFlight, id)
	t.status[id] = plan.StepFailed
	t.terminal[id] = true
	t.results[id] = res
}

func (t *tracker) markSkipped(id, cause string) {
	t.status[id] = plan.StepSkipped
	t.terminal[id] = true
	t.results[id] = &stepResult{SkipCause: cause}
}

// skipDependents cascades a failure to every data descendant that has not
// reached a terminal state. Steps reachable only through ordering edges
// are untouched. Returns the IDs skipped.
func (t *tracker) skipDependents(g *dag.DAG, failed string) []string {
	var skipped []string
	cause := fmt.Sprintf("upstream step %s %s", failed, t.status[failed])
	for _, id := range g.DataDescendants(failed) {
		if t.terminal[id] {
			continue
		}
		t.markSkipped(id, cause)
		skipped = append(skipped, id)
	}
	return skipped
}

func (t *tracker) anyFailed() bool {
	for _, st := range t.status {
		if st == plan.StepFailed {
			return true
		}
	}
	return false
}
