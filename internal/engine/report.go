package engine

import (
	"time"

	"github.com/papapumpkin/pulsar/internal/plan"
)

// Report summarizes a finished run: one line per step in dependency
// order, plus the run's identity and disposition.
type Report struct {
	RunID      string         `json:"run_id"`
	Plan       string         `json:"plan"`
	Status     plan.RunStatus `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Steps      []StepReport   `json:"steps"`
}

// StepReport is one step's final line. Failures holds the variant
// attempts that did not settle, in execution order.
type StepReport struct {
	ID         string           `json:"id"`
	Title      string           `json:"title,omitempty"`
	Status     plan.StepStatus  `json:"status"`
	Variant    string           `json:"variant,omitempty"`
	Iterations int              `json:"iterations,omitempty"`
	ErrorKind  string           `json:"error_kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	SkipCause  string           `json:"skip_cause,omitempty"`
	Failures   []VariantFailure `json:"failures,omitempty"`
}

// buildReport assembles the final report in dependency order.
func (e *Engine) buildReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, err := e.graph.TopologicalSort()
	if err != nil {
		order = e.graph.Nodes()
	}

	r := &Report{
		RunID:      e.runID,
		Plan:       e.plan.Manifest.Plan.Name,
		Status:     e.state.Status,
		StartedAt:  e.state.StartedAt,
		FinishedAt: e.state.FinishedAt,
	}
	for _, id := range order {
		step, ok := e.tracker.steps[id]
		if !ok {
			continue
		}
		sr := StepReport{
			ID:     id,
			Title:  step.Title,
			Status: e.tracker.status[id],
		}
		if res := e.tracker.results[id]; res != nil {
			sr.Variant = res.Variant
			sr.Iterations = res.Iterations
			sr.Failures = res.Failures
			sr.SkipCause = res.SkipCause
			sr.ErrorKind = res.Kind
			if res.Err != nil {
				sr.Error = res.Err.Error()
			}
		}
		r.Steps = append(r.Steps, sr)
	}
	return r
}
