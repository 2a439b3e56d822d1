package engine

import (
	"fmt"
	"path/filepath"

	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// applyChanges folds pending plan directory changes into the running
// graph. New step files merge as continuations; edits to steps that have
// not started replace their instruction payload; removals are noted and
// ignored, since terminal and running steps never mutate.
func (e *Engine) applyChanges() {
	if e.changes == nil {
		return
	}
	for {
		select {
		case ch, ok := <-e.changes:
			if !ok {
				e.changes = nil
				return
			}
			e.applyChange(ch)
		default:
			return
		}
	}
}

func (e *Engine) applyChange(ch plan.Change) {
	switch ch.Kind {
	case plan.ChangeAdded:
		e.mergeStep(ch.File)
	case plan.ChangeModified:
		e.updateStep(ch.File)
	case plan.ChangeRemoved:
		e.emit(telemetry.KindContinuation, "", "", map[string]any{
			"action": "ignored",
			"file":   filepath.Base(ch.File),
			"reason": "step files cannot be retired mid-run",
		})
	}
}

// mergeStep validates a new step file and grafts it onto the running
// graph. A rejected merge leaves the run untouched. A merged step whose
// data dependency already failed or was skipped is skipped immediately.
func (e *Engine) mergeStep(file string) {
	step, err := plan.ParseStepFile(file)
	if err != nil {
		e.rejectContinuation(file, err.Error())
		return
	}

	e.mu.Lock()
	if errs := plan.ValidateNew(&step, e.tracker.has); len(errs) > 0 {
		e.mu.Unlock()
		reasons := make([]string, len(errs))
		for i, ve := range errs {
			reasons[i] = ve.Error()
		}
		e.rejectContinuation(file, reasons...)
		return
	}
	if err := e.graph.AddNode(step.ID, step.Priority); err != nil {
		e.mu.Unlock()
		e.rejectContinuation(file, err.Error())
		return
	}
	for _, dep := range step.Needs {
		if err := e.graph.AddEdge(step.ID, dep, dag.EdgeData); err != nil {
			_ = e.graph.Remove(step.ID)
			e.mu.Unlock()
			e.rejectContinuation(file, err.Error())
			return
		}
	}
	for _, dep := range step.After {
		if err := e.graph.AddEdge(step.ID, dep, dag.EdgeOrder); err != nil {
			_ = e.graph.Remove(step.ID)
			e.mu.Unlock()
			e.rejectContinuation(file, err.Error())
			return
		}
	}
	e.tracker.add(step)
	e.plan.Steps = append(e.plan.Steps, step)
	e.state.SetStepStatus(step.ID, plan.StepPending)

	skipCause := ""
	for _, dep := range step.Needs {
		st := e.tracker.status[dep]
		if st == plan.StepFailed || st == plan.StepSkipped {
			skipCause = fmt.Sprintf("upstream step %s %s", dep, st)
			e.tracker.markSkipped(step.ID, skipCause)
			ss := e.state.SetStepStatus(step.ID, plan.StepSkipped)
			ss.Error = skipCause
			break
		}
	}
	e.mu.Unlock()

	e.emit(telemetry.KindContinuation, step.ID, "", map[string]any{
		"action": "merged",
		"file":   filepath.Base(file),
	})
	if skipCause != "" {
		e.emit(telemetry.KindStepSkipped, step.ID, "", map[string]any{"cause": skipCause})
	}
	e.persist()
}

// updateStep re-reads an edited step file. Only steps that have not
// started accept changes, and only to their title, instruction, and
// inline variants; dependencies and writes are fixed at merge time.
func (e *Engine) updateStep(file string) {
	step, err := plan.ParseStepFile(file)
	if err != nil {
		e.rejectContinuation(file, err.Error())
		return
	}

	e.mu.Lock()
	existing, known := e.tracker.steps[step.ID]
	if !known {
		e.mu.Unlock()
		// An edit the watcher saw before the create settles as an add.
		e.mergeStep(file)
		return
	}
	if e.tracker.status[step.ID] != plan.StepPending {
		e.mu.Unlock()
		e.emit(telemetry.KindContinuation, step.ID, "", map[string]any{
			"action": "ignored",
			"file":   filepath.Base(file),
			"reason": "step already started",
		})
		return
	}
	existing.Title = step.Title
	existing.Body = step.Body
	existing.Variants = step.Variants
	e.tracker.steps[step.ID] = existing
	for i := range e.plan.Steps {
		if e.plan.Steps[i].ID == step.ID {
			e.plan.Steps[i] = existing
			break
		}
	}
	e.mu.Unlock()

	e.emit(telemetry.KindContinuation, step.ID, "", map[string]any{
		"action": "updated",
		"file":   filepath.Base(file),
	})
}

func (e *Engine) rejectContinuation(file string, reasons ...string) {
	e.emit(telemetry.KindContinuation, "", "", map[string]any{
		"action":  "rejected",
		"file":    filepath.Base(file),
		"reasons": reasons,
	})
}
