package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/sandbox"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// bindingsFor assembles the variables a step's fragments see: the latest
// committed value of every write of every data dependency, keyed by the
// variant-elided alias <write>_<step>. Must be called with e.mu held.
func (e *Engine) bindingsFor(step plan.Step) map[string]any {
	bindings := make(map[string]any)
	for _, dep := range step.Needs {
		depStep, ok := e.tracker.steps[dep]
		if !ok {
			continue
		}
		for _, w := range depStep.Writes {
			alias := w + "_" + dep
			if entry, ok := e.store.Get(alias); ok {
				bindings[alias] = entry.Binding()
			}
		}
	}
	return bindings
}

// runVariants tries each candidate in declared order until one produces a
// valid result. Failed attempts are recorded and optionally rolled back;
// they are never terminal while candidates remain. When every candidate
// fails the step fails with an ExhaustedError carrying the attempt chain.
func (e *Engine) runVariants(ctx context.Context, step plan.Step, variants []plan.Variant, iteration int, bindings map[string]any) (plan.Variant, *sandbox.Outcome, []VariantFailure, error) {
	var failures []VariantFailure
	for _, v := range variants {
		e.emit(telemetry.KindVariantStart, step.ID, v.ID, map[string]any{"iteration": iteration})

		req := sandbox.Request{
			Step:     step.ID,
			Variant:  v.ID,
			Source:   v.Code,
			Bindings: bindings,
			Writes:   step.Writes,
		}
		if step.TimeoutSeconds > 0 {
			req.Timeout = time.Duration(step.TimeoutSeconds) * time.Second
		}

		outcome, err := e.runner.Execute(ctx, req)
		if err == nil {
			data := map[string]any{"iteration": iteration}
			if outcome != nil {
				data["tool_calls"] = outcome.ToolCalls
				data["elapsed_ms"] = outcome.Elapsed.Milliseconds()
			}
			e.emit(telemetry.KindVariantOK, step.ID, v.ID, data)
			return v, outcome, failures, nil
		}
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Run canceled mid-variant; not a verdict on the fragment.
			return plan.Variant{}, nil, failures, err
		}

		failures = append(failures, VariantFailure{
			Variant:   v.ID,
			Iteration: iteration,
			Kind:      Kind(err),
			Reason:    err.Error(),
		})
		if outcome != nil && e.rollback {
			e.rollbackAssets(outcome.CreatedFiles)
		}
		e.emit(telemetry.KindVariantFail, step.ID, v.ID, map[string]any{
			"iteration": iteration,
			"kind":      Kind(err),
			"reason":    err.Error(),
		})
	}
	return plan.Variant{}, nil, failures, &ExhaustedError{Step: step.ID, Failures: failures}
}

// rollbackAssets removes files a failed variant created inside the
// workspace. Best-effort: missing files and remove errors are ignored.
func (e *Engine) rollbackAssets(files []string) {
	if e.workspace == "" {
		return
	}
	for _, rel := range files {
		if !filepath.IsLocal(rel) {
			continue
		}
		_ = os.Remove(filepath.Join(e.workspace, filepath.Clean(rel)))
	}
}
