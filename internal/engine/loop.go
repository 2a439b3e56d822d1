package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/papapumpkin/pulsar/internal/contract"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/producer"
	"github.com/papapumpkin/pulsar/internal/sandbox"
	"github.com/papapumpkin/pulsar/internal/telemetry"
	"github.com/papapumpkin/pulsar/internal/vars"
)

// runStep drives one step to a terminal result: candidate fallback within
// an iteration, producer-authored variants across iterations, and the
// iteration ceiling for loops that never settle. Iteration 1 uses the
// step's inline variants; a step without inline variants and every later
// iteration asks the producer.
func (e *Engine) runStep(ctx context.Context, step plan.Step) *stepResult {
	res := &stepResult{}

	e.mu.Lock()
	bindings := e.bindingsFor(step)
	e.mu.Unlock()

	bindingNames := make([]string, 0, len(bindings))
	for name := range bindings {
		bindingNames = append(bindingNames, name)
	}
	sort.Strings(bindingNames)

	variants := step.Variants
	prior := make(map[string]any)
	var loop contract.Loop

	for iteration := 1; ; iteration++ {
		if iteration > 1 || len(variants) == 0 {
			req := producer.Request{
				Step:        step.ID,
				Title:       step.Title,
				Instruction: step.Body,
				Iteration:   iteration,
				Writes:      step.Writes,
				Bindings:    bindingNames,
				Workspace:   producer.WorkspaceTree(e.workspace),
			}
			if iteration > 1 {
				req.Prior = prior
				req.NextInstruction = loop.NextInstruction
				req.Context = loop.Context
			}
			produced, err := e.produce(ctx, req)
			if err != nil {
				res.Err = err
				res.Kind = Kind(err)
				return res
			}
			variants = produced
		}

		winner, outcome, failures, err := e.runVariants(ctx, step, variants, iteration, bindings)
		res.Failures = append(res.Failures, failures...)
		if err != nil {
			res.Err = err
			res.Kind = Kind(err)
			return res
		}

		res.Variant = winner.ID
		res.Iterations = iteration

		committed, err := e.commit(ctx, step, winner.ID, iteration, outcome.Result)
		if err != nil {
			res.Err = &sandbox.FaultError{Step: step.ID, Variant: winner.ID, Err: err}
			res.Kind = Kind(res.Err)
			return res
		}

		loop = outcome.Result.Loop
		if !loop.CallSelf {
			return res
		}

		e.emit(telemetry.KindLoopIteration, step.ID, winner.ID, map[string]any{
			"iteration":        iteration,
			"next_instruction": loop.NextInstruction,
		})

		if iteration+1 > e.budget {
			res.Err = &BudgetError{Step: step.ID, Budget: e.budget}
			res.Kind = KindIterationBudget
			e.emit(telemetry.KindLoopAborted, step.ID, winner.ID, map[string]any{
				"iteration": iteration + 1,
				"budget":    e.budget,
			})
			return res
		}
		prior = committed
	}
}

// produce asks the configured producer for candidate variants. A step
// that needs variants with no producer configured fails as a runner
// fault.
func (e *Engine) produce(ctx context.Context, req producer.Request) ([]plan.Variant, error) {
	if e.producer == nil {
		return nil, &sandbox.FaultError{Step: req.Step, Err: errors.New("no producer configured")}
	}
	resp, err := e.producer.Produce(ctx, req)
	if err != nil {
		return nil, &sandbox.FaultError{Step: req.Step, Err: err}
	}
	variants := make([]plan.Variant, len(resp.Variants))
	for i, v := range resp.Variants {
		variants[i] = plan.Variant{ID: v.ID, Code: v.Code}
	}
	return variants, nil
}

// commit writes a validated result to the store and ledger in one
// critical section, then exposes the declared writes to dependents under
// their variant-elided aliases. Returns the committed mapping so the next
// iteration can hand it to the producer.
func (e *Engine) commit(ctx context.Context, step plan.Step, variantID string, iteration int, result *contract.Result) (map[string]any, error) {
	names := make([]string, 0, len(result.Outputs))
	for name := range result.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	prov := vars.Provenance{Step: step.ID, Variant: variantID, Iteration: iteration}
	committed := make(map[string]any, len(result.Outputs))

	e.mu.Lock()
	for _, name := range names {
		entry, err := e.store.Set(name, result.Outputs[name], prov)
		if err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("commit %s: %w", name, err)
		}
		if e.ledger != nil {
			if err := e.ledger.Append(ctx, e.runID, entry); err != nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("ledger append %s: %w", name, err)
			}
		}
		committed[name] = result.Outputs[name]
	}
	for _, w := range step.Writes {
		full := contract.Key(w, step.ID, variantID)
		if _, ok := result.Outputs[full]; !ok {
			continue
		}
		alias := w + "_" + step.ID
		if err := e.store.Bind(alias, full); err != nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("bind %s: %w", alias, err)
		}
		if e.ledger != nil {
			if err := e.ledger.Bind(ctx, e.runID, alias, full); err != nil {
				e.mu.Unlock()
				return nil, fmt.Errorf("ledger bind %s: %w", alias, err)
			}
		}
	}
	e.mu.Unlock()

	e.emit(telemetry.KindStoreCommit, step.ID, variantID, map[string]any{
		"iteration": iteration,
		"names":     names,
	})
	return committed, nil
}
