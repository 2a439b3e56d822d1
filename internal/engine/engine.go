// Package engine executes a parsed plan: it dispatches steps whose
// dependencies are satisfied across a bounded worker pool, drives each
// step through variant fallback and self-correction, commits validated
// outputs to the variable store and ledger, and cascades failures to
// dependent steps. Every transition is persisted, so an interrupted run
// resumes where it left off.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/producer"
	"github.com/papapumpkin/pulsar/internal/sandbox"
	"github.com/papapumpkin/pulsar/internal/telemetry"
	"github.com/papapumpkin/pulsar/internal/vars"
)

// Fallbacks for zero Config fields.
const (
	DefaultMaxWorkers      = 4
	DefaultIterationBudget = 5
)

// Runner evaluates one code fragment under the sandbox limits.
type Runner interface {
	Execute(ctx context.Context, req sandbox.Request) (*sandbox.Outcome, error)
}

// Config assembles a run. Plan and Runner are required; everything else
// defaults to quiet zero behavior: no producer, in-memory store, no
// ledger, no telemetry, no control channels.
type Config struct {
	Plan     *plan.Plan
	Runner   Runner
	Producer producer.Producer
	Store    *vars.Store
	Ledger   *vars.Ledger
	Emitter  *telemetry.Emitter

	// OnEvent receives every telemetry event as it happens. It must be
	// safe for concurrent use.
	OnEvent func(telemetry.Event)

	// State resumes a previous run when non-nil.
	State *plan.State

	// Changes and Interventions deliver plan directory events, typically
	// from a plan.Watcher.
	Changes       <-chan plan.Change
	Interventions <-chan plan.Intervention

	MaxWorkers      int
	IterationBudget int
	RollbackAssets  bool

	// Workspace is the directory rollback removes created files from.
	Workspace string
}

// Engine runs one plan to completion.
type Engine struct {
	plan     *plan.Plan
	graph    *dag.DAG
	runner   Runner
	producer producer.Producer
	store    *vars.Store
	ledger   *vars.Ledger
	emitter  *telemetry.Emitter
	onEvent  func(telemetry.Event)

	changes       <-chan plan.Change
	interventions <-chan plan.Intervention

	workers   int
	budget    int
	rollback  bool
	workspace string

	runID string

	// mu guards tracker, state, and the store/ledger commit path.
	mu      sync.Mutex
	tracker *tracker
	state   *plan.State
}

// New builds an engine for the given configuration. The plan's dependency
// graph is constructed here, so an undeclared dependency or a cycle fails
// before anything runs.
func New(cfg Config) (*Engine, error) {
	if cfg.Plan == nil {
		return nil, errors.New("engine: plan is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("engine: runner is required")
	}
	graph, err := plan.BuildGraph(cfg.Plan)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	workers := cfg.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	budget := cfg.IterationBudget
	if budget <= 0 {
		budget = DefaultIterationBudget
	}
	store := cfg.Store
	if store == nil {
		store = vars.New()
	}

	state := cfg.State
	var runID string
	if state != nil {
		runID = state.RunID
		state.ResetInFlight()
		state.Status = plan.RunRunning
		state.FinishedAt = time.Time{}
	} else {
		runID = uuid.NewString()
		state = plan.NewState(runID, cfg.Plan.Manifest.Plan.Name)
		// Seed every step so undispatched ones appear as pending in the
		// saved state, not as gaps.
		for _, s := range cfg.Plan.Steps {
			state.SetStepStatus(s.ID, plan.StepPending)
		}
	}

	return &Engine{
		plan:          cfg.Plan,
		graph:         graph,
		runner:        cfg.Runner,
		producer:      cfg.Producer,
		store:         store,
		ledger:        cfg.Ledger,
		emitter:       cfg.Emitter,
		onEvent:       cfg.OnEvent,
		changes:       cfg.Changes,
		interventions: cfg.Interventions,
		workers:       workers,
		budget:        budget,
		rollback:      cfg.RollbackAssets,
		workspace:     cfg.Workspace,
		runID:         runID,
		tracker:       newTracker(cfg.Plan, cfg.State),
		state:         state,
	}, nil
}

// RunID returns the identifier of the run this engine executes.
func (e *Engine) RunID() string { return e.runID }

// Store returns the variable store the run commits into.
func (e *Engine) Store() *vars.Store { return e.store }

// Run executes the plan until every step is terminal, the run is stopped,
// or the context ends. The returned report covers whatever happened; a
// run with failed steps is not itself an error. Run returns
// plan.ErrManualStop after a requested stop.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if e.ledger != nil {
		if err := e.ledger.BeginRun(ctx, e.runID, e.plan.Manifest.Plan.Name); err != nil {
			return nil, fmt.Errorf("engine: begin run: %w", err)
		}
	}
	e.emit(telemetry.KindRunStart, "", "", map[string]any{
		"plan":    e.plan.Manifest.Plan.Name,
		"steps":   len(e.plan.Steps),
		"workers": e.workers,
	})
	e.persist()

	sem := make(chan struct{}, e.workers)
	// completionCh receives a step ID each time a goroutine finishes, so
	// the dispatch loop re-evaluates readiness immediately.
	completionCh := make(chan string, e.workers)
	var activeCount int64

	stopped := false

dispatch:
	for ctx.Err() == nil {
		if iv, ok := e.checkInterventions(); ok {
			switch iv {
			case plan.InterventionStop:
				stopped = true
				break dispatch
			case plan.InterventionPause:
				if e.awaitResume(ctx) == plan.InterventionStop {
					stopped = true
					break dispatch
				}
			}
		}

		e.applyChanges()

		e.mu.Lock()
		eligible := e.tracker.eligible(e.graph)
		anyInFlight := len(e.tracker.inFlight) > 0
		e.mu.Unlock()

		if len(eligible) == 0 {
			if !anyInFlight {
				break // nothing running, nothing to dispatch — done
			}
			e.awaitCompletion(completionCh, &activeCount)
			continue
		}

		for _, id := range eligible {
			if ctx.Err() != nil {
				break
			}
			e.mu.Lock()
			step := e.tracker.steps[id]
			e.tracker.markDispatched(id)
			e.state.SetStepStatus(id, plan.StepRunning)
			e.mu.Unlock()
			e.emit(telemetry.KindStepStart, id, "", map[string]any{"title": step.Title})
			e.persist()

			sem <- struct{}{} // block if at worker capacity
			atomic.AddInt64(&activeCount, 1)
			go func(step plan.Step) {
				defer func() {
					<-sem
					completionCh <- step.ID
				}()
				res := e.runStep(ctx, step)
				e.record(ctx, step, res)
			}(step)
		}

		// After dispatching, wait for one goroutine to finish before
		// re-evaluating so newly-ready steps are picked up immediately.
		if atomic.LoadInt64(&activeCount) > 0 {
			e.awaitCompletion(completionCh, &activeCount)
		}
	}

	e.drainActive(completionCh, &activeCount)

	return e.finish(ctx, stopped)
}

// awaitCompletion blocks until one worker goroutine sends on completionCh,
// then decrements activeCount.
func (e *Engine) awaitCompletion(completionCh <-chan string, activeCount *int64) {
	<-completionCh
	atomic.AddInt64(activeCount, -1)
}

// drainActive waits for all remaining in-flight goroutines to finish.
func (e *Engine) drainActive(completionCh <-chan string, activeCount *int64) {
	for atomic.LoadInt64(activeCount) > 0 {
		<-completionCh
		atomic.AddInt64(activeCount, -1)
	}
}

// record finalizes a finished step: status flip, failure cascade, state
// save, and events. A step interrupted by run cancellation goes back to
// pending so a resumed run re-dispatches it.
func (e *Engine) record(ctx context.Context, step plan.Step, res *stepResult) {
	interrupted := res.Err != nil && ctx.Err() != nil && errors.Is(res.Err, context.Canceled)

	type skipNote struct{ id, cause string }
	var skips []skipNote
	var status plan.StepStatus

	e.mu.Lock()
	switch {
	case interrupted:
		e.tracker.markInterrupted(step.ID)
		e.state.SetStepStatus(step.ID, plan.StepPending)
		status = plan.StepPending
	case res.Err == nil:
		e.tracker.markSucceeded(step.ID, res)
		ss := e.state.SetStepStatus(step.ID, plan.StepSucceeded)
		ss.Variant = res.Variant
		ss.Iterations = res.Iterations
		status = plan.StepSucceeded
	default:
		e.tracker.markFailed(step.ID, res)
		ss := e.state.SetStepStatus(step.ID, plan.StepFailed)
		ss.Variant = res.Variant
		ss.Iterations = res.Iterations
		ss.ErrorKind = res.Kind
		ss.Error = res.Err.Error()
		status = plan.StepFailed
		for _, id := range e.tracker.skipDependents(e.graph, step.ID) {
			cause := e.tracker.results[id].SkipCause
			sss := e.state.SetStepStatus(id, plan.StepSkipped)
			sss.Error = cause
			skips = append(skips, skipNote{id: id, cause: cause})
		}
	}
	e.mu.Unlock()

	switch status {
	case plan.StepSucceeded:
		e.emit(telemetry.KindStepDone, step.ID, res.Variant, map[string]any{"iterations": res.Iterations})
	case plan.StepFailed:
		e.emit(telemetry.KindStepFailed, step.ID, res.Variant, map[string]any{
			"kind":  res.Kind,
			"error": res.Err.Error(),
		})
	}
	for _, s := range skips {
		e.emit(telemetry.KindStepSkipped, s.id, "", map[string]any{"cause": s.cause})
	}
	e.persist()
}

// finish settles the run status, closes the ledger run record, and builds
// the report. Undispatched steps stay pending in the saved state so a
// stopped run can resume.
func (e *Engine) finish(ctx context.Context, stopped bool) (*Report, error) {
	canceled := ctx.Err() != nil

	e.mu.Lock()
	switch {
	case stopped || canceled:
		e.state.Status = plan.RunStopped
	case e.tracker.anyFailed():
		e.state.Status = plan.RunFailed
	default:
		e.state.Status = plan.RunSucceeded
	}
	e.state.FinishedAt = time.Now().UTC()
	status := e.state.Status
	succeeded, failed, skipped, pending, _ := e.state.Counts()
	e.mu.Unlock()

	if stopped && e.plan.Dir != "" {
		_ = os.Remove(filepath.Join(e.plan.Dir, plan.StopFile))
	}

	var finishErr error
	if e.ledger != nil {
		finishErr = e.ledger.FinishRun(context.WithoutCancel(ctx), e.runID, string(status))
	}
	if err := e.persistFinal(); err != nil && finishErr == nil {
		finishErr = err
	}

	e.emit(telemetry.KindRunDone, "", "", map[string]any{
		"status":    string(status),
		"succeeded": succeeded,
		"failed":    failed,
		"skipped":   skipped,
		"pending":   pending,
	})

	report := e.buildReport()

	switch {
	case stopped:
		return report, plan.ErrManualStop
	case canceled:
		return report, ctx.Err()
	}
	return report, finishErr
}

// checkInterventions drains pending interventions and returns the most
// significant one (stop > pause). Repeated pause signals collapse, and a
// resume already queued behind a pause cancels it.
func (e *Engine) checkInterventions() (plan.Intervention, bool) {
	if e.interventions == nil {
		return 0, false
	}
	var latest plan.Intervention
	found := false
	for {
		select {
		case iv, ok := <-e.interventions:
			if !ok {
				e.interventions = nil
				return latest, found
			}
			e.emitIntervention(iv)
			switch iv {
			case plan.InterventionStop:
				return plan.InterventionStop, true
			case plan.InterventionPause:
				latest, found = plan.InterventionPause, true
			case plan.InterventionResume:
				latest, found = 0, false
			}
		default:
			return latest, found
		}
	}
}

// awaitResume blocks a paused run until a resume or stop arrives or the
// context ends. In-flight steps keep running while paused; only dispatch
// is held.
func (e *Engine) awaitResume(ctx context.Context) plan.Intervention {
	for {
		select {
		case <-ctx.Done():
			return plan.InterventionResume
		case iv, ok := <-e.interventions:
			if !ok {
				e.interventions = nil
				return plan.InterventionResume
			}
			e.emitIntervention(iv)
			switch iv {
			case plan.InterventionResume:
				return plan.InterventionResume
			case plan.InterventionStop:
				return plan.InterventionStop
			}
		}
	}
}

func (e *Engine) emitIntervention(iv plan.Intervention) {
	e.emit(telemetry.KindIntervention, "", "", map[string]any{"action": interventionName(iv)})
}

func interventionName(iv plan.Intervention) string {
	switch iv {
	case plan.InterventionStop:
		return "stop"
	case plan.InterventionPause:
		return "pause"
	case plan.InterventionResume:
		return "resume"
	}
	return "unknown"
}

// emit records a telemetry event and forwards it to the UI hook. Safe for
// concurrent use; must not be called with e.mu held.
func (e *Engine) emit(kind, stepID, variant string, data any) {
	evt := telemetry.Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		RunID:     e.runID,
		StepID:    stepID,
		Variant:   variant,
		Data:      data,
	}
	_ = e.emitter.Emit(evt)
	if e.onEvent != nil {
		e.onEvent(evt)
	}
}

// persist saves run state to the plan directory. Saves during a run are
// best-effort; the final save reports its error through persistFinal.
func (e *Engine) persist() {
	_ = e.persistFinal()
}

func (e *Engine) persistFinal() error {
	if e.plan.Dir == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return plan.SaveState(e.plan.Dir, e.state)
}
