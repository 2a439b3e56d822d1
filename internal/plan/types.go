package plan

import "time"

// Manifest is parsed from pulse.toml in the plan directory root.
type Manifest struct {
	Plan      Info           `toml:"plan"`
	Execution Execution      `toml:"execution"`
	Workspace Workspace      `toml:"workspace"`
	Producer  ProducerConfig `toml:"producer"`
}

// Info holds the plan's name and description from the manifest.
type Info struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// Execution holds default execution parameters for the plan. Zero values
// defer to the engine's configured defaults.
type Execution struct {
	MaxWorkers         int  `toml:"max_workers"`
	IterationBudget    int  `toml:"iteration_budget"`
	ToolQuota          int  `toml:"tool_quota"`
	StepTimeoutSeconds int  `toml:"step_timeout_seconds"`
	RollbackAssets     bool `toml:"rollback_assets"`
}

// Workspace designates the directory file capabilities are confined to,
// relative to the plan directory when not absolute.
type Workspace struct {
	Dir string `toml:"dir"`
}

// ProducerConfig names the external command invoked to generate variants
// for steps without inline ones and for self-correction iterations.
// An empty command means inline variants only.
type ProducerConfig struct {
	Command []string `toml:"command"`
}

// Step is parsed from each *.md file's TOML frontmatter plus its body.
type Step struct {
	ID             string   `toml:"id"`
	Title          string   `toml:"title"`
	Needs          []string `toml:"needs"`  // data dependencies; upstream failure cascades skip
	After          []string `toml:"after"`  // ordering-only dependencies; run once terminal
	Writes         []string `toml:"writes"` // declared logical output names
	Priority       int      `toml:"priority"`
	TimeoutSeconds int      `toml:"timeout_seconds"` // 0 = manifest/engine default

	Body       string    `toml:"-"` // instruction payload after the +++ block, variant fences stripped
	Variants   []Variant `toml:"-"` // inline candidate fragments, in declared order
	SourceFile string    `toml:"-"` // relative path for error context
}

// Variant is one candidate code fragment attempting to satisfy a step's
// writes contract.
type Variant struct {
	ID   string // "a", "b", or "c"
	Code string
}

// Plan is the fully parsed representation of a plan directory.
type Plan struct {
	Dir      string
	Manifest Manifest
	Steps    []Step
}

// Step returns the step with the given ID, or nil if not found.
func (p *Plan) Step(id string) *Step {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}

// StepStatus represents the lifecycle of a step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status is a final one.
func (s StepStatus) Terminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// RunStatus represents the overall state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// State is persisted in pulse.state.toml, mapping step IDs to their
// execution state. Together with the variable ledger it constitutes the
// durable run state a restart resumes from.
type State struct {
	Version    int                   `toml:"version"`
	RunID      string                `toml:"run_id"`
	PlanName   string                `toml:"plan_name"`
	Status     RunStatus             `toml:"status"`
	StartedAt  time.Time             `toml:"started_at"`
	FinishedAt time.Time             `toml:"finished_at"`
	Steps      map[string]*StepState `toml:"steps"`
}

// StepState tracks the current status and outcome for a single step.
type StepState struct {
	Status     StepStatus `toml:"status"`
	Variant    string     `toml:"variant,omitempty"`    // winning variant ID
	Iterations int        `toml:"iterations,omitempty"` // self-correction iterations run
	ErrorKind  string     `toml:"error_kind,omitempty"`
	Error      string     `toml:"error,omitempty"`
	StartedAt  time.Time  `toml:"started_at"`
	UpdatedAt  time.Time  `toml:"updated_at"`
}
