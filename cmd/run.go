package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/capability"
	"github.com/papapumpkin/pulsar/internal/config"
	"github.com/papapumpkin/pulsar/internal/engine"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/producer"
	"github.com/papapumpkin/pulsar/internal/sandbox"
	"github.com/papapumpkin/pulsar/internal/telemetry"
	"github.com/papapumpkin/pulsar/internal/tui"
	"github.com/papapumpkin/pulsar/internal/ui"
	"github.com/papapumpkin/pulsar/internal/vars"
)

var runCmd = &cobra.Command{
	Use:   "run [plan-dir]",
	Short: "Execute a plan directory",
	Long: `Run loads the plan, builds its dependency graph, and executes steps
wave by wave: each step's variants are tried in order inside the
expression sandbox, committed outputs land in the variable store and
ledger, and failures cascade skips to data-dependent steps.

Progress streams to stderr; --tui swaps in the live dashboard. STOP and
PAUSE files in the plan directory intervene mid-run, and --resume picks
up a previous run from its saved state and ledger.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Int("workers", 0, "max concurrent steps (overrides config and manifest)")
	runCmd.Flags().Int("iteration-budget", 0, "self-correction iterations per step before aborting")
	runCmd.Flags().Int("tool-quota", 0, "capability calls allowed per fragment")
	runCmd.Flags().Int("timeout", 0, "per-step timeout in seconds")
	runCmd.Flags().String("producer", "", "producer command, e.g. \"python3 produce.py\"")
	runCmd.Flags().Bool("rollback-assets", false, "remove files written by failed variants")
	runCmd.Flags().Bool("resume", false, "resume the previous run from saved state")
	runCmd.Flags().Bool("tui", false, "show the live dashboard instead of line output")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	p, err := plan.Load(planDir)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyManifest(p.Manifest)
	applyFlagOverrides(cmd, &cfg)

	printer := ui.New(cfg.Verbose)

	if errs := plan.Validate(p); len(errs) > 0 {
		printer.ValidateResult(p.Manifest.Plan.Name, len(p.Steps), errs)
		return fmt.Errorf("validation failed")
	}

	useTUI, _ := cmd.Flags().GetBool("tui")
	if useTUI && !isStderrTTY() {
		return fmt.Errorf("pulsar run --tui requires a TTY (terminal)")
	}

	ctx, cancel := setupSignalContext(printer)
	defer cancel()

	ledger, err := vars.OpenLedger(ctx, vars.LedgerFile(planDir))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	var state *plan.State
	var store *vars.Store
	if resume, _ := cmd.Flags().GetBool("resume"); resume {
		state, err = plan.LoadState(planDir)
		if err != nil {
			return fmt.Errorf("failed to load run state: %w", err)
		}
		if state == nil {
			return fmt.Errorf("nothing to resume: no state file in %s", planDir)
		}
		store, err = ledger.Restore(ctx, state.RunID)
		if err != nil {
			return fmt.Errorf("failed to restore variables: %w", err)
		}
		printer.Info(fmt.Sprintf("resuming run %s", state.RunID))
	}

	workspace, err := resolveWorkspace(planDir, cfg.Workspace)
	if err != nil {
		return err
	}

	runner := sandbox.New(capability.Builtins(workspace), sandbox.Limits{
		Timeout:   cfg.StepTimeout(),
		ToolQuota: cfg.ToolQuota,
	})

	var prod producer.Producer
	if argv := cfg.ProducerCommand(p.Manifest); len(argv) > 0 {
		prod, err = producer.NewExec(argv, planDir, cfg.StepTimeout())
		if err != nil {
			return fmt.Errorf("failed to build producer: %w", err)
		}
	}

	emitter, err := telemetry.NewEmitter(telemetry.EventsFile(planDir))
	if err != nil {
		return fmt.Errorf("failed to open telemetry file: %w", err)
	}
	defer emitter.Close()

	engCfg := engine.Config{
		Plan:            p,
		Runner:          runner,
		Producer:        prod,
		Store:           store,
		Ledger:          ledger,
		Emitter:         emitter,
		State:           state,
		MaxWorkers:      cfg.Workers,
		IterationBudget: cfg.IterationBudget,
		RollbackAssets:  cfg.RollbackAssets,
		Workspace:       workspace,
	}

	w, watcherErr := plan.NewWatcher(planDir)
	if watcherErr != nil {
		printer.Error(fmt.Sprintf("watcher unavailable: %v", watcherErr))
	} else if startErr := w.Start(); startErr != nil {
		printer.Error(fmt.Sprintf("watcher start failed: %v", startErr))
	} else {
		engCfg.Changes = w.Changes
		engCfg.Interventions = w.Interventions
		defer w.Stop()
	}

	if useTUI {
		return runDashboard(ctx, cancel, engCfg, p)
	}

	engCfg.OnEvent = printer.HandleEvent
	eng, err := engine.New(engCfg)
	if err != nil {
		return err
	}

	report, runErr := eng.Run(ctx)
	switch {
	case errors.Is(runErr, plan.ErrManualStop):
		return nil
	case runErr != nil && ctx.Err() != nil:
		return nil
	case runErr != nil:
		return runErr
	}

	if report.Status == plan.RunFailed {
		failed := 0
		for _, s := range report.Steps {
			if s.Status == plan.StepFailed {
				failed++
			}
		}
		return fmt.Errorf("run failed: %d step(s) failed", failed)
	}
	return nil
}

// runDashboard executes the engine in a goroutine while the TUI owns the
// terminal. The engine's event hook feeds the dashboard through the
// bridge; quitting the dashboard cancels the run.
func runDashboard(ctx context.Context, cancel context.CancelFunc, engCfg engine.Config, p *plan.Plan) error {
	steps, err := dashboardSteps(p)
	if err != nil {
		return err
	}

	program := tui.NewProgram(tui.Options{
		PlanName: p.Manifest.Plan.Name,
		PlanDir:  p.Dir,
		Steps:    steps,
		Workers:  engCfg.MaxWorkers,
	})

	bridge := tui.NewBridge(program)
	engCfg.OnEvent = bridge.Handle

	eng, err := engine.New(engCfg)
	if err != nil {
		return err
	}

	engDone := make(chan struct{})
	go func() {
		defer close(engDone)
		_, runErr := eng.Run(ctx)
		bridge.Done(runErr)
	}()

	finalModel, tuiErr := program.Run()
	cancel()
	// Let the engine settle so the state file and ledger are durable
	// before the process exits.
	<-engDone
	if tuiErr != nil {
		return fmt.Errorf("dashboard error: %w", tuiErr)
	}

	m, ok := finalModel.(tui.Model)
	if !ok {
		return nil
	}
	if m.DoneErr != nil && !errors.Is(m.DoneErr, plan.ErrManualStop) {
		return m.DoneErr
	}
	return nil
}

// dashboardSteps converts plan steps into board rows, annotated with the
// execution wave each step lands in.
func dashboardSteps(p *plan.Plan) ([]tui.StepInfo, error) {
	graph, err := plan.BuildGraph(p)
	if err != nil {
		return nil, err
	}
	waves, err := graph.Waves()
	if err != nil {
		return nil, err
	}

	waveOf := make(map[string]int, len(p.Steps))
	for i, wave := range waves {
		for _, id := range wave {
			waveOf[id] = i + 1
		}
	}

	steps := make([]tui.StepInfo, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, tui.StepInfo{
			ID:    s.ID,
			Title: s.Title,
			Needs: s.Needs,
			Wave:  waveOf[s.ID],
		})
	}
	return steps, nil
}

// applyFlagOverrides applies CLI flag values to the loaded config.
// Flags beat every other configuration source.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetInt("workers"); v > 0 {
		cfg.Workers = v
	}
	if v, _ := cmd.Flags().GetInt("iteration-budget"); v > 0 {
		cfg.IterationBudget = v
	}
	if v, _ := cmd.Flags().GetInt("tool-quota"); v > 0 {
		cfg.ToolQuota = v
	}
	if v, _ := cmd.Flags().GetInt("timeout"); v > 0 {
		cfg.StepTimeoutSeconds = v
	}
	if v, _ := cmd.Flags().GetString("producer"); v != "" {
		cfg.Producer = v
	}
	if v, _ := cmd.Flags().GetBool("rollback-assets"); v {
		cfg.RollbackAssets = true
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Verbose = true
	}
}

// resolveWorkspace returns the absolute directory capability file I/O is
// confined to, creating it if needed. Relative paths anchor at the plan
// directory.
func resolveWorkspace(planDir, dir string) (string, error) {
	if dir == "" {
		dir = "work"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(planDir, dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace: %w", err)
	}
	return dir, nil
}

// setupSignalContext returns a context that is canceled on SIGINT or SIGTERM.
func setupSignalContext(printer *ui.Printer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Info("\nshutting down...")
		cancel()
	}()
	return ctx, cancel
}

func isStderrTTY() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
