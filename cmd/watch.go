package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/config"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/telemetry"
	"github.com/papapumpkin/pulsar/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch [plan-dir]",
	Short: "Attach the dashboard to a run started elsewhere",
	Long: `Watch opens the live dashboard against a plan directory by tailing its
telemetry stream instead of hosting the engine. Use it to observe a run
started in another terminal. The p and s keys still drop the PAUSE and
STOP control files, so the run can be steered from here.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
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

	eventsPath := telemetry.EventsFile(planDir)
	if _, err := os.Stat(eventsPath); err != nil {
		return fmt.Errorf("nothing to watch: no telemetry stream in %s", planDir)
	}

	if !isStderrTTY() {
		return fmt.Errorf("pulsar watch requires a TTY (terminal)")
	}

	steps, err := dashboardSteps(p)
	if err != nil {
		return err
	}
	program := tui.NewProgram(tui.Options{
		PlanName: p.Manifest.Plan.Name,
		PlanDir:  planDir,
		Steps:    steps,
		Workers:  cfg.Workers,
	})

	bridge := tui.NewTailBridge(program, eventsPath)
	if err := bridge.Start(); err != nil {
		return err
	}
	defer bridge.Stop()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
