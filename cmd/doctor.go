package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/config"
	"github.com/papapumpkin/pulsar/internal/doctor"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor [plan-dir]",
	Short: "Check that a plan directory is ready to run",
	Long: `Doctor runs the readiness checks a run would otherwise fail
mid-flight: structural validation, fragment syntax, workspace
writability, the producer command, and ledger access. Exit status 1
when any check fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
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

	workspace, err := resolveWorkspace(planDir, cfg.Workspace)
	if err != nil {
		return err
	}

	chain := doctor.Default(p, doctor.Options{
		Workspace: workspace,
		Producer:  cfg.ProducerCommand(p.Manifest),
	})
	result, err := chain.Run(cmd.Context(), planDir)
	if err != nil {
		return err
	}

	printer := ui.New(cfg.Verbose)
	printer.DoctorResult(p.Manifest.Plan.Name, result)
	if !result.Passed {
		os.Exit(1)
	}
	return nil
}
