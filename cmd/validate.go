package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate [plan-dir]",
	Short: "Check a plan directory for structural errors",
	Long: `Validate parses the manifest and every step file, then checks IDs,
dependency references, writes contracts, variant blocks, and the
dependency graph for cycles. Exit status 1 when any error is found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	p, err := plan.Load(planDir)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)

	errs := plan.Validate(p)
	printer.ValidateResult(p.Manifest.Plan.Name, len(p.Steps), errs)
	if len(errs) > 0 {
		os.Exit(1)
	}
	return nil
}
