package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-dir]",
	Short: "Print the saved run state",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "emit the raw state as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	state, err := plan.LoadState(planDir)
	if err != nil {
		return fmt.Errorf("failed to load run state: %w", err)
	}
	if state == nil {
		return fmt.Errorf("no run recorded in %s", planDir)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)
	printer.StateSummary(state, colorDisabled())
	return nil
}
