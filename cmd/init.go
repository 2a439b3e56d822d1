package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init <dir>",
	Short: "Scaffold a runnable sample plan",
	Long: `Init writes a small three-step plan into the given directory: a
manifest plus numbered step files with inline variants. The sample is
runnable as-is and shows the frontmatter fields, the writes contract,
and variant fallback.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().String("name", "", "Plan name (default: the directory base name)")
	initCmd.Flags().Bool("force", false, "Overwrite an existing plan directory")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving plan directory: %w", err)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		name = filepath.Base(dir)
	}
	force, _ := cmd.Flags().GetBool("force")

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)

	p := samplePlan(name)
	if err := plan.WritePlan(p, dir, plan.WriteOptions{Overwrite: force}); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}

	printer.Info(fmt.Sprintf("Created plan %q with %d steps in %s", name, len(p.Steps), args[0]))
	printer.Info(fmt.Sprintf("Run 'pulsar run %s' to execute it.", args[0]))
	return nil
}

// samplePlan builds the scaffold plan init writes: fetch feeds crunch,
// crunch feeds report, and crunch carries a second variant so the
// fallback order is visible in a real file.
func samplePlan(name string) *plan.Plan {
	return &plan.Plan{
		Manifest: plan.Manifest{
			Plan: plan.Info{
				Name:        name,
				Description: "Sample plan scaffolded by pulsar init.",
			},
			Execution: plan.Execution{
				MaxWorkers:         2,
				IterationBudget:    5,
				ToolQuota:          3,
				StepTimeoutSeconds: 60,
			},
			Workspace: plan.Workspace{Dir: "work"},
		},
		Steps: []plan.Step{
			{
				ID:     "fetch",
				Title:  "Fetch readings",
				Writes: []string{"data"},
				Body:   "Produce the raw readings the rest of the plan consumes.",
				Variants: []plan.Variant{
					{ID: "a", Code: `{"data_fetch_a": [4, 8, 15, 16, 23, 42]}`},
				},
			},
			{
				ID:     "crunch",
				Title:  "Total the readings",
				Needs:  []string{"fetch"},
				Writes: []string{"total"},
				Body:   "Sum the readings from fetch. The second variant is the fallback.",
				Variants: []plan.Variant{
					{ID: "a", Code: `{"total_crunch_a": sum(data_fetch)}`},
					{ID: "b", Code: `{"total_crunch_b": reduce(data_fetch, #acc + #, 0)}`},
				},
			},
			{
				ID:     "report",
				Title:  "Summarize the run",
				Needs:  []string{"crunch"},
				Writes: []string{"summary"},
				Body:   "Render a one-line summary with a timestamp from the now capability.",
				Variants: []plan.Variant{
					{ID: "a", Code: `{"summary_report_a": "total is " + string(total_crunch) + " at " + now()}`},
				},
			},
		},
	}
}
