package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/archive"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var archiveCmd = &cobra.Command{
	Use:   "archive [plan-dir]",
	Short: "Snapshot a finished run into a standalone file and clear the live state",
	Long: `Archive copies the recorded run into a standalone SQLite file: the run
summary, per-step outcomes, every committed variable version, the alias
table, and the telemetry events. The run is then purged from the live
ledger and its state and events are removed, leaving the plan directory
clean for the next run.

Failed and stopped runs can still be resumed; archiving one requires
--force. With --reap no archive is written: stale STOP/PAUSE markers are
removed and a stalled run is flagged instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArchive,
}

func init() {
	archiveCmd.Flags().String("out", "", "output path for the archive file (default: <plan-dir>/archives/<run-id>.db)")
	archiveCmd.Flags().Bool("force", false, "archive a failed or stopped run, forfeiting resume")
	archiveCmd.Flags().Bool("reap", false, "only clean stale markers and flag stalled runs")
	rootCmd.AddCommand(archiveCmd)
}

func runArchive(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)

	if reap, _ := cmd.Flags().GetBool("reap"); reap {
		r := &archive.Reaper{PlanDir: planDir}
		actions, err := r.Run()
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			printer.Info(fmt.Sprintf("Nothing stale in %s.", planDir))
			return nil
		}
		for _, a := range actions {
			printer.Info(fmt.Sprintf("%s: %s", a.Kind, a.Details))
		}
		return nil
	}

	outPath, _ := cmd.Flags().GetString("out")
	force, _ := cmd.Flags().GetBool("force")

	a, err := archive.Run(cmd.Context(), planDir, outPath, archive.Options{Force: force})
	if err != nil {
		return err
	}

	printer.Info(fmt.Sprintf("Archived run %q → %s", a.RunID, a.Path))
	printer.Info(fmt.Sprintf("%d step(s), %d variable(s), %d event(s) preserved.", a.Steps, a.Variables, a.Events))
	return nil
}
