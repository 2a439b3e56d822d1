package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/ui"
	"github.com/papapumpkin/pulsar/internal/vars"
)

var varsCmd = &cobra.Command{
	Use:   "vars [plan-dir]",
	Short: "Query the variable ledger",
	Long: `Vars reads the run's committed variables from the SQLite ledger.
The default listing shows the current version of every name; --name
shows one variable's full version history with its provenance.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVars,
}

func init() {
	varsCmd.Flags().String("name", "", "show every version of one variable")
	varsCmd.Flags().String("step", "", "only variables committed by this step")
	varsCmd.Flags().String("run", "", "run ID to query (default: latest)")
	varsCmd.Flags().Bool("json", false, "emit entries as JSON")
	rootCmd.AddCommand(varsCmd)
}

func runVars(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	dbPath := vars.LedgerFile(planDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return fmt.Errorf("no ledger in %s", planDir)
	}

	ctx := cmd.Context()
	ledger, err := vars.OpenLedger(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer ledger.Close()

	runID, _ := cmd.Flags().GetString("run")
	if runID == "" {
		latest, err := ledger.LatestRun(ctx)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("ledger holds no runs")
		}
		runID = latest.RunID
	}

	entries, err := ledger.Entries(ctx, runID)
	if err != nil {
		return err
	}

	if step, _ := cmd.Flags().GetString("step"); step != "" {
		entries = filterEntries(entries, func(e vars.Entry) bool { return e.Step == step })
	}

	name, _ := cmd.Flags().GetString("name")
	if name != "" {
		entries = filterEntries(entries, func(e vars.Entry) bool { return e.Name == name })
	} else {
		entries = latestVersions(entries)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)
	if name != "" {
		printer.VarsHistory(name, entries, colorDisabled())
		return nil
	}
	printer.VarsList(entries, colorDisabled())
	return nil
}

func filterEntries(entries []vars.Entry, keep func(vars.Entry) bool) []vars.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// latestVersions keeps the newest version of each name, sorted by name.
// Entries arrive in commit order, so the last row per name wins.
func latestVersions(entries []vars.Entry) []vars.Entry {
	latest := make(map[string]vars.Entry, len(entries))
	for _, e := range entries {
		latest[e.Name] = e
	}
	names := make([]string, 0, len(latest))
	for n := range latest {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]vars.Entry, 0, len(names))
	for _, n := range names {
		out = append(out, latest[n])
	}
	return out
}
