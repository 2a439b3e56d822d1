package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/engine"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/telemetry"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:   "report [plan-dir]",
	Short: "Print the final run report",
	Long: `Report assembles the run's outcome from the saved state and the
telemetry stream: each step's terminal status, winning variant, and
iteration count, plus the ordered chain of variant failures behind every
failed step.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().Bool("json", false, "emit the report as JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	report, err := assembleReport(planDir)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)
	printer.ReportSummary(report, colorDisabled())
	return nil
}

// assembleReport rebuilds the run report from the state file and the
// run's variant_fail events. Steps follow the plan's dependency order;
// steps known only to the state (continuations whose files are gone)
// come after, sorted by ID.
func assembleReport(planDir string) (*engine.Report, error) {
	state, err := plan.LoadState(planDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}
	if state == nil {
		return nil, fmt.Errorf("no run recorded in %s", planDir)
	}

	order, titles := reportOrder(planDir, state)
	failures := variantFailures(planDir, state.RunID)

	r := &engine.Report{
		RunID:      state.RunID,
		Plan:       state.PlanName,
		Status:     state.Status,
		StartedAt:  state.StartedAt,
		FinishedAt: state.FinishedAt,
	}
	for _, id := range order {
		sr := engine.StepReport{ID: id, Title: titles[id], Status: plan.StepPending}
		if ss := state.Steps[id]; ss != nil {
			sr.Status = ss.Status
			sr.Variant = ss.Variant
			sr.Iterations = ss.Iterations
			sr.ErrorKind = ss.ErrorKind
			sr.Error = ss.Error
			sr.Failures = failures[id]
			if ss.Status == plan.StepSkipped {
				sr.SkipCause = ss.Error
				sr.Error = ""
			}
		}
		r.Steps = append(r.Steps, sr)
	}
	return r, nil
}

// reportOrder lists step IDs in dependency order when the plan still
// parses, falling back to the state's keys. State-only steps append at
// the end.
func reportOrder(planDir string, state *plan.State) ([]string, map[string]string) {
	var order []string
	titles := make(map[string]string)

	if p, err := plan.Load(planDir); err == nil {
		for _, s := range p.Steps {
			titles[s.ID] = s.Title
		}
		if graph, err := plan.BuildGraph(p); err == nil {
			if sorted, err := graph.TopologicalSort(); err == nil {
				order = sorted
			}
		}
		if order == nil {
			for _, s := range p.Steps {
				order = append(order, s.ID)
			}
		}
	}

	known := make(map[string]bool, len(order))
	for _, id := range order {
		known[id] = true
	}
	var extra []string
	for id := range state.Steps {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(order, extra...), titles
}

// variantFailures replays the run's telemetry, collecting variant_fail
// events per step in emission order. A missing or partial events file
// yields what it holds.
func variantFailures(planDir, runID string) map[string][]engine.VariantFailure {
	failures := make(map[string][]engine.VariantFailure)

	f, err := os.Open(telemetry.EventsFile(planDir))
	if err != nil {
		return failures
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt telemetry.Event
		if json.Unmarshal(line, &evt) != nil {
			continue
		}
		if evt.Kind != telemetry.KindVariantFail || evt.RunID != runID || evt.StepID == "" {
			continue
		}
		data, _ := evt.Data.(map[string]any)
		failures[evt.StepID] = append(failures[evt.StepID], engine.VariantFailure{
			Variant:   evt.Variant,
			Iteration: eventInt(data, "iteration"),
			Kind:      eventString(data, "kind"),
			Reason:    eventString(data, "reason"),
		})
	}
	return failures
}

func eventString(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func eventInt(data map[string]any, key string) int {
	if f, ok := data[key].(float64); ok {
		return int(f)
	}
	return 0
}
