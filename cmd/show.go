package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show [plan-dir]",
	Short: "Print the plan: steps, dependencies, execution waves",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().Bool("graph", false, "draw the dependency graph instead of the step listing")
	showCmd.Flags().Bool("impact", false, "rank steps by dependency impact and group independent tracks")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	planDir, err := planDirArg(args)
	if err != nil {
		return err
	}

	p, err := plan.Load(planDir)
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	graph, err := plan.BuildGraph(p)
	if err != nil {
		return err
	}
	waves, err := graph.Waves()
	if err != nil {
		return err
	}
	critical, err := graph.CriticalPath()
	if err != nil {
		return err
	}

	if drawGraph, _ := cmd.Flags().GetBool("graph"); drawGraph {
		fmt.Fprintln(os.Stderr, renderGraph(p, waves, critical))
		return nil
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	printer := ui.New(verbose)

	if showImpact, _ := cmd.Flags().GetBool("impact"); showImpact {
		impact, err := graph.Impact(dag.DefaultImpactOptions())
		if err != nil {
			return err
		}
		tracks, err := graph.Tracks(impact)
		if err != nil {
			return err
		}
		printer.ImpactSummary(p, impact, tracks, colorDisabled())
		return nil
	}

	printer.ShowPlan(p, waves, critical, colorDisabled())
	return nil
}

// renderGraph draws the plan DAG with the saved run state, when one
// exists, coloring each node.
func renderGraph(p *plan.Plan, waves [][]string, critical []string) string {
	deps := make(map[string][]string, len(p.Steps))
	titles := make(map[string]string, len(p.Steps))
	priorities := make(map[string]int, len(p.Steps))
	for _, s := range p.Steps {
		deps[s.ID] = append(append([]string{}, s.Needs...), s.After...)
		titles[s.ID] = s.Title
		if s.Priority != 0 {
			priorities[s.ID] = s.Priority
		}
	}

	onPath := make(map[string]bool, len(critical))
	for _, id := range critical {
		onPath[id] = true
	}

	r := ui.DAGRenderer{
		Width:        terminalWidth(),
		UseColor:     !colorDisabled(),
		CriticalPath: onPath,
		Priorities:   priorities,
	}

	if st, err := plan.LoadState(p.Dir); err == nil && st != nil {
		r.StatusFunc = func(id string) ui.NodeStatus {
			ss, ok := st.Steps[id]
			if !ok {
				return ui.NodeStatus{State: string(plan.StepPending)}
			}
			return ui.NodeStatus{
				State:      string(ss.Status),
				Variant:    ss.Variant,
				Iterations: ss.Iterations,
			}
		}
	}

	return r.Render(waves, deps, titles)
}

func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stderr.Fd()); err == nil && w > 0 {
		return w
	}
	return 100
}
