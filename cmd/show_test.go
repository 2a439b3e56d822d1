package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/papapumpkin/pulsar/internal/plan"
)

func TestShowCmd_Flags(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"graph", "impact"} {
		if showCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag %q to be registered on show command", name)
		}
	}
}

func TestRunShow_MissingPlan(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nope")
	err := runShow(showCmd, []string{dir})
	if err == nil {
		t.Fatal("expected error for a missing plan directory")
	}
	if !strings.HasPrefix(err.Error(), "failed to load plan:") {
		t.Errorf("unexpected error: %q", err)
	}
}

func TestRenderGraph_NamesEveryStep(t *testing.T) {
	// Not parallel: reads the NO_COLOR environment.
	t.Setenv("NO_COLOR", "1")

	dir := filepath.Join(t.TempDir(), "demo")
	if err := plan.WritePlan(samplePlan("demo"), dir, plan.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	p, err := plan.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	graph, err := plan.BuildGraph(p)
	if err != nil {
		t.Fatal(err)
	}
	waves, err := graph.Waves()
	if err != nil {
		t.Fatal(err)
	}
	critical, err := graph.CriticalPath()
	if err != nil {
		t.Fatal(err)
	}

	out := renderGraph(p, waves, critical)
	for _, id := range []string{"fetch", "crunch", "report"} {
		if !strings.Contains(out, id) {
			t.Errorf("graph output missing step %q", id)
		}
	}
}

func TestRunShow_Impact(t *testing.T) {
	// Not parallel: modifies shared show flag state.
	dir := filepath.Join(t.TempDir(), "demo")
	if err := plan.WritePlan(samplePlan("demo"), dir, plan.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := showCmd.Flags().Set("impact", "true"); err != nil {
		t.Fatal(err)
	}
	defer showCmd.Flags().Set("impact", "false")

	if err := runShow(showCmd, []string{dir}); err != nil {
		t.Fatalf("runShow with impact: %v", err)
	}
}

func TestTerminalWidth_Positive(t *testing.T) {
	t.Parallel()

	if w := terminalWidth(); w <= 0 {
		t.Errorf("terminalWidth() = %d, want a positive width", w)
	}
}
