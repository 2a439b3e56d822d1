package ui

import (
	"strings"
	"testing"
)

// graphSpec describes one step for buildTestGraph: id, title, deps.
type graphSpec struct {
	id    string
	title string
	deps  []string
}

// buildTestGraph derives waves, deps, and titles from a simple spec.
// Waves are computed by repeatedly taking steps whose deps are placed.
func buildTestGraph(t *testing.T, specs []graphSpec) ([][]string, map[string][]string, map[string]string) {
	t.Helper()
	titles := make(map[string]string, len(specs))
	deps := make(map[string][]string, len(specs))
	for _, s := range specs {
		titles[s.id] = s.title
		if len(s.deps) > 0 {
			deps[s.id] = s.deps
		}
	}

	placed := make(map[string]bool, len(specs))
	var waves [][]string
	for len(placed) < len(specs) {
		var wave []string
		for _, s := range specs {
			if placed[s.id] {
				continue
			}
			ready := true
			for _, dep := range s.deps {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s.id)
			}
		}
		if len(wave) == 0 {
			t.Fatal("spec contains a cycle")
		}
		for _, id := range wave {
			placed[id] = true
		}
		waves = append(waves, wave)
	}
	return waves, deps, titles
}

func TestRender_SingleNode(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "fetch", title: "Fetch Data"},
	})

	r := &DAGRenderer{Width: 80, UseColor: false}
	out := r.Render(waves, deps, titles)

	if out == "" {
		t.Fatal("Render returned empty string for single node")
	}
	if !strings.Contains(out, "Fetch Data") {
		t.Errorf("output missing title 'Fetch Data':\n%s", out)
	}
	if !strings.Contains(out, "┌") || !strings.Contains(out, "└") {
		t.Errorf("output missing box borders:\n%s", out)
	}
}

func TestRender_LinearChainHasConnectors(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "fetch", title: "fetch"},
		{id: "crunch", title: "crunch", deps: []string{"fetch"}},
	})

	r := &DAGRenderer{Width: 80, UseColor: false}
	out := r.Render(waves, deps, titles)

	if !strings.Contains(out, "│") {
		t.Errorf("no vertical connector between waves:\n%s", out)
	}
	lines := strings.Split(out, "\n")
	fetchLine, crunchLine := -1, -1
	for i, line := range lines {
		if strings.Contains(line, "fetch") {
			fetchLine = i
		}
		if strings.Contains(line, "crunch") {
			crunchLine = i
		}
	}
	if fetchLine == -1 || crunchLine == -1 || fetchLine >= crunchLine {
		t.Errorf("fetch (line %d) must render above crunch (line %d):\n%s", fetchLine, crunchLine, out)
	}
}

func TestRender_FanOut(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "root", title: "root"},
		{id: "left", title: "left", deps: []string{"root"}},
		{id: "right", title: "right", deps: []string{"root"}},
	})

	r := &DAGRenderer{Width: 80, UseColor: false}
	out := r.Render(waves, deps, titles)

	for _, want := range []string{"root", "left", "right"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// Fan-out draws a branch junction.
	if !strings.Contains(out, "┴") && !strings.Contains(out, "─") {
		t.Errorf("no branch drawn for fan-out:\n%s", out)
	}
}

func TestRender_StatusDetailLine(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "crunch", title: "crunch"},
	})

	r := &DAGRenderer{
		Width:    80,
		UseColor: false,
		StatusFunc: func(id string) NodeStatus {
			return NodeStatus{State: "succeeded", Variant: "b", Iterations: 3}
		},
	}
	out := r.Render(waves, deps, titles)

	if !strings.Contains(out, "via b") {
		t.Errorf("box missing winning variant:\n%s", out)
	}
	if !strings.Contains(out, "↻3") {
		t.Errorf("box missing iteration count:\n%s", out)
	}
}

func TestRender_ColorByState(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "done", title: "done"},
		{id: "broken", title: "broken"},
	})

	r := &DAGRenderer{
		Width:    80,
		UseColor: true,
		StatusFunc: func(id string) NodeStatus {
			if id == "broken" {
				return NodeStatus{State: "failed"}
			}
			return NodeStatus{State: "succeeded"}
		},
	}
	out := r.Render(waves, deps, titles)

	if !strings.Contains(out, "\033[32m") {
		t.Errorf("no green styling for succeeded step:\n%q", out)
	}
	if !strings.Contains(out, "\033[31m") {
		t.Errorf("no red styling for failed step:\n%q", out)
	}
}

func TestRender_NoColorHasNoEscapes(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "a", title: "a"},
		{id: "b", title: "b", deps: []string{"a"}},
	})

	r := &DAGRenderer{Width: 80, UseColor: false}
	out := r.Render(waves, deps, titles)

	if strings.Contains(out, "\033[") {
		t.Errorf("escape codes emitted with UseColor=false:\n%q", out)
	}
}

func TestRender_PriorityBorder(t *testing.T) {
	t.Parallel()

	waves, deps, titles := buildTestGraph(t, []graphSpec{
		{id: "urgent", title: "urgent"},
	})

	r := &DAGRenderer{
		Width:      80,
		UseColor:   false,
		Priorities: map[string]int{"urgent": 5},
	}
	out := r.Render(waves, deps, titles)

	if !strings.Contains(out, "╔") || !strings.Contains(out, "║") {
		t.Errorf("prioritized step missing double border:\n%s", out)
	}
}

func TestRender_CompactMode(t *testing.T) {
	t.Parallel()

	specs := []graphSpec{{id: "seed", title: "seed"}}
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11"} {
		specs = append(specs, graphSpec{id: id, title: id, deps: []string{"seed"}})
	}
	waves, deps, titles := buildTestGraph(t, specs)

	r := &DAGRenderer{Width: 80, UseColor: false}
	out := r.Render(waves, deps, titles)

	if !strings.Contains(out, "Wave 1:") {
		t.Errorf("compact mode missing wave labels:\n%s", out)
	}
	if strings.Contains(out, "┌") {
		t.Errorf("compact mode drew boxes for %d nodes:\n%s", len(specs), out)
	}
	if !strings.Contains(out, "[seed]") {
		t.Errorf("compact mode missing bracket nodes:\n%s", out)
	}
	if !strings.Contains(out, "→") {
		t.Errorf("compact mode missing child arrows:\n%s", out)
	}
}

func TestRender_CompactCriticalPathMarker(t *testing.T) {
	t.Parallel()

	specs := []graphSpec{{id: "seed", title: "seed"}}
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11"} {
		specs = append(specs, graphSpec{id: id, title: id, deps: []string{"seed"}})
	}
	waves, deps, titles := buildTestGraph(t, specs)

	r := &DAGRenderer{
		Width:        80,
		UseColor:     false,
		CriticalPath: map[string]bool{"seed": true},
	}
	out := r.Render(waves, deps, titles)

	if !strings.Contains(out, "[seed]*") {
		t.Errorf("critical path step missing marker:\n%s", out)
	}
}

func TestRender_EmptyGraph(t *testing.T) {
	t.Parallel()

	r := &DAGRenderer{Width: 80}
	if out := r.Render(nil, nil, nil); out != "" {
		t.Errorf("empty graph rendered %q", out)
	}
	if out := r.Render([][]string{}, map[string][]string{}, map[string]string{}); out != "" {
		t.Errorf("empty waves rendered %q", out)
	}
}

func TestVisibleLen_StripsEscapes(t *testing.T) {
	t.Parallel()

	r := &DAGRenderer{}
	plainLen := r.visibleLen("┌──────┐")
	coloredLen := r.visibleLen("\033[32m┌──────┐\033[0m")
	if plainLen != coloredLen {
		t.Errorf("visibleLen differs: plain %d, colored %d", plainLen, coloredLen)
	}
	if plainLen != 8 {
		t.Errorf("visibleLen = %d, want 8", plainLen)
	}
}
