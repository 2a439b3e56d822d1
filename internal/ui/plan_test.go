package ui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/engine"
	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/vars"
)

func samplePlan() *plan.Plan {
	return &plan.Plan{
		Manifest: plan.Manifest{Plan: plan.Info{Name: "pipeline", Description: "nightly data refresh"}},
		Steps: []plan.Step{
			{
				ID:     "fetch",
				Title:  "Fetch rows",
				Writes: []string{"rows"},
				Variants: []plan.Variant{
					{ID: "a", Code: "..."},
					{ID: "b", Code: "..."},
				},
			},
			{
				ID:             "crunch",
				Needs:          []string{"fetch"},
				Writes:         []string{"total"},
				Priority:       2,
				TimeoutSeconds: 30,
			},
		},
	}
}

func TestValidateResult_Clean(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.ValidateResult("pipeline", 3, nil)
	})
	if !strings.Contains(out, "✓") || !strings.Contains(out, "pipeline") || !strings.Contains(out, "3 step(s)") {
		t.Errorf("clean result malformed:\n%s", out)
	}
}

func TestValidateResult_Errors(t *testing.T) {
	p := New(false)
	errs := []plan.ValidationError{
		{Category: plan.ValCatUnknownDep, StepID: "crunch", SourceFile: "crunch.md", Err: errors.New("needs ghost")},
		{Category: plan.ValCatMissingField, StepID: "fetch", SourceFile: "fetch.md", Err: errors.New("writes empty")},
	}
	out := captureStderr(func() {
		p.ValidateResult("pipeline", 2, errs)
	})
	for _, want := range []string{"✗", "2 error(s)", "crunch.md: step crunch: needs ghost", "fetch.md: step fetch: writes empty"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShowPlan(t *testing.T) {
	p := New(false)
	waves := [][]string{{"fetch"}, {"crunch"}}
	out := captureStderr(func() {
		p.ShowPlan(samplePlan(), waves, []string{"fetch", "crunch"}, true)
	})

	checks := []struct {
		name   string
		substr string
	}{
		{"plan name", "Plan: pipeline"},
		{"description", "nightly data refresh"},
		{"wave 1", "Wave 1: fetch"},
		{"wave 2", "Wave 2: crunch"},
		{"critical path", "fetch → crunch"},
		{"step title", "Fetch rows"},
		{"needs line", "needs:    fetch"},
		{"writes line", "writes:   rows"},
		{"variant list", "variants: a, b"},
		{"producer fallback", "(producer-authored)"},
		{"priority", "priority: 2"},
		{"timeout", "timeout:  30s"},
		{"stats", "2 step(s), 2 wave(s), max parallelism 1"},
	}
	for _, c := range checks {
		if !strings.Contains(out, c.substr) {
			t.Errorf("expected output to contain %s (%q), got:\n%s", c.name, c.substr, out)
		}
	}
}

func TestImpactSummary(t *testing.T) {
	impact := map[string]float64{"fetch": 0.61, "crunch": 0.34}
	tracks := []dag.Track{
		{ID: 0, StepIDs: []string{"fetch", "crunch"}, AggregateImpact: 0.95, MaxImpact: 0.61},
	}

	p := New(false)
	out := captureStderr(func() {
		p.ImpactSummary(samplePlan(), impact, tracks, true)
	})

	for _, want := range []string{
		"Impact: pipeline",
		"1. fetch",
		"0.6100",
		"2. crunch",
		"0.3400",
		"1 independent track(s)",
		"Track 1 (2 step(s), impact 0.9500)",
		"fetch → crunch",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := strings.Count(out, "bottleneck"); n != 1 {
		t.Errorf("expected exactly the top step flagged, got %d marker(s):\n%s", n, out)
	}
}

func TestImpactThreshold(t *testing.T) {
	if got := impactThreshold(nil, nil); got != 0 {
		t.Errorf("empty threshold = %v, want 0", got)
	}

	small := map[string]float64{"a": 0.9, "b": 0.5}
	if got := impactThreshold(small, []string{"a", "b"}); got != 0.9 {
		t.Errorf("small-plan threshold = %v, want 0.9", got)
	}

	big := map[string]float64{
		"a": 1.0, "b": 0.9, "c": 0.8, "d": 0.7, "e": 0.6,
		"f": 0.5, "g": 0.4, "h": 0.3, "i": 0.2, "j": 0.1,
	}
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	if got := impactThreshold(big, ids); got != 0.9 {
		t.Errorf("percentile threshold = %v, want 0.9", got)
	}
}

func TestStateSummary(t *testing.T) {
	st := plan.NewState("run-7", "pipeline")
	ss := st.SetStepStatus("fetch", plan.StepSucceeded)
	ss.Variant = "a"
	ss.Iterations = 2
	fs := st.SetStepStatus("crunch", plan.StepFailed)
	fs.Error = "all variants exhausted"
	st.SetStepStatus("publish", plan.StepSkipped).Error = "upstream step crunch failed"
	st.Status = plan.RunFailed
	st.FinishedAt = time.Now().UTC()

	p := New(false)
	out := captureStderr(func() {
		p.StateSummary(st, true)
	})

	for _, want := range []string{
		"Run run-7",
		"pipeline",
		"failed",
		"✓ fetch",
		"via a, 2 iterations",
		"✗ crunch",
		"– publish",
		"1 succeeded, 1 failed, 1 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReportSummary(t *testing.T) {
	r := &engine.Report{
		RunID:  "run-9",
		Plan:   "pipeline",
		Status: plan.RunFailed,
		Steps: []engine.StepReport{
			{ID: "fetch", Status: plan.StepSucceeded, Variant: "a", Iterations: 1},
			{
				ID:        "crunch",
				Status:    plan.StepFailed,
				ErrorKind: "variants_exhausted",
				Error:     "step crunch: all 2 variants failed",
				Failures: []engine.VariantFailure{
					{Variant: "a", Iteration: 1, Kind: "runner_fault", Reason: "eval: boom"},
					{Variant: "b", Iteration: 1, Kind: "contract", Reason: "missing write"},
				},
			},
			{ID: "publish", Status: plan.StepSkipped, SkipCause: "upstream step crunch failed"},
		},
	}

	p := New(false)
	out := captureStderr(func() {
		p.ReportSummary(r, true)
	})

	for _, want := range []string{
		"Run run-9",
		"✓ fetch",
		"✗ crunch",
		"variants_exhausted",
		"variant a (iteration 1): runner_fault: eval: boom",
		"variant b (iteration 1): contract: missing write",
		"– publish",
		"upstream step crunch failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVarsList(t *testing.T) {
	entries := []vars.Entry{
		{Name: "rows_fetch_a", Type: vars.TypeStruct, Value: []any{1, 2, 3}, Step: "fetch", Variant: "a", Iteration: 1, Version: 1},
		{Name: "report_publish_a", Type: vars.TypeFile, Path: "out/report.txt", Step: "publish", Variant: "a", Iteration: 1, Version: 1},
	}

	p := New(false)
	out := captureStderr(func() {
		p.VarsList(entries, true)
	})

	for _, want := range []string{"rows_fetch_a", "[1,2,3]", "report_publish_a", "out/report.txt"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestVarsList_Empty(t *testing.T) {
	p := New(false)
	out := captureStderr(func() {
		p.VarsList(nil, true)
	})
	if !strings.Contains(out, "no variables committed") {
		t.Errorf("empty list output:\n%s", out)
	}
}

func TestVarsHistory(t *testing.T) {
	entries := []vars.Entry{
		{Name: "total_crunch_a", Version: 1, Value: 4, Step: "crunch", Variant: "a", Iteration: 1},
		{Name: "total_crunch_a", Version: 2, Value: 6, Step: "crunch", Variant: "a", Iteration: 2},
	}

	p := New(false)
	out := captureStderr(func() {
		p.VarsHistory("total_crunch_a", entries, true)
	})

	for _, want := range []string{"total_crunch_a", "v1", "v2", "iteration 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPreviewValue_Truncates(t *testing.T) {
	long := strings.Repeat("x", 100)
	e := vars.Entry{Type: vars.TypeScalar, Value: long}
	got := previewValue(e)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long value not truncated: %q", got)
	}
	if n := len([]rune(got)); n > 48 {
		t.Errorf("preview length = %d runes, want <= 48", n)
	}
}

func TestPlanColors(t *testing.T) {
	if c := planColors(true); c.red != "" || c.reset != "" {
		t.Errorf("noColor palette not empty: %+v", c)
	}
	if c := planColors(false); c.red == "" || c.reset == "" {
		t.Errorf("color palette empty: %+v", c)
	}
}
