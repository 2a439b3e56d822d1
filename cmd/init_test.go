package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/papapumpkin/pulsar/internal/plan"
)

func TestInitCmd_Flags(t *testing.T) {
	t.Parallel()

	for _, flag := range []string{"name", "force"} {
		if initCmd.Flags().Lookup(flag) == nil {
			t.Errorf("expected flag %q to be registered on init command", flag)
		}
	}
}

func TestSamplePlan_Validates(t *testing.T) {
	t.Parallel()

	p := samplePlan("demo")
	if errs := plan.Validate(p); len(errs) > 0 {
		for _, e := range errs {
			t.Errorf("sample plan: %v", e)
		}
	}
}

func TestSamplePlan_VariantsNameTheirWrites(t *testing.T) {
	t.Parallel()

	p := samplePlan("demo")
	for _, s := range p.Steps {
		for _, v := range s.Variants {
			for _, w := range s.Writes {
				key := w + "_" + s.ID + "_" + v.ID
				if !strings.Contains(v.Code, key) {
					t.Errorf("step %s variant %s: code does not mention %q", s.ID, v.ID, key)
				}
			}
		}
	}
}

func TestRunInit_WritesLoadablePlan(t *testing.T) {
	// Not parallel: modifies shared initCmd flag state.
	dir := filepath.Join(t.TempDir(), "demo")

	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	// Numbered step files in dependency order.
	for _, name := range []string{"01-fetch.md", "02-crunch.md", "03-report.md"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	p, err := plan.Load(dir)
	if err != nil {
		t.Fatalf("loading scaffolded plan: %v", err)
	}
	if p.Manifest.Plan.Name != "demo" {
		t.Errorf("plan name = %q, want %q", p.Manifest.Plan.Name, "demo")
	}
	if len(p.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(p.Steps))
	}

	crunch := p.Step("crunch")
	if crunch == nil {
		t.Fatal("scaffolded plan has no crunch step")
	}
	if len(crunch.Variants) != 2 {
		t.Errorf("crunch variants = %d, want 2", len(crunch.Variants))
	}
	if len(crunch.Needs) != 1 || crunch.Needs[0] != "fetch" {
		t.Errorf("crunch needs = %v, want [fetch]", crunch.Needs)
	}

	if errs := plan.Validate(p); len(errs) > 0 {
		t.Errorf("scaffolded plan has %d validation error(s): %v", len(errs), errs[0])
	}
}

func TestRunInit_ExistingDirWithoutForce(t *testing.T) {
	// Not parallel: modifies shared initCmd flag state.
	dir := filepath.Join(t.TempDir(), "demo")
	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("first runInit: %v", err)
	}

	err := runInit(initCmd, []string{dir})
	if !errors.Is(err, plan.ErrDirExists) {
		t.Errorf("second runInit error = %v, want ErrDirExists", err)
	}
}

func TestRunInit_ForceOverwrites(t *testing.T) {
	// Not parallel: modifies shared initCmd flag state.
	dir := filepath.Join(t.TempDir(), "demo")
	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("first runInit: %v", err)
	}

	if err := initCmd.Flags().Set("force", "true"); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = initCmd.Flags().Set("force", "false") }()

	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Errorf("runInit with force: %v", err)
	}
}

func TestRunInit_NameFlag(t *testing.T) {
	// Not parallel: modifies shared initCmd flag state.
	dir := filepath.Join(t.TempDir(), "demo")

	if err := initCmd.Flags().Set("name", "orbital"); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = initCmd.Flags().Set("name", "") }()

	if err := runInit(initCmd, []string{dir}); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	p, err := plan.Load(dir)
	if err != nil {
		t.Fatalf("loading scaffolded plan: %v", err)
	}
	if p.Manifest.Plan.Name != "orbital" {
		t.Errorf("plan name = %q, want %q", p.Manifest.Plan.Name, "orbital")
	}
}
