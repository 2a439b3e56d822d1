package plan

import (
	"errors"
	"strings"
	"testing"

	"github.com/papapumpkin/pulsar/internal/dag"
)

func planOf(steps ...Step) *Plan {
	return &Plan{Steps: steps}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		steps     []Step
		wantCount int
		wantErr   error
		wantCat   ValidationCategory
		wantMsg   string // substring in error message
	}{
		{
			name: "valid plan",
			steps: []Step{
				{ID: "fetch", Writes: []string{"rows"}},
				{ID: "crunch", Needs: []string{"fetch"}, Writes: []string{"total"}},
				{ID: "publish", After: []string{"crunch"}, Writes: []string{"report"}},
			},
			wantCount: 0,
		},
		{
			name:      "missing id",
			steps:     []Step{{Writes: []string{"out"}, SourceFile: "no-id.md"}},
			wantCount: 1,
			wantErr:   ErrMissingField,
			wantCat:   ValCatMissingField,
		},
		{
			name:      "id with dash",
			steps:     []Step{{ID: "fetch-data", Writes: []string{"out"}}},
			wantCount: 1,
			wantErr:   ErrInvalidName,
			wantCat:   ValCatInvalidName,
		},
		{
			name:      "id with uppercase",
			steps:     []Step{{ID: "Fetch", Writes: []string{"out"}}},
			wantCount: 1,
			wantErr:   ErrInvalidName,
		},
		{
			name:      "id starting with digit",
			steps:     []Step{{ID: "1fetch", Writes: []string{"out"}}},
			wantCount: 1,
			wantErr:   ErrInvalidName,
		},
		{
			name:      "empty writes",
			steps:     []Step{{ID: "fetch"}},
			wantCount: 1,
			wantErr:   ErrMissingField,
			wantMsg:   "writes",
		},
		{
			name:      "invalid write name",
			steps:     []Step{{ID: "fetch", Writes: []string{"Raw-Rows"}}},
			wantCount: 1,
			wantErr:   ErrInvalidName,
		},
		{
			name:      "duplicate write name",
			steps:     []Step{{ID: "fetch", Writes: []string{"rows", "rows"}}},
			wantCount: 1,
			wantErr:   ErrDuplicateID,
		},
		{
			name: "duplicate step ids name both files",
			steps: []Step{
				{ID: "fetch", Writes: []string{"rows"}, SourceFile: "01-fetch.md"},
				{ID: "fetch", Writes: []string{"more"}, SourceFile: "02-fetch.md"},
			},
			wantCount: 1,
			wantErr:   ErrDuplicateID,
			wantMsg:   "01-fetch.md",
		},
		{
			name: "unknown needs dependency",
			steps: []Step{
				{ID: "crunch", Needs: []string{"ghost"}, Writes: []string{"total"}},
			},
			wantCount: 1,
			wantErr:   ErrUnknownDep,
			wantCat:   ValCatUnknownDep,
		},
		{
			name: "unknown after dependency",
			steps: []Step{
				{ID: "publish", After: []string{"ghost"}, Writes: []string{"report"}},
			},
			wantCount: 1,
			wantErr:   ErrUnknownDep,
		},
		{
			name: "four variants",
			steps: []Step{
				{ID: "fetch", Writes: []string{"rows"}, Variants: []Variant{
					{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
				}},
			},
			// Bounds violation plus the out-of-range variant ID "d".
			wantCount: 2,
			wantErr:   ErrTooManyVariants,
			wantCat:   ValCatBoundsViolation,
		},
		{
			name: "variant id out of range",
			steps: []Step{
				{ID: "fetch", Writes: []string{"rows"}, Variants: []Variant{{ID: "z"}}},
			},
			wantCount: 1,
			wantErr:   ErrInvalidName,
		},
		{
			name: "duplicate variant id",
			steps: []Step{
				{ID: "fetch", Writes: []string{"rows"}, Variants: []Variant{{ID: "a"}, {ID: "a"}}},
			},
			wantCount: 1,
			wantErr:   ErrDuplicateID,
		},
		{
			name:      "negative priority",
			steps:     []Step{{ID: "fetch", Writes: []string{"rows"}, Priority: -1}},
			wantCount: 1,
			wantCat:   ValCatBoundsViolation,
		},
		{
			name:      "negative timeout",
			steps:     []Step{{ID: "fetch", Writes: []string{"rows"}, TimeoutSeconds: -5}},
			wantCount: 1,
			wantCat:   ValCatBoundsViolation,
		},
		{
			name: "dependency cycle",
			steps: []Step{
				{ID: "a", Needs: []string{"b"}, Writes: []string{"x"}},
				{ID: "b", Needs: []string{"a"}, Writes: []string{"y"}},
			},
			wantCount: 1,
			wantCat:   ValCatCycle,
		},
		{
			name: "cycle through ordering edge",
			steps: []Step{
				{ID: "a", Needs: []string{"b"}, Writes: []string{"x"}},
				{ID: "b", After: []string{"a"}, Writes: []string{"y"}},
			},
			wantCount: 1,
			wantCat:   ValCatCycle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			errs := Validate(planOf(tt.steps...))
			if len(errs) != tt.wantCount {
				t.Fatalf("got %d errors, want %d: %v", len(errs), tt.wantCount, errs)
			}
			if tt.wantErr != nil && len(errs) > 0 {
				found := false
				for _, e := range errs {
					if errors.Is(e.Err, tt.wantErr) {
						found = true
					}
				}
				if !found {
					t.Errorf("expected %v among errors: %v", tt.wantErr, errs)
				}
			}
			if tt.wantCat != "" && len(errs) > 0 {
				found := false
				for _, e := range errs {
					if e.Category == tt.wantCat {
						found = true
					}
				}
				if !found {
					t.Errorf("expected category %q among errors: %v", tt.wantCat, errs)
				}
			}
			if tt.wantMsg != "" && len(errs) > 0 {
				found := false
				for _, e := range errs {
					if strings.Contains(e.Error(), tt.wantMsg) {
						found = true
					}
				}
				if !found {
					t.Errorf("expected %q in some error message: %v", tt.wantMsg, errs)
				}
			}
		})
	}

	t.Run("cycle check skipped when fields are broken", func(t *testing.T) {
		t.Parallel()
		// a↔b cycle plus a missing writes field: only the field error is
		// reported, the graph is not built.
		errs := Validate(planOf(
			Step{ID: "a", Needs: []string{"b"}},
			Step{ID: "b", Needs: []string{"a"}, Writes: []string{"y"}},
		))
		for _, e := range errs {
			if e.Category == ValCatCycle {
				t.Errorf("cycle error reported alongside field errors: %v", errs)
			}
		}
	})
}

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	e := &ValidationError{
		Category:   ValCatMissingField,
		StepID:     "fetch",
		SourceFile: "01-fetch.md",
		Field:      "writes",
		Err:        ErrMissingField,
	}
	msg := e.Error()
	if !strings.Contains(msg, "01-fetch.md") {
		t.Errorf("message should contain source file: %q", msg)
	}
	if !strings.Contains(msg, "fetch") {
		t.Errorf("message should contain step ID: %q", msg)
	}
	if !errors.Is(e, ErrMissingField) {
		t.Error("Unwrap should expose the sentinel")
	}
}

func TestValidateNew(t *testing.T) {
	t.Parallel()

	exists := func(ids ...string) func(string) bool {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		return func(id string) bool { return set[id] }
	}

	t.Run("valid new step", func(t *testing.T) {
		t.Parallel()
		s := &Step{ID: "extra", Needs: []string{"fetch"}, Writes: []string{"bonus"}}
		if errs := ValidateNew(s, exists("fetch")); len(errs) > 0 {
			t.Errorf("expected no errors, got %v", errs)
		}
	})

	t.Run("id collides with live graph", func(t *testing.T) {
		t.Parallel()
		s := &Step{ID: "fetch", Writes: []string{"rows"}}
		errs := ValidateNew(s, exists("fetch"))
		if len(errs) != 1 {
			t.Fatalf("expected 1 error, got %d: %v", len(errs), errs)
		}
		if !errors.Is(errs[0].Err, ErrDuplicateID) {
			t.Errorf("expected ErrDuplicateID, got %v", errs[0].Err)
		}
	})

	t.Run("unknown needs and after", func(t *testing.T) {
		t.Parallel()
		s := &Step{ID: "extra", Needs: []string{"ghost"}, After: []string{"phantom"}, Writes: []string{"bonus"}}
		errs := ValidateNew(s, exists("fetch"))
		if len(errs) != 2 {
			t.Fatalf("expected 2 errors, got %d: %v", len(errs), errs)
		}
		for _, e := range errs {
			if !errors.Is(e.Err, ErrUnknownDep) {
				t.Errorf("expected ErrUnknownDep, got %v", e.Err)
			}
		}
	})
}

func TestBuildGraph(t *testing.T) {
	t.Parallel()

	t.Run("needs become data edges, after ordering edges", func(t *testing.T) {
		t.Parallel()
		p := planOf(
			Step{ID: "fetch", Writes: []string{"rows"}},
			Step{ID: "crunch", Needs: []string{"fetch"}, Writes: []string{"total"}},
			Step{ID: "publish", After: []string{"crunch"}, Writes: []string{"report"}},
		)

		g, err := BuildGraph(p)
		if err != nil {
			t.Fatalf("BuildGraph: %v", err)
		}

		if deps := g.DataDependencies("crunch"); len(deps) != 1 || deps[0] != "fetch" {
			t.Errorf("crunch data deps: got %v", deps)
		}
		if deps := g.DataDependencies("publish"); len(deps) != 0 {
			t.Errorf("publish data deps: got %v, want none", deps)
		}
		deps := g.Dependencies("publish")
		if len(deps) != 1 || deps["crunch"] != dag.EdgeOrder {
			t.Errorf("publish deps: got %v, want ordering edge to crunch", deps)
		}
	})

	t.Run("self dependency rejected", func(t *testing.T) {
		t.Parallel()
		p := planOf(Step{ID: "loopy", Needs: []string{"loopy"}, Writes: []string{"out"}})

		_, err := BuildGraph(p)
		if err == nil {
			t.Fatal("expected error for self dependency")
		}
		if !IsCycle(err) {
			t.Errorf("IsCycle should cover self edges: %v", err)
		}
	})

	t.Run("cycle reported with step context", func(t *testing.T) {
		t.Parallel()
		p := planOf(
			Step{ID: "a", Needs: []string{"b"}, Writes: []string{"x"}},
			Step{ID: "b", Needs: []string{"a"}, Writes: []string{"y"}},
		)

		_, err := BuildGraph(p)
		if err == nil {
			t.Fatal("expected cycle error")
		}
		if !errors.Is(err, dag.ErrCycle) {
			t.Errorf("expected dag.ErrCycle, got %v", err)
		}
		if !strings.Contains(err.Error(), "step") {
			t.Errorf("error should carry step context: %v", err)
		}
	})
}
