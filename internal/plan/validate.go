package plan

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/papapumpkin/pulsar/internal/dag"
)

// nameRE constrains step IDs and write names. Both are embedded into
// variable identifiers (<write>_<step>_<variant>), so they must be
// identifier-safe: lowercase start, then lowercase/digits/underscores.
var nameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// variantIDRE constrains variant IDs to a single letter a-c.
var variantIDRE = regexp.MustCompile(`^[a-c]$`)

// MaxVariants is the most candidate fragments a step may declare.
const MaxVariants = 3

// Validate checks the plan for structural problems: malformed or duplicate
// IDs, unknown dependencies, empty or invalid writes, variant bounds, and
// dependency cycles. It returns every problem found, not just the first.
func Validate(p *Plan) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]string, len(p.Steps)) // id → source file
	for i := range p.Steps {
		s := &p.Steps[i]
		errs = append(errs, validateStep(s)...)

		if s.ID == "" {
			continue
		}
		if prev, dup := seen[s.ID]; dup {
			errs = append(errs, ValidationError{
				Category:   ValCatDuplicateID,
				StepID:     s.ID,
				SourceFile: s.SourceFile,
				Field:      "id",
				Err:        fmt.Errorf("%w: %q also declared in %s", ErrDuplicateID, s.ID, prev),
			})
			continue
		}
		seen[s.ID] = s.SourceFile
	}

	// Dependency references.
	for i := range p.Steps {
		s := &p.Steps[i]
		for _, field := range []struct {
			name string
			deps []string
		}{
			{"needs", s.Needs},
			{"after", s.After},
		} {
			for _, dep := range field.deps {
				if _, ok := seen[dep]; !ok {
					errs = append(errs, ValidationError{
						Category:   ValCatUnknownDep,
						StepID:     s.ID,
						SourceFile: s.SourceFile,
						Field:      field.name,
						Err:        fmt.Errorf("%w: %q", ErrUnknownDep, dep),
					})
				}
			}
		}
	}

	// Cycle detection only makes sense on an otherwise well-formed graph.
	if len(errs) == 0 {
		if _, err := BuildGraph(p); err != nil {
			errs = append(errs, ValidationError{
				Category: ValCatCycle,
				Err:      err,
			})
		}
	}

	return errs
}

// validateStep checks one step's own fields.
func validateStep(s *Step) []ValidationError {
	var errs []ValidationError

	fail := func(cat ValidationCategory, field string, err error) {
		errs = append(errs, ValidationError{
			Category:   cat,
			StepID:     s.ID,
			SourceFile: s.SourceFile,
			Field:      field,
			Err:        err,
		})
	}

	if s.ID == "" {
		fail(ValCatMissingField, "id", fmt.Errorf("%w: id", ErrMissingField))
	} else if !nameRE.MatchString(s.ID) {
		fail(ValCatInvalidName, "id", fmt.Errorf("%w: id %q must match %s", ErrInvalidName, s.ID, nameRE))
	}

	if len(s.Writes) == 0 {
		fail(ValCatMissingField, "writes", fmt.Errorf("%w: writes", ErrMissingField))
	}
	writeSeen := make(map[string]bool, len(s.Writes))
	for _, w := range s.Writes {
		if !nameRE.MatchString(w) {
			fail(ValCatInvalidName, "writes", fmt.Errorf("%w: write %q must match %s", ErrInvalidName, w, nameRE))
			continue
		}
		if writeSeen[w] {
			fail(ValCatDuplicateID, "writes", fmt.Errorf("%w: write %q", ErrDuplicateID, w))
		}
		writeSeen[w] = true
	}

	if len(s.Variants) > MaxVariants {
		fail(ValCatBoundsViolation, "variants",
			fmt.Errorf("%w: %d declared, max %d", ErrTooManyVariants, len(s.Variants), MaxVariants))
	}
	variantSeen := make(map[string]bool, len(s.Variants))
	for _, v := range s.Variants {
		if !variantIDRE.MatchString(v.ID) {
			fail(ValCatInvalidName, "variants",
				fmt.Errorf("%w: variant ID %q must match %s", ErrInvalidName, v.ID, variantIDRE))
			continue
		}
		if variantSeen[v.ID] {
			fail(ValCatDuplicateID, "variants", fmt.Errorf("%w: variant %q", ErrDuplicateID, v.ID))
		}
		variantSeen[v.ID] = true
	}

	if s.Priority < 0 {
		fail(ValCatBoundsViolation, "priority", fmt.Errorf("priority %d is negative", s.Priority))
	}
	if s.TimeoutSeconds < 0 {
		fail(ValCatBoundsViolation, "timeout_seconds", fmt.Errorf("timeout_seconds %d is negative", s.TimeoutSeconds))
	}

	return errs
}

// ValidateNew checks a single step for merging into a live graph: the step
// must be well-formed on its own, its ID must not collide, and its
// dependencies must name existing steps. Cycle detection happens when the
// edges are added to the graph.
func ValidateNew(s *Step, exists func(id string) bool) []ValidationError {
	errs := validateStep(s)

	if s.ID != "" && exists(s.ID) {
		errs = append(errs, ValidationError{
			Category:   ValCatDuplicateID,
			StepID:     s.ID,
			SourceFile: s.SourceFile,
			Field:      "id",
			Err:        fmt.Errorf("%w: %q already in graph", ErrDuplicateID, s.ID),
		})
	}
	for _, dep := range s.Needs {
		if !exists(dep) {
			errs = append(errs, ValidationError{
				Category:   ValCatUnknownDep,
				StepID:     s.ID,
				SourceFile: s.SourceFile,
				Field:      "needs",
				Err:        fmt.Errorf("%w: %q", ErrUnknownDep, dep),
			})
		}
	}
	for _, dep := range s.After {
		if !exists(dep) {
			errs = append(errs, ValidationError{
				Category:   ValCatUnknownDep,
				StepID:     s.ID,
				SourceFile: s.SourceFile,
				Field:      "after",
				Err:        fmt.Errorf("%w: %q", ErrUnknownDep, dep),
			})
		}
	}
	return errs
}

// BuildGraph constructs the dependency DAG from the plan's steps. Needs
// entries become data edges, after entries ordering edges. Returns the
// first graph construction error (self-edge or cycle) encountered.
func BuildGraph(p *Plan) (*dag.DAG, error) {
	g := dag.New()
	for i := range p.Steps {
		s := &p.Steps[i]
		if err := g.AddNode(s.ID, s.Priority); err != nil {
			return nil, fmt.Errorf("step %s: %w", s.ID, err)
		}
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		for _, dep := range s.Needs {
			if err := g.AddEdge(s.ID, dep, dag.EdgeData); err != nil {
				return nil, fmt.Errorf("step %s: %w", s.ID, err)
			}
		}
		for _, dep := range s.After {
			if err := g.AddEdge(s.ID, dep, dag.EdgeOrder); err != nil {
				return nil, fmt.Errorf("step %s: %w", s.ID, err)
			}
		}
	}
	return g, nil
}

// IsCycle reports whether err stems from a dependency cycle or self-edge.
func IsCycle(err error) bool {
	return errors.Is(err, dag.ErrCycle) || errors.Is(err, dag.ErrSelfEdge)
}
