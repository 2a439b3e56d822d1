// Package contract validates a variant's output mapping against its step's
// declared writes. Every declared output must be present under its full
// identifier (name, step, and variant joined by underscores) with a non-nil
// value; keys outside the step's namespace are rejected, and well-formed
// extras are reported for logging without being committed. Loop-control
// keys ride alongside data outputs and are exempt from the suffix rules.
package contract

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Loop-control keys a variant may emit to drive self-correction. They are
// consumed by the iteration controller, never committed to the store under
// these bare names.
const (
	KeyCallSelf         = "call_self"
	KeyNextInstruction  = "next_instruction"
	KeyIterationContext = "iteration_context"
)

// ErrViolation is the sentinel all contract violations unwrap to.
var ErrViolation = errors.New("writes contract violated")

// ViolationError details why an output mapping failed validation.
type ViolationError struct {
	Step     string
	Variant  string
	Problems []string
}

// Error returns the step/variant context with every recorded problem.
func (v *ViolationError) Error() string {
	return fmt.Sprintf("step %s variant %s: %s: %s",
		v.Step, v.Variant, ErrViolation.Error(), strings.Join(v.Problems, "; "))
}

// Unwrap returns the sentinel for use with errors.Is.
func (v *ViolationError) Unwrap() error {
	return ErrViolation
}

// Violationf builds a single-problem violation.
func Violationf(step, variant, format string, args ...any) *ViolationError {
	return &ViolationError{
		Step:     step,
		Variant:  variant,
		Problems: []string{fmt.Sprintf(format, args...)},
	}
}

// IsViolation reports whether err is a contract violation.
func IsViolation(err error) bool {
	return errors.Is(err, ErrViolation)
}

// Loop carries the self-correction signal extracted from an output mapping.
type Loop struct {
	CallSelf        bool
	NextInstruction string
	Context         any
}

// Result is a validated output mapping split into its parts.
type Result struct {
	// Outputs holds the declared writes keyed by full identifier.
	Outputs map[string]any
	// Extras lists well-formed keys in the step's namespace that were not
	// declared. They are logged but never committed.
	Extras []string
	// Loop is the extracted self-correction signal, zero when absent.
	Loop Loop
}

// Key builds the full identifier a variant must use for a declared write.
func Key(name, step, variant string) string {
	return name + "_" + step + "_" + variant
}

// Suffix returns the namespace suffix for a step and variant.
func Suffix(step, variant string) string {
	return "_" + step + "_" + variant
}

// Validate checks a variant's output mapping against the declared writes.
// When the mapping signals another iteration (call_self true), declared
// writes may be absent; present values still obey the non-nil and suffix
// rules. Returns the split result, or a ViolationError listing every problem.
func Validate(step, variant string, writes []string, outputs map[string]any) (*Result, error) {
	var problems []string

	result := &Result{Outputs: make(map[string]any, len(writes))}

	// Loop-control keys first; their shape decides the presence rule.
	if raw, ok := outputs[KeyCallSelf]; ok {
		b, isBool := raw.(bool)
		if !isBool {
			problems = append(problems, fmt.Sprintf("%s must be a boolean, got %T", KeyCallSelf, raw))
		} else {
			result.Loop.CallSelf = b
		}
	}
	if raw, ok := outputs[KeyNextInstruction]; ok {
		s, isString := raw.(string)
		if !isString {
			problems = append(problems, fmt.Sprintf("%s must be a string, got %T", KeyNextInstruction, raw))
		} else {
			result.Loop.NextInstruction = s
		}
	}
	if raw, ok := outputs[KeyIterationContext]; ok {
		if raw == nil {
			problems = append(problems, fmt.Sprintf("%s must not be null", KeyIterationContext))
		} else {
			result.Loop.Context = raw
		}
	}

	declared := make(map[string]bool, len(writes))
	for _, name := range writes {
		full := Key(name, step, variant)
		declared[full] = true

		value, ok := outputs[full]
		switch {
		case !ok:
			if !result.Loop.CallSelf {
				problems = append(problems, fmt.Sprintf("declared write %q missing (expected key %q)", name, full))
			}
		case value == nil:
			problems = append(problems, fmt.Sprintf("declared write %q is null", name))
		default:
			result.Outputs[full] = value
		}
	}

	suffix := Suffix(step, variant)
	for key := range outputs {
		if key == KeyCallSelf || key == KeyNextInstruction || key == KeyIterationContext {
			continue
		}
		if declared[key] {
			continue
		}
		if strings.HasSuffix(key, suffix) && len(key) > len(suffix) {
			result.Extras = append(result.Extras, key)
			continue
		}
		problems = append(problems, fmt.Sprintf("key %q is outside this variant's namespace (want suffix %q)", key, suffix))
	}
	sort.Strings(result.Extras)

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &ViolationError{Step: step, Variant: variant, Problems: problems}
	}
	return result, nil
}
