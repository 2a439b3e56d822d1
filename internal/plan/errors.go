package plan

import "errors"

// Sentinel errors for plan loading and validation.
var (
	// ErrNoManifest indicates no pulse.toml was found in the plan directory.
	ErrNoManifest = errors.New("pulse.toml not found in plan directory")
	// ErrDuplicateID indicates two or more steps share the same ID.
	ErrDuplicateID = errors.New("duplicate step ID")
	// ErrUnknownDep indicates a step depends on a step ID that does not exist.
	ErrUnknownDep = errors.New("step depends on unknown step ID")
	// ErrMissingField indicates a required field (e.g. id, writes) is empty.
	ErrMissingField = errors.New("required field missing")
	// ErrInvalidName indicates an ID or write name is not identifier-safe.
	ErrInvalidName = errors.New("invalid name")
	// ErrTooManyVariants indicates a step declares more than three variants.
	ErrTooManyVariants = errors.New("too many variants")
	// ErrManualStop indicates the user requested a graceful stop via a STOP file.
	ErrManualStop = errors.New("run stopped by user")
)

// ValidationCategory classifies a validation error for programmatic handling.
type ValidationCategory string

const (
	// ValCatMissingField indicates a required field is empty.
	ValCatMissingField ValidationCategory = "missing_field"
	// ValCatDuplicateID indicates two or more steps share the same ID.
	ValCatDuplicateID ValidationCategory = "duplicate_id"
	// ValCatUnknownDep indicates a dependency references a non-existent step.
	ValCatUnknownDep ValidationCategory = "unknown_dep"
	// ValCatCycle indicates a circular dependency among steps.
	ValCatCycle ValidationCategory = "cycle"
	// ValCatInvalidName indicates an ID, write, or variant name is malformed.
	ValCatInvalidName ValidationCategory = "invalid_name"
	// ValCatBoundsViolation indicates a field is out of valid range.
	ValCatBoundsViolation ValidationCategory = "bounds_violation"
)

// ValidationError records a validation problem with source context.
type ValidationError struct {
	Category   ValidationCategory // machine-readable category
	StepID     string
	SourceFile string
	Field      string
	Err        error
}

// Error returns a human-readable string including source file and step context.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return e.SourceFile + ": step " + e.StepID + ": " + e.Err.Error()
	}
	return e.SourceFile + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for use with errors.Is/As.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
