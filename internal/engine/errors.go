package engine

import (
	"errors"
	"fmt"

	"github.com/papapumpkin/pulsar/internal/contract"
	"github.com/papapumpkin/pulsar/internal/dag"
	"github.com/papapumpkin/pulsar/internal/sandbox"
)

// Step-level failure classes the engine adds on top of the sandbox and
// contract ones.
var (
	// ErrVariantsExhausted marks a step whose every candidate variant failed.
	ErrVariantsExhausted = errors.New("all variants exhausted")

	// ErrIterationBudget marks a self-correction loop that asked for one
	// iteration too many.
	ErrIterationBudget = errors.New("iteration budget exceeded")
)

// Failure kinds attached to step results and the run report.
const (
	KindCycle             = "cycle"
	KindContract          = "contract"
	KindRunnerFault       = "runner_fault"
	KindResourceLimit     = "resource_limit"
	KindVariantsExhausted = "variants_exhausted"
	KindIterationBudget   = "iteration_budget"
)

// Kind classifies an error into one of the report kinds. Unclassified
// errors count as runner faults.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, contract.ErrViolation):
		return KindContract
	case errors.Is(err, sandbox.ErrLimit):
		return KindResourceLimit
	case errors.Is(err, sandbox.ErrFault):
		return KindRunnerFault
	case errors.Is(err, ErrVariantsExhausted):
		return KindVariantsExhausted
	case errors.Is(err, ErrIterationBudget):
		return KindIterationBudget
	case errors.Is(err, dag.ErrCycle):
		return KindCycle
	default:
		return KindRunnerFault
	}
}

// VariantFailure records one failed variant attempt within a step.
type VariantFailure struct {
	Variant   string `json:"variant"`
	Iteration int    `json:"iteration"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

// ExhaustedError reports that every variant of a step failed. Failures
// holds the attempts in execution order.
type ExhaustedError struct {
	Step     string
	Failures []VariantFailure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("step %s: all %d variants failed", e.Step, len(e.Failures))
}

func (e *ExhaustedError) Unwrap() error { return ErrVariantsExhausted }

// BudgetError reports a self-correction loop stopped at the iteration
// ceiling: the step kept requesting another pass after Budget iterations.
type BudgetError struct {
	Step   string
	Budget int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("step %s: iteration %d exceeds budget of %d", e.Step, e.Budget+1, e.Budget)
}

func (e *BudgetError) Unwrap() error { return ErrIterationBudget }
