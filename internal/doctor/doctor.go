// Package doctor runs deterministic readiness checks against a plan
// directory before a run spends producer calls or capability budget.
// The checks catch what a run would otherwise discover mid-flight: a
// fragment that does not parse, a workspace that cannot be written, a
// producer command missing from PATH, a ledger that will not open.
package doctor

import (
	"context"
	"time"
)

// Result is the outcome of one chain execution.
type Result struct {
	// Passed is true when every check passed.
	Passed bool
	// Checks holds the individual outcomes, in execution order. A
	// failed chain stops at its first failure, so the failing check is
	// always last.
	Checks []CheckResult
}

// CheckResult is the outcome of a single check.
type CheckResult struct {
	Name    string
	Passed  bool
	Output  string
	Elapsed time.Duration
}

// FirstFailure returns the first failing check, or nil when all passed.
func (r *Result) FirstFailure() *CheckResult {
	for i := range r.Checks {
		if !r.Checks[i].Passed {
			return &r.Checks[i]
		}
	}
	return nil
}

// Check is one named check in a chain.
type Check struct {
	Name string
	Fn   func(ctx context.Context, planDir string) (output string, err error)
}

// Chain runs checks sequentially, stopping on the first failure.
type Chain struct {
	Checks []Check
}

// Run executes each check in order against the plan directory. A check
// failure is captured in the Result and stops the chain; a non-nil
// error means the chain itself could not proceed, such as a cancelled
// context.
func (c *Chain) Run(ctx context.Context, planDir string) (*Result, error) {
	result := &Result{Passed: true}

	for _, check := range c.Checks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		output, err := check.Fn(ctx, planDir)
		elapsed := time.Since(start)

		result.Checks = append(result.Checks, CheckResult{
			Name:    check.Name,
			Passed:  err == nil,
			Output:  output,
			Elapsed: elapsed,
		})
		if err != nil {
			result.Passed = false
			return result, nil
		}
	}

	return result, nil
}
