package doctor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/papapumpkin/pulsar/internal/plan"
	"github.com/papapumpkin/pulsar/internal/sandbox"
	"github.com/papapumpkin/pulsar/internal/vars"
)

// Options configure the environment-dependent checks.
type Options struct {
	// Workspace is the resolved directory capability file I/O is
	// confined to.
	Workspace string
	// Producer is the configured producer argv, empty when none.
	Producer []string
}

// Default returns the standard readiness chain: plan structure,
// fragment syntax, workspace writability, producer availability,
// ledger access.
func Default(p *plan.Plan, opts Options) *Chain {
	return &Chain{Checks: []Check{
		{Name: "plan", Fn: planCheck(p)},
		{Name: "fragments", Fn: fragmentCheck(p)},
		{Name: "workspace", Fn: workspaceCheck(opts.Workspace)},
		{Name: "producer", Fn: producerCheck(opts.Producer)},
		{Name: "ledger", Fn: ledgerCheck},
	}}
}

// planCheck reruns structural validation so the doctor report carries
// the same findings as pulsar validate.
func planCheck(p *plan.Plan) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		errs := plan.Validate(p)
		if len(errs) == 0 {
			return "", nil
		}
		lines := make([]string, len(errs))
		for i := range errs {
			lines[i] = "  " + errs[i].Error()
		}
		return strings.Join(lines, "\n"), fmt.Errorf("%d structural problem(s)", len(errs))
	}
}

// fragmentCheck parses every inline variant. Producer-authored
// fragments cannot be checked ahead of time.
func fragmentCheck(p *plan.Plan) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		var bad []string
		for i := range p.Steps {
			s := &p.Steps[i]
			for _, v := range s.Variants {
				if err := sandbox.CheckSource(v.Code); err != nil {
					bad = append(bad, fmt.Sprintf("  %s/%s: %v", s.ID, v.ID, err))
				}
			}
		}
		if len(bad) > 0 {
			return strings.Join(bad, "\n"), fmt.Errorf("%d fragment(s) do not parse", len(bad))
		}
		return "", nil
	}
}

// workspaceCheck probes the workspace with a throwaway file.
func workspaceCheck(dir string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		probe, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			return fmt.Sprintf("workspace %s is not writable: %v", dir, err), err
		}
		name := probe.Name()
		probe.Close()
		os.Remove(name)
		return "", nil
	}
}

// producerCheck verifies the configured command resolves on PATH. No
// configured producer passes silently; plans with inline variants for
// every step never need one.
func producerCheck(argv []string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		if len(argv) == 0 {
			return "", nil
		}
		if _, err := exec.LookPath(argv[0]); err != nil {
			return fmt.Sprintf("producer command %q not found: %v", argv[0], err), err
		}
		return "", nil
	}
}

// ledgerCheck opens an existing ledger and closes it again. A missing
// ledger passes; the first run creates it.
func ledgerCheck(ctx context.Context, planDir string) (string, error) {
	path := vars.LedgerFile(planDir)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	ledger, err := vars.OpenLedger(ctx, path)
	if err != nil {
		return fmt.Sprintf("ledger %s: %v", path, err), err
	}
	if err := ledger.Close(); err != nil {
		return fmt.Sprintf("ledger %s: close: %v", path, err), err
	}
	return "", nil
}
