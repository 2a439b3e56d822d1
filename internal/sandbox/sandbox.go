// Package sandbox executes step code fragments inside a restricted
// expression runtime. A fragment is a single expr-lang expression that
// reads its upstream bindings, may spend a bounded number of capability
// calls, and must evaluate to the mapping of writes its step declared.
// The runtime has no loops, no assignment, and no reach beyond the
// bindings and capabilities it is handed, so a fragment either produces
// its mapping or fails loudly.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/papapumpkin/pulsar/internal/capability"
	"github.com/papapumpkin/pulsar/internal/contract"
)

// Defaults applied to zero-valued Limits fields.
const (
	DefaultTimeout        = 60 * time.Second
	DefaultToolQuota      = 3
	DefaultMaxNodes       = 10_000
	DefaultMaxResultBytes = 1 << 20
)

// Sentinel errors classifying fragment failures.
var (
	// ErrFault marks a defect in the fragment itself: it failed to
	// compile, referenced an unknown name, misused a capability, or
	// raised during evaluation.
	ErrFault = errors.New("fragment fault")
	// ErrLimit marks a fragment stopped by a resource ceiling.
	ErrLimit = errors.New("resource limit exceeded")
)

// FaultError attributes a fragment defect to the variant that carried it.
type FaultError struct {
	Step    string
	Variant string
	Err     error
}

func (f *FaultError) Error() string {
	if f.Variant == "" {
		return fmt.Sprintf("step %s: %v", f.Step, f.Err)
	}
	return fmt.Sprintf("step %s variant %s: %v", f.Step, f.Variant, f.Err)
}

func (f *FaultError) Unwrap() []error {
	return []error{ErrFault, f.Err}
}

// LimitError attributes a resource ceiling to the variant that hit it.
type LimitError struct {
	Step     string
	Variant  string
	Resource string
	Err      error
}

func (l *LimitError) Error() string {
	return fmt.Sprintf("step %s variant %s: %s: %v", l.Step, l.Variant, l.Resource, l.Err)
}

func (l *LimitError) Unwrap() []error {
	return []error{ErrLimit, l.Err}
}

// Limits bound a single fragment execution.
type Limits struct {
	// Timeout is the wall-clock ceiling for one evaluation.
	Timeout time.Duration
	// ToolQuota is the number of capability calls a fragment may spend.
	ToolQuota int
	// MaxNodes caps the size of the compiled expression tree.
	MaxNodes uint
	// MaxResultBytes caps the serialized size of the produced mapping.
	MaxResultBytes int
}

func (l Limits) withDefaults() Limits {
	if l.Timeout <= 0 {
		l.Timeout = DefaultTimeout
	}
	if l.ToolQuota <= 0 {
		l.ToolQuota = DefaultToolQuota
	}
	if l.MaxNodes == 0 {
		l.MaxNodes = DefaultMaxNodes
	}
	if l.MaxResultBytes <= 0 {
		l.MaxResultBytes = DefaultMaxResultBytes
	}
	return l
}

// Request describes one fragment execution.
type Request struct {
	Step    string
	Variant string
	// Source is the fragment text.
	Source string
	// Bindings are the resolved upstream variables visible to the
	// fragment, keyed by the variant-elided alias names it references.
	Bindings map[string]any
	// Writes are the bare output names the step declared.
	Writes []string
	// Timeout, when positive, overrides the runner's configured wall
	// clock limit for this execution.
	Timeout time.Duration
}

// Outcome reports one execution. Result is set only when the error is
// nil; the telemetry fields and CreatedFiles are populated either way so
// failed variants can be reported and rolled back.
type Outcome struct {
	Result       *contract.Result
	ToolCalls    int
	Elapsed      time.Duration
	CreatedFiles []string
}

// Runner executes fragments against a capability registry under fixed
// limits. A Runner is safe for concurrent use.
type Runner struct {
	caps   *capability.Registry
	limits Limits
}

// New creates a runner. Zero-valued limit fields take the package
// defaults.
func New(caps *capability.Registry, limits Limits) *Runner {
	return &Runner{caps: caps, limits: limits.withDefaults()}
}

// Execute compiles and evaluates one fragment. It returns a FaultError for
// defects in the fragment, a LimitError for exhausted ceilings, and a
// contract violation when the produced mapping breaks the step's
// declared writes. The Outcome is non-nil on every path.
func (r *Runner) Execute(ctx context.Context, req Request) (*Outcome, error) {
	start := time.Now()
	timeout := r.limits.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	meter := r.caps.Meter(r.limits.ToolQuota)
	outcome := func() *Outcome {
		return &Outcome{
			ToolCalls:    meter.Used(),
			Elapsed:      time.Since(start),
			CreatedFiles: meter.CreatedFiles(),
		}
	}

	env, err := buildEnv(ctx, meter, req)
	if err != nil {
		return outcome(), err
	}

	tree, err := parser.Parse(req.Source)
	if err != nil {
		return outcome(), &FaultError{Step: req.Step, Variant: req.Variant, Err: fmt.Errorf("compile: %w", err)}
	}
	if n := countNodes(tree); n > int(r.limits.MaxNodes) {
		return outcome(), &LimitError{
			Step:     req.Step,
			Variant:  req.Variant,
			Resource: "expression size",
			Err:      fmt.Errorf("%d nodes exceeds %d", n, r.limits.MaxNodes),
		}
	}

	program, err := expr.Compile(req.Source, expr.Env(env))
	if err != nil {
		return outcome(), &FaultError{Step: req.Step, Variant: req.Variant, Err: fmt.Errorf("compile: %w", err)}
	}

	// On timeout the evaluation goroutine is abandoned; expression
	// programs have no unbounded loops, so it terminates on its own and
	// the buffered channel lets it exit.
	type evalResult struct {
		output any
		err    error
	}
	done := make(chan evalResult, 1)
	go func() {
		output, err := expr.Run(program, env)
		done <- evalResult{output: output, err: err}
	}()

	var output any
	select {
	case <-ctx.Done():
		return outcome(), &LimitError{Step: req.Step, Variant: req.Variant, Resource: "time", Err: ctx.Err()}
	case res := <-done:
		if res.err != nil {
			if meter.Exhausted() {
				return outcome(), &LimitError{Step: req.Step, Variant: req.Variant, Resource: "tool calls", Err: res.err}
			}
			return outcome(), &FaultError{Step: req.Step, Variant: req.Variant, Err: fmt.Errorf("eval: %w", res.err)}
		}
		output = res.output
	}

	payload, ok := output.(map[string]any)
	if !ok {
		return outcome(), contract.Violationf(req.Step, req.Variant, "no outputs produced: got %T, want a mapping of writes", output)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return outcome(), &FaultError{Step: req.Step, Variant: req.Variant, Err: fmt.Errorf("result not serializable: %w", err)}
	}
	if len(data) > r.limits.MaxResultBytes {
		return outcome(), &LimitError{
			Step:     req.Step,
			Variant:  req.Variant,
			Resource: "result size",
			Err:      fmt.Errorf("%d bytes exceeds %d", len(data), r.limits.MaxResultBytes),
		}
	}

	result, err := contract.Validate(req.Step, req.Variant, req.Writes, payload)
	if err != nil {
		return outcome(), err
	}
	final := outcome()
	final.Result = result
	return final, nil
}

// CheckSource parses a fragment without evaluating it. Only structural
// defects are caught here; names resolve at run time against the step's
// bindings and capabilities.
func CheckSource(source string) error {
	if _, err := parser.Parse(source); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	return nil
}

// countNodes walks the parsed expression tree and returns its node count.
func countNodes(tree *parser.Tree) int {
	counter := &nodeCounter{}
	ast.Walk(&tree.Node, counter)
	return counter.n
}

type nodeCounter struct {
	n int
}

func (c *nodeCounter) Visit(_ *ast.Node) {
	c.n++
}

// buildEnv assembles the evaluation environment: bindings first, then
// the typed accessors, then one metered closure per capability. A
// binding may not shadow either of the latter.
func buildEnv(ctx context.Context, meter *capability.Meter, req Request) (map[string]any, error) {
	names := meter.Names()
	env := make(map[string]any, len(req.Bindings)+len(accessors)+len(names))

	reserved := make(map[string]bool, len(accessors)+len(names))
	for name := range accessors {
		reserved[name] = true
	}
	for _, name := range names {
		reserved[name] = true
	}
	for name, value := range req.Bindings {
		if reserved[name] {
			return nil, &FaultError{Step: req.Step, Variant: req.Variant, Err: fmt.Errorf("binding %q shadows a capability", name)}
		}
		env[name] = value
	}
	for name, fn := range accessors {
		env[name] = fn
	}
	for _, name := range names {
		env[name] = func(params ...any) (any, error) {
			return meter.Call(ctx, name, params...)
		}
	}
	return env, nil
}

// accessors are the typed narrowing functions fragments use to pick
// values out of structured bindings. Each fails with a descriptive
// error rather than returning a zero value.
var accessors = map[string]any{
	"field": fieldAccessor,
	"item":  itemAccessor,
	"num":   numAccessor,
	"text":  textAccessor,
	"flag":  flagAccessor,
	"count": countAccessor,
}

func fieldAccessor(v any, key string) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("field: %T is not a mapping", v)
	}
	val, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("field: key %q not found", key)
	}
	return val, nil
}

func itemAccessor(v any, i int) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("item: %T is not a list", v)
	}
	if i < 0 || i >= rv.Len() {
		return nil, fmt.Errorf("item: index %d out of range for length %d", i, rv.Len())
	}
	return rv.Index(i).Interface(), nil
}

func numAccessor(v any) (any, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return nil, fmt.Errorf("num: %T is not numeric", v)
	}
}

func textAccessor(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("text: %T is not a string", v)
	}
	return s, nil
}

func flagAccessor(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("flag: %T is not a boolean", v)
	}
	return b, nil
}

func countAccessor(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch {
	case !rv.IsValid():
		return nil, fmt.Errorf("count: nil has no length")
	case rv.Kind() == reflect.Slice, rv.Kind() == reflect.Map, rv.Kind() == reflect.String:
		return rv.Len(), nil
	default:
		return nil, fmt.Errorf("count: %T has no length", v)
	}
}
