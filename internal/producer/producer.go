// Package producer invokes the external command that authors step
// variants. The engine calls it for steps with no inline variants and for
// every self-correction iteration after the first. The command receives a
// JSON request on stdin and must write a JSON response with one to three
// variants on stdout.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// Request describes what the producer is asked to generate.
type Request struct {
	// Step is the id of the step needing variants.
	Step string `json:"step"`
	// Title is the step's human heading, when set.
	Title string `json:"title,omitempty"`
	// Instruction is the step's body text.
	Instruction string `json:"instruction"`
	// Iteration is 1 for the first generation, counting up per
	// self-correction pass.
	Iteration int `json:"iteration"`
	// Writes are the logical output names the step must produce.
	Writes []string `json:"writes"`
	// Bindings are the upstream identifiers visible to the fragment.
	Bindings []string `json:"bindings,omitempty"`
	// Workspace lists the files already present in the step's working
	// directory, rendered as an indented tree.
	Workspace string `json:"workspace,omitempty"`
	// Prior is the mapping committed by the previous iteration.
	Prior map[string]any `json:"prior,omitempty"`
	// NextInstruction is the refinement the previous iteration asked for.
	NextInstruction string `json:"next_instruction,omitempty"`
	// Context is the transient iteration context, passed through opaque.
	Context any `json:"iteration_context,omitempty"`
}

// Variant is one candidate fragment in a producer response.
type Variant struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// Response carries the produced variants, in fallback order.
type Response struct {
	Variants []Variant `json:"variants"`
}

var variantID = regexp.MustCompile(`^[a-c]$`)

// validate checks a decoded response before the engine trusts it.
func (r Response) validate() error {
	if len(r.Variants) < 1 || len(r.Variants) > 3 {
		return fmt.Errorf("producer returned %d variants, want 1 to 3", len(r.Variants))
	}
	seen := make(map[string]bool, len(r.Variants))
	for i, v := range r.Variants {
		if !variantID.MatchString(v.ID) {
			return fmt.Errorf("variant %d has id %q, want a, b, or c", i+1, v.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("duplicate variant id %q", v.ID)
		}
		seen[v.ID] = true
		if v.Code == "" {
			return fmt.Errorf("variant %q has empty code", v.ID)
		}
	}
	return nil
}

// Producer generates variants for a step.
type Producer interface {
	Produce(ctx context.Context, req Request) (Response, error)
}

// Exec runs a configured command for each request, speaking JSON over
// stdin and stdout.
type Exec struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

// NewExec builds an Exec producer. The command must not be empty.
func NewExec(command []string, dir string, timeout time.Duration) (*Exec, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("producer command is empty")
	}
	return &Exec{Command: command, Dir: dir, Timeout: timeout}, nil
}

// Produce invokes the command under the configured timeout.
func (e *Exec) Produce(ctx context.Context, req Request) (Response, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode producer request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = e.Dir
	cmd.SysProcAttr = sessionAttr()
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return Response{}, fmt.Errorf("producer timed out after %s: %w", e.Timeout, ctx.Err())
		case ctx.Err() != nil:
			return Response{}, fmt.Errorf("producer canceled: %w", ctx.Err())
		}
		return Response{}, fmt.Errorf("producer command failed: %w\nstderr: %s", err, stderr.String())
	}

	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("parse producer output: %w\nraw output: %s", err, stdout.String())
	}
	if err := resp.validate(); err != nil {
		return Response{}, err
	}
	return resp, nil
}
