package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrDirExists indicates the output directory already exists and Overwrite
// was not set.
var ErrDirExists = errors.New("output directory already exists")

// WriteOptions controls how a plan is written to disk.
type WriteOptions struct {
	Overwrite bool // if true, overwrite an existing plan directory
}

// WritePlan writes a complete plan (manifest + step files) to the given
// output directory. Step files are numbered sequentially in topological
// order of their dependencies (01-step-id.md, 02-step-id.md, etc.).
//
// If the directory already exists and opts.Overwrite is false, WritePlan
// returns ErrDirExists. On failure, any partially written directory is
// removed.
func WritePlan(p *Plan, outputDir string, opts WriteOptions) error {
	if info, err := os.Stat(outputDir); err == nil && info.IsDir() {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %s; use --force to overwrite", ErrDirExists, outputDir)
		}
	}

	graph, err := BuildGraph(p)
	if err != nil {
		return fmt.Errorf("ordering steps: %w", err)
	}
	order, err := graph.TopologicalSort()
	if err != nil {
		return fmt.Errorf("ordering steps: %w", err)
	}

	// Write to a temp directory first; rename atomically on success.
	tmpDir := outputDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("cleaning temp directory: %w", err)
	}

	success := false
	defer func() {
		if !success {
			os.RemoveAll(tmpDir)
		}
	}()

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}

	manifestBytes, err := toml.Marshal(p.Manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, ManifestFileName), ensureNewline(manifestBytes), 0o644); err != nil {
		return fmt.Errorf("writing pulse.toml: %w", err)
	}

	for i, id := range order {
		step := p.Step(id)
		if step == nil {
			return fmt.Errorf("step %q in graph but not in plan", id)
		}
		if strings.ContainsAny(step.ID, `/\`) {
			return fmt.Errorf("step ID %q contains path separator", step.ID)
		}
		filename := fmt.Sprintf("%02d-%s.md", i+1, step.ID)
		data, err := MarshalStepFile(step)
		if err != nil {
			return fmt.Errorf("marshaling step %q: %w", step.ID, err)
		}
		if err := os.WriteFile(filepath.Join(tmpDir, filename), data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", filename, err)
		}
	}

	if opts.Overwrite {
		if err := os.RemoveAll(outputDir); err != nil {
			return fmt.Errorf("removing existing directory: %w", err)
		}
	}
	if err := os.Rename(tmpDir, outputDir); err != nil {
		return fmt.Errorf("renaming temp to output directory: %w", err)
	}

	success = true
	return nil
}

// MarshalStepFile serializes a step back into the +++ frontmatter format,
// instruction body first, variant fences after.
func MarshalStepFile(s *Step) ([]byte, error) {
	front, err := toml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("+++\n")
	b.Write(ensureNewline(front))
	b.WriteString("+++\n")

	if s.Body != "" {
		b.WriteString("\n")
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	for _, v := range s.Variants {
		b.WriteString("\n")
		b.WriteString(variantFencePrefix)
		b.WriteString(v.ID)
		b.WriteString("\n")
		b.WriteString(v.Code)
		b.WriteString("\n```\n")
	}

	return []byte(b.String()), nil
}

// ensureNewline appends a trailing newline if data lacks one.
func ensureNewline(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return data
}
