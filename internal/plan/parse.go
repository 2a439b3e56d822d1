package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// ManifestFileName is the manifest every plan directory must contain.
const ManifestFileName = "pulse.toml"

// Load reads a plan directory, parsing pulse.toml and all *.md step files.
func Load(dir string) (*Plan, error) {
	manifestPath := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("reading pulse.toml: %w", err)
	}

	var manifest Manifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing pulse.toml: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading plan directory: %w", err)
	}

	var steps []Step
	for _, e := range entries {
		if e.IsDir() || !IsStepFile(e.Name()) {
			continue
		}

		step, err := ParseStepFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", e.Name(), err)
		}
		step.SourceFile = e.Name()
		steps = append(steps, step)
	}

	return &Plan{
		Dir:      dir,
		Manifest: manifest,
		Steps:    steps,
	}, nil
}

// IsStepFile reports whether a file name denotes a step description.
// Only .md files count; README.md and dotfiles are documentation.
func IsStepFile(name string) bool {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".md") {
		return false
	}
	if strings.HasPrefix(base, ".") || strings.EqualFold(base, "README.md") {
		return false
	}
	return true
}

// ParseStepFile reads a markdown file with +++ TOML frontmatter, an
// instruction body, and optional fenced variant blocks.
func ParseStepFile(path string) (Step, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Step{}, err
	}

	frontmatter, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Step{}, err
	}

	var step Step
	if err := toml.Unmarshal([]byte(frontmatter), &step); err != nil {
		return Step{}, fmt.Errorf("parsing TOML frontmatter: %w", err)
	}

	instruction, variants, err := extractVariants(body)
	if err != nil {
		return Step{}, err
	}
	step.Body = strings.TrimSpace(instruction)
	step.Variants = variants

	return step, nil
}

// splitFrontmatter splits content on +++ delimiters.
// Expected format:
//
//	+++
//	<TOML>
//	+++
//	<body>
func splitFrontmatter(content string) (string, string, error) {
	const delim = "+++"

	content = strings.TrimLeft(content, " \t\r\n")

	if !strings.HasPrefix(content, delim) {
		return "", "", fmt.Errorf("file does not start with +++ frontmatter delimiter")
	}

	rest := content[len(delim):]
	idx := strings.Index(rest, delim)
	if idx < 0 {
		return "", "", fmt.Errorf("missing closing +++ frontmatter delimiter")
	}

	frontmatter := rest[:idx]
	body := rest[idx+len(delim):]

	return frontmatter, body, nil
}

// variantFencePrefix opens a candidate code block; the variant ID follows
// the colon. Blocks close with a bare ``` line.
const variantFencePrefix = "```variant:"

// extractVariants separates fenced variant blocks from the instruction
// text. Variants keep their declared file order.
func extractVariants(body string) (string, []Variant, error) {
	var (
		instruction []string
		variants    []Variant
		current     *Variant
		code        []string
	)

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if current == nil {
			if strings.HasPrefix(trimmed, variantFencePrefix) {
				id := strings.TrimSpace(strings.TrimPrefix(trimmed, variantFencePrefix))
				if id == "" {
					return "", nil, fmt.Errorf("variant fence missing ID")
				}
				current = &Variant{ID: id}
				code = code[:0]
				continue
			}
			instruction = append(instruction, line)
			continue
		}

		if trimmed == "```" {
			current.Code = strings.TrimSpace(strings.Join(code, "\n"))
			variants = append(variants, *current)
			current = nil
			continue
		}
		code = append(code, line)
	}

	if current != nil {
		return "", nil, fmt.Errorf("variant %q: missing closing fence", current.ID)
	}

	return strings.Join(instruction, "\n"), variants, nil
}
