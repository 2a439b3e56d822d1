// Package capability defines the tool surface a code fragment may call.
// A Registry holds named capability functions; each execution wraps it in
// a Meter that counts every invocation against the fragment's quota. The
// built-in file capabilities are confined to the run's workspace
// directory and cannot reach outside it.
package capability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Sentinel errors distinguishing caller bugs from exhausted quota.
var (
	// ErrQuota indicates the fragment spent its tool-call quota.
	ErrQuota = errors.New("tool call quota exceeded")
	// ErrUsage indicates the fragment called a capability incorrectly:
	// unknown name, wrong argument count, or wrong argument type.
	ErrUsage = errors.New("capability misuse")
	// ErrEscape indicates a path argument tried to leave the workspace.
	ErrEscape = errors.New("path escapes workspace")
)

// Func is a capability invocable from a fragment.
type Func func(ctx context.Context, args ...any) (any, error)

// Registry maps capability names to implementations.
type Registry struct {
	fns map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]Func)}
}

// Register adds a capability. Re-registering a name is an error.
func (r *Registry) Register(name string, fn Func) error {
	if _, exists := r.fns[name]; exists {
		return fmt.Errorf("capability %q already registered", name)
	}
	r.fns[name] = fn
	return nil
}

// Names returns all registered capability names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Meter wraps the registry for one fragment execution, charging every
// call against the quota. A Meter is used by a single goroutine.
func (r *Registry) Meter(quota int) *Meter {
	return &Meter{registry: r, quota: quota}
}

// Meter counts tool calls for one fragment execution.
type Meter struct {
	registry  *Registry
	quota     int
	used      int
	exhausted bool
	created   []string
}

// Call invokes a capability by name, charging the quota first. Unknown
// names are caller bugs, not quota spend.
func (m *Meter) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := m.registry.fns[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown capability %q", ErrUsage, name)
	}
	if m.used >= m.quota {
		m.exhausted = true
		return nil, fmt.Errorf("%w: %d calls allowed", ErrQuota, m.quota)
	}
	m.used++
	result, err := fn(ctx, args...)
	if err == nil {
		if path, ok := assetPath(result); ok {
			m.created = append(m.created, path)
		}
	}
	return result, err
}

// assetPath extracts the workspace path from a file-asset mapping.
func assetPath(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || m["type"] != "file" {
		return "", false
	}
	path, ok := m["path"].(string)
	return path, ok && path != ""
}

// Used returns how many calls have been charged.
func (m *Meter) Used() int {
	return m.used
}

// Exhausted reports whether a call was refused because the quota ran out.
func (m *Meter) Exhausted() bool {
	return m.exhausted
}

// CreatedFiles returns the workspace paths of file assets produced by
// successful calls, in call order. Rollback uses it to undo a failed
// variant's writes.
func (m *Meter) CreatedFiles() []string {
	return m.created
}

// Names returns the metered registry's capability names.
func (m *Meter) Names() []string {
	return m.registry.Names()
}

// Builtins returns a registry preloaded with the standard capabilities:
// read_file, write_file, and list_dir confined to workspaceDir, plus now.
func Builtins(workspaceDir string) *Registry {
	r := NewRegistry()
	w := workspace{dir: workspaceDir}
	_ = r.Register("read_file", w.readFile)
	_ = r.Register("write_file", w.writeFile)
	_ = r.Register("list_dir", w.listDir)
	_ = r.Register("now", nowCapability)
	return r
}

// workspace confines file capabilities to a single directory.
type workspace struct {
	dir string
}

// resolve validates a workspace-relative path and returns its absolute
// form. Absolute paths and any path reaching above the workspace root
// are rejected.
func (w workspace) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrUsage)
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrEscape, rel)
	}
	return filepath.Join(w.dir, filepath.Clean(rel)), nil
}

// readFile returns the content of a workspace file as a string.
func (w workspace) readFile(_ context.Context, args ...any) (any, error) {
	path, err := stringArg("read_file", args, 0)
	if err != nil {
		return nil, err
	}
	abs, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read_file %q: %w", path, err)
	}
	return string(data), nil
}

// writeFile writes content to a workspace file, creating parent
// directories, and returns the file-asset mapping referencing the path
// it wrote.
func (w workspace) writeFile(_ context.Context, args ...any) (any, error) {
	path, err := stringArg("write_file", args, 0)
	if err != nil {
		return nil, err
	}
	content, err := stringArg("write_file", args, 1)
	if err != nil {
		return nil, err
	}
	abs, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("write_file %q: %w", path, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write_file %q: %w", path, err)
	}
	return map[string]any{
		"type":    "file",
		"path":    path,
		"content": content,
	}, nil
}

// listDir lists entry names in a workspace directory, sorted. With no
// argument it lists the workspace root.
func (w workspace) listDir(_ context.Context, args ...any) (any, error) {
	path := "."
	if len(args) > 0 {
		var err error
		if path, err = stringArg("list_dir", args, 0); err != nil {
			return nil, err
		}
	}
	abs, err := w.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list_dir %q: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// nowCapability returns the current UTC time in RFC 3339 form.
func nowCapability(_ context.Context, args ...any) (any, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("%w: now takes no arguments", ErrUsage)
	}
	return time.Now().UTC().Format(time.RFC3339), nil
}

// stringArg extracts a required string argument by position.
func stringArg(capName string, args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("%w: %s needs at least %d arguments", ErrUsage, capName, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s argument %d must be a string, got %T", ErrUsage, capName, i+1, args[i])
	}
	return s, nil
}
