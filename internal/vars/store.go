// Package vars implements the versioned variable store that carries values
// between steps. Every committed output is appended as a new version tagged
// with the step, variant, and iteration that produced it, keeping provenance
// auditable and replay deterministic. Aliases map the suffix-free names
// downstream steps bind against to the winning variant's full identifiers.
package vars

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Type tags the semantic shape of a stored value.
type Type string

const (
	// TypeScalar is a primitive value: string, number, or boolean.
	TypeScalar Type = "scalar"
	// TypeStruct is a structured value: a mapping or a sequence.
	TypeStruct Type = "struct"
	// TypeFile is a file asset: the entry references a path inside the
	// workspace and carries a digest of the written content.
	TypeFile Type = "file"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested variable does not exist.
	ErrNotFound = errors.New("variable not found")
	// ErrTypeChanged indicates an overwrite tried to change a variable's
	// type tag. Overwrites must preserve the name/type contract.
	ErrTypeChanged = errors.New("variable type tag changed")
	// ErrMissingPath indicates a file asset value without a path.
	ErrMissingPath = errors.New("file asset missing path")
)

// Entry is one version of a stored variable.
type Entry struct {
	Name      string // full identifier, e.g. total_crunch_a
	Type      Type
	Value     any    // the committed value; for file assets a content digest
	Path      string // file assets only: workspace-relative path
	Step      string // producing step ID
	Variant   string // producing variant ID
	Iteration int    // self-correction iteration that produced this version
	Version   int    // 1-based, monotonic per name
	UpdatedAt time.Time
}

// Binding returns the value a downstream fragment sees for this entry.
// File assets bind to their path; content is read through capabilities.
func (e Entry) Binding() any {
	if e.Type == TypeFile {
		return e.Path
	}
	return e.Value
}

// Provenance identifies who produced a value.
type Provenance struct {
	Step      string
	Variant   string
	Iteration int
}

// Store is an in-memory versioned variable store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	history map[string][]Entry
	aliases map[string]string // suffix-free name → full identifier
}

// New creates an empty store.
func New() *Store {
	return &Store{
		history: make(map[string][]Entry),
		aliases: make(map[string]string),
	}
}

// Classify determines the type tag for a raw value. A mapping with a
// "type" of "file" is a file asset; its "path" is extracted and its
// "content" reduced to a digest. Other mappings and sequences are
// structured values, everything else is a scalar.
func Classify(value any) (Type, string, any) {
	if m, ok := value.(map[string]any); ok {
		if tag, ok := m["type"].(string); ok && Type(tag) == TypeFile {
			path, _ := m["path"].(string)
			return TypeFile, path, contentDigest(m["content"])
		}
		return TypeStruct, "", value
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return TypeStruct, "", value
	default:
		return TypeScalar, "", value
	}
}

// contentDigest reduces file content to a stable fingerprint, so file
// entries stay small and identical re-writes compare equal.
func contentDigest(content any) any {
	if content == nil {
		return nil
	}
	data, err := json.Marshal(content)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", content))
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Set classifies and appends value as a new version of name. The type tag
// must match any existing versions. Re-committing an identical value from
// the same step is a no-op returning the existing entry, so re-running a
// step that writes the same file asset produces no spurious new version.
func (s *Store) Set(name string, value any, prov Provenance) (Entry, error) {
	typ, path, content := Classify(value)
	if typ == TypeFile && path == "" {
		return Entry{}, fmt.Errorf("%w: %s", ErrMissingPath, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.history[name]
	if len(prior) > 0 {
		latest := prior[len(prior)-1]
		if latest.Type != typ {
			return Entry{}, fmt.Errorf("%w: %s is %s, new value is %s", ErrTypeChanged, name, latest.Type, typ)
		}
		if latest.Step == prov.Step && latest.Path == path && reflect.DeepEqual(latest.Value, content) {
			return latest, nil
		}
	}

	e := Entry{
		Name:      name,
		Type:      typ,
		Value:     content,
		Path:      path,
		Step:      prov.Step,
		Variant:   prov.Variant,
		Iteration: prov.Iteration,
		Version:   len(prior) + 1,
		UpdatedAt: time.Now().UTC(),
	}
	s.history[name] = append(prior, e)
	return e, nil
}

// Bind points a suffix-free alias at a full identifier. The target must
// exist. Rebinding is allowed (a later iteration may win with a different
// variant) but the type tag seen through the alias must not change.
func (s *Store) Bind(alias, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[target]
	if len(entries) == 0 {
		return fmt.Errorf("%w: bind target %s", ErrNotFound, target)
	}

	if old, ok := s.aliases[alias]; ok && old != target {
		oldEntries := s.history[old]
		if len(oldEntries) > 0 && oldEntries[len(oldEntries)-1].Type != entries[len(entries)-1].Type {
			return fmt.Errorf("%w: alias %s", ErrTypeChanged, alias)
		}
	}
	s.aliases[alias] = target
	return nil
}

// Resolve maps a name through the alias table to its full identifier.
// Names without an alias resolve to themselves.
func (s *Store) Resolve(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if target, ok := s.aliases[name]; ok {
		return target
	}
	return name
}

// Get returns the latest version of name, following aliases.
func (s *Store) Get(name string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target, ok := s.aliases[name]; ok {
		name = target
	}
	entries := s.history[name]
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[len(entries)-1], true
}

// GetVersion returns a specific version of name, following aliases.
func (s *Store) GetVersion(name string, version int) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target, ok := s.aliases[name]; ok {
		name = target
	}
	entries := s.history[name]
	if version < 1 || version > len(entries) {
		return Entry{}, false
	}
	return entries[version-1], true
}

// History returns all versions of name in ascending version order.
func (s *Store) History(name string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target, ok := s.aliases[name]; ok {
		name = target
	}
	entries := s.history[name]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Names returns all full identifiers in the store, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.history))
	for name := range s.history {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns a copy of the alias table.
func (s *Store) Aliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.aliases))
	for a, t := range s.aliases {
		out[a] = t
	}
	return out
}

// Snapshot returns the latest entry for every stored name.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.history))
	for name, entries := range s.history {
		out[name] = entries[len(entries)-1]
	}
	return out
}

// Len returns the number of distinct variable names.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// restore appends an entry with its recorded version, bypassing
// classification. Used when replaying a ledger.
func (s *Store) restore(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[e.Name] = append(s.history[e.Name], e)
}
