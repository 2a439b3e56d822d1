// Package dag provides a directed acyclic graph engine for modeling step
// dependencies. It supports topological sorting, cycle detection,
// priority-aware ready selection, execution waves, and transitive
// dependent queries, distinguishing data edges (whose failure cascades)
// from ordering-only edges (which tolerate upstream failure).
package dag

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCycle is returned when the graph contains a dependency cycle.
var ErrCycle = errors.New("cycle detected")

// ErrNodeNotFound is returned when an operation references a non-existent node.
var ErrNodeNotFound = errors.New("node not found")

// ErrDuplicateNode is returned when adding a node that already exists.
var ErrDuplicateNode = errors.New("duplicate node")

// ErrSelfEdge is returned when an edge would create a self-loop.
var ErrSelfEdge = errors.New("self-referencing edge")

// EdgeKind distinguishes how a dependency edge behaves on upstream failure.
type EdgeKind int

const (
	// EdgeData is a dataflow dependency: the dependent consumes the
	// upstream node's outputs, so upstream failure cascades a skip.
	EdgeData EdgeKind = iota
	// EdgeOrder is an ordering-only dependency: the dependent waits for
	// the upstream node to reach a terminal status but runs regardless
	// of whether that status is a success.
	EdgeOrder
)

// Node represents a step in the DAG.
type Node struct {
	ID       string
	Priority int // higher value = dispatched first among ready nodes
}

// DAG represents a directed acyclic graph of steps.
// Edges point from a node to its dependencies: if A depends on B,
// there is an edge from A to B.
type DAG struct {
	nodes map[string]*Node
	// adjacency maps nodeID → dependency ID → edge kind (forward edges).
	adjacency map[string]map[string]EdgeKind
	// reverse maps nodeID → dependent ID → edge kind (backward edges).
	reverse map[string]map[string]EdgeKind
}

// New creates an empty DAG.
func New() *DAG {
	return &DAG{
		nodes:     make(map[string]*Node),
		adjacency: make(map[string]map[string]EdgeKind),
		reverse:   make(map[string]map[string]EdgeKind),
	}
}

// AddNode adds a node with the given ID and priority. Returns
// ErrDuplicateNode if a node with that ID already exists.
func (d *DAG) AddNode(id string, priority int) error {
	if _, exists := d.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	d.nodes[id] = &Node{ID: id, Priority: priority}
	d.adjacency[id] = make(map[string]EdgeKind)
	d.reverse[id] = make(map[string]EdgeKind)
	return nil
}

// AddEdge adds a dependency edge of the given kind: from depends on to.
// Both nodes must already exist. Returns an error if either node is
// missing, the edge would create a self-loop, or the edge would introduce
// a cycle. Re-adding an existing edge upgrades it to EdgeData if either
// declaration was a data edge.
func (d *DAG) AddEdge(from, to string, kind EdgeKind) error {
	if from == to {
		return fmt.Errorf("%w: %s", ErrSelfEdge, from)
	}
	if _, ok := d.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if _, ok := d.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	if existing, ok := d.adjacency[from][to]; ok {
		// A data declaration wins over an ordering-only one.
		if existing == EdgeOrder && kind == EdgeData {
			d.adjacency[from][to] = EdgeData
			d.reverse[to][from] = EdgeData
		}
		return nil
	}
	// Check if adding this edge would create a cycle: does 'from' already
	// have a path reachable from 'to'? If so, adding to→...→from + from→to
	// would create a cycle. Ordering edges count — an ordering cycle
	// deadlocks the scheduler just the same.
	if d.hasPath(to, from) {
		return fmt.Errorf("%w: edge %s → %s would create a cycle", ErrCycle, from, to)
	}
	d.adjacency[from][to] = kind
	d.reverse[to][from] = kind
	return nil
}

// Remove removes a node and all its associated edges from the DAG.
// Returns ErrNodeNotFound if the node does not exist.
func (d *DAG) Remove(id string) error {
	if _, ok := d.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	for dep := range d.adjacency[id] {
		delete(d.reverse[dep], id)
	}
	delete(d.adjacency, id)

	for dependent := range d.reverse[id] {
		delete(d.adjacency[dependent], id)
	}
	delete(d.reverse, id)

	delete(d.nodes, id)
	return nil
}

// Node returns the node with the given ID, or nil if not found.
func (d *DAG) Node(id string) *Node {
	return d.nodes[id]
}

// Has reports whether a node with the given ID exists.
func (d *DAG) Has(id string) bool {
	_, ok := d.nodes[id]
	return ok
}

// Nodes returns all node IDs in the DAG, sorted alphabetically.
func (d *DAG) Nodes() []string {
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of nodes in the DAG.
func (d *DAG) Len() int {
	return len(d.nodes)
}

// Dependencies returns the direct dependencies of id and their edge kinds.
// Returns nil if the node does not exist.
func (d *DAG) Dependencies(id string) map[string]EdgeKind {
	edges, ok := d.adjacency[id]
	if !ok {
		return nil
	}
	out := make(map[string]EdgeKind, len(edges))
	for dep, kind := range edges {
		out[dep] = kind
	}
	return out
}

// DataDependencies returns the direct data dependencies of id, sorted
// alphabetically. Ordering-only edges are excluded.
func (d *DAG) DataDependencies(id string) []string {
	var deps []string
	for dep, kind := range d.adjacency[id] {
		if kind == EdgeData {
			deps = append(deps, dep)
		}
	}
	sort.Strings(deps)
	return deps
}

// TopologicalSort returns node IDs in a valid topological order
// (dependencies come before dependents). Among nodes freed at the same
// time, higher-priority nodes appear first. Returns ErrCycle if the
// graph contains a cycle.
func (d *DAG) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(d.nodes))
	for id := range d.nodes {
		inDegree[id] = len(d.adjacency[id])
	}

	queue := d.prioritySorted(d.zeroDegreeNodes(inDegree))

	sorted := make([]string, 0, len(d.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		var freed []string
		for dependent := range d.reverse[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				freed = append(freed, dependent)
			}
		}
		if len(freed) > 0 {
			freed = d.prioritySorted(freed)
			queue = append(queue, freed...)
		}
	}

	if len(sorted) != len(d.nodes) {
		return nil, fmt.Errorf("%w: not all nodes could be ordered (%d of %d)",
			ErrCycle, len(sorted), len(d.nodes))
	}
	return sorted, nil
}

// Waves groups node IDs into execution waves: wave 0 holds nodes with no
// dependencies, wave N holds nodes whose dependencies all sit in earlier
// waves. IDs within a wave are sorted alphabetically. Returns ErrCycle if
// the graph contains a cycle.
func (d *DAG) Waves() ([][]string, error) {
	placed := make(map[string]bool, len(d.nodes))
	var waves [][]string

	for len(placed) < len(d.nodes) {
		var wave []string
		for id := range d.nodes {
			if placed[id] {
				continue
			}
			eligible := true
			for dep := range d.adjacency[id] {
				if !placed[dep] {
					eligible = false
					break
				}
			}
			if eligible {
				wave = append(wave, id)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("%w: %d of %d nodes unplaceable",
				ErrCycle, len(d.nodes)-len(placed), len(d.nodes))
		}
		sort.Strings(wave)
		for _, id := range wave {
			placed[id] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// CriticalPath returns the node IDs on a longest dependency chain,
// ordered from root to leaf. Both edge kinds count. Ties resolve toward
// lexicographically smaller IDs so the result is stable. Returns ErrCycle
// if the graph contains a cycle.
func (d *DAG) CriticalPath() ([]string, error) {
	order, err := d.TopologicalSort()
	if err != nil {
		return nil, err
	}

	depth := make(map[string]int, len(order))
	parent := make(map[string]string, len(order))
	for _, id := range order {
		depth[id] = 1
		for _, dep := range sortedKeysOf(d.adjacency[id]) {
			if depth[dep]+1 > depth[id] {
				depth[id] = depth[dep] + 1
				parent[id] = dep
			}
		}
	}

	end := ""
	for _, id := range order {
		if end == "" || depth[id] > depth[end] || (depth[id] == depth[end] && id < end) {
			end = id
		}
	}
	if end == "" {
		return nil, nil
	}

	path := make([]string, 0, depth[end])
	for id := end; id != ""; id = parent[id] {
		path = append(path, id)
		if _, ok := parent[id]; !ok {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Ready returns node IDs whose dependencies are satisfied: every data
// dependency appears in succeeded, every ordering dependency appears in
// terminal. Nodes already in terminal are excluded. Results are sorted by
// priority descending with ID as tiebreaker, so simultaneous readiness
// resolves to a stable dispatch order.
func (d *DAG) Ready(succeeded, terminal map[string]bool) []string {
	var ready []string
	for id := range d.nodes {
		if terminal[id] {
			continue
		}
		allMet := true
		for dep, kind := range d.adjacency[id] {
			switch kind {
			case EdgeData:
				if !succeeded[dep] {
					allMet = false
				}
			case EdgeOrder:
				if !terminal[dep] {
					allMet = false
				}
			}
			if !allMet {
				break
			}
		}
		if allMet {
			ready = append(ready, id)
		}
	}
	return d.prioritySorted(ready)
}

// Ancestors returns all transitive dependencies of the given node
// (i.e., everything it transitively depends on). The result is sorted
// alphabetically. Returns nil if the node has no dependencies or does
// not exist.
func (d *DAG) Ancestors(id string) []string {
	if _, ok := d.nodes[id]; !ok {
		return nil
	}
	visited := make(map[string]bool)
	d.collectAncestors(id, visited)
	return sortedKeys(visited)
}

// Descendants returns all transitive dependents of the given node
// (i.e., everything that transitively depends on it). The result is
// sorted alphabetically. Returns nil if the node has no dependents or
// does not exist.
func (d *DAG) Descendants(id string) []string {
	if _, ok := d.nodes[id]; !ok {
		return nil
	}
	visited := make(map[string]bool)
	d.collectDescendants(id, visited, false)
	return sortedKeys(visited)
}

// DataDescendants returns all transitive dependents reachable from the
// given node through data edges only. This is the skip-cascade set: a
// dependent connected purely by ordering edges is not included. The
// result is sorted alphabetically.
func (d *DAG) DataDescendants(id string) []string {
	if _, ok := d.nodes[id]; !ok {
		return nil
	}
	visited := make(map[string]bool)
	d.collectDescendants(id, visited, true)
	return sortedKeys(visited)
}

// hasPath reports whether there is a directed path from src to dst
// through the dependency graph (forward edges of either kind).
func (d *DAG) hasPath(src, dst string) bool {
	if src == dst {
		return false
	}
	visited := make(map[string]bool)
	queue := []string{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for dep := range d.adjacency[cur] {
			if dep == dst {
				return true
			}
			if !visited[dep] {
				visited[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return false
}

// collectAncestors walks forward edges from id, collecting all reachable
// nodes (transitive dependencies).
func (d *DAG) collectAncestors(id string, visited map[string]bool) {
	for dep := range d.adjacency[id] {
		if !visited[dep] {
			visited[dep] = true
			d.collectAncestors(dep, visited)
		}
	}
}

// collectDescendants walks reverse edges from id, collecting all reachable
// nodes (transitive dependents). When dataOnly is set, ordering edges are
// not followed.
func (d *DAG) collectDescendants(id string, visited map[string]bool, dataOnly bool) {
	for dep, kind := range d.reverse[id] {
		if dataOnly && kind != EdgeData {
			continue
		}
		if !visited[dep] {
			visited[dep] = true
			d.collectDescendants(dep, visited, dataOnly)
		}
	}
}

// zeroDegreeNodes returns IDs from the in-degree map that have zero value.
func (d *DAG) zeroDegreeNodes(inDegree map[string]int) []string {
	var result []string
	for id, deg := range inDegree {
		if deg == 0 {
			result = append(result, id)
		}
	}
	return result
}

// prioritySorted returns a copy of ids sorted by node priority descending,
// with ID as tiebreaker.
func (d *DAG) prioritySorted(ids []string) []string {
	if len(ids) <= 1 {
		return ids
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool {
		pi := d.nodes[sorted[i]].Priority
		pj := d.nodes[sorted[j]].Priority
		if pi != pj {
			return pi > pj // higher priority first
		}
		return sorted[i] < sorted[j]
	})
	return sorted
}

// sortedKeys returns the keys of set in alphabetical order.
func sortedKeys(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// sortedKeysOf returns the keys of an edge map in alphabetical order.
func sortedKeysOf(edges map[string]EdgeKind) []string {
	result := make([]string, 0, len(edges))
	for k := range edges {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
