package dag

// UnionFind is a disjoint-set structure with path compression and union
// by rank, used to split the plan graph into connected components.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
}

// NewUnionFind creates an empty UnionFind.
func NewUnionFind() *UnionFind {
	return &UnionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Add inserts an element as its own singleton set. Adding an existing
// element is a no-op.
func (uf *UnionFind) Add(x string) {
	if _, ok := uf.parent[x]; ok {
		return
	}
	uf.parent[x] = x
	uf.rank[x] = 0
}

// Find returns the representative of the set containing x, compressing
// the path on the way. An element never added becomes a singleton.
func (uf *UnionFind) Find(x string) string {
	if _, ok := uf.parent[x]; !ok {
		uf.Add(x)
		return x
	}
	if uf.parent[x] != x {
		uf.parent[x] = uf.Find(uf.parent[x])
	}
	return uf.parent[x]
}

// Union merges the sets containing x and y, attaching the shorter tree
// under the taller. Missing elements are added first.
func (uf *UnionFind) Union(x, y string) {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return
	}
	switch {
	case uf.rank[rx] < uf.rank[ry]:
		uf.parent[rx] = ry
	case uf.rank[rx] > uf.rank[ry]:
		uf.parent[ry] = rx
	default:
		uf.parent[ry] = rx
		uf.rank[rx]++
	}
}

// Connected reports whether x and y belong to the same set.
func (uf *UnionFind) Connected(x, y string) bool {
	return uf.Find(x) == uf.Find(y)
}

// Components maps each set's representative to its members, in no
// guaranteed order.
func (uf *UnionFind) Components() map[string][]string {
	groups := make(map[string][]string)
	for x := range uf.parent {
		root := uf.Find(x)
		groups[root] = append(groups[root], x)
	}
	return groups
}
