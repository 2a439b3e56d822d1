package dag

import "sort"

// Track is an independent slice of the plan: its steps share no edges,
// of either kind, with steps in other tracks. Tracks run side by side
// without one's failure ever skipping the other.
type Track struct {
	// ID is the track's ordinal after sorting, starting at 0.
	ID int

	// StepIDs lists the track's steps in topological order.
	StepIDs []string

	// AggregateImpact sums the impact scores of the track's steps;
	// MaxImpact is the highest single score. Both are zero when Tracks
	// was given no impact map.
	AggregateImpact float64
	MaxImpact       float64
}

// Tracks partitions the graph into connected components with Union-Find.
// The optional impact map (from Impact) weights each track; tracks sort
// by descending aggregate impact, then size, then first step ID, so the
// most exposed track comes first. Returns ErrCycle when the graph cannot
// be ordered.
func (d *DAG) Tracks(impact map[string]float64) ([]Track, error) {
	if len(d.nodes) == 0 {
		return nil, nil
	}

	topoOrder, err := d.TopologicalSort()
	if err != nil {
		return nil, err
	}
	topoPos := make(map[string]int, len(topoOrder))
	for i, id := range topoOrder {
		topoPos[id] = i
	}

	uf := NewUnionFind()
	for id := range d.nodes {
		uf.Add(id)
	}
	for from, deps := range d.adjacency {
		for to := range deps {
			uf.Union(from, to)
		}
	}

	components := uf.Components()
	roots := make([]string, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	tracks := make([]Track, 0, len(components))
	for _, root := range roots {
		members := components[root]
		sort.Slice(members, func(i, j int) bool {
			return topoPos[members[i]] < topoPos[members[j]]
		})

		var agg, peak float64
		for _, id := range members {
			score := impact[id]
			agg += score
			if score > peak {
				peak = score
			}
		}

		tracks = append(tracks, Track{
			StepIDs:         members,
			AggregateImpact: agg,
			MaxImpact:       peak,
		})
	}

	sort.Slice(tracks, func(i, j int) bool {
		if tracks[i].AggregateImpact != tracks[j].AggregateImpact {
			return tracks[i].AggregateImpact > tracks[j].AggregateImpact
		}
		if len(tracks[i].StepIDs) != len(tracks[j].StepIDs) {
			return len(tracks[i].StepIDs) > len(tracks[j].StepIDs)
		}
		return tracks[i].StepIDs[0] < tracks[j].StepIDs[0]
	})

	for i := range tracks {
		tracks[i].ID = i
	}
	return tracks, nil
}
