package dag

import "math"

// PageRankOptions configures the iterative PageRank pass.
type PageRankOptions struct {
	Damping       float64 // damping factor; typically 0.85
	Epsilon       float64 // convergence threshold
	MaxIterations int     // upper bound on iterations
}

// DefaultPageRankOptions returns damping 0.85, epsilon 1e-6, max 100
// iterations.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{
		Damping:       0.85,
		Epsilon:       1e-6,
		MaxIterations: 100,
	}
}

// PageRank scores every step by how much of the plan leans on it.
// Importance flows from dependents to their dependencies, so a step that
// many high-importance steps consume outputs from ranks high. Both edge
// kinds contribute; an ordering edge still serializes the plan behind
// the step it points at.
//
// Steps with no dependencies redistribute their rank uniformly, the
// standard dangling-node treatment. Scores sum to approximately 1.0.
func (d *DAG) PageRank(opts PageRankOptions) map[string]float64 {
	n := len(d.nodes)
	if n == 0 {
		return make(map[string]float64)
	}

	nf := float64(n)
	initial := 1.0 / nf
	base := (1.0 - opts.Damping) / nf

	rank := make(map[string]float64, n)
	for id := range d.nodes {
		rank[id] = initial
	}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		var danglingSum float64
		for id := range d.nodes {
			if len(d.adjacency[id]) == 0 {
				danglingSum += rank[id]
			}
		}
		danglingShare := opts.Damping * danglingSum / nf

		newRank := make(map[string]float64, n)
		for v := range d.nodes {
			// Each dependent splits its rank across everything it
			// depends on.
			var sum float64
			for u := range d.reverse[v] {
				outDeg := len(d.adjacency[u])
				if outDeg > 0 {
					sum += rank[u] / float64(outDeg)
				}
			}
			newRank[v] = base + opts.Damping*sum + danglingShare
		}

		maxDelta := 0.0
		for id := range d.nodes {
			delta := math.Abs(newRank[id] - rank[id])
			if delta > maxDelta {
				maxDelta = delta
			}
		}

		rank = newRank
		if maxDelta < opts.Epsilon {
			break
		}
	}

	return rank
}
