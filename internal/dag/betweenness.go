package dag

// BetweennessCentrality scores every step by how many dependency chains
// squeeze through it, using Brandes' algorithm over execution-order
// edges (from a dependency to its dependents). A step that sits between
// the plan's early producers and its late consumers is a serialization
// point: while it runs, everything downstream of it waits.
//
// Scores are normalized to [0, 1] with the directed-graph factor
// (n-1)*(n-2).
func (d *DAG) BetweennessCentrality() map[string]float64 {
	cb := make(map[string]float64, len(d.nodes))
	for id := range d.nodes {
		cb[id] = 0
	}

	n := len(d.nodes)
	if n < 3 {
		return cb
	}

	for s := range d.nodes {
		stack, sigma, pred := d.brandesBFS(s)
		d.brandesAccumulate(s, stack, sigma, pred, cb)
	}

	normFactor := float64((n - 1) * (n - 2))
	for id := range cb {
		cb[id] /= normFactor
	}

	return cb
}

// brandesBFS runs the forward phase from source s: shortest-path counts
// (sigma), predecessor lists, and the visit stack the back-propagation
// pops in reverse.
func (d *DAG) brandesBFS(s string) ([]string, map[string]float64, map[string][]string) {
	n := len(d.nodes)
	stack := make([]string, 0, n)
	pred := make(map[string][]string, n)
	sigma := make(map[string]float64, n)
	dist := make(map[string]int, n)

	for id := range d.nodes {
		dist[id] = -1
	}
	sigma[s] = 1
	dist[s] = 0

	queue := []string{s}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		stack = append(stack, v)

		// Walk execution order: from v to the steps that depend on it.
		for w := range d.reverse[v] {
			if dist[w] < 0 {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
			if dist[w] == dist[v]+1 {
				sigma[w] += sigma[v]
				pred[w] = append(pred[w], v)
			}
		}
	}

	return stack, sigma, pred
}

// brandesAccumulate back-propagates pair dependencies into the
// centrality map.
func (d *DAG) brandesAccumulate(s string, stack []string, sigma map[string]float64, pred map[string][]string, cb map[string]float64) {
	delta := make(map[string]float64, len(d.nodes))

	for i := len(stack) - 1; i >= 0; i-- {
		w := stack[i]
		for _, v := range pred[w] {
			delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
		}
		if w != s {
			cb[w] += delta[w]
		}
	}
}
